// Package content is the boundary between the PDS engine and the host
// application that produces the actual content. The host exposes its
// publishable items through a Source; the engine hands inbound social
// signals (likes, reposts, replies) back through the sink interfaces
// from the dispatch package. A memory-backed implementation serves
// tests and standalone deployments.
package content

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openherald/herald-pds/internal/dispatch"
)

// Item is one publishable piece of host content.
type Item struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// Source supplies items awaiting promotion into the repository.
type Source interface {
	// Pending returns items that have not been published yet, oldest
	// first.
	Pending(ctx context.Context) ([]Item, error)
	// MarkPublished records the at:// URI an item was published under.
	MarkPublished(ctx context.Context, id, uri string) error
}

// Reply is a stored remote reply to a local post.
type Reply struct {
	RootID    string
	ParentID  string
	Author    dispatch.Author
	Text      string
	CreatedAt time.Time
}

// Memory is an in-memory content store. It implements Source plus the
// dispatch Interactions and Replies sinks. Interaction delivery is
// idempotent: an author likes or reposts a given post at most once.
type Memory struct {
	mu        sync.Mutex
	items     []Item
	published map[string]string
	likes     map[string]map[string]dispatch.Author
	reposts   map[string]map[string]dispatch.Author
	replies   []Reply
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		published: map[string]string{},
		likes:     map[string]map[string]dispatch.Author{},
		reposts:   map[string]map[string]dispatch.Author{},
	}
}

// AddItem queues an item for promotion.
func (m *Memory) AddItem(it Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, it)
}

// Pending implements Source.
func (m *Memory) Pending(_ context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, it := range m.items {
		if _, done := m.published[it.ID]; !done {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkPublished implements Source.
func (m *Memory) MarkPublished(_ context.Context, id, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[id] = uri
	return nil
}

// PublishedURI returns the at:// URI an item was published under.
func (m *Memory) PublishedURI(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri, ok := m.published[id]
	return uri, ok
}

// Like implements dispatch.Interactions.
func (m *Memory) Like(_ context.Context, postID string, a dispatch.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.likes[postID] == nil {
		m.likes[postID] = map[string]dispatch.Author{}
	}
	m.likes[postID][a.DID] = a
	return nil
}

// Unlike implements dispatch.Interactions.
func (m *Memory) Unlike(_ context.Context, postID string, a dispatch.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.likes[postID], a.DID)
	return nil
}

// Repost implements dispatch.Interactions.
func (m *Memory) Repost(_ context.Context, postID string, a dispatch.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reposts[postID] == nil {
		m.reposts[postID] = map[string]dispatch.Author{}
	}
	m.reposts[postID][a.DID] = a
	return nil
}

// Unrepost implements dispatch.Interactions.
func (m *Memory) Unrepost(_ context.Context, postID string, a dispatch.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reposts[postID], a.DID)
	return nil
}

// Store implements dispatch.Replies.
func (m *Memory) Store(_ context.Context, rootID, parentID string, a dispatch.Author, text string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, Reply{
		RootID:    rootID,
		ParentID:  parentID,
		Author:    a,
		Text:      text,
		CreatedAt: createdAt,
	})
	return nil
}

// Likes returns the authors who like a post, sorted by DID.
func (m *Memory) Likes(postID string) []dispatch.Author {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedAuthors(m.likes[postID])
}

// Reposts returns the authors who reposted a post, sorted by DID.
func (m *Memory) Reposts(postID string) []dispatch.Author {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedAuthors(m.reposts[postID])
}

// Replies returns the stored replies under a root post, oldest first.
func (m *Memory) Replies(rootID string) []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reply
	for _, r := range m.replies {
		if r.RootID == rootID {
			out = append(out, r)
		}
	}
	return out
}

func sortedAuthors(set map[string]dispatch.Author) []dispatch.Author {
	out := make([]dispatch.Author, 0, len(set))
	for _, a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out
}
