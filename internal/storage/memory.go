package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
)

// Memory is a Store backed by process memory. It is the default for
// tests and for running without a configured database.
type Memory struct {
	mu sync.RWMutex

	state   *RepoState
	blocks  map[cid.Cid][]byte
	commits []cid.Cid
	records map[string]cid.Cid
	blobs   map[cid.Cid]Blob
	seq     int64
	events  []Event
	subs    map[string]Subscription
	follows map[string]Follower
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blocks:  map[cid.Cid][]byte{},
		records: map[string]cid.Cid{},
		blobs:   map[cid.Cid]Blob{},
		subs:    map[string]Subscription{},
		follows: map[string]Follower{},
	}
}

func (m *Memory) RepoState(ctx context.Context) (RepoState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return RepoState{}, ErrNotFound
	}
	return *m.state, nil
}

func (m *Memory) SetRepoState(ctx context.Context, st RepoState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &st
	return nil
}

func (m *Memory) GetBlock(ctx context.Context, c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blocks[c]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) HasBlock(ctx context.Context, c cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[c]
	return ok, nil
}

func (m *Memory) PutBlocks(ctx context.Context, blocks map[cid.Cid][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c, data := range blocks {
		m.blocks[c] = data
	}
	return nil
}

func (m *Memory) PutCommit(ctx context.Context, c cid.Cid, data []byte, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[c] = data
	m.commits = append(m.commits, c)
	if keep > 0 && len(m.commits) > keep {
		for _, old := range m.commits[:len(m.commits)-keep] {
			delete(m.blocks, old)
		}
		m.commits = append([]cid.Cid(nil), m.commits[len(m.commits)-keep:]...)
	}
	return nil
}

func (m *Memory) Commits(ctx context.Context) ([]cid.Cid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]cid.Cid(nil), m.commits...), nil
}

func (m *Memory) IndexRecord(ctx context.Context, key string, c cid.Cid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = c
	return nil
}

func (m *Memory) DropRecord(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *Memory) RecordCID(ctx context.Context, key string) (cid.Cid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.records[key]
	if !ok {
		return cid.Undef, ErrNotFound
	}
	return c, nil
}

func (m *Memory) Collections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	for key := range m.records {
		if i := strings.IndexByte(key, '/'); i > 0 {
			seen[key[:i]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for coll := range seen {
		out = append(out, coll)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) PutBlob(ctx context.Context, b Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.blobs[b.CID] = b
	return nil
}

func (m *Memory) GetBlob(ctx context.Context, c cid.Cid) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[c]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return b, nil
}

func (m *Memory) HasBlob(ctx context.Context, c cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[c]
	return ok, nil
}

func (m *Memory) DeleteBlob(ctx context.Context, c cid.Cid) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[c]
	delete(m.blobs, c)
	return ok, nil
}

func (m *Memory) ListBlobs(ctx context.Context, limit int, cursor string) ([]BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]BlobInfo, 0, len(m.blobs))
	for _, b := range m.blobs {
		if cursor != "" && b.CID.String() <= cursor {
			continue
		}
		infos = append(infos, BlobInfo{CID: b.CID, MimeType: b.MimeType, Size: b.Size})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CID.String() < infos[j].CID.String()
	})
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (m *Memory) NextSeq(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *Memory) AppendEvent(ctx context.Context, ev Event, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if keep > 0 && len(m.events) > keep {
		m.events = append([]Event(nil), m.events[len(m.events)-keep:]...)
	}
	return nil
}

func (m *Memory) EventsAfter(ctx context.Context, cursor int64) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.events), func(i int) bool { return m.events[i].Seq > cursor })
	return append([]Event(nil), m.events[i:]...), nil
}

func (m *Memory) AddSubscription(ctx context.Context, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[did]; !ok {
		m.subs[did] = Subscription{DID: did, SubscribedAt: time.Now().UTC()}
	}
	return nil
}

func (m *Memory) RemoveSubscription(ctx context.Context, did string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[did]
	delete(m.subs, did)
	return ok, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out, nil
}

func (m *Memory) SetLastSync(ctx context.Context, did string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[did]
	if !ok {
		return ErrNotFound
	}
	s.LastSync = at
	m.subs[did] = s
	return nil
}

func (m *Memory) UpsertFollower(ctx context.Context, f Follower) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.follows[f.DID]; ok && f.CreatedAt.IsZero() {
		f.CreatedAt = prev.CreatedAt
	} else if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	m.follows[f.DID] = f
	return nil
}

func (m *Memory) RemoveFollower(ctx context.Context, did string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.follows[did]
	delete(m.follows, did)
	return ok, nil
}

func (m *Memory) ListFollowers(ctx context.Context) ([]Follower, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Follower, 0, len(m.follows))
	for _, f := range m.follows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out, nil
}

func (m *Memory) Close() {}

var _ Store = (*Memory)(nil)
