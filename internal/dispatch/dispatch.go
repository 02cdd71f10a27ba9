// Package dispatch routes records authored on remote repositories to
// the local content sinks. Records are classified by their `$type`
// field; likes, reposts, follows of the local DID, and replies to
// local posts are delivered, everything else is ignored.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/openherald/herald-pds/internal/metrics"
)

// Record $type values the dispatcher acts on.
const (
	TypePost   = "app.bsky.feed.post"
	TypeLike   = "app.bsky.feed.like"
	TypeRepost = "app.bsky.feed.repost"
	TypeFollow = "app.bsky.graph.follow"
)

// Author identifies the remote account a record came from.
type Author struct {
	DID    string
	Handle string
}

// Interactions receives likes and reposts targeting local posts.
// Implementations must be idempotent: delivering the same interaction
// twice leaves the same state as delivering it once.
type Interactions interface {
	Like(ctx context.Context, postID string, author Author) error
	Unlike(ctx context.Context, postID string, author Author) error
	Repost(ctx context.Context, postID string, author Author) error
	Unrepost(ctx context.Context, postID string, author Author) error
}

// Followers receives follow and unfollow notices for the local DID.
type Followers interface {
	Add(ctx context.Context, author Author, uri string) error
	Remove(ctx context.Context, did string) error
}

// Replies receives replies to local posts. parentID is empty when the
// reply's parent is not a local post.
type Replies interface {
	Store(ctx context.Context, rootID, parentID string, author Author, text string, createdAt time.Time) error
}

// Dispatcher classifies incoming records and delivers them.
type Dispatcher struct {
	did          string
	interactions Interactions
	followers    Followers
	replies      Replies
}

// New creates a Dispatcher targeting the given local DID.
func New(did string, in Interactions, fo Followers, re Replies) *Dispatcher {
	return &Dispatcher{did: did, interactions: in, followers: fo, replies: re}
}

// Record delivers a newly observed record. uri is the record's own
// at:// URI. Unrecognized types and records that do not target local
// content are ignored without error.
func (d *Dispatcher) Record(ctx context.Context, author Author, uri string, rec map[string]any) error {
	kind, err := d.route(ctx, author, uri, rec, false)
	metrics.DispatchedRecords.WithLabelValues(kind).Inc()
	return err
}

// Undo reverses a previously delivered record, e.g. when the remote
// repo deleted its like or follow. The relay poller only observes
// records that exist, so nothing in this process calls Undo on its
// own; it is the hook for embedders that learn about remote deletions
// through another channel (a firehose consumer, a snapshot differ).
func (d *Dispatcher) Undo(ctx context.Context, author Author, uri string, rec map[string]any) error {
	kind, err := d.route(ctx, author, uri, rec, true)
	metrics.DispatchedRecords.WithLabelValues("undo_" + kind).Inc()
	return err
}

func (d *Dispatcher) route(ctx context.Context, author Author, uri string, rec map[string]any, undo bool) (string, error) {
	typ, _ := rec["$type"].(string)
	switch typ {
	case TypeLike:
		postID, ok := d.localPostID(strField(subjectMap(rec), "uri"))
		if !ok {
			return "ignored", nil
		}
		if undo {
			return "like", d.interactions.Unlike(ctx, postID, author)
		}
		return "like", d.interactions.Like(ctx, postID, author)

	case TypeRepost:
		postID, ok := d.localPostID(strField(subjectMap(rec), "uri"))
		if !ok {
			return "ignored", nil
		}
		if undo {
			return "repost", d.interactions.Unrepost(ctx, postID, author)
		}
		return "repost", d.interactions.Repost(ctx, postID, author)

	case TypeFollow:
		subject, _ := rec["subject"].(string)
		if subject != d.did {
			return "ignored", nil
		}
		if undo {
			return "follow", d.followers.Remove(ctx, author.DID)
		}
		return "follow", d.followers.Add(ctx, author, uri)

	case TypePost:
		if undo {
			// Reply removal is not tracked.
			return "ignored", nil
		}
		return d.routeReply(ctx, author, rec)

	default:
		return "ignored", nil
	}
}

func (d *Dispatcher) routeReply(ctx context.Context, author Author, rec map[string]any) (string, error) {
	reply, _ := rec["reply"].(map[string]any)
	if reply == nil {
		return "ignored", nil
	}
	root, _ := reply["root"].(map[string]any)
	rootID, ok := d.localPostID(strField(root, "uri"))
	if !ok {
		return "ignored", nil
	}
	parent, _ := reply["parent"].(map[string]any)
	parentID, _ := d.localPostID(strField(parent, "uri"))

	text, _ := rec["text"].(string)
	createdAt := parseTime(rec["createdAt"])
	if err := d.replies.Store(ctx, rootID, parentID, author, text, createdAt); err != nil {
		return "reply", fmt.Errorf("dispatch: store reply: %w", err)
	}
	return "reply", nil
}

// localPostID resolves an at:// URI to the rkey of a local post. It
// reports false when the URI is malformed, names a different DID, or
// points at a non-post collection.
func (d *Dispatcher) localPostID(uri string) (string, bool) {
	if uri == "" {
		return "", false
	}
	parsed, err := ParseATURI(uri)
	if err != nil {
		return "", false
	}
	if parsed.DID != d.did || parsed.Collection != TypePost {
		return "", false
	}
	return parsed.RKey, true
}

func subjectMap(rec map[string]any) map[string]any {
	m, _ := rec["subject"].(map[string]any)
	return m
}

func strField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func parseTime(v any) time.Time {
	s, _ := v.(string)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}
