// Package events implements the firehose: persisted sequencing,
// ring-buffered replay, and fan-out of framed events to WebSocket
// subscribers of com.atproto.sync.subscribeRepos.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openherald/herald-pds/internal/metrics"
	"github.com/openherald/herald-pds/internal/repo"
	"github.com/openherald/herald-pds/internal/storage"
)

// DefaultQueueKeep is how many events the replay ring retains.
const DefaultQueueKeep = 1000

// subscriberBuffer must exceed the replay ring so that a registered
// subscriber can hold a full replay plus a burst of live frames.
const subscriberBuffer = DefaultQueueKeep + 256

// subscriber is one connected firehose consumer. Frames are dropped
// into ch in seq order; a full channel means the consumer is too slow
// and gets disconnected.
type subscriber struct {
	id uuid.UUID
	ch chan []byte
}

// Manager sequences events, persists them to the replay ring, and
// fans frames out to subscribers.
type Manager struct {
	store     storage.Store
	did       string
	queueKeep int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewManager creates a firehose manager for the repository owned by did.
func NewManager(store storage.Store, did string) *Manager {
	return &Manager{
		store:     store,
		did:       did,
		queueKeep: DefaultQueueKeep,
		subs:      make(map[*subscriber]struct{}),
	}
}

// EmitCommit builds and emits the #commit event for one repository
// mutation. It satisfies repo.Emitter and runs inside the repository
// write lock, so seq order equals mutation order.
func (m *Manager) EmitCommit(ctx context.Context, res *repo.CommitResult) error {
	ops := make([]any, 0, len(res.Ops))
	for _, op := range res.Ops {
		metrics.Mutations.WithLabelValues(op.Action).Inc()
		entry := map[string]any{
			"action": op.Action,
			"path":   op.Path,
		}
		if op.CID != nil {
			entry["cid"] = *op.CID
		}
		ops = append(ops, entry)
	}

	body := map[string]any{
		"repo":   m.did,
		"rev":    res.Rev,
		"since":  res.Since,
		"commit": res.CommitCID,
		"blocks": res.DiffCAR,
		"ops":    ops,
		"blobs":  []any{},
	}
	return m.emit(ctx, KindCommit, body)
}

// EmitIdentity announces a handle change.
func (m *Manager) EmitIdentity(ctx context.Context, handle string) error {
	return m.emit(ctx, KindIdentity, map[string]any{
		"did":    m.did,
		"handle": handle,
	})
}

// EmitAccount announces an account status change.
func (m *Manager) EmitAccount(ctx context.Context, active bool, status string) error {
	body := map[string]any{
		"did":    m.did,
		"active": active,
	}
	if status != "" {
		body["status"] = status
	}
	return m.emit(ctx, KindAccount, body)
}

// emit assigns the next sequence number, persists the framed event,
// and broadcasts it. The store lookup and the broadcast happen under
// the manager lock so subscribers observe frames strictly in seq order.
func (m *Manager) emit(ctx context.Context, kind string, body map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("events: manager closed")
	}

	seq, err := m.store.NextSeq(ctx)
	if err != nil {
		return fmt.Errorf("events: next seq: %w", err)
	}
	now := time.Now().UTC()
	body["seq"] = seq
	body["time"] = now.Format(time.RFC3339)

	frame, err := EncodeFrame(kind, body)
	if err != nil {
		return err
	}
	ev := storage.Event{Seq: seq, Kind: kind, Repo: m.did, Payload: frame, Time: now}
	if err := m.store.AppendEvent(ctx, ev, m.queueKeep); err != nil {
		return fmt.Errorf("events: persist: %w", err)
	}
	metrics.FirehoseEvents.WithLabelValues(kind).Inc()

	for sub := range m.subs {
		select {
		case sub.ch <- frame:
		default:
			// Slow consumer: close its channel so the session ends,
			// without blocking the writer or other subscribers.
			m.dropLocked(sub)
		}
	}
	return nil
}

// Subscribe registers a consumer. Buffered events with seq > cursor
// are replayed first, then live frames follow. cursor < 0 means live
// only. The cancel function must be called when the consumer is done.
func (m *Manager) Subscribe(ctx context.Context, cursor int64) (<-chan []byte, func(), error) {
	sub := &subscriber{
		id: uuid.New(),
		ch: make(chan []byte, subscriberBuffer),
	}

	// Replay and registration happen under the same lock that guards
	// emission, so no frame can be missed or duplicated in between.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("events: manager closed")
	}
	if cursor >= 0 {
		evs, err := m.store.EventsAfter(ctx, cursor)
		if err != nil {
			m.mu.Unlock()
			return nil, nil, fmt.Errorf("events: replay: %w", err)
		}
		for _, ev := range evs {
			sub.ch <- ev.Payload
		}
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	metrics.FirehoseSubscribers.Inc()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.ch)
			metrics.FirehoseSubscribers.Dec()
		}
		m.mu.Unlock()
	}
	return sub.ch, cancel, nil
}

// dropLocked disconnects a slow subscriber. Caller holds m.mu.
func (m *Manager) dropLocked(sub *subscriber) {
	delete(m.subs, sub)
	close(sub.ch)
	metrics.FirehoseSubscribers.Dec()
	metrics.FirehoseDropped.Inc()
}

// Shutdown disconnects all subscribers and refuses further emission.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for sub := range m.subs {
		delete(m.subs, sub)
		close(sub.ch)
		metrics.FirehoseSubscribers.Dec()
	}
}
