package content

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openherald/herald-pds/internal/repo"
)

// PostCollection is the collection promoted items are published into.
const PostCollection = "app.bsky.feed.post"

// Syncer promotes pending host items into the repository as feed
// posts. Each promoted item becomes one app.bsky.feed.post record and
// is marked published with its at:// URI so it is never promoted again.
type Syncer struct {
	repo     *repo.Repository
	source   Source
	interval time.Duration
}

// NewSyncer creates a Syncer. interval <= 0 selects one minute.
func NewSyncer(r *repo.Repository, src Source, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Syncer{repo: r, source: src, interval: interval}
}

// SyncOnce publishes all currently pending items and returns how many
// were promoted. A failure on one item stops the pass so ordering is
// preserved on retry.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	items, err := s.source.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("content: pending: %w", err)
	}

	published := 0
	for _, it := range items {
		createdAt := it.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		record := map[string]any{
			"$type":     PostCollection,
			"text":      it.Text,
			"createdAt": createdAt.Format(time.RFC3339),
		}
		ref, err := s.repo.CreateRecord(ctx, PostCollection, "", record, nil)
		if err != nil {
			return published, fmt.Errorf("content: publish %s: %w", it.ID, err)
		}
		if err := s.source.MarkPublished(ctx, it.ID, ref.URI); err != nil {
			return published, fmt.Errorf("content: mark published %s: %w", it.ID, err)
		}
		published++
	}
	return published, nil
}

// Run publishes pending items on the configured interval until the
// context is cancelled. Failures are logged; the next tick retries.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.SyncOnce(ctx); err != nil {
			log.Printf("content sync: %v", err)
		} else if n > 0 {
			log.Printf("content sync: published %d item(s)", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
