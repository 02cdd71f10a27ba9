package content

import (
	"context"
	"fmt"

	"github.com/openherald/herald-pds/internal/dispatch"
	"github.com/openherald/herald-pds/internal/storage"
)

// StoreFollowers persists follow notices through the storage backend,
// implementing dispatch.Followers.
type StoreFollowers struct {
	store storage.Store
}

// NewStoreFollowers wraps a storage backend as a followers sink.
func NewStoreFollowers(st storage.Store) *StoreFollowers {
	return &StoreFollowers{store: st}
}

// Add implements dispatch.Followers. Re-adding an existing follower
// refreshes the handle and URI without duplicating the entry.
func (s *StoreFollowers) Add(ctx context.Context, a dispatch.Author, uri string) error {
	err := s.store.UpsertFollower(ctx, storage.Follower{
		DID:    a.DID,
		Handle: a.Handle,
		URI:    uri,
	})
	if err != nil {
		return fmt.Errorf("content: add follower: %w", err)
	}
	return nil
}

// Remove implements dispatch.Followers.
func (s *StoreFollowers) Remove(ctx context.Context, did string) error {
	if _, err := s.store.RemoveFollower(ctx, did); err != nil {
		return fmt.Errorf("content: remove follower: %w", err)
	}
	return nil
}
