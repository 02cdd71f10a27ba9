package content

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openherald/herald-pds/internal/dispatch"
	"github.com/openherald/herald-pds/internal/keys"
	"github.com/openherald/herald-pds/internal/repo"
	"github.com/openherald/herald-pds/internal/storage"
)

const testDID = "did:web:pds.example.com"

func TestMemoryInteractionsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	alice := dispatch.Author{DID: "did:web:alice.example", Handle: "alice.example"}
	bob := dispatch.Author{DID: "did:web:bob.example", Handle: "bob.example"}

	require.NoError(t, m.Like(ctx, "post-1", alice))
	require.NoError(t, m.Like(ctx, "post-1", alice))
	require.NoError(t, m.Like(ctx, "post-1", bob))
	require.Equal(t, []dispatch.Author{alice, bob}, m.Likes("post-1"))

	require.NoError(t, m.Unlike(ctx, "post-1", alice))
	require.Equal(t, []dispatch.Author{bob}, m.Likes("post-1"))

	require.NoError(t, m.Repost(ctx, "post-1", alice))
	require.NoError(t, m.Repost(ctx, "post-1", alice))
	require.Equal(t, []dispatch.Author{alice}, m.Reposts("post-1"))
	require.NoError(t, m.Unrepost(ctx, "post-1", alice))
	require.Empty(t, m.Reposts("post-1"))
}

func TestMemoryReplies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	alice := dispatch.Author{DID: "did:web:alice.example"}

	at := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.Store(ctx, "root-1", "", alice, "first", at))
	require.NoError(t, m.Store(ctx, "root-1", "parent-1", alice, "second", at.Add(time.Minute)))
	require.NoError(t, m.Store(ctx, "root-2", "", alice, "elsewhere", at))

	replies := m.Replies("root-1")
	require.Len(t, replies, 2)
	require.Equal(t, "first", replies[0].Text)
	require.Equal(t, "parent-1", replies[1].ParentID)
}

func TestStoreFollowers(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sink := NewStoreFollowers(st)
	alice := dispatch.Author{DID: "did:web:alice.example", Handle: "alice.example"}

	uri := "at://did:web:alice.example/app.bsky.graph.follow/3k"
	require.NoError(t, sink.Add(ctx, alice, uri))
	require.NoError(t, sink.Add(ctx, alice, uri))

	followers, err := st.ListFollowers(ctx)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	require.Equal(t, alice.Handle, followers[0].Handle)
	require.Equal(t, uri, followers[0].URI)
	require.False(t, followers[0].CreatedAt.IsZero())

	require.NoError(t, sink.Remove(ctx, alice.DID))
	followers, err = st.ListFollowers(ctx)
	require.NoError(t, err)
	require.Empty(t, followers)
}

func TestSyncerPromotesPendingItems(t *testing.T) {
	ctx := context.Background()
	signer, err := keys.NewEphemeral()
	require.NoError(t, err)
	r, err := repo.Open(ctx, storage.NewMemory(), signer, testDID)
	require.NoError(t, err)

	m := NewMemory()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	m.AddItem(Item{ID: "item-2", Text: "second post", CreatedAt: base.Add(time.Hour)})
	m.AddItem(Item{ID: "item-1", Text: "first post", CreatedAt: base})

	syncer := NewSyncer(r, m, 0)
	n, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Oldest item published first, so its rkey sorts lower.
	uri1, ok := m.PublishedURI("item-1")
	require.True(t, ok)
	uri2, ok := m.PublishedURI("item-2")
	require.True(t, ok)
	require.Less(t, uri1, uri2)
	require.True(t, strings.HasPrefix(uri1, "at://"+testDID+"/"+PostCollection+"/"))

	entries, _, err := r.ListRecords(ctx, PostCollection, 10, "", false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "first post", entries[0].Value["text"])

	// Nothing pending on the second pass.
	n, err = syncer.SyncOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
