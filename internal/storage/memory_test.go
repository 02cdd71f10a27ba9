package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/openherald/herald-pds/internal/cids"
)

func rawCid(t *testing.T, s string) cid.Cid {
	t.Helper()
	c, err := cids.FromBytes([]byte(s), cid.Raw)
	require.NoError(t, err)
	return c
}

func TestMemoryRepoState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	_, err := m.RepoState(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	st := RepoState{Rev: "3jzfcijpj2z2a", Root: rawCid(t, "root"), Commit: rawCid(t, "commit")}
	require.NoError(t, m.SetRepoState(ctx, st))
	got, err := m.RepoState(ctx)
	require.NoError(t, err)
	require.Equal(t, st, got)
}

func TestMemoryCommitRing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	var commits []cid.Cid
	for i := 0; i < 5; i++ {
		c := rawCid(t, fmt.Sprintf("commit-%d", i))
		commits = append(commits, c)
		require.NoError(t, m.PutCommit(ctx, c, []byte{byte(i)}, 3))
	}

	// Oldest two pruned, newest three retained.
	for _, c := range commits[:2] {
		has, err := m.HasBlock(ctx, c)
		require.NoError(t, err)
		require.False(t, has)
	}
	for _, c := range commits[2:] {
		has, err := m.HasBlock(ctx, c)
		require.NoError(t, err)
		require.True(t, has)
	}
}

func TestMemoryRecordIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	c1 := rawCid(t, "r1")
	require.NoError(t, m.IndexRecord(ctx, "app.bsky.feed.post/3jza", c1))
	require.NoError(t, m.IndexRecord(ctx, "app.bsky.feed.like/3jzb", c1))

	got, err := m.RecordCID(ctx, "app.bsky.feed.post/3jza")
	require.NoError(t, err)
	require.Equal(t, c1, got)

	colls, err := m.Collections(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"app.bsky.feed.like", "app.bsky.feed.post"}, colls)

	require.NoError(t, m.DropRecord(ctx, "app.bsky.feed.post/3jza"))
	_, err = m.RecordCID(ctx, "app.bsky.feed.post/3jza")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryFirehoseQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 6; i++ {
		seq, err := m.NextSeq(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(i+1), seq)
		require.NoError(t, m.AppendEvent(ctx, Event{
			Seq: seq, Kind: "#commit", Repo: "did:web:example.com",
			Payload: []byte{byte(seq)}, Time: time.Now(),
		}, 4))
	}

	// Ring of 4: seqs 3..6 survive; cursor replay is strictly after.
	evs, err := m.EventsAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, evs, 4)
	require.Equal(t, int64(3), evs[0].Seq)

	evs, err = m.EventsAfter(ctx, 5)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, int64(6), evs[0].Seq)
}

func TestMemoryBlobListCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 5; i++ {
		data := []byte(fmt.Sprintf("blob-%d", i))
		require.NoError(t, m.PutBlob(ctx, Blob{
			CID: rawCid(t, string(data)), MimeType: "text/plain",
			Size: int64(len(data)), Data: data,
		}))
	}

	page1, err := m.ListBlobs(ctx, 3, "")
	require.NoError(t, err)
	require.Len(t, page1, 3)
	page2, err := m.ListBlobs(ctx, 3, page1[2].CID.String())
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Greater(t, page2[0].CID.String(), page1[2].CID.String())
}

func TestMemorySubscriptionsAndFollowers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AddSubscription(ctx, "did:web:alice.example"))
	require.NoError(t, m.AddSubscription(ctx, "did:web:alice.example"))
	subs, err := m.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.True(t, subs[0].LastSync.IsZero())

	now := time.Now().UTC()
	require.NoError(t, m.SetLastSync(ctx, "did:web:alice.example", now))
	subs, err = m.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, now, subs[0].LastSync)

	require.ErrorIs(t, m.SetLastSync(ctx, "did:web:bob.example", now), ErrNotFound)

	ok, err := m.RemoveSubscription(ctx, "did:web:alice.example")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.RemoveSubscription(ctx, "did:web:alice.example")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.UpsertFollower(ctx, Follower{
		DID: "did:web:carol.example", Handle: "carol.example",
		URI: "at://did:web:carol.example/app.bsky.graph.follow/3jzc",
	}))
	fs, err := m.ListFollowers(ctx)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	require.False(t, fs[0].CreatedAt.IsZero())

	ok, err = m.RemoveFollower(ctx, "did:web:carol.example")
	require.NoError(t, err)
	require.True(t, ok)
}
