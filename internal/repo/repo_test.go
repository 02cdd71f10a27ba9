package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-car"
	"github.com/stretchr/testify/require"

	"github.com/openherald/herald-pds/internal/cids"
	"github.com/openherald/herald-pds/internal/keys"
	"github.com/openherald/herald-pds/internal/storage"
)

const testDID = "did:web:pds.example.com"

type captureEmitter struct {
	commits []*CommitResult
}

func (c *captureEmitter) EmitCommit(_ context.Context, res *CommitResult) error {
	c.commits = append(c.commits, res)
	return nil
}

func openTestRepo(t *testing.T) (*Repository, *captureEmitter) {
	t.Helper()
	signer, err := keys.NewEphemeral()
	require.NoError(t, err)
	r, err := Open(context.Background(), storage.NewMemory(), signer, testDID)
	require.NoError(t, err)
	em := &captureEmitter{}
	r.SetEmitter(em)
	return r, em
}

func postRecord(text string) map[string]any {
	return map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": "2024-01-01T00:00:00.000Z",
	}
}

func TestGenesis(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRepo(t)
	st, err := r.Head(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, st.Rev)
	require.True(t, st.Commit.Defined())

	// The genesis commit is stored, signed, and links an empty tree.
	data, err := r.store.GetBlock(ctx, st.Commit)
	require.NoError(t, err)
	ok, err := VerifyCommit(data, r.Signer().Public())
	require.NoError(t, err)
	require.True(t, ok)

	c, err := ParseCommit(data)
	require.NoError(t, err)
	require.Nil(t, c.Prev)
	require.Equal(t, testDID, c.DID)

	// Reopening an initialized repo must not re-run genesis.
	r2, err := Open(ctx, r.store, r.signer, testDID)
	require.NoError(t, err)
	st2, err := r2.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, st, st2)
}

func TestCreateAndGetRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, em := openTestRepo(t)
	ref, err := r.CreateRecord(ctx, "app.bsky.feed.post", "", postRecord("hi"), nil)
	require.NoError(t, err)
	require.Contains(t, ref.URI, "at://"+testDID+"/app.bsky.feed.post/")
	require.True(t, ref.CID.Defined())

	rkey := ref.URI[len("at://"+testDID+"/app.bsky.feed.post/"):]
	got, err := r.GetRecord(ctx, "app.bsky.feed.post", rkey, nil)
	require.NoError(t, err)
	require.Equal(t, ref.URI, got.URI)
	require.True(t, ref.CID.Equals(got.CID))
	require.Equal(t, "hi", got.Value["text"])

	require.Len(t, em.commits, 1)
	ops := em.commits[0].Ops
	require.Len(t, ops, 1)
	require.Equal(t, "create", ops[0].Action)
	require.Equal(t, "app.bsky.feed.post/"+rkey, ops[0].Path)
	require.True(t, ref.CID.Equals(*ops[0].CID))

	// expectedCID mismatch reads as not found.
	wrong, err := cids.FromBytes([]byte("other"), cid.Raw)
	require.NoError(t, err)
	_, err = r.GetRecord(ctx, "app.bsky.feed.post", rkey, &wrong)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCreateExplicitRkeyConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRepo(t)
	_, err := r.CreateRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", postRecord("a"), nil)
	require.NoError(t, err)
	_, err = r.CreateRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", postRecord("b"), nil)
	require.ErrorIs(t, err, ErrRecordExists)
}

func TestPutSwapRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, em := openTestRepo(t)
	ref, err := r.CreateRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", postRecord("v1"), nil)
	require.NoError(t, err)
	c1 := ref.CID

	// First writer holding the current CID wins.
	ref2, err := r.PutRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", postRecord("v2"), &c1, nil)
	require.NoError(t, err)

	// Second writer with the stale CID loses; no state change, no event.
	events := len(em.commits)
	_, err = r.PutRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", postRecord("v3"), &c1, nil)
	require.ErrorIs(t, err, ErrInvalidSwap)
	require.Len(t, em.commits, events)

	got, err := r.GetRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", nil)
	require.NoError(t, err)
	require.Equal(t, "v2", got.Value["text"])
	require.True(t, ref2.CID.Equals(got.CID))
}

func TestSwapCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRepo(t)
	st, err := r.Head(ctx)
	require.NoError(t, err)

	_, err = r.CreateRecord(ctx, "app.bsky.feed.post", "", postRecord("a"), &st.Commit)
	require.NoError(t, err)

	// Stale commit CID fails.
	_, err = r.CreateRecord(ctx, "app.bsky.feed.post", "", postRecord("b"), &st.Commit)
	require.ErrorIs(t, err, ErrInvalidSwap)
}

func TestIdenticalPutEmitsUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, em := openTestRepo(t)
	rec := postRecord("same")
	ref1, err := r.PutRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", rec, nil, nil)
	require.NoError(t, err)
	ref2, err := r.PutRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", rec, nil, nil)
	require.NoError(t, err)

	require.True(t, ref1.CID.Equals(ref2.CID))
	require.Len(t, em.commits, 2)
	second := em.commits[1].Ops[0]
	require.Equal(t, "update", second.Action)
	require.True(t, ref1.CID.Equals(*second.CID))
	// The chain still advances.
	require.NotEqual(t, em.commits[0].Rev, em.commits[1].Rev)
}

func TestDeleteAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRepo(t)
	for _, rkey := range []string{"3jzfcijpj2z2a", "3jzfcijpj2z2b", "3jzfcijpj2z2c"} {
		_, err := r.CreateRecord(ctx, "app.bsky.feed.post", rkey, postRecord(rkey), nil)
		require.NoError(t, err)
	}

	_, err := r.DeleteRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2b", nil, nil)
	require.NoError(t, err)

	ents, cursor, err := r.ListRecords(ctx, "app.bsky.feed.post", 100, "", false)
	require.NoError(t, err)
	require.Empty(t, cursor)
	require.Len(t, ents, 2)
	require.Contains(t, ents[0].URI, "3jzfcijpj2z2a")
	require.Contains(t, ents[1].URI, "3jzfcijpj2z2c")

	_, err = r.GetRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2b", nil)
	require.ErrorIs(t, err, ErrRecordNotFound)

	_, err = r.DeleteRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2b", nil, nil)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestListPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRepo(t)
	keys := []string{"3jzfcijpj2z2a", "3jzfcijpj2z2b", "3jzfcijpj2z2c", "3jzfcijpj2z2d", "3jzfcijpj2z2e"}
	for _, rkey := range keys {
		_, err := r.CreateRecord(ctx, "app.bsky.feed.post", rkey, postRecord(rkey), nil)
		require.NoError(t, err)
	}

	page1, cursor, err := r.ListRecords(ctx, "app.bsky.feed.post", 2, "", false)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, "3jzfcijpj2z2b", cursor)

	page2, cursor, err := r.ListRecords(ctx, "app.bsky.feed.post", 2, cursor, false)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Contains(t, page2[0].URI, "3jzfcijpj2z2c")
	require.Equal(t, "3jzfcijpj2z2d", cursor)

	page3, cursor, err := r.ListRecords(ctx, "app.bsky.feed.post", 2, cursor, false)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.Empty(t, cursor)

	rev, _, err := r.ListRecords(ctx, "app.bsky.feed.post", 2, "", true)
	require.NoError(t, err)
	require.Contains(t, rev[0].URI, "3jzfcijpj2z2e")
	require.Contains(t, rev[1].URI, "3jzfcijpj2z2d")
}

func TestExportCAR(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRepo(t)
	ref1, err := r.CreateRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", postRecord("r1"), nil)
	require.NoError(t, err)
	_, err = r.CreateRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2b", postRecord("r2"), nil)
	require.NoError(t, err)
	_, err = r.DeleteRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2b", nil, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.ExportCAR(ctx, &buf, ""))

	st, err := r.Head(ctx)
	require.NoError(t, err)

	cr, err := car.NewCarReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, uint64(1), cr.Header.Version)
	require.Len(t, cr.Header.Roots, 1)
	require.True(t, st.Commit.Equals(cr.Header.Roots[0]))

	got := map[cid.Cid][]byte{}
	for {
		blk, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		// Every block's bytes re-hash to its declared CID.
		require.True(t, cids.Verify(blk.Cid(), blk.RawData()))
		got[blk.Cid()] = blk.RawData()
	}

	require.Contains(t, got, st.Commit)
	require.Contains(t, got, ref1.CID)

	// The commit's data link resolves to an MST node in the archive.
	c, err := ParseCommit(got[st.Commit])
	require.NoError(t, err)
	require.Contains(t, got, c.Data)
}

func TestExportCARSince(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, em := openTestRepo(t)
	_, err := r.CreateRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", postRecord("old"), nil)
	require.NoError(t, err)
	since := em.commits[0].Rev

	ref2, err := r.CreateRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2b", postRecord("new"), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.ExportCAR(ctx, &buf, since))

	cr, err := car.NewCarReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	got := map[cid.Cid]bool{}
	for {
		blk, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got[blk.Cid()] = true
	}

	// The new record travels; the old one does not.
	require.True(t, got[ref2.CID])
	oldRec, err := r.GetRecord(ctx, "app.bsky.feed.post", "3jzfcijpj2z2a", nil)
	require.NoError(t, err)
	require.False(t, got[oldRec.CID])
}

func TestMutationPostConditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, em := openTestRepo(t)
	_, err := r.CreateRecord(ctx, "app.bsky.feed.post", "", postRecord("x"), nil)
	require.NoError(t, err)

	res := em.commits[0]
	st, err := r.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, st.Rev, res.Rev)
	require.True(t, st.Commit.Equals(res.CommitCID))
	require.NotEmpty(t, res.DiffCAR)

	// The diff CAR is rooted at the new commit.
	cr, err := car.NewCarReader(bytes.NewReader(res.DiffCAR))
	require.NoError(t, err)
	require.True(t, res.CommitCID.Equals(cr.Header.Roots[0]))
}
