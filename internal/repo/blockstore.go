package repo

import (
	"context"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"

	"github.com/openherald/herald-pds/internal/storage"
)

// trackingStore bridges the MST's synchronous block interfaces to the
// persistence layer. Reads fall through to the backing store; writes
// accumulate in memory until the mutation commits, which makes the set
// of fresh blocks the exact diff for the firehose CAR.
type trackingStore struct {
	ctx   context.Context
	store storage.Store
	fresh map[cid.Cid][]byte
}

func newTrackingStore(ctx context.Context, store storage.Store) *trackingStore {
	return &trackingStore{ctx: ctx, store: store, fresh: make(map[cid.Cid][]byte, 16)}
}

func (t *trackingStore) GetBlock(c cid.Cid) ([]byte, error) {
	if data, ok := t.fresh[c]; ok {
		return data, nil
	}
	data, err := t.store.GetBlock(t.ctx, c)
	if err != nil {
		return nil, &ipld.ErrNotFound{Cid: c}
	}
	return data, nil
}

func (t *trackingStore) HasBlock(c cid.Cid) (bool, error) {
	if _, ok := t.fresh[c]; ok {
		return true, nil
	}
	return t.store.HasBlock(t.ctx, c)
}

func (t *trackingStore) PutBlock(c cid.Cid, data []byte) error {
	t.fresh[c] = data
	return nil
}

// Blocks returns the fresh blocks as verified block-format values.
// NewBlockWithCid re-checks that each CID matches its bytes.
func (t *trackingStore) Blocks() ([]blocks.Block, error) {
	out := make([]blocks.Block, 0, len(t.fresh))
	for c, data := range t.fresh {
		blk, err := blocks.NewBlockWithCid(data, c)
		if err != nil {
			return nil, err
		}
		out = append(out, blk)
	}
	return out, nil
}

// readStore is the read-only variant used by snapshot reads: no write
// tracking, reads bound to the request context.
type readStore struct {
	ctx   context.Context
	store storage.Store
}

func (r readStore) GetBlock(c cid.Cid) ([]byte, error) {
	data, err := r.store.GetBlock(r.ctx, c)
	if err != nil {
		return nil, &ipld.ErrNotFound{Cid: c}
	}
	return data, nil
}
