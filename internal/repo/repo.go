package repo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/openherald/herald-pds/internal/cids"
	"github.com/openherald/herald-pds/internal/codec"
	"github.com/openherald/herald-pds/internal/keys"
	"github.com/openherald/herald-pds/internal/mst"
	"github.com/openherald/herald-pds/internal/storage"
	"github.com/openherald/herald-pds/internal/tid"
)

// DefaultCommitKeep is how many commits the ring retains.
const DefaultCommitKeep = 100

// DefaultListLimit bounds list_records page sizes.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Emitter receives the commit result of every mutation, inside the
// write lock, so event sequence numbers agree with mutation order.
type Emitter interface {
	EmitCommit(ctx context.Context, res *CommitResult) error
}

// Repository is the transactional facade over the MST, the commit
// chain, and the record byte store. Exactly one writer advances state;
// readers observe consistent snapshots.
type Repository struct {
	mu         sync.RWMutex
	store      storage.Store
	signer     *keys.Store
	clock      *tid.Clock
	did        string
	emitter    Emitter
	commitKeep int
}

// RepoOp describes a single record mutation within a commit.
type RepoOp struct {
	Action string   // "create", "update", or "delete"
	Path   string   // collection/rkey
	CID    *cid.Cid // new record CID (nil for delete)
	Prev   *cid.Cid // previous record CID (nil for create)
}

// CommitResult captures everything about a commit that downstream
// consumers (the firehose above all) need to build event payloads.
type CommitResult struct {
	CommitCID cid.Cid
	Rev       string
	Since     string // rev of the previous commit, "" at genesis
	Ops       []RepoOp
	DiffCAR   []byte // CAR v1 holding only this mutation's new blocks
}

// RecordRef identifies a stored record after a successful write.
type RecordRef struct {
	URI    string
	CID    cid.Cid
	Commit *CommitResult
}

// RecordInfo is a fetched record with its identity.
type RecordInfo struct {
	URI   string
	CID   cid.Cid
	Value map[string]any
}

// RecordEntry is one record in a list page.
type RecordEntry struct {
	URI   string
	CID   cid.Cid
	Value map[string]any
}

// Open returns the repository for did, creating the genesis commit
// over an empty MST on first boot.
func Open(ctx context.Context, store storage.Store, signer *keys.Store, did string) (*Repository, error) {
	r := &Repository{
		store:      store,
		signer:     signer,
		clock:      tid.NewClock(),
		did:        did,
		commitKeep: DefaultCommitKeep,
	}

	_, err := store.RepoState(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		if err := r.genesis(ctx); err != nil {
			return nil, err
		}
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: open: %w", err)
	}
	return r, nil
}

// SetEmitter installs the firehose hook. Must be called before serving
// writes.
func (r *Repository) SetEmitter(e Emitter) {
	r.mu.Lock()
	r.emitter = e
	r.mu.Unlock()
}

// DID returns the repository owner's DID.
func (r *Repository) DID() string { return r.did }

// Signer exposes the key store for commit verification and DID
// document assembly.
func (r *Repository) Signer() *keys.Store { return r.signer }

func (r *Repository) genesis(ctx context.Context) error {
	ts := newTrackingStore(ctx, r.store)
	root, err := mst.NewEmpty(ts).WriteBlocks(ts)
	if err != nil {
		return fmt.Errorf("repo: genesis mst: %w", err)
	}

	rev := r.clock.Next().String()
	_, commitCID, commitBytes, err := BuildCommit(r.signer, r.did, root, rev, nil)
	if err != nil {
		return fmt.Errorf("repo: genesis: %w", err)
	}

	if err := r.store.PutBlocks(ctx, ts.fresh); err != nil {
		return fmt.Errorf("repo: genesis persist: %w", err)
	}
	if err := r.store.PutCommit(ctx, commitCID, commitBytes, r.commitKeep); err != nil {
		return fmt.Errorf("repo: genesis commit: %w", err)
	}
	if err := r.store.SetRepoState(ctx, storage.RepoState{Rev: rev, Root: root, Commit: commitCID}); err != nil {
		return fmt.Errorf("repo: genesis root: %w", err)
	}
	return nil
}

// CreateRecord adds a record. An empty rkey allocates a fresh TID; an
// explicit rkey fails with ErrRecordExists when already present.
func (r *Repository) CreateRecord(ctx context.Context, collection, rkey string, record map[string]any, swapCommit *cid.Cid) (*RecordRef, error) {
	if err := ValidateNSID(collection); err != nil {
		return nil, err
	}
	if err := ValidateRecord(collection, record); err != nil {
		return nil, err
	}
	explicit := rkey != ""
	if explicit {
		if err := ValidateRKey(rkey); err != nil {
			return nil, err
		}
	} else {
		rkey = r.clock.Next().String()
	}
	key := RecordKey(collection, rkey)

	var recordCID cid.Cid
	res, err := r.mutate(ctx, swapCommit, func(tree *mst.Tree, ts *trackingStore) (*mst.Tree, []RepoOp, error) {
		if explicit {
			cur, err := tree.Get(key)
			if err != nil {
				return nil, nil, fmt.Errorf("repo: create lookup: %w", err)
			}
			if cur != nil {
				return nil, nil, ErrRecordExists
			}
		}
		var rbytes []byte
		var err error
		recordCID, rbytes, err = cids.FromCanonical(record)
		if err != nil {
			return nil, nil, fmt.Errorf("repo: create encode: %w", err)
		}
		if err := ts.PutBlock(recordCID, rbytes); err != nil {
			return nil, nil, err
		}
		newTree, _, err := tree.Insert(key, recordCID)
		if err != nil {
			return nil, nil, fmt.Errorf("repo: create mst insert: %w", err)
		}
		return newTree, []RepoOp{{Action: "create", Path: key, CID: &recordCID}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &RecordRef{URI: ATURI(r.did, collection, rkey), CID: recordCID, Commit: res}, nil
}

// PutRecord creates or updates the record at collection/rkey. A
// non-nil swapRecord must equal the current record CID.
func (r *Repository) PutRecord(ctx context.Context, collection, rkey string, record map[string]any, swapRecord, swapCommit *cid.Cid) (*RecordRef, error) {
	if err := ValidateNSID(collection); err != nil {
		return nil, err
	}
	if err := ValidateRKey(rkey); err != nil {
		return nil, err
	}
	if err := ValidateRecord(collection, record); err != nil {
		return nil, err
	}
	key := RecordKey(collection, rkey)

	var recordCID cid.Cid
	res, err := r.mutate(ctx, swapCommit, func(tree *mst.Tree, ts *trackingStore) (*mst.Tree, []RepoOp, error) {
		cur, err := tree.Get(key)
		if err != nil {
			return nil, nil, fmt.Errorf("repo: put lookup: %w", err)
		}
		if swapRecord != nil && (cur == nil || !cur.Equals(*swapRecord)) {
			return nil, nil, ErrInvalidSwap
		}
		var rbytes []byte
		recordCID, rbytes, err = cids.FromCanonical(record)
		if err != nil {
			return nil, nil, fmt.Errorf("repo: put encode: %w", err)
		}
		if err := ts.PutBlock(recordCID, rbytes); err != nil {
			return nil, nil, err
		}
		newTree, prev, err := tree.Insert(key, recordCID)
		if err != nil {
			return nil, nil, fmt.Errorf("repo: put mst insert: %w", err)
		}
		action := "create"
		if prev != nil {
			action = "update"
		}
		return newTree, []RepoOp{{Action: action, Path: key, CID: &recordCID, Prev: prev}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &RecordRef{URI: ATURI(r.did, collection, rkey), CID: recordCID, Commit: res}, nil
}

// DeleteRecord removes the record at collection/rkey.
func (r *Repository) DeleteRecord(ctx context.Context, collection, rkey string, swapRecord, swapCommit *cid.Cid) (*CommitResult, error) {
	if err := ValidateNSID(collection); err != nil {
		return nil, err
	}
	key := RecordKey(collection, rkey)

	return r.mutate(ctx, swapCommit, func(tree *mst.Tree, ts *trackingStore) (*mst.Tree, []RepoOp, error) {
		cur, err := tree.Get(key)
		if err != nil {
			return nil, nil, fmt.Errorf("repo: delete lookup: %w", err)
		}
		if cur == nil {
			return nil, nil, ErrRecordNotFound
		}
		if swapRecord != nil && !cur.Equals(*swapRecord) {
			return nil, nil, ErrInvalidSwap
		}
		newTree, prev, err := tree.Delete(key)
		if err != nil {
			return nil, nil, fmt.Errorf("repo: delete mst: %w", err)
		}
		return newTree, []RepoOp{{Action: "delete", Path: key, Prev: prev}}, nil
	})
}

// mutate runs one repository write: swap check, MST advance, commit
// signing, persistence, event emission. Caller cancellation is honored
// until the write lock is taken; after that the mutation runs to
// completion so commit and event always agree.
func (r *Repository) mutate(ctx context.Context, swapCommit *cid.Cid, fn func(tree *mst.Tree, ts *trackingStore) (*mst.Tree, []RepoOp, error)) (*CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	st, err := r.store.RepoState(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo: mutate load state: %w", err)
	}
	if swapCommit != nil && !swapCommit.Equals(st.Commit) {
		return nil, ErrInvalidSwap
	}

	ts := newTrackingStore(ctx, r.store)
	tree, err := mst.Load(ts, st.Root)
	if err != nil {
		return nil, fmt.Errorf("repo: mutate load mst: %w", err)
	}

	newTree, ops, err := fn(tree, ts)
	if err != nil {
		return nil, err
	}

	newRoot, err := newTree.WriteBlocks(ts)
	if err != nil {
		return nil, fmt.Errorf("repo: mutate write mst: %w", err)
	}

	rev := r.clock.Next().String()
	prev := st.Commit
	_, commitCID, commitBytes, err := BuildCommit(r.signer, r.did, newRoot, rev, &prev)
	if err != nil {
		return nil, err
	}

	freshBlocks, err := ts.Blocks()
	if err != nil {
		return nil, fmt.Errorf("repo: mutate verify blocks: %w", err)
	}
	diffCAR, err := buildDiffCAR(commitCID, commitBytes, freshBlocks)
	if err != nil {
		return nil, err
	}

	if err := r.store.PutBlocks(ctx, ts.fresh); err != nil {
		return nil, fmt.Errorf("repo: mutate persist blocks: %w", err)
	}
	if err := r.store.PutCommit(ctx, commitCID, commitBytes, r.commitKeep); err != nil {
		return nil, fmt.Errorf("repo: mutate persist commit: %w", err)
	}
	for _, op := range ops {
		if op.Action == "delete" {
			err = r.store.DropRecord(ctx, op.Path)
		} else {
			err = r.store.IndexRecord(ctx, op.Path, *op.CID)
		}
		if err != nil {
			return nil, fmt.Errorf("repo: mutate index: %w", err)
		}
	}
	if err := r.store.SetRepoState(ctx, storage.RepoState{Rev: rev, Root: newRoot, Commit: commitCID}); err != nil {
		return nil, fmt.Errorf("repo: mutate set state: %w", err)
	}

	res := &CommitResult{
		CommitCID: commitCID,
		Rev:       rev,
		Since:     st.Rev,
		Ops:       ops,
		DiffCAR:   diffCAR,
	}
	if r.emitter != nil {
		if err := r.emitter.EmitCommit(ctx, res); err != nil {
			log.Printf("repo: commit %s event emission failed: %v", commitCID, err)
		}
	}
	return res, nil
}

// GetRecord fetches one record. A non-nil expectedCID that does not
// match the current record CID reports ErrRecordNotFound.
func (r *Repository) GetRecord(ctx context.Context, collection, rkey string, expectedCID *cid.Cid) (*RecordInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := RecordKey(collection, rkey)
	c, err := r.store.RecordCID(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo: get record: %w", err)
	}
	if expectedCID != nil && !c.Equals(*expectedCID) {
		return nil, ErrRecordNotFound
	}

	data, err := r.store.GetBlock(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("repo: get record block: %w", err)
	}
	value, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return &RecordInfo{URI: ATURI(r.did, collection, rkey), CID: c, Value: value}, nil
}

// ListRecords returns one page of a collection in rkey order.
// cursor is the rkey to resume strictly after (before when reverse).
func (r *Repository) ListRecords(ctx context.Context, collection string, limit int, cursor string, reverse bool) ([]RecordEntry, string, error) {
	if err := ValidateNSID(collection); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	st, err := r.store.RepoState(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("repo: list: %w", err)
	}
	tree, err := mst.Load(readStore{ctx: ctx, store: r.store}, st.Root)
	if err != nil {
		return nil, "", fmt.Errorf("repo: list load mst: %w", err)
	}

	prefix := collection + "/"
	cursorKey := ""
	if cursor != "" {
		cursorKey = prefix + cursor
	}
	ents, err := tree.List(prefix, limit+1, cursorKey, reverse)
	if err != nil {
		return nil, "", fmt.Errorf("repo: list mst: %w", err)
	}

	nextCursor := ""
	if len(ents) > limit {
		ents = ents[:limit]
		nextCursor = strings.TrimPrefix(ents[limit-1].Key, prefix)
	}

	out := make([]RecordEntry, 0, len(ents))
	for _, e := range ents {
		data, err := r.store.GetBlock(ctx, e.Val)
		if err != nil {
			return nil, "", fmt.Errorf("repo: list block %s: %w", e.Val, err)
		}
		value, err := decodeRecord(data)
		if err != nil {
			return nil, "", err
		}
		out = append(out, RecordEntry{
			URI:   "at://" + r.did + "/" + e.Key,
			CID:   e.Val,
			Value: value,
		})
	}
	return out, nextCursor, nil
}

// Collections lists the distinct collection NSIDs present in the repo.
func (r *Repository) Collections(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	colls, err := r.store.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo: collections: %w", err)
	}
	return colls, nil
}

// Head returns the current (rev, root, commit) pointer.
func (r *Repository) Head(ctx context.Context) (storage.RepoState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, err := r.store.RepoState(ctx)
	if err != nil {
		return storage.RepoState{}, fmt.Errorf("repo: head: %w", err)
	}
	return st, nil
}

func decodeRecord(data []byte) (map[string]any, error) {
	v, err := codec.DecodeStrict(data)
	if err != nil {
		return nil, fmt.Errorf("repo: decode record: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("repo: decode record: not a map")
	}
	return m, nil
}
