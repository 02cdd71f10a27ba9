package repo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	carutil "github.com/ipld/go-car/util"

	"github.com/openherald/herald-pds/internal/codec"
	"github.com/openherald/herald-pds/internal/mst"
)

// writeCARHeader emits the CAR v1 header: a length-delimited canonical
// map {version: 1, roots: [link]}.
func writeCARHeader(w io.Writer, root cid.Cid) error {
	hb, err := codec.Encode(map[string]any{
		"roots":   []any{root},
		"version": int64(1),
	})
	if err != nil {
		return fmt.Errorf("repo: encode car header: %w", err)
	}
	if err := carutil.LdWrite(w, hb); err != nil {
		return fmt.Errorf("repo: write car header: %w", err)
	}
	return nil
}

func writeCARBlock(w io.Writer, c cid.Cid, data []byte) error {
	if err := carutil.LdWrite(w, c.Bytes(), data); err != nil {
		return fmt.Errorf("repo: write car block %s: %w", c, err)
	}
	return nil
}

// buildDiffCAR packs the commit plus the mutation's fresh blocks into
// a CAR for the firehose. Commit first, then blocks in CID order.
func buildDiffCAR(commitCID cid.Cid, commitBytes []byte, fresh []blocks.Block) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeCARHeader(buf, commitCID); err != nil {
		return nil, err
	}
	if err := writeCARBlock(buf, commitCID, commitBytes); err != nil {
		return nil, err
	}
	sorted := append([]blocks.Block(nil), fresh...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cid().KeyString() < sorted[j].Cid().KeyString()
	})
	for _, blk := range sorted {
		if blk.Cid().Equals(commitCID) {
			continue
		}
		if err := writeCARBlock(buf, blk.Cid(), blk.RawData()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ExportCAR streams the repository as a CAR v1 archive rooted at the
// current commit: commit block, then MST nodes, then record blocks.
// When since names the rev of a still-retained commit, only blocks
// added after that commit are included; an unknown rev falls back to a
// full export.
func (r *Repository) ExportCAR(ctx context.Context, w io.Writer, since string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, err := r.store.RepoState(ctx)
	if err != nil {
		return fmt.Errorf("repo: export: %w", err)
	}
	commitBytes, err := r.store.GetBlock(ctx, st.Commit)
	if err != nil {
		return fmt.Errorf("repo: export commit block: %w", err)
	}

	src := readStore{ctx: ctx, store: r.store}
	tree, err := mst.Load(src, st.Root)
	if err != nil {
		return fmt.Errorf("repo: export load mst: %w", err)
	}

	var oldTree *mst.Tree
	skip := map[cid.Cid]bool{}
	if since != "" {
		if oldTree, err = r.treeAtRev(ctx, src, since); err != nil {
			return err
		}
		if oldTree != nil {
			err = oldTree.WalkNodes(func(c cid.Cid, _ []byte) error {
				skip[c] = true
				return nil
			})
			if err != nil {
				return fmt.Errorf("repo: export old tree: %w", err)
			}
		}
	}

	if err := writeCARHeader(w, st.Commit); err != nil {
		return err
	}
	if err := writeCARBlock(w, st.Commit, commitBytes); err != nil {
		return err
	}

	written := map[cid.Cid]bool{st.Commit: true}
	err = tree.WalkNodes(func(c cid.Cid, data []byte) error {
		if skip[c] || written[c] {
			return nil
		}
		written[c] = true
		return writeCARBlock(w, c, data)
	})
	if err != nil {
		return fmt.Errorf("repo: export mst nodes: %w", err)
	}

	emitRecord := func(c cid.Cid) error {
		if written[c] {
			return nil
		}
		data, err := r.store.GetBlock(ctx, c)
		if err != nil {
			return fmt.Errorf("repo: export record block %s: %w", c, err)
		}
		written[c] = true
		return writeCARBlock(w, c, data)
	}

	if oldTree != nil {
		d, err := mst.Diff(oldTree, tree)
		if err != nil {
			return fmt.Errorf("repo: export diff: %w", err)
		}
		for _, e := range d.Creates {
			if err := emitRecord(e.Val); err != nil {
				return err
			}
		}
		for _, u := range d.Updates {
			if err := emitRecord(u.New); err != nil {
				return err
			}
		}
		return nil
	}

	return tree.Walk(func(_ string, val cid.Cid) error {
		return emitRecord(val)
	})
}

// treeAtRev loads the MST root of the retained commit with the given
// rev, or nil when that commit has been pruned from the ring.
func (r *Repository) treeAtRev(ctx context.Context, src mst.BlockSource, rev string) (*mst.Tree, error) {
	commits, err := r.store.Commits(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo: list commits: %w", err)
	}
	for i := len(commits) - 1; i >= 0; i-- {
		data, err := r.store.GetBlock(ctx, commits[i])
		if err != nil {
			continue
		}
		c, err := ParseCommit(data)
		if err != nil {
			continue
		}
		if c.Rev == rev {
			tree, err := mst.Load(src, c.Data)
			if err != nil {
				return nil, fmt.Errorf("repo: load tree at rev %s: %w", rev, err)
			}
			return tree, nil
		}
	}
	return nil, nil
}
