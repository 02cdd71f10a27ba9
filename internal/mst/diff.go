package mst

import (
	"github.com/ipfs/go-cid"
)

// DiffResult describes how the entry set changed between two trees.
type DiffResult struct {
	Creates []ListEntry
	Updates []DiffUpdate
	Deletes []ListEntry
}

// DiffUpdate is a key whose value changed between the two trees.
type DiffUpdate struct {
	Key string
	Old cid.Cid
	New cid.Cid
}

// diffItem is one position in a node's wire order: either a leaf
// (key/val) or a subtree pointer (sub).
type diffItem struct {
	key string
	val cid.Cid
	sub *child
}

// diffCursor streams a tree's leaves and subtree pointers in key
// order, letting the caller descend into or skip over whole subtrees.
type diffCursor struct {
	src   BlockSource
	stack []diffFrame
}

type diffFrame struct {
	items []diffItem
	pos   int
}

func newDiffCursor(t *Tree) (*diffCursor, error) {
	c := &diffCursor{}
	if t == nil || t.root == nil {
		return c, nil
	}
	c.src = t.src
	n, err := t.root.resolve(t.src)
	if err != nil {
		return nil, err
	}
	c.push(n)
	return c, nil
}

func (c *diffCursor) push(n *node) {
	items := make([]diffItem, 0, len(n.entries)*2+1)
	if n.left != nil {
		items = append(items, diffItem{sub: n.left})
	}
	for i := range n.entries {
		items = append(items, diffItem{key: n.entries[i].key, val: n.entries[i].val})
		if n.entries[i].right != nil {
			items = append(items, diffItem{sub: n.entries[i].right})
		}
	}
	c.stack = append(c.stack, diffFrame{items: items})
}

// peek returns the next unconsumed item, or nil at the end.
func (c *diffCursor) peek() *diffItem {
	for len(c.stack) > 0 {
		f := &c.stack[len(c.stack)-1]
		if f.pos < len(f.items) {
			return &f.items[f.pos]
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	return nil
}

// skip consumes the current item without descending.
func (c *diffCursor) skip() {
	c.stack[len(c.stack)-1].pos++
}

// descend consumes the current subtree item and pushes its node so the
// subtree's contents stream next.
func (c *diffCursor) descend(it *diffItem) error {
	c.skip()
	n, err := it.sub.resolve(c.src)
	if err != nil {
		return err
	}
	c.push(n)
	return nil
}

// drain streams every remaining leaf to emit.
func (c *diffCursor) drain(emit func(key string, val cid.Cid)) error {
	for {
		it := c.peek()
		if it == nil {
			return nil
		}
		if it.sub != nil {
			if err := c.descend(it); err != nil {
				return err
			}
			continue
		}
		emit(it.key, it.val)
		c.skip()
	}
}

// Diff compares the entry sets of prev and next by descending both
// trees in lockstep, skipping any subtree whose CID is identical on
// both sides, so only differing subtrees are visited. Keys within each
// result slice come out in ascending order. A nil prev tree diffs as
// all-creates.
func Diff(prev, next *Tree) (*DiffResult, error) {
	next.mu.Lock()
	defer next.mu.Unlock()
	if prev != nil && prev.mu != next.mu {
		prev.mu.Lock()
		defer prev.mu.Unlock()
	}

	a, err := newDiffCursor(prev)
	if err != nil {
		return nil, err
	}
	b, err := newDiffCursor(next)
	if err != nil {
		return nil, err
	}

	res := &DiffResult{}
	for {
		ia, ib := a.peek(), b.peek()
		switch {
		case ia == nil && ib == nil:
			return res, nil

		case ia == nil:
			err := b.drain(func(key string, val cid.Cid) {
				res.Creates = append(res.Creates, ListEntry{Key: key, Val: val})
			})
			if err != nil {
				return nil, err
			}

		case ib == nil:
			err := a.drain(func(key string, val cid.Cid) {
				res.Deletes = append(res.Deletes, ListEntry{Key: key, Val: val})
			})
			if err != nil {
				return nil, err
			}

		case ia.sub != nil && ib.sub != nil:
			// Identical subtree CIDs mean identical contents on both
			// sides; nothing under either can contribute to the diff.
			ca, err := ia.sub.cid(a.src)
			if err != nil {
				return nil, err
			}
			cb, err := ib.sub.cid(b.src)
			if err != nil {
				return nil, err
			}
			if ca.Equals(cb) {
				a.skip()
				b.skip()
				continue
			}
			if err := a.descend(ia); err != nil {
				return nil, err
			}
			if err := b.descend(ib); err != nil {
				return nil, err
			}

		case ia.sub != nil:
			if err := a.descend(ia); err != nil {
				return nil, err
			}

		case ib.sub != nil:
			if err := b.descend(ib); err != nil {
				return nil, err
			}

		default:
			switch {
			case ia.key == ib.key:
				if !ia.val.Equals(ib.val) {
					res.Updates = append(res.Updates, DiffUpdate{Key: ia.key, Old: ia.val, New: ib.val})
				}
				a.skip()
				b.skip()
			case ia.key < ib.key:
				res.Deletes = append(res.Deletes, ListEntry{Key: ia.key, Val: ia.val})
				a.skip()
			default:
				res.Creates = append(res.Creates, ListEntry{Key: ib.key, Val: ib.val})
				b.skip()
			}
		}
	}
}
