package mst

import (
	"errors"
	"strings"

	"github.com/ipfs/go-cid"
)

var errStopWalk = errors.New("mst: stop walk")

// WalkFunc receives entries in key order. Returning a non-nil error
// aborts the walk and is returned from Walk, except errStopWalk which
// Walk swallows.
type WalkFunc func(key string, val cid.Cid) error

// Walk visits every entry in ascending key order.
func (t *Tree) Walk(fn WalkFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.walkChild(t.root, fn, false)
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

func (t *Tree) walkChild(ch *child, fn WalkFunc, reverse bool) error {
	if ch == nil {
		return nil
	}
	n, err := ch.resolve(t.src)
	if err != nil {
		return err
	}
	if reverse {
		for i := len(n.entries) - 1; i >= 0; i-- {
			if err := t.walkChild(n.entries[i].right, fn, true); err != nil {
				return err
			}
			if err := fn(n.entries[i].key, n.entries[i].val); err != nil {
				return err
			}
		}
		return t.walkChild(n.left, fn, true)
	}
	if err := t.walkChild(n.left, fn, false); err != nil {
		return err
	}
	for _, e := range n.entries {
		if err := fn(e.key, e.val); err != nil {
			return err
		}
		if err := t.walkChild(e.right, fn, false); err != nil {
			return err
		}
	}
	return nil
}

// ListEntry is one key/value pair returned by List.
type ListEntry struct {
	Key string
	Val cid.Cid
}

// List returns up to limit entries whose keys start with prefix, in
// key order (descending when reverse is set). A non-empty cursor
// resumes strictly after it: entries returned have keys > cursor
// (< cursor when reverse). limit <= 0 means no limit.
func (t *Tree) List(prefix string, limit int, cursor string, reverse bool) ([]ListEntry, error) {
	var out []ListEntry
	err := t.walkDirected(reverse, func(key string, val cid.Cid) error {
		if !strings.HasPrefix(key, prefix) {
			// Forward walks are fully ordered, so once past the
			// prefix range nothing later matches.
			if !reverse && key > prefix {
				return errStopWalk
			}
			if reverse && key < prefix {
				return errStopWalk
			}
			return nil
		}
		if cursor != "" {
			if !reverse && key <= cursor {
				return nil
			}
			if reverse && key >= cursor {
				return nil
			}
		}
		out = append(out, ListEntry{Key: key, Val: val})
		if limit > 0 && len(out) >= limit {
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) walkDirected(reverse bool, fn WalkFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.walkChild(t.root, fn, reverse)
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

// Len counts the entries in the tree.
func (t *Tree) Len() (int, error) {
	n := 0
	err := t.Walk(func(string, cid.Cid) error {
		n++
		return nil
	})
	return n, err
}

// WriteBlocks persists every node block to sink and returns the root
// CID. Subtrees whose root block the sink already holds are skipped
// entirely: an unchanged node implies unchanged descendants.
func (t *Tree) WriteBlocks(sink BlockSink) (cid.Cid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == nil {
		en := &node{}
		c, data, err := en.serialize(t.src)
		if err != nil {
			return cid.Undef, err
		}
		if err := putIfAbsent(sink, c, data); err != nil {
			return cid.Undef, err
		}
		return c, nil
	}
	if err := t.writeChild(t.root, sink); err != nil {
		return cid.Undef, err
	}
	return t.root.cid(t.src)
}

func (t *Tree) writeChild(ch *child, sink BlockSink) error {
	c, err := ch.cid(t.src)
	if err != nil {
		return err
	}
	has, err := sink.HasBlock(c)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	n, err := ch.resolve(t.src)
	if err != nil {
		return err
	}
	_, data, err := n.serialize(t.src)
	if err != nil {
		return err
	}
	if err := sink.PutBlock(c, data); err != nil {
		return err
	}
	if n.left != nil {
		if err := t.writeChild(n.left, sink); err != nil {
			return err
		}
	}
	for _, e := range n.entries {
		if e.right != nil {
			if err := t.writeChild(e.right, sink); err != nil {
				return err
			}
		}
	}
	return nil
}

// WalkNodes visits every node block of the tree, root first, calling
// fn with each node's CID and encoded bytes. Used for CAR export.
func (t *Tree) WalkNodes(fn func(c cid.Cid, data []byte) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == nil {
		c, data, err := (&node{}).serialize(t.src)
		if err != nil {
			return err
		}
		return fn(c, data)
	}
	return t.walkNodeBlocks(t.root, fn)
}

func (t *Tree) walkNodeBlocks(ch *child, fn func(c cid.Cid, data []byte) error) error {
	n, err := ch.resolve(t.src)
	if err != nil {
		return err
	}
	c, data, err := n.serialize(t.src)
	if err != nil {
		return err
	}
	if err := fn(c, data); err != nil {
		return err
	}
	if n.left != nil {
		if err := t.walkNodeBlocks(n.left, fn); err != nil {
			return err
		}
	}
	for _, e := range n.entries {
		if e.right != nil {
			if err := t.walkNodeBlocks(e.right, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func putIfAbsent(sink BlockSink, c cid.Cid, data []byte) error {
	has, err := sink.HasBlock(c)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	return sink.PutBlock(c, data)
}
