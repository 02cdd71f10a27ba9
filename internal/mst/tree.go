package mst

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"
)

// Tree is a persistent Merkle search tree. Mutating operations return
// a new Tree sharing unchanged nodes with the old one; the old Tree
// remains valid. Trees derived from one another share a mutex that
// guards the lazy node caches.
type Tree struct {
	mu   *sync.Mutex
	src  BlockSource
	root *child
}

// NewEmpty returns a tree with no entries.
func NewEmpty(src BlockSource) *Tree {
	return &Tree{mu: &sync.Mutex{}, src: src}
}

// Load opens the tree rooted at rootCID. The root node is fetched
// eagerly so a dangling root fails here rather than mid-operation.
func Load(src BlockSource, rootCID cid.Cid) (*Tree, error) {
	ch := &child{c: rootCID, height: -1}
	n, err := ch.resolve(src)
	if err != nil {
		return nil, err
	}
	t := &Tree{mu: &sync.Mutex{}, src: src}
	if n.left != nil || len(n.entries) > 0 {
		t.root = ch
	}
	return t, nil
}

// derive wraps a new root in a tree sharing this tree's lock.
func (t *Tree) derive(root *child) *Tree {
	return &Tree{mu: t.mu, src: t.src, root: root}
}

// RootCID returns the CID of the root node. The empty tree still has
// a root: the serialized empty node.
func (t *Tree) RootCID() (cid.Cid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootCIDLocked()
}

func (t *Tree) rootCIDLocked() (cid.Cid, error) {
	if t.root == nil {
		c, _, err := (&node{}).serialize(t.src)
		return c, err
	}
	return t.root.cid(t.src)
}

// Get returns the value CID for key, or nil when absent.
func (t *Tree) Get(key string) (*cid.Cid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := t.root
	for ch != nil {
		n, err := ch.resolve(t.src)
		if err != nil {
			return nil, err
		}
		i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].key >= key })
		if i < len(n.entries) && n.entries[i].key == key {
			v := n.entries[i].val
			return &v, nil
		}
		ch = gapSlot(n, i)
	}
	return nil, nil
}

// Insert sets key to val and returns the new tree plus the previous
// value CID (nil for a fresh key). Inserting the value a key already
// holds yields a tree with an identical root.
func (t *Tree) Insert(key string, val cid.Cid) (*Tree, *cid.Cid, error) {
	if key == "" {
		return nil, nil, fmt.Errorf("mst: empty key")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	root, prev, err := t.insertSub(t.root, key, val, keyHeight(key))
	if err != nil {
		return nil, nil, err
	}
	return t.derive(root), prev, nil
}

func (t *Tree) insertSub(ch *child, key string, val cid.Cid, h int) (*child, *cid.Cid, error) {
	if ch == nil {
		return asChild(&node{height: h, entries: []entry{{key: key, val: val}}}), nil, nil
	}
	n, err := ch.resolve(t.src)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case h > n.height:
		// The new key lives above the current subtree: split the
		// subtree around it and hang the halves off a new node.
		l, r, err := t.split(ch, key)
		if err != nil {
			return nil, nil, err
		}
		nn := &node{height: h, left: l, entries: []entry{{key: key, val: val, right: r}}}
		return asChild(nn), nil, nil

	case h == n.height:
		i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].key >= key })
		if i < len(n.entries) && n.entries[i].key == key {
			prev := n.entries[i].val
			if prev.Equals(val) {
				return ch, &prev, nil
			}
			ents := cloneEntries(n.entries)
			ents[i].val = val
			return asChild(&node{height: n.height, left: n.left, entries: ents}), &prev, nil
		}

		sl, sr, err := t.split(gapSlot(n, i), key)
		if err != nil {
			return nil, nil, err
		}
		ents := make([]entry, 0, len(n.entries)+1)
		ents = append(ents, n.entries[:i]...)
		nn := &node{height: n.height, left: n.left}
		if i == 0 {
			nn.left = sl
		} else {
			ents[i-1].right = sl
		}
		ents = append(ents, entry{key: key, val: val, right: sr})
		ents = append(ents, n.entries[i:]...)
		nn.entries = ents
		return asChild(nn), nil, nil

	default: // h < n.height: descend into the gap covering key
		i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].key >= key })
		slot := gapSlot(n, i)
		newSlot, prev, err := t.insertSub(slot, key, val, h)
		if err != nil {
			return nil, nil, err
		}
		if newSlot == slot {
			return ch, prev, nil
		}
		nn := &node{height: n.height, left: n.left, entries: cloneEntries(n.entries)}
		if i == 0 {
			nn.left = newSlot
		} else {
			nn.entries[i-1].right = newSlot
		}
		return asChild(nn), prev, nil
	}
}

// Delete removes key and returns the new tree plus the removed value
// CID. ErrNotFound when the key is absent; the tree is unchanged.
func (t *Tree) Delete(key string) (*Tree, *cid.Cid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, prev, err := t.deleteSub(t.root, key, keyHeight(key))
	if err != nil {
		return nil, nil, err
	}
	return t.derive(root), prev, nil
}

func (t *Tree) deleteSub(ch *child, key string, h int) (*child, *cid.Cid, error) {
	if ch == nil {
		return nil, nil, ErrNotFound
	}
	n, err := ch.resolve(t.src)
	if err != nil {
		return nil, nil, err
	}
	if h > n.height {
		return nil, nil, ErrNotFound
	}

	i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].key >= key })

	if h == n.height {
		if i >= len(n.entries) || n.entries[i].key != key {
			return nil, nil, ErrNotFound
		}
		prev := n.entries[i].val

		// The subtrees flanking the removed leaf become adjacent and
		// merge into a single gap.
		merged, err := t.merge(gapSlot(n, i), n.entries[i].right)
		if err != nil {
			return nil, nil, err
		}

		ents := make([]entry, 0, len(n.entries)-1)
		ents = append(ents, n.entries[:i]...)
		ents = append(ents, n.entries[i+1:]...)
		nn := &node{height: n.height, left: n.left, entries: ents}
		if i == 0 {
			nn.left = merged
		} else {
			nn.entries[i-1].right = merged
		}
		if len(nn.entries) == 0 {
			// No leaves left at this level; the remaining subtree
			// replaces the node.
			return nn.left, &prev, nil
		}
		return asChild(nn), &prev, nil
	}

	slot := gapSlot(n, i)
	newSlot, prev, err := t.deleteSub(slot, key, h)
	if err != nil {
		return nil, nil, err
	}
	nn := &node{height: n.height, left: n.left, entries: cloneEntries(n.entries)}
	if i == 0 {
		nn.left = newSlot
	} else {
		nn.entries[i-1].right = newSlot
	}
	return asChild(nn), prev, nil
}

// split divides a subtree into the parts strictly below and strictly
// above key. key is never present in the subtree when split is called.
func (t *Tree) split(ch *child, key string) (*child, *child, error) {
	if ch == nil {
		return nil, nil, nil
	}
	n, err := ch.resolve(t.src)
	if err != nil {
		return nil, nil, err
	}

	i := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].key >= key })
	sl, sr, err := t.split(gapSlot(n, i), key)
	if err != nil {
		return nil, nil, err
	}

	var leftC, rightC *child
	if i == 0 {
		leftC = sl
	} else {
		ents := cloneEntries(n.entries[:i])
		ents[i-1].right = sl
		leftC = asChild(&node{height: n.height, left: n.left, entries: ents})
	}
	if i == len(n.entries) {
		rightC = sr
	} else {
		ents := cloneEntries(n.entries[i:])
		rightC = asChild(&node{height: n.height, left: sr, entries: ents})
	}
	return leftC, rightC, nil
}

// merge joins two subtrees where every key of a sorts before every key
// of b.
func (t *Tree) merge(a, b *child) (*child, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	na, err := a.resolve(t.src)
	if err != nil {
		return nil, err
	}
	nb, err := b.resolve(t.src)
	if err != nil {
		return nil, err
	}

	switch {
	case na.height == nb.height:
		mid, err := t.merge(na.rightmost(), nb.left)
		if err != nil {
			return nil, err
		}
		ents := make([]entry, 0, len(na.entries)+len(nb.entries))
		ents = append(ents, na.entries...)
		ents[len(na.entries)-1].right = mid
		ents = append(ents, nb.entries...)
		return asChild(&node{height: na.height, left: na.left, entries: ents}), nil

	case na.height > nb.height:
		m, err := t.merge(na.rightmost(), b)
		if err != nil {
			return nil, err
		}
		ents := cloneEntries(na.entries)
		ents[len(ents)-1].right = m
		return asChild(&node{height: na.height, left: na.left, entries: ents}), nil

	default:
		m, err := t.merge(a, nb.left)
		if err != nil {
			return nil, err
		}
		return asChild(&node{height: nb.height, left: m, entries: nb.entries}), nil
	}
}

// gapSlot returns the subtree covering keys between leaves i-1 and i.
func gapSlot(n *node, i int) *child {
	if i == 0 {
		return n.left
	}
	return n.entries[i-1].right
}

func cloneEntries(s []entry) []entry {
	return append([]entry(nil), s...)
}
