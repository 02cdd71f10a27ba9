// Package mst implements the Merkle search tree that indexes repository
// records: a sorted key-to-CID map whose shape is a deterministic
// function of the key set. Each key's height is the number of leading
// zero bits in the SHA-256 of the key; a key at height H lives H levels
// above the leaf layer. Nodes are immutable; mutations copy the path
// from the root.
package mst

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/bits"

	"github.com/openherald/herald-pds/internal/cids"
	"github.com/openherald/herald-pds/internal/codec"

	"github.com/ipfs/go-cid"
)

// MaxFanout is the largest number of e-array entries a single node may
// carry on the wire.
const MaxFanout = 32

// ErrNotFound is returned when a key is absent from the tree.
var ErrNotFound = errors.New("mst: key not found")

// BlockSource resolves node CIDs to their canonical bytes. All tree
// operations are CPU-only apart from these lookups.
type BlockSource interface {
	GetBlock(c cid.Cid) ([]byte, error)
}

// BlockSink receives newly created node blocks. HasBlock lets the
// writer prune subtrees that are already stored: an unchanged node
// implies unchanged descendants.
type BlockSink interface {
	HasBlock(c cid.Cid) (bool, error)
	PutBlock(c cid.Cid, data []byte) error
}

// keyHeight returns the tree level for a key: the count of leading
// zero bits in sha256(key).
func keyHeight(key string) int {
	sum := sha256.Sum256([]byte(key))
	h := 0
	for _, b := range sum {
		if b == 0 {
			h += 8
			continue
		}
		return h + bits.LeadingZeros8(b)
	}
	return h
}

// node is one tree level: an optional left subtree holding keys below
// the first leaf, then leaves in sorted order, each with an optional
// right subtree holding keys between it and the next leaf. Every node
// except an empty root carries at least one leaf.
type node struct {
	height  int
	left    *child
	entries []entry

	// cached serialization, valid once computed (nodes are immutable)
	c     cid.Cid
	bytes []byte
}

// entry is a leaf key plus the subtree between it and its successor.
type entry struct {
	key   string
	val   cid.Cid
	right *child
}

// child is a possibly unresolved subtree pointer. minKey "" and height
// -1 mean not yet known; keys are never empty strings.
type child struct {
	c      cid.Cid // defined when loaded from or written to a store
	minKey string
	height int
	n      *node // nil until resolved
}

// resolve loads the child's node from src when not in memory.
func (ch *child) resolve(src BlockSource) (*node, error) {
	if ch.n != nil {
		return ch.n, nil
	}
	data, err := src.GetBlock(ch.c)
	if err != nil {
		return nil, fmt.Errorf("mst: load node %s: %w", ch.c, err)
	}
	n, err := parseNode(data)
	if err != nil {
		return nil, fmt.Errorf("mst: node %s: %w", ch.c, err)
	}
	n.c = ch.c
	n.bytes = data
	ch.n = n
	return n, nil
}

func (ch *child) minKeyOf(src BlockSource) (string, error) {
	if ch.minKey != "" {
		return ch.minKey, nil
	}
	n, err := ch.resolve(src)
	if err != nil {
		return "", err
	}
	mk, err := n.minKeyOf(src)
	if err != nil {
		return "", err
	}
	ch.minKey = mk
	return mk, nil
}

func (ch *child) heightOf(src BlockSource) (int, error) {
	if ch.height >= 0 {
		return ch.height, nil
	}
	n, err := ch.resolve(src)
	if err != nil {
		return 0, err
	}
	ch.height = n.height
	return n.height, nil
}

// cid returns the child's CID, serializing the in-memory node if
// needed.
func (ch *child) cid(src BlockSource) (cid.Cid, error) {
	if ch.c.Defined() {
		return ch.c, nil
	}
	c, _, err := ch.n.serialize(src)
	if err != nil {
		return cid.Undef, err
	}
	ch.c = c
	return c, nil
}

// asChild wraps a node as a subtree pointer, dropping empty nodes.
func asChild(n *node) *child {
	if n == nil || (n.left == nil && len(n.entries) == 0) {
		return nil
	}
	return &child{minKey: "", height: n.height, n: n}
}

func (n *node) minKeyOf(src BlockSource) (string, error) {
	if n.left != nil {
		return n.left.minKeyOf(src)
	}
	if len(n.entries) == 0 {
		return "", fmt.Errorf("mst: empty node has no min key")
	}
	return n.entries[0].key, nil
}

// rightmost returns the last subtree slot of the node.
func (n *node) rightmost() *child {
	if len(n.entries) == 0 {
		return n.left
	}
	return n.entries[len(n.entries)-1].right
}

// serialize computes the canonical bytes and CID of the node, caching
// both.
func (n *node) serialize(src BlockSource) (cid.Cid, []byte, error) {
	if n.c.Defined() {
		return n.c, n.bytes, nil
	}

	e := make([]any, 0, len(n.entries)*2)
	for _, ent := range n.entries {
		e = append(e, map[string]any{
			"k": ent.key,
			"v": ent.val,
		})
		if ent.right != nil {
			link, err := ent.right.cid(src)
			if err != nil {
				return cid.Undef, nil, err
			}
			mk, err := ent.right.minKeyOf(src)
			if err != nil {
				return cid.Undef, nil, err
			}
			h, err := ent.right.heightOf(src)
			if err != nil {
				return cid.Undef, nil, err
			}
			e = append(e, map[string]any{
				"k": mk,
				"p": int64(h),
				"t": link,
			})
		}
	}
	if len(e) > MaxFanout {
		return cid.Undef, nil, fmt.Errorf("mst: node exceeds fanout of %d", MaxFanout)
	}

	m := map[string]any{"e": e}
	if n.left != nil {
		link, err := n.left.cid(src)
		if err != nil {
			return cid.Undef, nil, err
		}
		m["l"] = link
	} else {
		m["l"] = nil
	}

	c, enc, err := cids.FromCanonical(m)
	if err != nil {
		return cid.Undef, nil, fmt.Errorf("mst: serialize node: %w", err)
	}
	n.c = c
	n.bytes = enc
	return c, enc, nil
}

// parseNode decodes the wire form of a node.
func parseNode(data []byte) (*node, error) {
	v, err := codec.DecodeStrict(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("node is not a map")
	}

	n := &node{}
	if l, ok := m["l"]; ok && l != nil {
		link, ok := l.(cid.Cid)
		if !ok {
			return nil, fmt.Errorf("l is not a link")
		}
		n.left = &child{c: link, height: -1}
	}

	rawEntries, ok := m["e"].([]any)
	if !ok {
		return nil, fmt.Errorf("e is not an array")
	}
	if len(rawEntries) > MaxFanout {
		return nil, fmt.Errorf("node exceeds fanout of %d", MaxFanout)
	}

	for _, raw := range rawEntries {
		em, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry is not a map")
		}
		k, ok := em["k"].(string)
		if !ok || k == "" {
			return nil, fmt.Errorf("entry key is not a non-empty string")
		}

		if t, isBranch := em["t"]; isBranch {
			link, ok := t.(cid.Cid)
			if !ok {
				return nil, fmt.Errorf("entry t is not a link")
			}
			p, ok := em["p"].(int64)
			if !ok || p < 0 {
				return nil, fmt.Errorf("entry p is not a valid depth")
			}
			if len(n.entries) == 0 {
				return nil, fmt.Errorf("subtree entry before first leaf")
			}
			last := &n.entries[len(n.entries)-1]
			if last.right != nil {
				return nil, fmt.Errorf("two subtree entries between leaves")
			}
			last.right = &child{c: link, minKey: k, height: int(p)}
			continue
		}

		val, ok := em["v"].(cid.Cid)
		if !ok {
			return nil, fmt.Errorf("entry v is not a link")
		}
		n.entries = append(n.entries, entry{key: k, val: val})
	}

	// Node height is implied by its leaf keys. A node with no leaves
	// only occurs as the empty root.
	if len(n.entries) > 0 {
		n.height = keyHeight(n.entries[0].key)
	}
	return n, nil
}
