package repo

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/openherald/herald-pds/internal/cids"
	"github.com/openherald/herald-pds/internal/codec"
	"github.com/openherald/herald-pds/internal/keys"
)

// Version is the repository format version carried in every commit.
const Version = 3

// Commit is one node of the signed commit chain. Data links the MST
// root; Prev links the commit that was current immediately before this
// one (nil only for the genesis commit).
type Commit struct {
	DID     string
	Version int64
	Data    cid.Cid
	Rev     string
	Prev    *cid.Cid
	Sig     []byte
}

// asMap renders the commit in its canonical wire form. The unsigned
// form (signing input) simply omits the sig key.
func (c *Commit) asMap(withSig bool) map[string]any {
	m := map[string]any{
		"did":     c.DID,
		"rev":     c.Rev,
		"data":    c.Data,
		"prev":    nil,
		"version": c.Version,
	}
	if c.Prev != nil {
		m["prev"] = *c.Prev
	}
	if withSig {
		m["sig"] = c.Sig
	}
	return m
}

// BuildCommit constructs, signs, and encodes a commit. Returns the
// commit object, its CID, and the signed canonical bytes. Any signing
// failure aborts the commit; a commit is never produced unsigned.
func BuildCommit(signer *keys.Store, did string, data cid.Cid, rev string, prev *cid.Cid) (*Commit, cid.Cid, []byte, error) {
	c := &Commit{DID: did, Version: Version, Data: data, Rev: rev, Prev: prev}

	unsigned, err := codec.Encode(c.asMap(false))
	if err != nil {
		return nil, cid.Undef, nil, fmt.Errorf("repo: encode unsigned commit: %w", err)
	}
	sig, err := signer.Sign(unsigned)
	if err != nil {
		return nil, cid.Undef, nil, fmt.Errorf("repo: sign commit: %w", err)
	}
	c.Sig = sig

	commitCID, signed, err := cids.FromCanonical(c.asMap(true))
	if err != nil {
		return nil, cid.Undef, nil, fmt.Errorf("repo: encode commit: %w", err)
	}
	return c, commitCID, signed, nil
}

// ParseCommit decodes canonical commit bytes back into a Commit.
func ParseCommit(data []byte) (*Commit, error) {
	v, err := codec.DecodeStrict(data)
	if err != nil {
		return nil, fmt.Errorf("repo: parse commit: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("repo: parse commit: not a map")
	}

	c := &Commit{}
	if c.DID, ok = m["did"].(string); !ok {
		return nil, fmt.Errorf("repo: parse commit: bad did")
	}
	if c.Version, ok = m["version"].(int64); !ok || c.Version != Version {
		return nil, fmt.Errorf("repo: parse commit: unsupported version")
	}
	if c.Data, ok = m["data"].(cid.Cid); !ok {
		return nil, fmt.Errorf("repo: parse commit: bad data link")
	}
	if c.Rev, ok = m["rev"].(string); !ok {
		return nil, fmt.Errorf("repo: parse commit: bad rev")
	}
	switch prev := m["prev"].(type) {
	case nil:
	case cid.Cid:
		c.Prev = &prev
	default:
		return nil, fmt.Errorf("repo: parse commit: bad prev link")
	}
	if c.Sig, ok = m["sig"].([]byte); !ok || len(c.Sig) != keys.RawSignatureSize {
		return nil, fmt.Errorf("repo: parse commit: bad signature")
	}
	return c, nil
}

// VerifyCommit checks the signature of encoded commit bytes against a
// public key.
func VerifyCommit(data []byte, pub *ecdsa.PublicKey) (bool, error) {
	c, err := ParseCommit(data)
	if err != nil {
		return false, err
	}
	unsigned, err := codec.Encode(c.asMap(false))
	if err != nil {
		return false, fmt.Errorf("repo: verify commit: %w", err)
	}
	return keys.Verify(unsigned, c.Sig, pub), nil
}
