// Package cids computes and validates the content identifiers used
// throughout the repository: CIDv1 with a SHA-256 multihash, codec
// 0x71 (canonical-encoded structures) or 0x55 (raw blob bytes),
// rendered in lowercase base32.
package cids

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/openherald/herald-pds/internal/codec"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

const base32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

// FromBytes returns the CIDv1 of raw bytes under the given codec
// (cid.DagCBOR for structures, cid.Raw for blobs).
func FromBytes(raw []byte, codecType uint64) (cid.Cid, error) {
	builder := cid.NewPrefixV1(codecType, multihash.SHA2_256)
	c, err := builder.Sum(raw)
	if err != nil {
		return cid.Undef, fmt.Errorf("cids: sum: %w", err)
	}
	return c, nil
}

// FromCanonical canonically encodes a value and returns the CID of the
// encoding, along with the encoded bytes.
func FromCanonical(v any) (cid.Cid, []byte, error) {
	enc, err := codec.Encode(v)
	if err != nil {
		return cid.Undef, nil, fmt.Errorf("cids: encode: %w", err)
	}
	c, err := FromBytes(enc, cid.DagCBOR)
	if err != nil {
		return cid.Undef, nil, err
	}
	return c, enc, nil
}

// Components holds the parsed pieces of a CID string.
type Components struct {
	Version  uint64
	Codec    uint64
	HashAlgo uint64
	Hash     []byte
}

// Parse decodes a CID string into its components. Only the base32
// lowercase rendering ("b" prefix) is accepted.
func Parse(s string) (*Components, error) {
	if !strings.HasPrefix(s, "b") {
		return nil, fmt.Errorf("cids: %q is not base32 multibase", s)
	}
	for _, r := range s[1:] {
		if !strings.ContainsRune(base32Alphabet, r) {
			return nil, fmt.Errorf("cids: invalid base32 character %q", r)
		}
	}

	c, err := cid.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("cids: parse %q: %w", s, err)
	}
	if c.Version() != 1 {
		return nil, fmt.Errorf("cids: unsupported version %d", c.Version())
	}

	dec, err := multihash.Decode(c.Hash())
	if err != nil {
		return nil, fmt.Errorf("cids: decode multihash: %w", err)
	}

	return &Components{
		Version:  c.Version(),
		Codec:    c.Type(),
		HashAlgo: uint64(dec.Code),
		Hash:     dec.Digest,
	}, nil
}

// Verify reports whether raw hashes to c under c's own codec.
func Verify(c cid.Cid, raw []byte) bool {
	again, err := FromBytes(raw, c.Type())
	if err != nil {
		return false
	}
	return bytes.Equal(again.Bytes(), c.Bytes())
}
