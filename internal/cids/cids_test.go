package cids

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func TestFromCanonicalDeterminism(t *testing.T) {
	t.Parallel()

	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      "hello",
		"createdAt": "2024-01-01T00:00:00.000Z",
	}
	// Semantically equal map built in a different order.
	same := map[string]any{
		"createdAt": "2024-01-01T00:00:00.000Z",
		"text":      "hello",
		"$type":     "app.bsky.feed.post",
	}

	c1, enc1, err := FromCanonical(record)
	require.NoError(t, err)
	c2, enc2, err := FromCanonical(same)
	require.NoError(t, err)

	require.Equal(t, c1, c2)
	require.Equal(t, enc1, enc2)
	require.Equal(t, uint64(cid.DagCBOR), c1.Type())
	require.True(t, Verify(c1, enc1))
}

func TestParse(t *testing.T) {
	t.Parallel()

	c, err := FromBytes([]byte("blob data"), cid.Raw)
	require.NoError(t, err)

	s := c.String()
	require.Equal(t, byte('b'), s[0], "base32 multibase prefix")

	parsed, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, uint64(1), parsed.Version)
	require.Equal(t, uint64(cid.Raw), parsed.Codec)
	require.Equal(t, uint64(multihash.SHA2_256), parsed.HashAlgo)
	require.Len(t, parsed.Hash, 32)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"zb2rhe5P4gXftAwvA4eXQ5HJwsER2owDyS9sKaQRRVQPn93bA", // base58btc, not base32
		"bA_not_base32!",
		"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", // CIDv0
	}
	for _, s := range cases {
		_, err := Parse(s)
		require.Error(t, err, "input %q", s)
	}
}

func TestVerifyMismatch(t *testing.T) {
	t.Parallel()

	c, err := FromBytes([]byte("original"), cid.Raw)
	require.NoError(t, err)
	require.True(t, Verify(c, []byte("original")))
	require.False(t, Verify(c, []byte("tampered")))
}
