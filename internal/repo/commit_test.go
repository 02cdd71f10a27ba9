package repo

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/openherald/herald-pds/internal/cids"
	"github.com/openherald/herald-pds/internal/keys"
)

func TestBuildAndVerifyCommit(t *testing.T) {
	t.Parallel()

	signer, err := keys.NewEphemeral()
	require.NoError(t, err)

	root, err := cids.FromBytes([]byte("mst-root"), cid.Raw)
	require.NoError(t, err)

	c, commitCID, commitBytes, err := BuildCommit(signer, "did:web:pds.example.com", root, "3jzfcijpj2z2a", nil)
	require.NoError(t, err)
	require.Len(t, c.Sig, keys.RawSignatureSize)
	require.True(t, cids.Verify(commitCID, commitBytes))
	require.Equal(t, uint64(cid.DagCBOR), commitCID.Type())

	ok, err := VerifyCommit(commitBytes, signer.Public())
	require.NoError(t, err)
	require.True(t, ok)

	// A different key must not verify.
	other, err := keys.NewEphemeral()
	require.NoError(t, err)
	ok, err = VerifyCommit(commitBytes, other.Public())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseCommitRoundTrip(t *testing.T) {
	t.Parallel()

	signer, err := keys.NewEphemeral()
	require.NoError(t, err)

	root, err := cids.FromBytes([]byte("root"), cid.Raw)
	require.NoError(t, err)
	prev, err := cids.FromBytes([]byte("prev-commit"), cid.Raw)
	require.NoError(t, err)

	built, _, commitBytes, err := BuildCommit(signer, "did:web:pds.example.com", root, "3jzfcijpj2z2b", &prev)
	require.NoError(t, err)

	parsed, err := ParseCommit(commitBytes)
	require.NoError(t, err)
	require.Equal(t, built.DID, parsed.DID)
	require.Equal(t, int64(Version), parsed.Version)
	require.True(t, built.Data.Equals(parsed.Data))
	require.Equal(t, built.Rev, parsed.Rev)
	require.NotNil(t, parsed.Prev)
	require.True(t, prev.Equals(*parsed.Prev))
	require.Equal(t, built.Sig, parsed.Sig)
}

func TestVerifyCommitRejectsTampering(t *testing.T) {
	t.Parallel()

	signer, err := keys.NewEphemeral()
	require.NoError(t, err)
	root, err := cids.FromBytes([]byte("root"), cid.Raw)
	require.NoError(t, err)

	_, _, commitBytes, err := BuildCommit(signer, "did:web:pds.example.com", root, "3jzfcijpj2z2c", nil)
	require.NoError(t, err)

	// Flip one byte of the rev string inside the encoding.
	tampered := append([]byte(nil), commitBytes...)
	for i := range tampered {
		if tampered[i] == 'z' {
			tampered[i] = 'y'
			break
		}
	}
	ok, err := VerifyCommit(tampered, signer.Public())
	if err == nil {
		require.False(t, ok)
	}
}

func TestValidateNSID(t *testing.T) {
	t.Parallel()

	for _, good := range []string{
		"app.bsky.feed.post", "app.bsky.graph.follow", "net.herald.pds.status",
	} {
		require.NoError(t, ValidateNSID(good), good)
	}
	for _, bad := range []string{
		"", "post", "app.bsky", "app..post", "app.bsky.1post",
		"app.bsky.feed.po st", "-app.bsky.feed", "app.bsky.feed.po/st",
	} {
		require.ErrorIs(t, ValidateNSID(bad), ErrInvalidNSID, bad)
	}
}

func TestValidateRKey(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateRKey("3jzfcijpj2z2a"))
	require.NoError(t, ValidateRKey("self"))
	for _, bad := range []string{"", ".", "..", "has space", "sla/sh"} {
		require.ErrorIs(t, ValidateRKey(bad), ErrInvalidRecordKey, bad)
	}
}
