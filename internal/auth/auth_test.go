package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticToken(t *testing.T) {
	a, err := New("s3cret-token", nil, "")
	require.NoError(t, err)

	did, err := a.CheckAccess("s3cret-token")
	require.NoError(t, err)
	require.Empty(t, did)

	_, err = a.CheckAccess("wrong")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = a.CheckAccess("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTAccess(t *testing.T) {
	mgr := NewJWTManager(GenerateSecret(), "https://pds.example.com")
	a, err := New("static", mgr, "")
	require.NoError(t, err)

	pair, err := mgr.CreateTokenPair("did:web:pds.example.com")
	require.NoError(t, err)

	did, err := a.CheckAccess(pair.AccessJwt)
	require.NoError(t, err)
	require.Equal(t, "did:web:pds.example.com", did)

	// Refresh tokens do not grant access.
	_, err = a.CheckAccess(pair.RefreshJwt)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Tokens from a different secret are rejected.
	other := NewJWTManager(GenerateSecret(), "https://pds.example.com")
	foreign, err := other.CreateTokenPair("did:web:pds.example.com")
	require.NoError(t, err)
	_, err = a.CheckAccess(foreign.AccessJwt)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRefreshToken(t *testing.T) {
	mgr := NewJWTManager(GenerateSecret(), "https://pds.example.com")
	pair, err := mgr.CreateTokenPair("did:web:pds.example.com")
	require.NoError(t, err)

	did, err := mgr.ValidateRefreshToken(pair.RefreshJwt)
	require.NoError(t, err)
	require.Equal(t, "did:web:pds.example.com", did)

	_, err = mgr.ValidateRefreshToken(pair.AccessJwt)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminSecret(t *testing.T) {
	a, err := New("token", nil, "admin-pass")
	require.NoError(t, err)

	require.NoError(t, a.CheckAdmin("admin-pass"))
	require.ErrorIs(t, a.CheckAdmin("nope"), ErrInvalidToken)

	bare, err := New("token", nil, "")
	require.NoError(t, err)
	require.ErrorIs(t, bare.CheckAdmin("anything"), ErrInvalidToken)
}
