// Package auth verifies bearer credentials on write-side XRPC calls.
// Two credential forms are accepted: the node's static access token,
// compared in constant time, and optionally a signed JWT access token.
// Management calls require a separate admin secret checked against a
// bcrypt hash.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a bearer credential fails
// verification.
var ErrInvalidToken = errors.New("auth: invalid token")

// Authenticator checks bearer credentials for the XRPC surface.
type Authenticator struct {
	accessToken []byte
	jwt         *JWTManager
	adminHash   []byte
}

// New creates an Authenticator. accessToken is the static bearer
// token; jwt may be nil to accept only the static token; adminSecret
// protects the management endpoints and is stored bcrypt-hashed.
func New(accessToken string, jwt *JWTManager, adminSecret string) (*Authenticator, error) {
	a := &Authenticator{
		accessToken: []byte(accessToken),
		jwt:         jwt,
	}
	if adminSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("auth: hash admin secret: %w", err)
		}
		a.adminHash = hash
	}
	return a, nil
}

// CheckAccess verifies a bearer token for write access. The static
// token is tried first; JWTs are accepted when a manager is
// configured. Returns the authenticated DID, which is empty for the
// static token.
func (a *Authenticator) CheckAccess(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	if len(a.accessToken) > 0 &&
		subtle.ConstantTimeCompare(a.accessToken, []byte(token)) == 1 {
		return "", nil
	}
	if a.jwt != nil {
		did, err := a.jwt.ValidateAccessToken(token)
		if err == nil {
			return did, nil
		}
	}
	return "", ErrInvalidToken
}

// CheckAdmin verifies the management-API secret.
func (a *Authenticator) CheckAdmin(secret string) error {
	if len(a.adminHash) == 0 {
		return fmt.Errorf("%w: no admin secret configured", ErrInvalidToken)
	}
	if bcrypt.CompareHashAndPassword(a.adminHash, []byte(secret)) != nil {
		return ErrInvalidToken
	}
	return nil
}

// GenerateSecret returns a random 32-byte hex string suitable as an
// access token or JWT signing secret.
func GenerateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
