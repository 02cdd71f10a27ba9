package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token scopes matching the AT Protocol session lexicon.
const (
	ScopeAccess  = "com.atproto.access"
	ScopeRefresh = "com.atproto.refresh"
)

// Token lifetimes.
const (
	AccessTTL  = 2 * time.Hour
	RefreshTTL = 90 * 24 * time.Hour
)

// Claims extends the registered JWT claims with an AT Protocol scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// TokenPair is an access/refresh JWT pair.
type TokenPair struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// JWTManager signs and validates session tokens using HS256.
type JWTManager struct {
	secret []byte
	issuer string
}

// NewJWTManager creates a manager with the given HMAC secret and
// issuer URL.
func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{secret: []byte(secret), issuer: issuer}
}

// CreateTokenPair generates an access/refresh pair for the given DID.
func (m *JWTManager) CreateTokenPair(did string) (*TokenPair, error) {
	now := time.Now()
	access, err := m.sign(did, ScopeAccess, now, AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(did, ScopeRefresh, now, RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessJwt: access, RefreshJwt: refresh}, nil
}

func (m *JWTManager) sign(did, scope string, now time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   did,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign %s token: %w", scope, err)
	}
	return signed, nil
}

// ValidateAccessToken parses and validates an access JWT, returning
// the subject DID.
func (m *JWTManager) ValidateAccessToken(tokenStr string) (string, error) {
	return m.validate(tokenStr, ScopeAccess)
}

// ValidateRefreshToken parses and validates a refresh JWT, returning
// the subject DID.
func (m *JWTManager) ValidateRefreshToken(tokenStr string) (string, error) {
	return m.validate(tokenStr, ScopeRefresh)
}

func (m *JWTManager) validate(tokenStr, wantScope string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Scope != wantScope {
		return "", fmt.Errorf("%w: wrong scope %q", ErrInvalidToken, claims.Scope)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
