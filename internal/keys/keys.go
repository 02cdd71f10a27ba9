// Package keys persists the node's P-256 signing keypair and signs
// commits with raw r||s signatures.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "signing.key"
	publicKeyFile  = "signing.pub"
)

// Store holds the node keypair, created on first boot and stable
// thereafter.
type Store struct {
	priv *ecdsa.PrivateKey
}

// Open loads the keypair from dir, generating and persisting a fresh
// one when none exists yet.
func Open(dir string) (*Store, error) {
	privPath := filepath.Join(dir, privateKeyFile)

	data, err := os.ReadFile(privPath)
	switch {
	case err == nil:
		priv, err := parsePrivatePEM(data)
		if err != nil {
			return nil, fmt.Errorf("keys: parse %s: %w", privPath, err)
		}
		return &Store{priv: priv}, nil
	case os.IsNotExist(err):
		return generate(dir)
	default:
		return nil, fmt.Errorf("keys: read %s: %w", privPath, err)
	}
}

// NewEphemeral generates a keypair that is not persisted anywhere.
// Used by tests.
func NewEphemeral() (*Store, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return &Store{priv: priv}, nil
}

func generate(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keys: create dir %s: %w", dir, err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}

	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("keys: write private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("keys: write public key: %w", err)
	}

	return &Store{priv: priv}, nil
}

func parsePrivatePEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("no EC PRIVATE KEY block")
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("unexpected curve %s", priv.Curve.Params().Name)
	}
	return priv, nil
}

// Public returns the public half of the keypair.
func (s *Store) Public() *ecdsa.PublicKey {
	return &s.priv.PublicKey
}
