package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/multiformats/go-multibase"
)

// RawSignatureSize is the length of an r||s signature for P-256.
const RawSignatureSize = 64

// p256PubPrefix is the multicodec varint for p256-pub (0x1200).
var p256PubPrefix = []byte{0x80, 0x24}

// Sign hashes msg with SHA-256 and signs it, returning the raw r||s
// form with a low-S normalized s component.
func (s *Store) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("keys: sign: %w", err)
	}

	// Normalize to low-S so signatures are unique per (key, msg).
	n := s.priv.Curve.Params().N
	half := new(big.Int).Rsh(n, 1)
	if sVal.Cmp(half) > 0 {
		sVal = new(big.Int).Sub(n, sVal)
	}

	sig := make([]byte, RawSignatureSize)
	r.FillBytes(sig[:32])
	sVal.FillBytes(sig[32:])
	return sig, nil
}

// Verify checks a raw r||s signature over msg against pub.
func Verify(msg, sig []byte, pub *ecdsa.PublicKey) bool {
	if len(sig) != RawSignatureSize {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	sVal := new(big.Int).SetBytes(sig[32:])
	digest := sha256.Sum256(msg)
	return ecdsa.Verify(pub, digest[:], r, sVal)
}

// derSignature mirrors the ASN.1 SEQUENCE produced by DER-encoding
// ECDSA signers.
type derSignature struct {
	R, S *big.Int
}

// RawFromDER converts a DER-encoded ECDSA signature to the 64-byte
// raw r||s form.
func RawFromDER(der []byte) ([]byte, error) {
	var parsed derSignature
	rest, err := asn1.Unmarshal(der, &parsed)
	if err != nil {
		return nil, fmt.Errorf("keys: parse der signature: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("keys: trailing bytes after der signature")
	}
	if parsed.R.Sign() <= 0 || parsed.S.Sign() <= 0 {
		return nil, fmt.Errorf("keys: non-positive signature component")
	}
	if parsed.R.BitLen() > 256 || parsed.S.BitLen() > 256 {
		return nil, fmt.Errorf("keys: signature component exceeds 256 bits")
	}

	sig := make([]byte, RawSignatureSize)
	parsed.R.FillBytes(sig[:32])
	parsed.S.FillBytes(sig[32:])
	return sig, nil
}

// PublicMultibase renders the public key as "z" + base58btc of the
// p256-pub multicodec prefix followed by the compressed point.
func (s *Store) PublicMultibase() string {
	compressed := elliptic.MarshalCompressed(s.priv.Curve, s.priv.PublicKey.X, s.priv.PublicKey.Y)

	buf := make([]byte, 0, len(p256PubPrefix)+len(compressed))
	buf = append(buf, p256PubPrefix...)
	buf = append(buf, compressed...)

	out, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		// Base58BTC is a registered encoding; this cannot fail.
		panic(fmt.Sprintf("keys: multibase encode: %v", err))
	}
	return out
}
