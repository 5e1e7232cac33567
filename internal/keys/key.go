// Package keys owns the RSA signing keys used for access tokens: generation,
// persistence, rotation with a verification grace window, and publication as
// a JSON Web Key Set.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Status of a signing key. Exactly one key is active at a time.
type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

// MinBits is the smallest RSA modulus accepted for signing keys.
const MinBits = 2048

// SigningKey is an RSA key pair plus its lifecycle metadata.
type SigningKey struct {
	KID       string
	Private   *rsa.PrivateKey
	Status    Status
	CreatedAt time.Time
	RetiredAt *time.Time
}

// Public returns the verification half of the key.
func (k SigningKey) Public() *rsa.PublicKey { return &k.Private.PublicKey }

// Verifiable reports whether tokens signed by k may still be accepted at now.
// A retired key stays verifiable for grace after retirement.
func (k SigningKey) Verifiable(now time.Time, grace time.Duration) bool {
	if k.Status == StatusActive {
		return true
	}
	if k.RetiredAt == nil {
		return false
	}
	return !now.After(k.RetiredAt.Add(grace))
}

// Generate creates a new active key with a thumbprint kid.
func Generate(bits int, now time.Time) (SigningKey, error) {
	if bits < MinBits {
		bits = MinBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return SigningKey{}, fmt.Errorf("generate rsa key: %w", err)
	}
	return SigningKey{
		KID:       Thumbprint(&priv.PublicKey),
		Private:   priv,
		Status:    StatusActive,
		CreatedAt: now.UTC(),
	}, nil
}

// Thumbprint is the RFC 7638 SHA-256 JWK thumbprint of pub, base64url
// encoded. It is stable for a given key and used as the kid.
func Thumbprint(pub *rsa.PublicKey) string {
	// Members in lexicographic order, no whitespace.
	canonical, _ := json.Marshal(struct {
		E   string `json:"e"`
		Kty string `json:"kty"`
		N   string `json:"n"`
	}{E: encodeExponent(pub.E), Kty: "RSA", N: encodeModulus(pub.N)})
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func encodeModulus(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}

func encodeExponent(e int) string {
	return base64.RawURLEncoding.EncodeToString(big.NewInt(int64(e)).Bytes())
}
