package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// RefreshTokenBytes is the entropy of an opaque refresh token.
const RefreshTokenBytes = 32

// NewRefreshToken returns a random URL-safe refresh token. The raw value is
// handed to the client once; only HashRefreshToken(token) is stored.
func NewRefreshToken() (string, error) {
	buf := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken returns the hex SHA-256 of token. Used as the lookup key
// for sessions so the raw token never reaches storage.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenHashEqual compares the hash of providedToken with storedHash in
// constant time.
func RefreshTokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashRefreshToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
