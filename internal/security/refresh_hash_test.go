package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRefreshToken(t *testing.T) {
	a := HashRefreshToken("session-token-a")
	assert.Equal(t, a, HashRefreshToken("session-token-a"), "hash must be deterministic")
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, HashRefreshToken("session-token-b"))
	assert.NotContains(t, a, "session-token-a")
	assert.Len(t, HashRefreshToken(""), 64)
}

func TestRefreshTokenHashEqual(t *testing.T) {
	const token = "rotate-me"
	stored := HashRefreshToken(token)

	tests := []struct {
		name     string
		provided string
		stored   string
		want     bool
	}{
		{"same token", token, stored, true},
		{"other token", "rotate-you", stored, false},
		{"stored raw token", token, token, false},
		{"longer stored hash", token, stored + "0", false},
		{"one char flipped", token, flipFirst(stored), false},
		{"empty both", "", "", false},
		{"empty provided", "", stored, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RefreshTokenHashEqual(tt.provided, tt.stored))
		})
	}
}

func flipFirst(h string) string {
	if h[0] == '0' {
		return "1" + h[1:]
	}
	return "0" + h[1:]
}

func TestNewRefreshToken(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for range 64 {
		tok, err := NewRefreshToken()
		require.NoError(t, err)
		// 32 bytes, base64url without padding.
		require.Len(t, tok, 43)
		require.False(t, strings.ContainsAny(tok, "+/="), tok)
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token %q", tok)
		seen[tok] = struct{}{}
	}
}
