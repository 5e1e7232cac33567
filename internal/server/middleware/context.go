package middleware

import (
	"context"

	"saas-auth-core/internal/security"
)

type contextKey struct{ name string }

var claimsKey = contextKey{"access_claims"}

// WithClaims returns a context carrying the verified access token claims.
func WithClaims(ctx context.Context, c *security.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFrom returns the claims set by Auth, or nil, false on a public route.
func ClaimsFrom(ctx context.Context) (*security.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*security.AccessClaims)
	return c, ok && c != nil
}
