package middleware

import (
	"context"
	"net/http"
	"strings"

	"saas-auth-core/internal/apperr"
	"saas-auth-core/internal/security"
	"saas-auth-core/internal/server/respond"
)

const bearerPrefix = "bearer "

// Verifier validates access tokens. Errors must already be collapsed to a
// client-safe *apperr.Error.
type Verifier interface {
	VerifyAccess(ctx context.Context, token string) (*security.AccessClaims, error)
}

// Auth rejects requests without a valid Bearer access token and stores the
// claims in the request context.
func Auth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearer(r)
			if token == "" {
				respond.Fail(w, r, apperr.Authentication("INVALID_TOKEN", "missing or invalid authorization", nil))
				return
			}
			claims, err := v.VerifyAccess(r.Context(), token)
			if err != nil {
				respond.Fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// ExtractBearer returns the Bearer token from the Authorization header, or "" if
// missing or malformed.
func ExtractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
