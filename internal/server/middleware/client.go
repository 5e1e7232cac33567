package middleware

import (
	"net"
	"net/http"
	"strings"

	"saas-auth-core/internal/audit"
)

// ClientInfo attaches the caller's address, user agent and request id to the
// context so audit events pick them up. It must run after RequestID.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithClient(r.Context(), audit.ClientInfo{
			IP:        ClientIP(r),
			UserAgent: r.UserAgent(),
			RequestID: RequestIDFrom(r.Context()),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the client IP from X-Forwarded-For, X-Real-IP or the peer
// address, in that order.
func ClientIP(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
		return s
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
