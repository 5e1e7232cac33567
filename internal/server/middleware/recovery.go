package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"saas-auth-core/internal/server/respond"
)

// Recovery turns a handler panic into a 500 response.
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					if recovered == http.ErrAbortHandler {
						panic(recovered)
					}
					log.ErrorContext(r.Context(), "panic recovered",
						"error", fmt.Sprintf("%v", recovered),
						"path", r.URL.Path,
						"stack", string(debug.Stack()))
					respond.Fail(w, r, fmt.Errorf("panic: %v", recovered))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
