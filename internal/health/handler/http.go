// Package handler serves the liveness and readiness checks.
package handler

import (
	"context"
	"net/http"
	"time"

	"saas-auth-core/internal/server/respond"
)

// Pinger checks connectivity to the relational store (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the policy engine can evaluate.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// KeyStatus reports whether the key manager fell back to an in-memory key.
type KeyStatus interface {
	Degraded() bool
}

// Handler answers GET /healthz. Nil dependencies are skipped.
type Handler struct {
	db      Pinger
	policy  PolicyChecker
	keys    KeyStatus
	timeout time.Duration
}

// New returns a Handler.
func New(db Pinger, policy PolicyChecker, keys KeyStatus) *Handler {
	return &Handler{db: db, policy: policy, keys: keys, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ServeHTTP returns 200 when every check passes and 503 otherwise. A degraded
// key manager is reported but keeps the instance serving.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "unavailable"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}
	if h.db != nil {
		check("database", h.db.PingContext(ctx))
	}
	if h.policy != nil {
		check("policy", h.policy.HealthCheck(ctx))
	}
	if h.keys != nil {
		if h.keys.Degraded() {
			resp.Checks["signing_keys"] = "degraded"
		} else {
			resp.Checks["signing_keys"] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	respond.JSON(w, status, resp)
}
