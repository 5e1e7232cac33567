package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "saas-auth-core/security"

// Metrics counts security outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins        metric.Int64Counter
	locked        metric.Int64Counter
	reuse         metric.Int64Counter
	rejected      metric.Int64Counter
	rotations     metric.Int64Counter
	auditFailures metric.Int64Counter
}

// NewMetrics registers the security counters on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var (
		out Metrics
		err error
	)
	if out.logins, err = m.Int64Counter("auth.login.attempts",
		metric.WithDescription("Login attempts by outcome")); err != nil {
		return nil, err
	}
	if out.locked, err = m.Int64Counter("auth.account.locked",
		metric.WithDescription("Accounts moved to the locked state")); err != nil {
		return nil, err
	}
	if out.reuse, err = m.Int64Counter("auth.refresh.reuse",
		metric.WithDescription("Presentations of an already rotated refresh token")); err != nil {
		return nil, err
	}
	if out.rejected, err = m.Int64Counter("auth.token.rejected",
		metric.WithDescription("Access tokens that failed verification, by reason")); err != nil {
		return nil, err
	}
	if out.rotations, err = m.Int64Counter("auth.signing_key.rotations",
		metric.WithDescription("Signing key rotations")); err != nil {
		return nil, err
	}
	if out.auditFailures, err = m.Int64Counter("auth.audit.write_failures",
		metric.WithDescription("Audit events that could not be persisted")); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginAttempt counts one login with outcome such as "success", "invalid_credentials" or "locked".
func (m *Metrics) LoginAttempt(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) AccountLocked(ctx context.Context) {
	if m == nil {
		return
	}
	m.locked.Add(ctx, 1)
}

func (m *Metrics) RefreshReuse(ctx context.Context) {
	if m == nil {
		return
	}
	m.reuse.Add(ctx, 1)
}

// TokenRejected counts a failed verification; reason is expired, signature, malformed or unknown_key.
func (m *Metrics) TokenRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) KeyRotated(ctx context.Context) {
	if m == nil {
		return
	}
	m.rotations.Add(ctx, 1)
}

// AuditWriteFailed has the shape of an audit failure hook.
func (m *Metrics) AuditWriteFailed(ctx context.Context, _ error) {
	if m == nil {
		return
	}
	m.auditFailures.Add(ctx, 1)
}
