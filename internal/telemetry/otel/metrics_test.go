package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader metric.Reader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Sum[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func total(sum metricdata.Sum[int64]) int64 {
	var n int64
	for _, dp := range sum.DataPoints {
		n += dp.Value
	}
	return n
}

func TestMetrics_Counters(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.LoginAttempt(ctx, "success")
	m.LoginAttempt(ctx, "invalid_credentials")
	m.LoginAttempt(ctx, "invalid_credentials")
	m.AccountLocked(ctx)
	m.RefreshReuse(ctx)
	m.TokenRejected(ctx, "expired")
	m.KeyRotated(ctx)
	m.AuditWriteFailed(ctx, errors.New("db down"))

	got := collect(t, reader)
	wantTotals := map[string]int64{
		"auth.login.attempts":        3,
		"auth.account.locked":        1,
		"auth.refresh.reuse":         1,
		"auth.token.rejected":        1,
		"auth.signing_key.rotations": 1,
		"auth.audit.write_failures":  1,
	}
	for name, want := range wantTotals {
		sum, ok := got[name]
		if !ok {
			t.Errorf("metric %q not collected", name)
			continue
		}
		if n := total(sum); n != want {
			t.Errorf("%s = %d, want %d", name, n, want)
		}
	}

	for _, dp := range got["auth.login.attempts"].DataPoints {
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		if outcome.AsString() == "invalid_credentials" && dp.Value != 2 {
			t.Errorf("invalid_credentials = %d, want 2", dp.Value)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.LoginAttempt(ctx, "success")
	m.AccountLocked(ctx)
	m.RefreshReuse(ctx)
	m.TokenRejected(ctx, "signature")
	m.KeyRotated(ctx)
	m.AuditWriteFailed(ctx, nil)
}
