package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"saas-auth-core/internal/audit/domain"
)

// mockAuditRepo implements the audit repository interface for tests.
type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*domain.Event
	createErr error
	ctxErr    error
}

func (m *mockAuditRepo) Create(ctx context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Event, error) {
	return nil, nil
}

type captureMirror struct {
	events []domain.Event
}

func (c *captureMirror) Emit(_ context.Context, e domain.Event) { c.events = append(c.events, e) }

func TestLogger_Record_StampsEvent(t *testing.T) {
	repo := &mockAuditRepo{}
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	logger := NewLogger(repo, WithClock(func() time.Time { return now }))
	ctx := WithClient(context.Background(), ClientInfo{IP: "192.168.1.1", UserAgent: "curl/8", RequestID: "req-1"})

	logger.Record(ctx, domain.Event{UserID: "user-1", Type: domain.EventLoginSuccess, Data: map[string]any{"session_id": "s1"}})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.ID == "" {
		t.Error("id should be assigned")
	}
	if !e.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", e.CreatedAt, now)
	}
	if e.IPAddress != "192.168.1.1" || e.UserAgent != "curl/8" {
		t.Errorf("client = %q %q", e.IPAddress, e.UserAgent)
	}
	if e.TraceID != "req-1" {
		t.Errorf("trace_id = %q, want request id fallback", e.TraceID)
	}
}

func TestLogger_Record_ExplicitFieldsWin(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo)
	ctx := WithClient(context.Background(), ClientInfo{IP: "10.0.0.1", UserAgent: "ctx-agent"})

	logger.Record(ctx, domain.Event{Type: domain.EventLoginFailed, IPAddress: "203.0.113.9", UserAgent: "explicit", TraceID: "t-1"})

	e := repo.entries[0]
	if e.IPAddress != "203.0.113.9" || e.UserAgent != "explicit" || e.TraceID != "t-1" {
		t.Errorf("explicit fields overwritten: %+v", e)
	}
	if e.UserID != "" {
		t.Errorf("user_id = %q, want empty for anonymous event", e.UserID)
	}
}

func TestLogger_Record_UsesSpanTraceID(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo)
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
	ctx := trace.ContextWithSpanContext(WithClient(context.Background(), ClientInfo{RequestID: "req-1"}), sc)

	logger.Record(ctx, domain.Event{Type: domain.EventLogout})

	if got := repo.entries[0].TraceID; got != tid.String() {
		t.Errorf("trace_id = %q, want %q", got, tid.String())
	}
}

func TestLogger_Record_FailureIsSwallowed(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("db unavailable")}
	var logs bytes.Buffer
	var hooked error
	logger := NewLogger(repo,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithFailureHook(func(_ context.Context, err error) { hooked = err }),
	)

	logger.Record(context.Background(), domain.Event{Type: domain.EventRegister, UserID: "u1"})

	if hooked == nil {
		t.Error("failure hook not called")
	}
	if !strings.Contains(logs.String(), "audit write failed") || !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("expected warning log, got %q", logs.String())
	}
}

func TestLogger_Record_DetachedFromCancellation(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger.Record(ctx, domain.Event{Type: domain.EventLogout, UserID: "u1"})

	if len(repo.entries) != 1 || repo.ctxErr != nil {
		t.Fatalf("cancelled request should still be audited: entries=%d ctxErr=%v", len(repo.entries), repo.ctxErr)
	}
}

func TestLogger_Record_Mirror(t *testing.T) {
	mirror := &captureMirror{}
	logger := NewLogger(nil, WithMirror(mirror))
	logger.Record(context.Background(), domain.Event{Type: domain.EventSigningKeyRotated})
	if len(mirror.events) != 1 || mirror.events[0].ID == "" {
		t.Fatalf("mirror events = %+v", mirror.events)
	}
}

func TestClientFrom_Empty(t *testing.T) {
	if c := ClientFrom(context.Background()); c != (ClientInfo{}) {
		t.Errorf("ClientFrom(empty) = %+v", c)
	}
}
