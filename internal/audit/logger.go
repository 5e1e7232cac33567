package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"saas-auth-core/internal/audit/domain"
	auditrepo "saas-auth-core/internal/audit/repository"
)

// writeTimeout bounds a single audit insert. The write is detached from the
// caller's cancellation so a client disconnect does not drop the record.
const writeTimeout = 5 * time.Second

// Sink records security events. Record is best-effort: it never returns an
// error and never fails the action it describes.
type Sink interface {
	Record(ctx context.Context, e domain.Event)
}

// Mirror receives a copy of every event after it has been stamped, e.g. to
// forward it to an OpenTelemetry log pipeline.
type Mirror interface {
	Emit(ctx context.Context, e domain.Event)
}

// Logger implements Sink on top of the audit repository.
type Logger struct {
	repo      auditrepo.Repository
	mirror    Mirror
	log       *slog.Logger
	now       func() time.Time
	onFailure func(context.Context, error)
}

type Option func(*Logger)

func WithMirror(m Mirror) Option { return func(l *Logger) { l.mirror = m } }

func WithLogger(lg *slog.Logger) Option { return func(l *Logger) { l.log = lg } }

func WithClock(now func() time.Time) Option { return func(l *Logger) { l.now = now } }

// WithFailureHook is called after a failed write, e.g. to count failures.
func WithFailureHook(fn func(context.Context, error)) Option {
	return func(l *Logger) { l.onFailure = fn }
}

// NewLogger returns a Sink that persists to repo. repo may be nil, in which
// case events only reach the mirror.
func NewLogger(repo auditrepo.Repository, opts ...Option) *Logger {
	l := &Logger{repo: repo, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With("component", "audit")
	return l
}

// Record stamps e with an ID, time, trace id and client details taken from
// ctx where e leaves them empty, then appends it.
func (l *Logger) Record(ctx context.Context, e domain.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	client := ClientFrom(ctx)
	if e.IPAddress == "" {
		e.IPAddress = client.IP
	}
	if e.UserAgent == "" {
		e.UserAgent = client.UserAgent
	}
	if e.TraceID == "" {
		e.TraceID = traceID(ctx, client.RequestID)
	}

	if l.mirror != nil {
		l.mirror.Emit(ctx, e)
	}
	if l.repo == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := l.repo.Create(wctx, &e); err != nil {
		l.log.Warn("audit write failed", "event_type", string(e.Type), "user_id", e.UserID, "error", err)
		if l.onFailure != nil {
			l.onFailure(ctx, err)
		}
	}
}

func traceID(ctx context.Context, fallback string) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return fallback
}

// Nop discards events. Used where no audit trail is wanted, such as CLI tools.
type Nop struct{}

func (Nop) Record(context.Context, domain.Event) {}
