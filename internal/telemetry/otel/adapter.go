package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"saas-auth-core/internal/audit"
	"saas-auth-core/internal/audit/domain"
)

const auditLoggerName = "saas-auth-core/audit"

// NewAuditMirror returns an audit.Mirror that re-emits every audit event as an OTel log
// record through provider. A nil provider yields a mirror that drops events.
func NewAuditMirror(provider *sdklog.LoggerProvider) audit.Mirror {
	if provider == nil {
		return noopMirror{}
	}
	return NewAuditMirrorWithLogger(provider.Logger(auditLoggerName))
}

// RecordEmitter is the part of otellog.Logger the mirror uses.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewAuditMirrorWithLogger is NewAuditMirror over an arbitrary record emitter.
func NewAuditMirrorWithLogger(logger RecordEmitter) audit.Mirror {
	return &logMirror{logger: logger}
}

type noopMirror struct{}

func (noopMirror) Emit(context.Context, domain.Event) {}

type logMirror struct {
	logger RecordEmitter
}

func (m *logMirror) Emit(ctx context.Context, e domain.Event) {
	var rec otellog.Record
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	sev, text := severityOf(e.Type)
	rec.SetSeverity(sev)
	rec.SetSeverityText(text)
	rec.SetBody(otellog.StringValue(string(e.Type)))

	rec.AddAttributes(
		otellog.String("event_id", e.ID),
		otellog.String("event_type", string(e.Type)),
	)
	if e.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", e.UserID))
	}
	if e.IPAddress != "" {
		rec.AddAttributes(otellog.String("ip_address", e.IPAddress))
	}
	if e.UserAgent != "" {
		rec.AddAttributes(otellog.String("user_agent", e.UserAgent))
	}
	if e.TraceID != "" {
		rec.AddAttributes(otellog.String("trace_id", e.TraceID))
	}
	if len(e.Data) > 0 {
		if b, err := json.Marshal(e.Data); err == nil {
			rec.AddAttributes(otellog.String("event_data", string(b)))
		}
	}
	m.logger.Emit(ctx, rec)
}

// severityOf flags events an operator should look at.
func severityOf(t domain.EventType) (otellog.Severity, string) {
	switch t {
	case domain.EventRefreshTokenReuse, domain.EventAccountLocked:
		return otellog.SeverityWarn, "WARN"
	case domain.EventLoginFailed:
		return otellog.SeverityInfo2, "INFO"
	default:
		return otellog.SeverityInfo, "INFO"
	}
}
