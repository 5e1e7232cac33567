package domain

import (
	"strings"
	"time"
)

// EventType names a security event. Stored verbatim in audit_events.event_type.
type EventType string

const (
	EventRegister               EventType = "REGISTER"
	EventLoginSuccess           EventType = "LOGIN_SUCCESS"
	EventLoginFailed            EventType = "LOGIN_FAILED"
	EventRefreshToken           EventType = "REFRESH_TOKEN"
	EventLogout                 EventType = "LOGOUT"
	EventSessionRevoked         EventType = "SESSION_REVOKED"
	EventResetPassword          EventType = "RESET_PASSWORD"
	EventDeactivateAccount      EventType = "DEACTIVATE_ACCOUNT"
	EventRequestAccountDeletion EventType = "REQUEST_ACCOUNT_DELETION"
	EventAccountLocked          EventType = "ACCOUNT_LOCKED"
	EventRefreshTokenReuse      EventType = "REFRESH_TOKEN_REUSE"
	EventSigningKeyRotated      EventType = "SIGNING_KEY_ROTATED"
)

// WebhookPrefix marks events forwarded from external collaborators.
const WebhookPrefix = "WEBHOOK_"

// IsWebhook reports whether t is a pass-through webhook event type.
func (t EventType) IsWebhook() bool {
	return strings.HasPrefix(string(t), WebhookPrefix) && len(t) > len(WebhookPrefix)
}

// Event is one append-only audit record. UserID is empty when the event has
// no known subject (e.g. a failed login for an unknown email).
type Event struct {
	ID        string
	UserID    string
	Type      EventType
	Data      map[string]any
	IPAddress string
	UserAgent string
	TraceID   string
	CreatedAt time.Time
}
