package engine

import "context"

// Actions gated by the authorizer.
const (
	ActionRotateSigningKey = "signing_keys.rotate"
	ActionListSigningKeys  = "signing_keys.list"
	ActionRevokeSession    = "sessions.revoke"
	ActionReadAudit        = "audit.read"
)

// Subject is the authenticated caller, taken from verified access-token claims.
type Subject struct {
	UserID      string
	Role        string
	WorkspaceID string
}

// Resource is what the action targets. Empty for global actions like key rotation.
type Resource struct {
	OwnerID     string
	WorkspaceID string
}

// Request is one authorization question.
type Request struct {
	Action   string
	Subject  Subject
	Resource Resource
}

// Authorizer decides whether a subject may perform an action.
type Authorizer interface {
	// Allow reports whether req is permitted. Implementations fail closed: on error
	// the returned bool is false.
	Allow(ctx context.Context, req Request) (bool, error)
}
