package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.saasauth.authz.allow"

// DefaultPolicy allows admins to manage signing keys and lets a user manage their own
// sessions and audit trail. Admins may also act on resources inside their own workspace.
const DefaultPolicy = `package saasauth.authz

default allow := false

admin_actions := {"signing_keys.rotate", "signing_keys.list"}

owner_actions := {"sessions.revoke", "audit.read"}

allow if {
	input.action in admin_actions
	input.subject.role == "admin"
}

allow if {
	input.action in owner_actions
	input.subject.user_id != ""
	input.subject.user_id == input.resource.owner_id
}

allow if {
	input.action in owner_actions
	input.subject.role == "admin"
	input.subject.workspace_id != ""
	input.subject.workspace_id == input.resource.workspace_id
}
`

// OPAEvaluator answers authorization requests with a Rego policy compiled once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultPolicy when empty). The policy must define
// data.saasauth.authz.allow.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if strings.TrimSpace(policy) == "" {
		policy = DefaultPolicy
	}
	pq, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("authz.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// Allow evaluates req. An undefined result counts as a denial.
func (e *OPAEvaluator) Allow(ctx context.Context, req Request) (bool, error) {
	if req.Action == "" {
		return false, errors.New("policy: empty action")
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(req)))
	if err != nil {
		return false, fmt.Errorf("policy: eval %s: %w", req.Action, err)
	}
	return rs.Allowed(), nil
}

// HealthCheck runs one evaluation that the default policy denies, to confirm the engine
// is usable.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.Allow(ctx, Request{Action: ActionRotateSigningKey})
	return err
}

func buildInput(req Request) map[string]any {
	return map[string]any{
		"action": req.Action,
		"subject": map[string]any{
			"user_id":      req.Subject.UserID,
			"role":         req.Subject.Role,
			"workspace_id": req.Subject.WorkspaceID,
		},
		"resource": map[string]any{
			"owner_id":     req.Resource.OwnerID,
			"workspace_id": req.Resource.WorkspaceID,
		},
	}
}
