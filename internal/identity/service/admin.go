package service

import (
	"context"
	"errors"
	"time"

	"saas-auth-core/internal/apperr"
	auditdomain "saas-auth-core/internal/audit/domain"
	"saas-auth-core/internal/keys"
	"saas-auth-core/internal/policy/engine"
	"saas-auth-core/internal/security"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// RotationResult names the keys involved in a rotation. OldKID is empty when the
// rotation created the first key.
type RotationResult struct {
	NewKID string
	OldKID string
}

// KeyInfo describes a signing key without its private material.
type KeyInfo struct {
	KID       string
	Status    keys.Status
	CreatedAt time.Time
	RetiredAt *time.Time
}

// JWKS returns the public keys that may verify currently valid tokens.
func (s *AuthService) JWKS(ctx context.Context) (keys.JWKS, error) {
	set, err := s.keys.JWKS(ctx)
	if err != nil {
		return keys.JWKS{}, unavailable("load signing keys", err)
	}
	return set, nil
}

// RotateSigningKey makes a fresh key active. Tokens signed by the previous key keep
// verifying until its grace window ends.
func (s *AuthService) RotateSigningKey(ctx context.Context, caller *security.AccessClaims) (RotationResult, error) {
	if caller == nil {
		return RotationResult{}, invalidToken(nil)
	}
	if err := s.authorize(ctx, caller, engine.ActionRotateSigningKey, engine.Resource{}); err != nil {
		return RotationResult{}, err
	}
	rot, err := s.keys.Rotate(ctx)
	if errors.Is(err, keys.ErrConflict) {
		return RotationResult{}, apperr.Conflict(CodeRotationConflict, "signing key changed concurrently; retry", err)
	}
	if err != nil {
		return RotationResult{}, unavailable("rotate signing key", err)
	}
	out := RotationResult{NewKID: rot.New.KID}
	if rot.Old != nil {
		out.OldKID = rot.Old.KID
	}
	s.metrics.KeyRotated(ctx)
	s.audit.Record(ctx, auditdomain.Event{
		UserID: caller.UserID,
		Type:   auditdomain.EventSigningKeyRotated,
		Data:   map[string]any{"new_kid": out.NewKID, "old_kid": out.OldKID},
	})
	return out, nil
}

// ListSigningKeys returns the active key and every retained retired key.
func (s *AuthService) ListSigningKeys(ctx context.Context, caller *security.AccessClaims) ([]KeyInfo, error) {
	if caller == nil {
		return nil, invalidToken(nil)
	}
	if err := s.authorize(ctx, caller, engine.ActionListSigningKeys, engine.Resource{}); err != nil {
		return nil, err
	}
	list, err := s.keys.Keys(ctx)
	if err != nil {
		return nil, unavailable("load signing keys", err)
	}
	out := make([]KeyInfo, len(list))
	for i, k := range list {
		out[i] = KeyInfo{KID: k.KID, Status: k.Status, CreatedAt: k.CreatedAt, RetiredAt: k.RetiredAt}
	}
	return out, nil
}

// WebhookEvent is an event forwarded by an external collaborator. Its signature has
// been checked, if at all, before it reaches the auth core.
type WebhookEvent struct {
	Type   string
	UserID string
	Data   map[string]any
}

// RecordWebhookEvent passes a WEBHOOK_* event through to the audit log.
func (s *AuthService) RecordWebhookEvent(ctx context.Context, ev WebhookEvent) error {
	t := auditdomain.EventType(ev.Type)
	if !t.IsWebhook() {
		return apperr.Validation(CodeInvalidInput, "event type must start with "+auditdomain.WebhookPrefix)
	}
	s.audit.Record(ctx, auditdomain.Event{UserID: ev.UserID, Type: t, Data: ev.Data})
	return nil
}

// ListAuditEvents returns the newest events for userID. Users may read their own trail;
// reading another user's goes through the policy gate.
func (s *AuthService) ListAuditEvents(ctx context.Context, caller *security.AccessClaims, userID string, limit int) ([]*auditdomain.Event, error) {
	if caller == nil {
		return nil, invalidToken(nil)
	}
	if s.events == nil {
		return nil, unavailable("list audit events", errors.New("no audit store configured"))
	}
	if userID == "" {
		userID = caller.UserID
	}
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	res := engine.Resource{OwnerID: userID}
	if userID != caller.UserID {
		owner, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, unavailable("load user", err)
		}
		if owner != nil {
			res.WorkspaceID = owner.WorkspaceID
		}
	}
	if err := s.authorize(ctx, caller, engine.ActionReadAudit, res); err != nil {
		return nil, err
	}
	list, err := s.events.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, unavailable("list audit events", err)
	}
	return list, nil
}
