package service

import (
	"context"

	"saas-auth-core/internal/apperr"
	auditdomain "saas-auth-core/internal/audit/domain"
	"saas-auth-core/internal/policy/engine"
	"saas-auth-core/internal/security"
	sessiondomain "saas-auth-core/internal/session/domain"
)

// ListSessions returns the user's active sessions, most recently used first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	list, err := s.sessions.ListActiveByUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	return list, nil
}

// RevokeSession ends one session. The caller may revoke their own sessions; revoking
// someone else's goes through the policy gate. Revoking an already ended session succeeds.
func (s *AuthService) RevokeSession(ctx context.Context, caller *security.AccessClaims, sessionID string) error {
	if caller == nil {
		return invalidToken(nil)
	}
	if sessionID == "" {
		return apperr.Validation(CodeInvalidInput, "session id is required")
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return unavailable("load session", err)
	}
	if sess == nil {
		return apperr.Authorization(CodeSessionNotFound, "session not found", nil)
	}

	resource := engine.Resource{OwnerID: sess.UserID}
	if sess.UserID != caller.UserID {
		owner, err := s.users.GetByID(ctx, sess.UserID)
		if err != nil {
			return unavailable("load session owner", err)
		}
		if owner != nil {
			resource.WorkspaceID = owner.WorkspaceID
		}
	}
	if err := s.authorize(ctx, caller, engine.ActionRevokeSession, resource); err != nil {
		// Hide whether the session exists from callers who may not touch it.
		return apperr.Authorization(CodeSessionNotFound, "session not found", err)
	}

	ok, err := s.sessions.RevokeForUser(ctx, sess.UserID, sess.ID, sessiondomain.ReasonRevoked)
	if err != nil {
		return unavailable("revoke session", err)
	}
	if !ok {
		return nil
	}
	s.audit.Record(ctx, auditdomain.Event{
		UserID: sess.UserID,
		Type:   auditdomain.EventSessionRevoked,
		Data:   map[string]any{"session_id": sess.ID, "revoked_by": caller.UserID},
	})
	return nil
}

// RevokeAllSessions ends every active session of userID and returns how many were ended.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.RevokeAllByUser(ctx, userID, sessiondomain.ReasonRevoked)
	if err != nil {
		return 0, unavailable("revoke sessions", err)
	}
	s.audit.Record(ctx, auditdomain.Event{
		UserID: userID,
		Type:   auditdomain.EventSessionRevoked,
		Data:   map[string]any{"all": true, "sessions_revoked": n},
	})
	return n, nil
}

// authorize asks the policy engine. A policy error denies.
func (s *AuthService) authorize(ctx context.Context, caller *security.AccessClaims, action string, res engine.Resource) error {
	ok, err := s.policy.Allow(ctx, engine.Request{
		Action:   action,
		Subject:  engine.Subject{UserID: caller.UserID, Role: caller.Role, WorkspaceID: caller.WorkspaceID},
		Resource: res,
	})
	if err != nil {
		s.log.Error("policy evaluation failed", "action", action, "error", err)
		return forbidden(action)
	}
	if !ok {
		s.log.Info("action denied", "action", action, "user_id", caller.UserID)
		return forbidden(action)
	}
	return nil
}
