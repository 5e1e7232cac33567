package service

import (
	"context"

	"saas-auth-core/internal/apperr"
	auditdomain "saas-auth-core/internal/audit/domain"
	sessiondomain "saas-auth-core/internal/session/domain"
	userdomain "saas-auth-core/internal/user/domain"
)

// ResetPassword sets a new password and ends every session. The caller has already
// proven control of the account, e.g. through an emailed reset link. The lockout
// counter is cleared, since the reset proves ownership.
func (s *AuthService) ResetPassword(ctx context.Context, userID, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return unavailable("load user", err)
	}
	if u == nil {
		return apperr.Validation(CodeInvalidInput, "unknown user")
	}
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return unavailable("hash password", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, digest, s.now().UTC()); err != nil {
		return unavailable("update password", err)
	}
	if err := s.guard.RecordSuccess(ctx, u.ID); err != nil {
		return unavailable("reset lockout", err)
	}
	n, err := s.sessions.RevokeAllByUser(ctx, u.ID, sessiondomain.ReasonPasswordReset)
	if err != nil {
		return unavailable("revoke sessions", err)
	}
	s.audit.Record(ctx, auditdomain.Event{
		UserID: u.ID,
		Type:   auditdomain.EventResetPassword,
		Data:   map[string]any{"sessions_revoked": n},
	})
	return nil
}

// ChangePassword checks the current password, subject to lockout, then resets it.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return unavailable("load user", err)
	}
	if u == nil || !u.IsActive() {
		return apperr.Authorization(CodeAccountInactive, "account is not active", nil)
	}
	if err := s.checkPassword(ctx, u, current); err != nil {
		return err
	}
	return s.ResetPassword(ctx, u.ID, next)
}

// DeactivateAccount disables login and ends every session.
func (s *AuthService) DeactivateAccount(ctx context.Context, userID string) error {
	return s.closeAccount(ctx, userID, userdomain.UserStatusDeactivated,
		sessiondomain.ReasonDeactivated, auditdomain.EventDeactivateAccount)
}

// RequestAccountDeletion marks the account for deletion and ends every session. The
// deletion itself is carried out outside the auth core.
func (s *AuthService) RequestAccountDeletion(ctx context.Context, userID string) error {
	return s.closeAccount(ctx, userID, userdomain.UserStatusPendingDeletion,
		sessiondomain.ReasonDeletion, auditdomain.EventRequestAccountDeletion)
}

func (s *AuthService) closeAccount(ctx context.Context, userID string, status userdomain.UserStatus, reason string, event auditdomain.EventType) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return unavailable("load user", err)
	}
	if u == nil {
		return apperr.Validation(CodeInvalidInput, "unknown user")
	}
	if err := s.users.UpdateStatus(ctx, u.ID, status, s.now().UTC()); err != nil {
		return unavailable("update status", err)
	}
	n, err := s.sessions.RevokeAllByUser(ctx, u.ID, reason)
	if err != nil {
		return unavailable("revoke sessions", err)
	}
	s.audit.Record(ctx, auditdomain.Event{
		UserID: u.ID,
		Type:   event,
		Data:   map[string]any{"previous_status": string(u.Status), "sessions_revoked": n},
	})
	return nil
}

// checkPassword applies the same lockout rules as Login to a password re-entry.
func (s *AuthService) checkPassword(ctx context.Context, u *userdomain.User, password string) error {
	err := s.guard.Check(ctx, u.ID, lockoutState(u))
	if locked, ok := asLocked(err); ok {
		return accountLocked(locked.RemainingMinutes, err)
	}
	if err != nil {
		return unavailable("lockout check", err)
	}
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return unavailable("verify password", err)
	}
	if !ok {
		return s.recordFailure(ctx, u)
	}
	return nil
}
