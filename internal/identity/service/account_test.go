package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saas-auth-core/internal/apperr"
	auditdomain "saas-auth-core/internal/audit/domain"
	sessiondomain "saas-auth-core/internal/session/domain"
	userdomain "saas-auth-core/internal/user/domain"
)

const newPassword = "Brand-New-Secret-2"

func TestResetPassword_EndsSessions(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	u := env.register(t, "ada@example.com")
	pair := env.login(t, "ada@example.com")
	require.NoError(t, env.svc.RecordFailedLogin(ctx, u.ID))

	require.NoError(t, env.svc.ResetPassword(ctx, u.ID, newPassword))

	_, err := env.svc.Refresh(ctx, pair.RefreshToken, sessiondomain.Meta{})
	requireAppErr(t, err, apperr.KindAuthentication, CodeInvalidRefreshToken)
	_, err = env.svc.Login(ctx, "ada@example.com", testPassword, sessiondomain.Meta{})
	requireAppErr(t, err, apperr.KindAuthentication, CodeInvalidCredentials)
	_, err = env.svc.Login(ctx, "ada@example.com", newPassword, sessiondomain.Meta{})
	require.NoError(t, err)

	ev := env.sink.last(auditdomain.EventResetPassword)
	require.NotNil(t, ev)
	assert.EqualValues(t, 1, ev.Data["sessions_revoked"])

	requireAppErr(t, env.svc.ResetPassword(ctx, u.ID, "weak"), apperr.KindValidation, CodeInvalidInput)
	requireAppErr(t, env.svc.ResetPassword(ctx, "missing", newPassword), apperr.KindValidation, CodeInvalidInput)
}

func TestChangePassword(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	u := env.register(t, "ada@example.com")

	err := env.svc.ChangePassword(ctx, u.ID, "Wrong-Password-1", newPassword)
	ae := requireAppErr(t, err, apperr.KindAuthentication, CodeInvalidCredentials)
	require.NotNil(t, ae.RemainingAttempts)
	assert.Equal(t, 4, *ae.RemainingAttempts)

	require.NoError(t, env.svc.ChangePassword(ctx, u.ID, testPassword, newPassword))
	_, err = env.svc.Login(ctx, "ada@example.com", newPassword, sessiondomain.Meta{})
	require.NoError(t, err)
}

func TestChangePassword_RespectsLockout(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	u := env.register(t, "ada@example.com")
	for i := 0; i < 5; i++ {
		_, _ = env.svc.Login(ctx, "ada@example.com", "Wrong-Password-1", sessiondomain.Meta{})
	}
	before := env.hasher.verifies.Load()

	err := env.svc.ChangePassword(ctx, u.ID, testPassword, newPassword)
	requireAppErr(t, err, apperr.KindAuthorization, CodeAccountLocked)
	assert.Equal(t, before, env.hasher.verifies.Load())
}

func TestCloseAccount(t *testing.T) {
	tests := []struct {
		name   string
		close  func(*AuthService, context.Context, string) error
		status userdomain.UserStatus
		event  auditdomain.EventType
	}{
		{"deactivate", (*AuthService).DeactivateAccount, userdomain.UserStatusDeactivated, auditdomain.EventDeactivateAccount},
		{"deletion", (*AuthService).RequestAccountDeletion, userdomain.UserStatusPendingDeletion, auditdomain.EventRequestAccountDeletion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			ctx := context.Background()
			u := env.register(t, "ada@example.com")
			env.login(t, "ada@example.com")
			env.login(t, "ada@example.com")

			require.NoError(t, tt.close(env.svc, ctx, u.ID))

			stored, err := env.users.GetByID(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, stored.Status)
			active, err := env.svc.ListSessions(ctx, u.ID)
			require.NoError(t, err)
			assert.Empty(t, active)

			ev := env.sink.last(tt.event)
			require.NotNil(t, ev)
			assert.EqualValues(t, 2, ev.Data["sessions_revoked"])
			assert.Equal(t, "active", ev.Data["previous_status"])

			_, err = env.svc.Login(ctx, "ada@example.com", testPassword, sessiondomain.Meta{})
			requireAppErr(t, err, apperr.KindAuthorization, CodeAccountInactive)
		})
	}
}
