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

func TestRevokeSession(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com", userdomain.RoleMember, "ws-1")
	env.createUser(t, "peer@example.com", userdomain.RoleMember, "ws-1")
	env.createUser(t, "admin@example.com", userdomain.RoleAdmin, "ws-1")
	env.createUser(t, "outsider@example.com", userdomain.RoleAdmin, "ws-2")

	target := env.login(t, "owner@example.com")
	peer := env.claims(t, env.login(t, "peer@example.com"))
	outsider := env.claims(t, env.login(t, "outsider@example.com"))
	admin := env.claims(t, env.login(t, "admin@example.com"))

	err := env.svc.RevokeSession(ctx, peer, target.SessionID)
	requireAppErr(t, err, apperr.KindAuthorization, CodeSessionNotFound)
	err = env.svc.RevokeSession(ctx, outsider, target.SessionID)
	requireAppErr(t, err, apperr.KindAuthorization, CodeSessionNotFound)
	err = env.svc.RevokeSession(ctx, peer, "no-such-session")
	requireAppErr(t, err, apperr.KindAuthorization, CodeSessionNotFound)

	require.NoError(t, env.svc.RevokeSession(ctx, admin, target.SessionID))
	ev := env.sink.last(auditdomain.EventSessionRevoked)
	require.NotNil(t, ev)
	assert.Equal(t, owner.ID, ev.UserID)
	assert.Equal(t, admin.UserID, ev.Data["revoked_by"])

	// Already ended: succeeds without a second event.
	require.NoError(t, env.svc.RevokeSession(ctx, admin, target.SessionID))
	assert.Equal(t, 1, env.sink.count(auditdomain.EventSessionRevoked))

	_, err = env.svc.Refresh(ctx, target.RefreshToken, sessiondomain.Meta{})
	requireAppErr(t, err, apperr.KindAuthentication, CodeInvalidRefreshToken)
}

func TestRevokeSession_Own(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.register(t, "ada@example.com")
	first := env.login(t, "ada@example.com")
	second := env.login(t, "ada@example.com")
	caller := env.claims(t, second)

	require.NoError(t, env.svc.RevokeSession(ctx, caller, first.SessionID))
	active, err := env.svc.ListSessions(ctx, caller.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.SessionID, active[0].ID)

	requireAppErr(t, env.svc.RevokeSession(ctx, nil, first.SessionID), apperr.KindAuthentication, CodeInvalidToken)
	requireAppErr(t, env.svc.RevokeSession(ctx, caller, ""), apperr.KindValidation, CodeInvalidInput)
}

func TestRevokeAllSessions(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	u := env.register(t, "ada@example.com")
	for i := 0; i < 3; i++ {
		env.login(t, "ada@example.com")
	}

	n, err := env.svc.RevokeAllSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	active, err := env.svc.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}
