package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saas-auth-core/internal/apperr"
	auditdomain "saas-auth-core/internal/audit/domain"
	"saas-auth-core/internal/keys"
	userdomain "saas-auth-core/internal/user/domain"
)

func TestRotateSigningKey_KeepsOldTokensValid(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.createUser(t, "admin@example.com", userdomain.RoleAdmin, "ws-1")
	before := env.login(t, "admin@example.com")
	admin := env.claims(t, before)

	rot, err := env.svc.RotateSigningKey(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, admin.KeyID, rot.OldKID)
	assert.NotEqual(t, rot.OldKID, rot.NewKID)

	after := env.login(t, "admin@example.com")
	assert.Equal(t, rot.NewKID, env.claims(t, after).KeyID)
	assert.Equal(t, rot.OldKID, env.claims(t, before).KeyID, "token signed before rotation still verifies")

	set, err := env.svc.JWKS(ctx)
	require.NoError(t, err)
	var kids []string
	for _, k := range set.Keys {
		kids = append(kids, k.Kid)
		assert.Equal(t, "sig", k.Use)
	}
	assert.ElementsMatch(t, []string{rot.NewKID, rot.OldKID}, kids)

	list, err := env.svc.ListSigningKeys(ctx, admin)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, rot.NewKID, list[0].KID)
	assert.Equal(t, keys.StatusActive, list[0].Status)
	assert.Equal(t, keys.StatusRetired, list[1].Status)
	assert.NotNil(t, list[1].RetiredAt)

	ev := env.sink.last(auditdomain.EventSigningKeyRotated)
	require.NotNil(t, ev)
	assert.Equal(t, rot.NewKID, ev.Data["new_kid"])
}

func TestRotateSigningKey_RequiresAdmin(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.register(t, "ada@example.com")
	member := env.claims(t, env.login(t, "ada@example.com"))

	_, err := env.svc.RotateSigningKey(ctx, member)
	requireAppErr(t, err, apperr.KindAuthorization, CodeForbidden)
	_, err = env.svc.ListSigningKeys(ctx, member)
	requireAppErr(t, err, apperr.KindAuthorization, CodeForbidden)
	_, err = env.svc.RotateSigningKey(ctx, nil)
	requireAppErr(t, err, apperr.KindAuthentication, CodeInvalidToken)
	assert.Zero(t, env.sink.count(auditdomain.EventSigningKeyRotated))
}

func TestRecordWebhookEvent(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	err := env.svc.RecordWebhookEvent(ctx, WebhookEvent{
		Type:   "WEBHOOK_PERSONA_INQUIRY",
		UserID: "user-1",
		Data:   map[string]any{"inquiry": "inq_1"},
	})
	require.NoError(t, err)
	ev := env.sink.last("WEBHOOK_PERSONA_INQUIRY")
	require.NotNil(t, ev)
	assert.Equal(t, "inq_1", ev.Data["inquiry"])

	for _, typ := range []string{"LOGIN_SUCCESS", "WEBHOOK_", ""} {
		err := env.svc.RecordWebhookEvent(ctx, WebhookEvent{Type: typ})
		requireAppErr(t, err, apperr.KindValidation, CodeInvalidInput)
	}
}

// ListAuditEvents reads from the SQL store, so these tests go through a real
// audit.Logger instead of the recording sink.
func TestListAuditEvents(t *testing.T) {
	env := newEnv(t, withPersistentAudit)
	ctx := context.Background()
	env.createUser(t, "owner@example.com", userdomain.RoleMember, "ws-1")
	env.createUser(t, "peer@example.com", userdomain.RoleMember, "ws-1")
	env.createUser(t, "admin@example.com", userdomain.RoleAdmin, "ws-1")
	owner := env.claims(t, env.login(t, "owner@example.com"))
	peer := env.claims(t, env.login(t, "peer@example.com"))
	admin := env.claims(t, env.login(t, "admin@example.com"))

	own, err := env.svc.ListAuditEvents(ctx, owner, "", 0)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, auditdomain.EventLoginSuccess, own[0].Type)

	_, err = env.svc.ListAuditEvents(ctx, peer, owner.UserID, 10)
	requireAppErr(t, err, apperr.KindAuthorization, CodeForbidden)

	viaAdmin, err := env.svc.ListAuditEvents(ctx, admin, owner.UserID, 10)
	require.NoError(t, err)
	assert.Len(t, viaAdmin, 1)
}
