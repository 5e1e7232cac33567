// Package service orchestrates the authentication core: login with lockout, token issuance,
// refresh-token rotation, session management, account lifecycle and signing-key
// administration. Every failure it returns is an *apperr.Error.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"saas-auth-core/internal/apperr"
	"saas-auth-core/internal/audit"
	auditdomain "saas-auth-core/internal/audit/domain"
	"saas-auth-core/internal/keys"
	"saas-auth-core/internal/lockout"
	"saas-auth-core/internal/policy/engine"
	"saas-auth-core/internal/security"
	sessiondomain "saas-auth-core/internal/session/domain"
	sessionrepo "saas-auth-core/internal/session/repository"
	userdomain "saas-auth-core/internal/user/domain"
)

// Refresh-token reuse policies.
const (
	// ReusePolicyReject fails the call and records the reuse.
	ReusePolicyReject = "reject"
	// ReusePolicyRevokeLineage also deactivates every session rotated from the reused one.
	ReusePolicyRevokeLineage = "revoke_lineage"
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error
	UpdateStatus(ctx context.Context, id string, status userdomain.UserStatus, now time.Time) error
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Rotate(ctx context.Context, oldRefreshHash string, next *sessiondomain.Session, now time.Time, mint sessionrepo.MintFunc) (*sessiondomain.Session, error)
	RevokeByRefreshHash(ctx context.Context, refreshHash, reason string) (*sessiondomain.Session, error)
	RevokeForUser(ctx context.Context, userID, id, reason string) (bool, error)
	RevokeAllByUser(ctx context.Context, userID, reason string) (int64, error)
	RevokeLineage(ctx context.Context, id, reason string) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*sessiondomain.Session, error)
}

// AuditReader lists recorded events.
type AuditReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.Event, error)
}

// KeyManager is the signing-key surface the service administers.
type KeyManager interface {
	JWKS(ctx context.Context) (keys.JWKS, error)
	Keys(ctx context.Context) ([]keys.SigningKey, error)
	Rotate(ctx context.Context) (keys.Rotation, error)
}

// Metrics receives security counters. *otel.Metrics implements it.
type Metrics interface {
	LoginAttempt(ctx context.Context, outcome string)
	AccountLocked(ctx context.Context)
	RefreshReuse(ctx context.Context)
	TokenRejected(ctx context.Context, reason string)
	KeyRotated(ctx context.Context)
}

type nopMetrics struct{}

func (nopMetrics) LoginAttempt(context.Context, string) {}
func (nopMetrics) AccountLocked(context.Context) {}
func (nopMetrics) RefreshReuse(context.Context) {}
func (nopMetrics) TokenRejected(context.Context, string) {}
func (nopMetrics) KeyRotated(context.Context) {}

// Deps are the collaborators of AuthService. Users, Sessions, Keys, Tokens, Hasher and
// Lockout are required; the rest default to no-ops (Policy defaults to deny-all).
type Deps struct {
	Users    UserRepo
	Sessions SessionRepo
	Events   AuditReader
	Keys     KeyManager
	Tokens   *security.TokenProvider
	Hasher   security.PasswordHasher
	Lockout  *lockout.Guard
	Audit    audit.Sink
	Policy   engine.Authorizer
	Metrics  Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Settings tunes AuthService behaviour.
type Settings struct {
	RefreshTTL           time.Duration
	ReusePolicy          string
	RequireEmailVerified bool
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        time.Duration
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
}

// AuthService implements the authentication and session-security operations.
type AuthService struct {
	users    UserRepo
	sessions SessionRepo
	events   AuditReader
	keys     KeyManager
	tokens   *security.TokenProvider
	hasher   security.PasswordHasher
	guard    *lockout.Guard
	audit    audit.Sink
	policy   engine.Authorizer
	metrics  Metrics
	log      *slog.Logger
	now      func() time.Time
	settings Settings

	dummyOnce   sync.Once
	dummyDigest string
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps, s Settings) *AuthService {
	svc := &AuthService{
		users:    d.Users,
		sessions: d.Sessions,
		events:   d.Events,
		keys:     d.Keys,
		tokens:   d.Tokens,
		hasher:   d.Hasher,
		guard:    d.Lockout,
		audit:    d.Audit,
		policy:   d.Policy,
		metrics:  d.Metrics,
		log:      d.Logger,
		now:      d.Now,
		settings: s,
	}
	if svc.audit == nil {
		svc.audit = audit.Nop{}
	}
	if svc.policy == nil {
		svc.policy = denyAll{}
	}
	if svc.metrics == nil {
		svc.metrics = nopMetrics{}
	}
	if svc.log == nil {
		svc.log = slog.Default()
	}
	svc.log = svc.log.With("component", "auth")
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.settings.RefreshTTL <= 0 {
		svc.settings.RefreshTTL = 30 * 24 * time.Hour
	}
	if svc.settings.ReusePolicy == "" {
		svc.settings.ReusePolicy = ReusePolicyReject
	}
	return svc
}

type denyAll struct{}

func (denyAll) Allow(context.Context, engine.Request) (bool, error) { return false, nil }

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Email    string
	Password string
	// WorkspaceID places the user in an existing workspace. Empty starts a new one.
	WorkspaceID string
}

// Register creates an active member account. The email starts unverified.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*userdomain.User, error) {
	email := normalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, unavailable("hash password", err)
	}
	workspace := in.WorkspaceID
	if workspace == "" {
		workspace = uuid.New().String()
	}
	now := s.now().UTC()
	u := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: digest,
		Role:         userdomain.RoleMember,
		WorkspaceID:  workspace,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(); err != nil {
		return nil, apperr.Validation(CodeInvalidInput, err.Error())
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, userdomain.ErrEmailTaken) {
			return nil, apperr.Conflict(CodeEmailTaken, "email already registered", err)
		}
		return nil, unavailable("create user", err)
	}
	s.audit.Record(ctx, auditdomain.Event{
		UserID: u.ID,
		Type:   auditdomain.EventRegister,
		Data:   map[string]any{"workspace_id": u.WorkspaceID},
	})
	return u, nil
}

// Login authenticates email and password and opens a session. The lockout check runs
// before the password comparator, so a locked account costs no hashing work.
func (s *AuthService) Login(ctx context.Context, email, password string, meta sessiondomain.Meta) (*TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation(CodeInvalidInput, "email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, unavailable("load user", err)
	}
	if u == nil {
		s.burnCompare(password)
		s.loginFailed(ctx, "", "unknown_email", map[string]any{"email": email})
		return nil, invalidCredentials(s.guard.Threshold() - 1)
	}

	err = s.guard.Check(ctx, u.ID, lockoutState(u))
	if locked, ok := asLocked(err); ok {
		s.loginFailed(ctx, u.ID, "locked", map[string]any{"locked_until": locked.Until})
		s.metrics.LoginAttempt(ctx, "locked")
		return nil, accountLocked(locked.RemainingMinutes, err)
	}
	if err != nil {
		return nil, unavailable("lockout check", err)
	}

	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return nil, unavailable("verify password", err)
	}
	if !ok {
		return nil, s.recordFailure(ctx, u)
	}

	if !u.IsActive() {
		s.loginFailed(ctx, u.ID, "inactive", map[string]any{"status": string(u.Status)})
		return nil, apperr.Authorization(CodeAccountInactive, "account is not active", nil)
	}
	if s.settings.RequireEmailVerified && !u.EmailVerified {
		s.loginFailed(ctx, u.ID, "email_not_verified", nil)
		return nil, apperr.Authorization(CodeEmailNotVerified, "email address is not verified", nil)
	}
	if err := s.guard.RecordSuccess(ctx, u.ID); err != nil {
		return nil, unavailable("reset lockout", err)
	}

	pair, err := s.issueTokens(ctx, u, meta)
	if err != nil {
		return nil, err
	}
	s.metrics.LoginAttempt(ctx, "success")
	s.audit.Record(ctx, auditdomain.Event{
		UserID: u.ID,
		Type:   auditdomain.EventLoginSuccess,
		Data:   map[string]any{"session_id": pair.SessionID, "device_id": meta.DeviceID},
	})
	return pair, nil
}

// recordFailure counts a wrong password and reports either the remaining attempts or,
// when this attempt reached the threshold, the new lock.
func (s *AuthService) recordFailure(ctx context.Context, u *userdomain.User) error {
	f, err := s.guard.RecordFailure(ctx, u.ID)
	if err != nil {
		return unavailable("record failed login", err)
	}
	s.loginFailed(ctx, u.ID, "invalid_password", map[string]any{"failed_count": f.FailedCount})
	if f.Locked {
		s.metrics.AccountLocked(ctx)
		s.log.Warn("account locked", "user_id", u.ID, "failed_count", f.FailedCount, "locked_until", f.LockedUntil)
		s.audit.Record(ctx, auditdomain.Event{
			UserID: u.ID,
			Type:   auditdomain.EventAccountLocked,
			Data:   map[string]any{"failed_count": f.FailedCount, "locked_until": f.LockedUntil},
		})
		return accountLocked(f.RemainingMinutes, nil)
	}
	return invalidCredentials(f.RemainingAttempts)
}

func lockoutState(u *userdomain.User) lockout.State {
	return lockout.State{FailedCount: u.FailedLoginCount, LockedUntil: u.LockedUntil}
}

func asLocked(err error) (*lockout.LockedError, bool) {
	var locked *lockout.LockedError
	if errors.As(err, &locked) {
		return locked, true
	}
	return nil, false
}

func (s *AuthService) loginFailed(ctx context.Context, userID, reason string, data map[string]any) {
	if reason != "locked" {
		s.metrics.LoginAttempt(ctx, "invalid_credentials")
	}
	if data == nil {
		data = map[string]any{}
	}
	data["reason"] = reason
	s.audit.Record(ctx, auditdomain.Event{UserID: userID, Type: auditdomain.EventLoginFailed, Data: data})
}

// burnCompare runs the comparator against a throwaway digest so unknown emails take as
// long as wrong passwords.
func (s *AuthService) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyDigest, _ = s.hasher.Hash("unused-placeholder-Password1!")
	})
	if s.dummyDigest != "" {
		_, _ = s.hasher.Verify(password, s.dummyDigest)
	}
}

// RecordFailedLogin counts a failed attempt made through a flow other than Login.
func (s *AuthService) RecordFailedLogin(ctx context.Context, userID string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return unavailable("load user", err)
	}
	if u == nil {
		return apperr.Validation(CodeInvalidInput, "unknown user")
	}
	err = s.recordFailure(ctx, u)
	if apperr.KindOf(err) == apperr.KindInfrastructure {
		return err
	}
	return nil
}

// RecordSuccessfulLogin resets the lockout counter after a login made through another flow.
func (s *AuthService) RecordSuccessfulLogin(ctx context.Context, userID string) error {
	if err := s.guard.RecordSuccess(ctx, userID); err != nil {
		return unavailable("reset lockout", err)
	}
	return nil
}

// issueTokens signs an access token and persists the session that backs the refresh
// token. The access token is signed first so a signing failure leaves no session behind.
func (s *AuthService) issueTokens(ctx context.Context, u *userdomain.User, meta sessiondomain.Meta) (*TokenPair, error) {
	refresh, err := security.NewRefreshToken()
	if err != nil {
		return nil, unavailable("generate refresh token", err)
	}
	now := s.now().UTC()
	sess := &sessiondomain.Session{
		ID:               uuid.New().String(),
		UserID:           u.ID,
		RefreshTokenHash: security.HashRefreshToken(refresh),
		DeviceID:         meta.DeviceID,
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(s.settings.RefreshTTL),
	}
	if sess.DeviceID == "" {
		sess.DeviceID = uuid.New().String()
	}
	access, claims, err := s.signAccess(ctx, u, sess.ID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, unavailable("create session", err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        s.tokens.TTL(),
		ExpiresAt:        claims.ExpiresAt,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
		UserID:           u.ID,
	}, nil
}

func (s *AuthService) signAccess(ctx context.Context, u *userdomain.User, sessionID string) (string, security.AccessClaims, error) {
	token, claims, err := s.tokens.IssueAccess(ctx, security.AccessClaims{
		UserID:      u.ID,
		Email:       u.Email,
		Role:        u.Role,
		WorkspaceID: u.WorkspaceID,
		SessionID:   sessionID,
	})
	if err != nil {
		return "", security.AccessClaims{}, unavailable("sign access token", err)
	}
	return token, claims, nil
}

// Refresh exchanges a refresh token for a new pair. The old token is consumed in the
// same transaction that creates its successor; presenting it again is reuse.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta sessiondomain.Meta) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, invalidRefresh(nil)
	}
	next, err := security.NewRefreshToken()
	if err != nil {
		return nil, unavailable("generate refresh token", err)
	}
	now := s.now().UTC()
	succ := &sessiondomain.Session{
		ID:               uuid.New().String(),
		RefreshTokenHash: security.HashRefreshToken(next),
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
		ExpiresAt:        now.Add(s.settings.RefreshTTL),
	}
	// Signing happens inside the rotation transaction, so the key must already be
	// loaded: on SQLite the transaction holds the only connection.
	if _, err := s.keys.Keys(ctx); err != nil {
		return nil, unavailable("load signing keys", err)
	}
	var (
		u      *userdomain.User
		access string
		claims security.AccessClaims
	)
	prev, err := s.sessions.Rotate(ctx, security.HashRefreshToken(refreshToken), succ, now, func(owner *userdomain.User) error {
		var err error
		access, claims, err = s.signAccess(ctx, owner, succ.ID)
		u = owner
		return err
	})
	var appErr *apperr.Error
	switch {
	case errors.Is(err, sessiondomain.ErrRefreshTokenReused):
		return nil, s.handleReuse(ctx, prev)
	case errors.Is(err, sessiondomain.ErrInvalidRefreshToken):
		return nil, invalidRefresh(err)
	case errors.As(err, &appErr):
		return nil, err
	case err != nil:
		return nil, unavailable("rotate session", err)
	}

	s.audit.Record(ctx, auditdomain.Event{
		UserID: u.ID,
		Type:   auditdomain.EventRefreshToken,
		Data:   map[string]any{"session_id": succ.ID, "parent_id": prev.ID},
	})
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     next,
		TokenType:        "Bearer",
		ExpiresIn:        s.tokens.TTL(),
		ExpiresAt:        claims.ExpiresAt,
		RefreshExpiresAt: succ.ExpiresAt,
		SessionID:        succ.ID,
		UserID:           u.ID,
	}, nil
}

func (s *AuthService) handleReuse(ctx context.Context, prev *sessiondomain.Session) error {
	s.metrics.RefreshReuse(ctx)
	data := map[string]any{"policy": s.settings.ReusePolicy}
	var userID string
	if prev != nil {
		userID = prev.UserID
		data["session_id"] = prev.ID
	}
	if prev != nil && s.settings.ReusePolicy == ReusePolicyRevokeLineage {
		n, err := s.sessions.RevokeLineage(ctx, prev.ID, sessiondomain.ReasonReuseDetected)
		if err != nil {
			s.log.Error("lineage revocation failed", "session_id", prev.ID, "error", err)
		}
		data["sessions_revoked"] = n
	}
	s.log.Warn("refresh token reuse detected", "user_id", userID, "policy", s.settings.ReusePolicy)
	s.audit.Record(ctx, auditdomain.Event{UserID: userID, Type: auditdomain.EventRefreshTokenReuse, Data: data})
	return apperr.Conflict(CodeRefreshTokenReused, "refresh token reuse detected", sessiondomain.ErrRefreshTokenReused)
}

// Logout ends the session holding refreshToken, or, when refreshToken is empty, the
// session named by the caller's access token. Logging out an already ended session
// succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, caller *security.AccessClaims) error {
	var userID, sessionID string
	switch {
	case refreshToken != "":
		sess, err := s.sessions.RevokeByRefreshHash(ctx, security.HashRefreshToken(refreshToken), sessiondomain.ReasonLogout)
		if err != nil {
			return unavailable("revoke session", err)
		}
		if sess == nil {
			return nil
		}
		userID, sessionID = sess.UserID, sess.ID
	case caller != nil && caller.SessionID != "":
		ok, err := s.sessions.RevokeForUser(ctx, caller.UserID, caller.SessionID, sessiondomain.ReasonLogout)
		if err != nil {
			return unavailable("revoke session", err)
		}
		if !ok {
			return nil
		}
		userID, sessionID = caller.UserID, caller.SessionID
	default:
		return nil
	}
	s.audit.Record(ctx, auditdomain.Event{
		UserID: userID,
		Type:   auditdomain.EventLogout,
		Data:   map[string]any{"session_id": sessionID},
	})
	return nil
}

// VerifyAccess validates an access token. Callers only ever see "invalid or expired
// token"; the precise reason is logged at debug level and counted.
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (*security.AccessClaims, error) {
	claims, err := s.tokens.VerifyAccess(ctx, token)
	if err == nil {
		return claims, nil
	}
	reason := rejectReason(err)
	s.metrics.TokenRejected(ctx, reason)
	s.log.Debug("access token rejected", "reason", reason, "error", err)
	return nil, invalidToken(err)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, security.ErrExpiredToken):
		return "expired"
	case errors.Is(err, security.ErrInvalidSignature):
		return "signature"
	case errors.Is(err, security.ErrUnknownKey):
		return "unknown_key"
	default:
		return "malformed"
	}
}
