package domain

import (
	"errors"
	"time"
)

// Session is one node in a refresh-token rotation lineage. Rotation creates a
// new row pointing at its predecessor through ParentID and deactivates the
// predecessor; a row's refresh token hash never changes.
type Session struct {
	ID               string
	UserID           string
	ParentID         string // empty for the session created at login
	RefreshTokenHash string // SHA-256 hex of the opaque refresh token
	DeviceID         string
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	LastUsedAt       time.Time
	ExpiresAt        time.Time
	IsActive         bool
	RevokedReason    string
}

// Revocation reasons recorded on deactivated sessions.
const (
	ReasonRotated       = "rotated"
	ReasonLogout        = "logout"
	ReasonRevoked       = "revoked"
	ReasonPasswordReset = "password_reset"
	ReasonDeactivated   = "account_deactivated"
	ReasonDeletion      = "account_deletion"
	ReasonReuseDetected = "reuse_detected"
)

var (
	// ErrInvalidRefreshToken covers unknown, expired, revoked tokens and
	// tokens whose user is no longer active.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	// ErrRefreshTokenReused is returned when the token was already rotated,
	// including by a concurrent rotation that won the race.
	ErrRefreshTokenReused = errors.New("refresh token already used")
)

// Meta is the client context captured when a session is created or rotated.
type Meta struct {
	DeviceID  string
	IPAddress string
	UserAgent string
}

// Expired reports whether the session can no longer be refreshed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
