package domain

import (
	"errors"
	"time"
)

// User is an account in a workspace. PasswordHash is a bcrypt digest; the
// plaintext never leaves the auth service.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Role                string
	WorkspaceID         string
	Status              UserStatus
	EmailVerified       bool
	FailedLoginCount    int
	LockedUntil         *time.Time
	DeletionRequestedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type UserStatus string

const (
	UserStatusActive          UserStatus = "active"
	UserStatusDeactivated     UserStatus = "deactivated"
	UserStatusPendingDeletion UserStatus = "pending_deletion"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	return nil
}
