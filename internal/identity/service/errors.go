package service

import (
	"fmt"

	"saas-auth-core/internal/apperr"
)

// Error codes surfaced to callers. Messages stay generic where detail would help
// enumeration or token probing.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeAccountLocked       = "ACCOUNT_LOCKED"
	CodeAccountInactive     = "ACCOUNT_INACTIVE"
	CodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenReused  = "REFRESH_TOKEN_REUSED"
	CodeEmailTaken          = "EMAIL_TAKEN"
	CodeForbidden           = "FORBIDDEN"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeRotationConflict    = "KEY_ROTATION_CONFLICT"
)

const (
	msgInvalidCredentials = "invalid email or password"
	msgInvalidToken       = "invalid or expired token"
	msgInvalidRefresh     = "invalid or expired refresh token"
)

func invalidCredentials(remaining int) *apperr.Error {
	e := apperr.Authentication(CodeInvalidCredentials, msgInvalidCredentials, nil)
	e.RemainingAttempts = &remaining
	return e
}

func accountLocked(minutes int, cause error) *apperr.Error {
	if minutes < 1 {
		minutes = 1
	}
	e := apperr.Authorization(CodeAccountLocked,
		fmt.Sprintf("account locked; try again in %d minute(s)", minutes), cause)
	e.RemainingMinutes = &minutes
	return e
}

func invalidToken(cause error) *apperr.Error {
	return apperr.Authentication(CodeInvalidToken, msgInvalidToken, cause)
}

func invalidRefresh(cause error) *apperr.Error {
	return apperr.Authentication(CodeInvalidRefreshToken, msgInvalidRefresh, cause)
}

func forbidden(action string) *apperr.Error {
	return apperr.Authorization(CodeForbidden, "not permitted", fmt.Errorf("denied %s", action))
}

func unavailable(op string, cause error) *apperr.Error {
	return apperr.Infrastructure("service unavailable", fmt.Errorf("%s: %w", op, cause))
}
