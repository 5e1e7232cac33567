package service

import (
	"regexp"
	"strings"

	"saas-auth-core/internal/apperr"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// maxPasswordBytes is bcrypt's input limit; longer passwords are rejected rather than truncated.
const maxPasswordBytes = 72

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validateEmail(email string) error {
	if email == "" {
		return apperr.Validation(CodeInvalidInput, "email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperr.Validation(CodeInvalidInput, "invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return apperr.Validation(CodeInvalidInput, "password must be at least 12 characters")
	}
	if len(password) > maxPasswordBytes {
		return apperr.Validation(CodeInvalidInput, "password must be at most 72 bytes")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return apperr.Validation(CodeInvalidInput, "password must contain at least one uppercase letter")
	case !hasLower:
		return apperr.Validation(CodeInvalidInput, "password must contain at least one lowercase letter")
	case !hasNumber:
		return apperr.Validation(CodeInvalidInput, "password must contain at least one number")
	case !hasSymbol:
		return apperr.Validation(CodeInvalidInput, "password must contain at least one symbol")
	}
	return nil
}
