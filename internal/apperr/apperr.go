// Package apperr defines the error taxonomy shared by the auth core and the HTTP boundary.
// Core operations wrap their sentinel errors in an *Error so the transport can map Kind to
// a status code without knowing which component failed.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport boundary.
type Kind int

const (
	// KindUnknown is reported for errors that were never classified.
	KindUnknown Kind = iota
	// KindValidation is malformed input.
	KindValidation
	// KindAuthentication is a bad credential or invalid token.
	KindAuthentication
	// KindAuthorization is a locked, inactive or deactivated account, or a denied action.
	KindAuthorization
	// KindConflict is a state conflict such as refresh-token reuse or a duplicate email.
	KindConflict
	// KindInfrastructure is a store or key-storage failure.
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Error is a classified error. Message is safe to show to external callers; Err carries
// the internal cause and is never rendered by the transport.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
	// RemainingAttempts is set on credential failures while the account is still open.
	RemainingAttempts *int
	// RemainingMinutes is set when the account is locked.
	RemainingMinutes *int
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns an *Error of the given kind.
func New(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Validation returns a KindValidation error.
func Validation(code, message string) *Error {
	return New(KindValidation, code, message, nil)
}

// Authentication returns a KindAuthentication error wrapping cause.
func Authentication(code, message string, cause error) *Error {
	return New(KindAuthentication, code, message, cause)
}

// Authorization returns a KindAuthorization error wrapping cause.
func Authorization(code, message string, cause error) *Error {
	return New(KindAuthorization, code, message, cause)
}

// Conflict returns a KindConflict error wrapping cause.
func Conflict(code, message string, cause error) *Error {
	return New(KindConflict, code, message, cause)
}

// Infrastructure returns a KindInfrastructure error wrapping cause.
func Infrastructure(message string, cause error) *Error {
	return New(KindInfrastructure, "UNAVAILABLE", message, cause)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
