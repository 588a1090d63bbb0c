package auth

import (
	"errors"
	"fmt"
)

// AuthErrorKind is the closed set of sign-in failure categories surfaced to callers.
type AuthErrorKind string

const (
	AuthErrInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthErrEmailUnconfirmed   AuthErrorKind = "email_unconfirmed"
	AuthErrRateLimited        AuthErrorKind = "rate_limited"
	AuthErrUnknown            AuthErrorKind = "unknown"
)

// AuthError is returned by sign-in when the provider rejects the attempt.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	Cause   error
}

// NewAuthError builds an AuthError with the default message for kind.
func NewAuthError(kind AuthErrorKind, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: defaultAuthMessage(kind), Cause: cause}
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Is matches another *AuthError by kind so sentinel comparisons work with errors.Is.
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Transient reports whether retrying later may succeed.
func (e *AuthError) Transient() bool {
	return e.Kind == AuthErrRateLimited || e.Kind == AuthErrUnknown
}

// Sentinels usable with errors.Is.
var (
	ErrInvalidCredentials = &AuthError{Kind: AuthErrInvalidCredentials, Message: defaultAuthMessage(AuthErrInvalidCredentials)}
	ErrEmailUnconfirmed   = &AuthError{Kind: AuthErrEmailUnconfirmed, Message: defaultAuthMessage(AuthErrEmailUnconfirmed)}
	ErrRateLimited        = &AuthError{Kind: AuthErrRateLimited, Message: defaultAuthMessage(AuthErrRateLimited)}
)

// ErrNotAuthenticated is returned by operations that require a live session.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrNoSession is returned by providers and caches when nothing is persisted.
var ErrNoSession = errors.New("no session")

// AuthErrorKindOf extracts the kind of an AuthError anywhere in err's chain.
func AuthErrorKindOf(err error) (AuthErrorKind, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

func defaultAuthMessage(kind AuthErrorKind) string {
	switch kind {
	case AuthErrInvalidCredentials:
		return "invalid login credentials"
	case AuthErrEmailUnconfirmed:
		return "email not confirmed"
	case AuthErrRateLimited:
		return "too many sign-in attempts, try again later"
	default:
		return "sign-in failed"
	}
}
