package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
)

// AuthProvider is the hosted authentication service.
type AuthProvider interface {
	// Restore returns the provider's existing valid session, refreshing it when possible.
	// It returns domainauth.ErrNoSession when nothing can be restored.
	Restore(ctx context.Context) (domainauth.Session, error)

	// SignIn verifies credentials and issues a session. Rejections are *domainauth.AuthError.
	SignIn(ctx context.Context, email, password string) (domainauth.Session, error)

	// SignOut invalidates the given session provider-side.
	SignOut(ctx context.Context, sess domainauth.Session) error

	// ResetPassword triggers the provider's password-reset email.
	ResetPassword(ctx context.Context, in ResetPasswordInput) error
}

// ResetPasswordInput groups parameters for a password reset request.
type ResetPasswordInput struct {
	Email       string
	RedirectURL string
}

// SessionEvent is a provider-originated session change.
// A nil Session means the provider dropped the session (expiry, external sign-out).
type SessionEvent struct {
	Session *domainauth.Session
}

// SessionWatcher is implemented by providers that push session changes (refresh, expiry).
type SessionWatcher interface {
	Watch(fn func(SessionEvent)) (unsubscribe func())
}

// SessionCache persists the provider session across process restarts.
type SessionCache interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Load(ctx context.Context) (domainauth.Session, error)
	Clear(ctx context.Context) error
}

// ProfileStore persists one profile per identity.
type ProfileStore interface {
	// Fetch returns the profile or an error satisfying apperrors.IsNotFound.
	Fetch(ctx context.Context, userID string) (domainauth.Profile, error)
	// Create inserts p or returns an error satisfying apperrors.IsConflict when it already exists.
	Create(ctx context.Context, p domainauth.Profile) (domainauth.Profile, error)
	// Update applies the self-service fields to the profile owned by userID.
	Update(ctx context.Context, userID string, upd domainauth.ProfileUpdate) (domainauth.Profile, error)
}

// PermissionSource supplies the static Permission→Roles table loaded at start.
type PermissionSource interface {
	Table() *domainauth.PermissionTable
}
