package auth

// Package auth contains domain-level types for authentication, profiles and permissions.
// It is pure and free of framework/adapter concerns.

import (
	"strings"
	"time"
)

// Identity represents the authenticated principal returned by the auth provider.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	UserID string `json:"user_id"` // stable provider identifier (e.g., sub)
	Email  string `json:"email"`
}

// IsZero reports whether the identity carries no principal.
func (i Identity) IsZero() bool { return i.UserID == "" }

// Session mirrors the provider-issued session held by the running process.
// Tokens are opaque to the core; only the provider adapter interprets them.
type Session struct {
	Identity     Identity  `json:"identity"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CanRefresh reports whether the provider handed out a refresh credential.
func (s Session) CanRefresh() bool { return s.RefreshToken != "" }

// Expired reports whether the session is past its absolute expiry at now.
// A zero ExpiresAt never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// NormalizeEmail trims and lowercases an email address before it is sent to the provider.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
