package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrProfileExists    = errors.New("profile already exists")
	ErrUserIDRequired   = errors.New("user id is required")
	ErrDBNotConfigured  = errors.New("database not configured")
	ErrEmptyProfileEdit = errors.New("profile update has no fields")
)
