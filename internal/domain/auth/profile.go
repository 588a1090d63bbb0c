package auth

import (
	"strings"
	"time"
)

// Profile is the application's own per-identity record carrying the Role.
// ID equals Identity.UserID.
type Profile struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDefaultProfile builds the lowest-privilege profile created on first sign-in.
func NewDefaultProfile(userID string, now time.Time) Profile {
	return Profile{
		ID:        userID,
		Role:      DefaultRole,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DisplayName returns "First Last", then the first name, then the email local part.
func (p *Profile) DisplayName(email string) string {
	if p != nil {
		first := strings.TrimSpace(p.FirstName)
		last := strings.TrimSpace(p.LastName)
		if first != "" && last != "" {
			return first + " " + last
		}
		if first != "" {
			return first
		}
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return "Uživatel"
}

// ProfileUpdate carries the self-service editable fields. Nil fields are left unchanged.
// Role is intentionally absent: role changes are an administrative operation.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// IsEmpty reports whether no field is set.
func (u ProfileUpdate) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil && u.AvatarURL == nil
}

// Normalize trims whitespace on every provided field.
func (u ProfileUpdate) Normalize() ProfileUpdate {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		return &v
	}
	return ProfileUpdate{
		FirstName: trim(u.FirstName),
		LastName:  trim(u.LastName),
		Phone:     trim(u.Phone),
		AvatarURL: trim(u.AvatarURL),
	}
}

// Apply returns a copy of p with the update applied and UpdatedAt set to now.
func (u ProfileUpdate) Apply(p Profile, now time.Time) Profile {
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
	p.UpdatedAt = now
	return p
}
