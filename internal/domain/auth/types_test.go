package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jana@astracore.pro", NormalizeEmail("  Jana@AstraCore.PRO \t"))
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, Session{}.Expired(now))
	assert.False(t, Session{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Session{ExpiresAt: now}.Expired(now))
	assert.True(t, Session{RefreshToken: "r"}.CanRefresh())
}

func TestRole_ParseAndLabels(t *testing.T) {
	for _, r := range Roles() {
		parsed, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
		assert.NotEqual(t, "Neznámá role", r.DisplayName())
	}
	_, err := ParseRole("admin")
	require.Error(t, err)
	assert.Equal(t, "Neznámá role", Role("admin").DisplayName())

	assert.True(t, RoleOwner.IsAdmin())
	assert.True(t, RoleManager.IsAdmin())
	assert.False(t, RoleSiteManager.IsAdmin())
}

func TestRole_UnmarshalRejectsUnknown(t *testing.T) {
	var p Profile
	err := json.Unmarshal([]byte(`{"id":"u1","role":"superuser"}`), &p)
	require.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"u1","role":"manager"}`), &p))
	assert.Equal(t, RoleManager, p.Role)
}

func TestNewDefaultProfile(t *testing.T) {
	now := time.Now()
	p := NewDefaultProfile("u1", now)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, RoleEmployee, p.Role)
	assert.Empty(t, p.FirstName)
	assert.Empty(t, p.LastName)
	assert.Equal(t, now, p.CreatedAt)
}

func TestProfile_DisplayName(t *testing.T) {
	assert.Equal(t, "Jana Nováková", (&Profile{FirstName: "Jana", LastName: "Nováková"}).DisplayName("x@y"))
	assert.Equal(t, "Jana", (&Profile{FirstName: "Jana"}).DisplayName("x@y"))
	assert.Equal(t, "majitel", (&Profile{}).DisplayName("majitel@astracore.pro"))
	assert.Equal(t, "majitel", (*Profile)(nil).DisplayName("majitel@astracore.pro"))
	assert.Equal(t, "Uživatel", (*Profile)(nil).DisplayName(""))
}

func TestProfileUpdate_ApplyKeepsRole(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)
	p := Profile{ID: "u1", Role: RoleManager, FirstName: "Old", Phone: "1", CreatedAt: created}

	name := "  New "
	upd := ProfileUpdate{FirstName: &name}.Normalize()
	require.False(t, upd.IsEmpty())

	out := upd.Apply(p, now)
	assert.Equal(t, "New", out.FirstName)
	assert.Equal(t, "1", out.Phone)
	assert.Equal(t, RoleManager, out.Role)
	assert.Equal(t, now, out.UpdatedAt)
	assert.Equal(t, created, out.CreatedAt)
	assert.True(t, ProfileUpdate{}.IsEmpty())
}

func TestAuthError_Matching(t *testing.T) {
	err := fmt.Errorf("sign in: %w", NewAuthError(AuthErrInvalidCredentials, errors.New("provider said no")))

	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrRateLimited)

	kind, ok := AuthErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, AuthErrInvalidCredentials, kind)

	_, ok = AuthErrorKindOf(errors.New("plain"))
	assert.False(t, ok)

	assert.True(t, NewAuthError(AuthErrRateLimited, nil).Transient())
	assert.False(t, NewAuthError(AuthErrEmailUnconfirmed, nil).Transient())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "authorized", StateAuthorized.String())
	assert.Equal(t, "error", StateError.String())
}
