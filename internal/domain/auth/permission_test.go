package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPermissionTable_Exhaustive(t *testing.T) {
	table := DefaultPermissionTable()

	for p, roles := range defaultGrants {
		allowed := make(map[Role]bool, len(roles))
		for _, r := range roles {
			allowed[r] = true
		}
		for _, r := range Roles() {
			assert.Equal(t, allowed[r], table.Allows(r, p), "role=%s permission=%s", r, p)
		}
	}
}

func TestDefaultPermissionTable_Spot(t *testing.T) {
	table := DefaultPermissionTable()

	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleSiteManager, PermEditProjects, true},
		{RoleSiteManager, PermViewFinances, false},
		{RoleAssistant, PermViewEmployees, true},
		{RoleAssistant, PermEditEmployees, false},
		{RoleEmployee, PermViewFinances, false},
		{RoleOwner, PermSystemSettings, true},
		{RoleManager, PermSystemSettings, false},
		{RoleManager, PermViewFleet, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			assert.Equal(t, tt.want, table.Allows(tt.role, tt.perm))
		})
	}
}

func TestPermissionTable_UnknownPermissionDenies(t *testing.T) {
	table := DefaultPermissionTable()
	for _, p := range []Permission{"", "VIEW_EVERYTHING", "view_finances"} {
		for _, r := range Roles() {
			assert.False(t, table.Allows(r, p), "role=%s permission=%q", r, p)
		}
	}
}

func TestPermissionTable_NilDenies(t *testing.T) {
	var table *PermissionTable
	assert.False(t, table.Allows(RoleOwner, PermViewFinances))
	assert.False(t, table.Has(PermViewFinances))
	assert.Empty(t, table.Entries())
}

func TestNewPermissionTable_Validation(t *testing.T) {
	_, err := NewPermissionTable(map[Permission][]Role{"NOPE": {RoleOwner}})
	require.Error(t, err)

	_, err = NewPermissionTable(map[Permission][]Role{PermEditFleet: {"janitor"}})
	require.Error(t, err)

	table, err := NewPermissionTable(map[Permission][]Role{PermEditFleet: {RoleSiteManager}})
	require.NoError(t, err)
	assert.True(t, table.Allows(RoleSiteManager, PermEditFleet))
	assert.False(t, table.Allows(RoleOwner, PermEditFleet))
	assert.False(t, table.Has(PermViewFinances))
}

func TestPermissionTable_GrantedAndRolesFor(t *testing.T) {
	table := DefaultPermissionTable()

	assert.Empty(t, table.Granted(RoleEmployee))
	assert.Equal(t, []Permission{PermEditProjects, PermViewFleet}, table.Granted(RoleSiteManager))
	assert.Equal(t, []Role{RoleOwner, RoleManager, RoleSiteManager}, table.RolesFor(PermEditProjects))
	assert.Len(t, table.Granted(RoleOwner), len(Permissions()))
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("EXPORT_DATA")
	require.NoError(t, err)
	assert.Equal(t, PermExportData, p)

	_, err = ParsePermission("export_data")
	assert.Error(t, err)
}

func TestDenyReason_String(t *testing.T) {
	assert.Equal(t, "allowed", ReasonNone.String())
	assert.Equal(t, "not authorized", ReasonNotAuthorized.String())
	assert.Equal(t, "unknown permission", ReasonUnknownPermission.String())
	assert.Equal(t, "role lacks permission", ReasonRoleLacksPermission.String())
}

func TestPermissionTable_Decide(t *testing.T) {
	table := DefaultPermissionTable()

	tests := []struct {
		name    string
		role    Role
		perm    Permission
		allowed bool
		reason  DenyReason
	}{
		{"owner edits finances", RoleOwner, PermEditFinances, true, ReasonNone},
		{"manager cannot edit finances", RoleManager, PermEditFinances, false, ReasonRoleLacksPermission},
		{"site manager views fleet", RoleSiteManager, PermViewFleet, true, ReasonNone},
		{"unknown permission", RoleOwner, Permission("LAUNCH_ROCKETS"), false, ReasonUnknownPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := table.Decide(tt.role, tt.perm)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.role, d.Role)
			assert.Equal(t, tt.perm, d.Permission)
		})
	}

	var empty *PermissionTable
	assert.Equal(t, ReasonUnknownPermission, empty.Decide(RoleOwner, PermViewFinances).Reason)
}
