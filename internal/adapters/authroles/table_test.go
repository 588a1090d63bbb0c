package authroles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
)

func TestLoad_Defaults(t *testing.T) {
	src, err := Load(nil)
	require.NoError(t, err)
	def := domainauth.DefaultPermissionTable()
	for _, p := range domainauth.Permissions() {
		assert.Equal(t, def.RolesFor(p), src.Table().RolesFor(p), p)
	}
}

func TestLoad_Overrides(t *testing.T) {
	src, err := Load([]string{
		"edit_fleet = owner | site_manager",
		"EXPORT_DATA=",
		"  ",
	})
	require.NoError(t, err)
	table := src.Table()

	assert.Equal(t, []domainauth.Role{domainauth.RoleOwner, domainauth.RoleSiteManager},
		table.RolesFor(domainauth.PermEditFleet))
	assert.True(t, table.Has(domainauth.PermExportData))
	for _, r := range domainauth.Roles() {
		assert.False(t, table.Allows(r, domainauth.PermExportData), r)
	}
	// Untouched entries keep their defaults.
	assert.True(t, table.Allows(domainauth.RoleOwner, domainauth.PermViewFinances))
}

func TestLoad_RejectsBadOverrides(t *testing.T) {
	tests := []string{
		"VIEW_FINANCES",
		"DELETE_EVERYTHING=owner",
		"VIEW_FINANCES=owner|superuser",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := Load([]string{raw})
			assert.Error(t, err)
		})
	}
}

func TestStaticSource_NilTableDenies(t *testing.T) {
	src := NewStaticSource(nil)
	assert.Nil(t, src.Table())
	assert.False(t, src.Table().Allows(domainauth.RoleOwner, domainauth.PermSystemSettings))
}
