package authroles

// Package authroles loads the static Permission→Roles table at startup.

import (
	"fmt"
	"strings"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/ports"
)

// StaticSource serves a table fixed at construction.
type StaticSource struct {
	table *domainauth.PermissionTable
}

var _ ports.PermissionSource = StaticSource{}

// NewStaticSource wraps t. A nil table denies every check.
func NewStaticSource(t *domainauth.PermissionTable) StaticSource {
	return StaticSource{table: t}
}

// Table returns the wrapped table.
func (s StaticSource) Table() *domainauth.PermissionTable { return s.table }

// Load builds the table from the built-in defaults with overrides applied.
// Each override has the form "PERMISSION=role|role"; an empty role list grants nobody.
func Load(overrides []string) (StaticSource, error) {
	entries := domainauth.DefaultPermissionTable().Entries()
	for _, raw := range overrides {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		perm, roles, err := parseOverride(raw)
		if err != nil {
			return StaticSource{}, err
		}
		entries[perm] = roles
	}
	table, err := domainauth.NewPermissionTable(entries)
	if err != nil {
		return StaticSource{}, fmt.Errorf("permission table: %w", err)
	}
	return NewStaticSource(table), nil
}

func parseOverride(raw string) (domainauth.Permission, []domainauth.Role, error) {
	key, value, ok := strings.Cut(raw, "=")
	if !ok {
		return "", nil, fmt.Errorf("permission override %q: want PERMISSION=role|role", raw)
	}
	perm, err := domainauth.ParsePermission(strings.ToUpper(strings.TrimSpace(key)))
	if err != nil {
		return "", nil, fmt.Errorf("permission override %q: %w", raw, err)
	}
	roles := []domainauth.Role{}
	for _, part := range strings.Split(value, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		role, roleErr := domainauth.ParseRole(part)
		if roleErr != nil {
			return "", nil, fmt.Errorf("permission override %q: %w", raw, roleErr)
		}
		roles = append(roles, role)
	}
	return perm, roles, nil
}
