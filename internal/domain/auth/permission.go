package auth

import (
	"fmt"
	"sort"
)

// Permission is a named capability gated by role membership.
// Values use the SCREAMING_SNAKE keys the UI passes around.
type Permission string

// Finance.
const (
	PermViewFinances    Permission = "VIEW_FINANCES"
	PermEditFinances    Permission = "EDIT_FINANCES"
	PermApproveExpenses Permission = "APPROVE_EXPENSES"
)

// Projects.
const (
	PermViewAllProjects Permission = "VIEW_ALL_PROJECTS"
	PermEditProjects    Permission = "EDIT_PROJECTS"
	PermDeleteProjects  Permission = "DELETE_PROJECTS"
)

// Employees.
const (
	PermViewEmployees Permission = "VIEW_EMPLOYEES"
	PermEditEmployees Permission = "EDIT_EMPLOYEES"
	PermViewSalaries  Permission = "VIEW_SALARIES"
)

// Fleet & inventory.
const (
	PermViewFleet Permission = "VIEW_FLEET"
	PermEditFleet Permission = "EDIT_FLEET"
)

// Properties.
const (
	PermViewProperties Permission = "VIEW_PROPERTIES"
	PermEditProperties Permission = "EDIT_PROPERTIES"
)

// Settings and reports.
const (
	PermSystemSettings   Permission = "SYSTEM_SETTINGS"
	PermUserManagement   Permission = "USER_MANAGEMENT"
	PermFinancialReports Permission = "FINANCIAL_REPORTS"
	PermExportData       Permission = "EXPORT_DATA"
)

// defaultGrants is the built-in Permission→Roles table.
// Each permission lists its roles independently; there is no implied hierarchy.
var defaultGrants = map[Permission][]Role{
	PermViewFinances:    {RoleOwner, RoleManager},
	PermEditFinances:    {RoleOwner},
	PermApproveExpenses: {RoleOwner, RoleManager},

	PermViewAllProjects: {RoleOwner, RoleManager},
	PermEditProjects:    {RoleOwner, RoleManager, RoleSiteManager},
	PermDeleteProjects:  {RoleOwner},

	PermViewEmployees: {RoleOwner, RoleManager, RoleAssistant},
	PermEditEmployees: {RoleOwner, RoleManager},
	PermViewSalaries:  {RoleOwner},

	PermViewFleet: {RoleOwner, RoleManager, RoleSiteManager},
	PermEditFleet: {RoleOwner, RoleManager},

	PermViewProperties: {RoleOwner, RoleManager},
	PermEditProperties: {RoleOwner, RoleManager},

	PermSystemSettings:   {RoleOwner},
	PermUserManagement:   {RoleOwner},
	PermFinancialReports: {RoleOwner, RoleManager},
	PermExportData:       {RoleOwner, RoleManager},
}

// Permissions returns every known permission in sorted order.
func Permissions() []Permission {
	out := make([]Permission, 0, len(defaultGrants))
	for p := range defaultGrants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether p is part of the closed permission set.
func (p Permission) Known() bool {
	_, ok := defaultGrants[p]
	return ok
}

// ParsePermission converts a wire key into a known Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.Known() {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

// PermissionTable is an immutable Permission→Roles mapping.
// The zero value denies everything.
type PermissionTable struct {
	grants map[Permission]map[Role]struct{}
}

// DefaultPermissionTable returns the built-in table.
func DefaultPermissionTable() *PermissionTable {
	t, err := NewPermissionTable(defaultGrants)
	if err != nil {
		panic(err) // built-in table is validated by tests
	}
	return t
}

// NewPermissionTable builds a table from entries. Every permission and role must be known.
// Permissions absent from entries deny all roles.
func NewPermissionTable(entries map[Permission][]Role) (*PermissionTable, error) {
	grants := make(map[Permission]map[Role]struct{}, len(entries))
	for p, roles := range entries {
		if !p.Known() {
			return nil, fmt.Errorf("unknown permission %q", p)
		}
		set := make(map[Role]struct{}, len(roles))
		for _, r := range roles {
			if !r.Valid() {
				return nil, fmt.Errorf("permission %s: unknown role %q", p, r)
			}
			set[r] = struct{}{}
		}
		grants[p] = set
	}
	return &PermissionTable{grants: grants}, nil
}

// Allows reports whether role holds permission p. Unknown permissions deny.
func (t *PermissionTable) Allows(role Role, p Permission) bool {
	if t == nil {
		return false
	}
	set, ok := t.grants[p]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// Has reports whether p is configured in this table.
func (t *PermissionTable) Has(p Permission) bool {
	if t == nil {
		return false
	}
	_, ok := t.grants[p]
	return ok
}

// Decide evaluates p for role. Permissions outside the closed set or missing from
// the table deny with ReasonUnknownPermission.
func (t *PermissionTable) Decide(role Role, p Permission) Decision {
	d := Decision{Permission: p, Role: role}
	switch {
	case !p.Known() || !t.Has(p):
		d.Reason = ReasonUnknownPermission
	case t.Allows(role, p):
		d.Allowed = true
		d.Reason = ReasonNone
	default:
		d.Reason = ReasonRoleLacksPermission
	}
	return d
}

// RolesFor returns the roles holding p, in canonical role order.
func (t *PermissionTable) RolesFor(p Permission) []Role {
	var out []Role
	for _, r := range allRoles {
		if t.Allows(r, p) {
			out = append(out, r)
		}
	}
	return out
}

// Granted returns every permission role holds, sorted.
func (t *PermissionTable) Granted(role Role) []Permission {
	var out []Permission
	for _, p := range Permissions() {
		if t.Allows(role, p) {
			out = append(out, p)
		}
	}
	return out
}

// Entries returns a copy of the table suitable for display.
func (t *PermissionTable) Entries() map[Permission][]Role {
	out := make(map[Permission][]Role)
	if t == nil {
		return out
	}
	for p := range t.grants {
		out[p] = t.RolesFor(p)
	}
	return out
}

// DenyReason explains a negative permission decision.
type DenyReason int

const (
	// ReasonNone is used for allowed decisions.
	ReasonNone DenyReason = iota
	// ReasonNotAuthorized means no authorized profile is loaded.
	ReasonNotAuthorized
	// ReasonUnknownPermission means the permission is not in the table.
	ReasonUnknownPermission
	// ReasonRoleLacksPermission means the role is not in the permission's role set.
	ReasonRoleLacksPermission
)

// String returns a short, stable label.
func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "allowed"
	case ReasonNotAuthorized:
		return "not authorized"
	case ReasonUnknownPermission:
		return "unknown permission"
	case ReasonRoleLacksPermission:
		return "role lacks permission"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a permission check.
type Decision struct {
	Permission Permission `json:"permission"`
	Allowed    bool       `json:"allowed"`
	Reason     DenyReason `json:"-"`
	Role       Role       `json:"role,omitempty"`
}

// ReasonText returns the reason label for JSON consumers.
func (d Decision) ReasonText() string { return d.Reason.String() }
