package auth

import "fmt"

// Role represents an application's authorization role.
// Keep string form for easy persistence; valid values are the constants below.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleManager     Role = "manager"
	RoleSiteManager Role = "site_manager"
	RoleAssistant   Role = "assistant"
	RoleEmployee    Role = "employee"
)

// DefaultRole is assigned to profiles created on first sign-in.
const DefaultRole = RoleEmployee

var allRoles = []Role{RoleOwner, RoleManager, RoleSiteManager, RoleAssistant, RoleEmployee}

// Roles returns every known role.
func Roles() []Role {
	return append([]Role(nil), allRoles...)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleSiteManager, RoleAssistant, RoleEmployee:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the role belongs to company management (owner or manager).
func (r Role) IsAdmin() bool {
	return r == RoleOwner || r == RoleManager
}

// DisplayName returns the human-facing label used by the UI.
func (r Role) DisplayName() string {
	switch r {
	case RoleOwner:
		return "Majitel"
	case RoleManager:
		return "Manažer"
	case RoleSiteManager:
		return "Stavbyvedoucí"
	case RoleAssistant:
		return "Asistentka"
	case RoleEmployee:
		return "Zaměstnanec"
	default:
		return "Neznámá role"
	}
}

// ParseRole converts a stored or configured value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so unknown roles are rejected at decode time.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
