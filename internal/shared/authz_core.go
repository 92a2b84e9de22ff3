package shared

// RoleAdmin is the role that passes every admin-only gate.
const RoleAdmin = "admin"

// Administration permissions.
const (
	PermUsersView = "ver_usuarios"
)

// AdminScopes lists permissions of the administration module.
func AdminScopes() []string {
	return []string{
		PermUsersView,
	}
}
