package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermStateRead   Permission = "state:read"
	PermINDIOperate Permission = "indi:operate"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStateRead,
	},
	RoleOperator: {
		PermStateRead,
		PermINDIOperate,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
