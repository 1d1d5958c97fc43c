package auth

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermDeviceRead      Permission = "device:read"
	PermCommandSend     Permission = "command:send"
	PermInterfaceManage Permission = "interface:manage"
	PermDiscoveryManage Permission = "discovery:manage"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermCommandSend,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermCommandSend,
		PermInterfaceManage,
		PermDiscoveryManage,
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

// PermissionsForRole returns all permissions granted to a role, or nil for
// unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
