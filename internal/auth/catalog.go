package auth

import "strings"

// Permission is a fine-grained claim value in {category}.{action}
// form. Roles carry sets of permissions; users inherit the union of
// their roles' sets.
type Permission string

// The permission catalog. Adding a value here is the only step needed
// to make it assignable; authorisation checks compare exact strings.
const (
	PermUsersView        Permission = "users.view"
	PermUsersManage      Permission = "users.manage"
	PermUsersAssignRoles Permission = "users.assign_roles"
	PermUsersLock        Permission = "users.lock"
	PermUsersDelete      Permission = "users.delete"
	PermRolesView        Permission = "roles.view"
	PermRolesManage      Permission = "roles.manage"
	PermSessionsView     Permission = "sessions.view"
	PermSessionsRevoke   Permission = "sessions.revoke"
	PermAuditView        Permission = "audit.view"
)

var catalog = []Permission{
	PermUsersView,
	PermUsersManage,
	PermUsersAssignRoles,
	PermUsersLock,
	PermUsersDelete,
	PermRolesView,
	PermRolesManage,
	PermSessionsView,
	PermSessionsRevoke,
	PermAuditView,
}

// AllPermissions returns the full catalog in declaration order. The
// slice is a copy; callers may reorder or filter freely.
func AllPermissions() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// KnownPermission reports whether p is in the catalog.
func KnownPermission(p Permission) bool {
	for _, known := range catalog {
		if known == p {
			return true
		}
	}
	return false
}

// Category returns the {category} half of the permission value, or ""
// for a malformed value with no dot.
func (p Permission) Category() string {
	if i := strings.IndexByte(string(p), '.'); i > 0 {
		return string(p[:i])
	}
	return ""
}

// Action returns the {action} half of the permission value.
func (p Permission) Action() string {
	if i := strings.IndexByte(string(p), '.'); i >= 0 && i+1 < len(p) {
		return string(p[i+1:])
	}
	return ""
}

// PermissionsByCategory groups the catalog for display surfaces such
// as role-editing screens.
func PermissionsByCategory() map[string][]Permission {
	grouped := make(map[string][]Permission)
	for _, p := range catalog {
		cat := p.Category()
		grouped[cat] = append(grouped[cat], p)
	}
	return grouped
}

// defaultRoleClaims seeds the built-in roles. SuperAdmin is absent on
// purpose: top rank bypasses permission checks entirely, so
// materialising claims for it would only drift from the catalog.
var defaultRoleClaims = map[string][]Permission{
	RoleAdmin: {
		PermUsersView,
		PermUsersManage,
		PermUsersAssignRoles,
		PermUsersLock,
		PermRolesView,
		PermSessionsView,
		PermSessionsRevoke,
		PermAuditView,
	},
	RoleUser: {
		PermUsersView,
	},
}
