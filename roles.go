package auth

import (
	"sort"
	"strings"
)

// Role is a named capability grouping assigned to a user
type Role string

const (
	// RoleAdmin administers users and roles
	RoleAdmin Role = "admin"
	// RoleUser is a regular account
	RoleUser Role = "user"
	// RoleManager manages teams and their data
	RoleManager Role = "manager"
	// RoleAnalyst has read access to reports
	RoleAnalyst Role = "analyst"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleManager, RoleAnalyst:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// AllRoles returns all predefined roles
func AllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleUser,
		RoleManager,
		RoleAnalyst,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}

// RoleSet is an unordered set of roles
type RoleSet map[Role]struct{}

// NewRoleSet builds a set, dropping duplicates
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// ParseRoleSet builds a set from strings, skipping unknown roles
func ParseRoleSet(names ...string) RoleSet {
	set := make(RoleSet, len(names))
	for _, name := range names {
		if role, ok := ParseRole(name); ok {
			set[role] = struct{}{}
		}
	}
	return set
}

// Has reports membership
func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

// Slice returns the roles sorted by name
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the role names sorted
func (s RoleSet) Strings() []string {
	roles := s.Slice()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// Permission strings granted by roles
const (
	PermissionUsersRead    = "users:read"
	PermissionUsersWrite   = "users:write"
	PermissionRolesManage  = "roles:manage"
	PermissionReportsRead  = "reports:read"
	PermissionReportsWrite = "reports:write"
	PermissionTeamsManage  = "teams:manage"
	PermissionProfileRead  = "profile:read"
	PermissionProfileWrite = "profile:write"
)

// RoleInfo is the static metadata of a role
type RoleInfo struct {
	Role        Role     `json:"role"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// DefaultRoleCatalog is seeded into storage and used for permission checks
var DefaultRoleCatalog = []RoleInfo{
	{
		Role:        RoleAdmin,
		Description: "Full administrative access",
		Permissions: []string{
			PermissionUsersRead, PermissionUsersWrite, PermissionRolesManage,
			PermissionReportsRead, PermissionReportsWrite, PermissionTeamsManage,
			PermissionProfileRead, PermissionProfileWrite,
		},
	},
	{
		Role:        RoleManager,
		Description: "Manages teams and their reports",
		Permissions: []string{
			PermissionUsersRead, PermissionReportsRead, PermissionReportsWrite,
			PermissionTeamsManage, PermissionProfileRead, PermissionProfileWrite,
		},
	},
	{
		Role:        RoleAnalyst,
		Description: "Reads and builds reports",
		Permissions: []string{
			PermissionReportsRead, PermissionReportsWrite,
			PermissionProfileRead, PermissionProfileWrite,
		},
	},
	{
		Role:        RoleUser,
		Description: "Regular account",
		Permissions: []string{
			PermissionProfileRead, PermissionProfileWrite,
		},
	},
}

// RoleCatalog indexes role metadata by role
type RoleCatalog map[Role]RoleInfo

// NewRoleCatalog indexes the given entries
func NewRoleCatalog(infos ...RoleInfo) RoleCatalog {
	out := make(RoleCatalog, len(infos))
	for _, info := range infos {
		out[info.Role] = info
	}
	return out
}

// Grants reports whether any role in the set carries permission
func (c RoleCatalog) Grants(roles RoleSet, permission string) bool {
	for role := range roles {
		info, ok := c[role]
		if !ok {
			continue
		}
		for _, p := range info.Permissions {
			if p == permission {
				return true
			}
		}
	}
	return false
}
