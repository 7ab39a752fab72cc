package auth

import (
	"fmt"
	"strings"
)

// HasRole reports whether the user holds role
func HasRole(user *User, role Role) bool {
	if user == nil {
		return false
	}
	return user.Roles().Has(role)
}

// HasAny is true when the user holds at least one of roles. An empty
// list is never satisfied.
func HasAny(user *User, roles ...Role) bool {
	if user == nil {
		return false
	}
	held := user.Roles()
	for _, r := range roles {
		if held.Has(r) {
			return true
		}
	}
	return false
}

// HasAll is true when the user holds every one of roles. An empty list
// is always satisfied.
func HasAll(user *User, roles ...Role) bool {
	if user == nil {
		return len(roles) == 0
	}
	held := user.Roles()
	for _, r := range roles {
		if !held.Has(r) {
			return false
		}
	}
	return true
}

// IsAdmin treats the superuser flag as equivalent to the admin role
func IsAdmin(user *User) bool {
	if user == nil {
		return false
	}
	return user.IsSuperuser || HasRole(user, RoleAdmin)
}

// HasPermission checks the catalog for the user's roles. Superusers
// hold every permission.
func HasPermission(catalog RoleCatalog, user *User, permission string) bool {
	if user == nil {
		return false
	}
	if user.IsSuperuser {
		return true
	}
	return catalog.Grants(user.Roles(), permission)
}

// Requirement is a predicate gating an operation
type Requirement interface {
	Satisfied(user *User) bool
	Describe() string
}

type requirementFunc struct {
	desc string
	fn   func(*User) bool
}

func (r requirementFunc) Satisfied(user *User) bool { return r.fn(user) }

func (r requirementFunc) Describe() string { return r.desc }

// RequireRole needs role
func RequireRole(role Role) Requirement {
	return requirementFunc{
		desc: "role " + string(role),
		fn:   func(u *User) bool { return HasRole(u, role) },
	}
}

// RequireAnyRole needs at least one of roles
func RequireAnyRole(roles ...Role) Requirement {
	return requirementFunc{
		desc: "any of " + joinRoles(roles),
		fn:   func(u *User) bool { return HasAny(u, roles...) },
	}
}

// RequireAllRoles needs every one of roles
func RequireAllRoles(roles ...Role) Requirement {
	return requirementFunc{
		desc: "all of " + joinRoles(roles),
		fn:   func(u *User) bool { return HasAll(u, roles...) },
	}
}

// RequireAdmin needs the admin role or the superuser flag
func RequireAdmin() Requirement {
	return requirementFunc{
		desc: "admin",
		fn:   IsAdmin,
	}
}

// RequirePermission needs a role granting permission
func RequirePermission(catalog RoleCatalog, permission string) Requirement {
	return requirementFunc{
		desc: "permission " + permission,
		fn:   func(u *User) bool { return HasPermission(catalog, u, permission) },
	}
}

// Authorize fails with ErrForbidden when req is not satisfied
func Authorize(user *User, req Requirement) error {
	if req == nil || req.Satisfied(user) {
		return nil
	}
	meta := map[string]any{"requirement": req.Describe()}
	if user != nil {
		meta["user_id"] = user.ID.String()
	}
	return wrapAs(ErrForbidden, nil).WithMetadata(meta)
}

func joinRoles(roles []Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return fmt.Sprintf("[%s]", strings.Join(names, ","))
}
