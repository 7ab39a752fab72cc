package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// DefaultContextKey is the fiber Locals key holding the Principal
const DefaultContextKey = "user"

var userCtxKey = &contextKey{"user"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// Principal is the authenticated caller of a request
type Principal struct {
	User   *User
	Claims *Claims
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// WithClaimsContext sets the verified claims in the given context
func WithClaimsContext(r context.Context, claims *Claims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the claims from the standard context
func GetClaims(ctx context.Context) (*Claims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*Claims)
	return raw, ok && raw != nil
}

// enrichContext propagates a Principal to the standard context
func enrichContext(ctx context.Context, principal any) context.Context {
	p, ok := principal.(*Principal)
	if !ok || p == nil {
		return ctx
	}
	return WithClaimsContext(WithContext(ctx, p.User), p.Claims)
}

// GetPrincipal reads the Principal stored by the JWT middleware
func GetPrincipal(c *fiber.Ctx, key string) (*Principal, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	p, ok := c.Locals(key).(*Principal)
	return p, ok && p != nil && p.User != nil
}

// Can checks a permission for the user stored in ctx
func Can(ctx context.Context, catalog RoleCatalog, permission string) bool {
	user, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return HasPermission(catalog, user, permission)
}
