package auth

import (
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-auth-service/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so consumers can use auth helpers directly.
type ValidationListener = jwtware.ValidationListener

// PrincipalListener is a ValidationListener typed for Principal
type PrincipalListener func(c router.Context, p *Principal) error

// AsValidationListener adapts fn to the jwtware listener signature.
// Principals of another type are ignored.
func (fn PrincipalListener) AsValidationListener() ValidationListener {
	return func(c router.Context, principal any) error {
		p, ok := principal.(*Principal)
		if !ok || p == nil || fn == nil {
			return nil
		}
		return fn(c, p)
	}
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	for _, l := range listeners {
		if l != nil {
			cfg.ValidationListeners = append(cfg.ValidationListeners, l)
		}
	}
}

// RequireVerifiedEmail rejects principals whose email is not verified
func RequireVerifiedEmail() ValidationListener {
	return PrincipalListener(func(_ router.Context, p *Principal) error {
		if p.User == nil || p.User.IsVerified {
			return nil
		}
		return wrapAs(ErrForbidden, nil).WithMetadata(map[string]any{
			"requirement": "verified email",
			"user_id":     p.User.ID.String(),
		})
	}).AsValidationListener()
}
