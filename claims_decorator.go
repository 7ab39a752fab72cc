package auth

import "context"

// ClaimsDecorator can add extension claims before a token is signed.
// Implementations may only touch Claims.Extra and must leave registered
// and identity claims untouched. user is nil for tokens issued without
// a resolved account.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, user *User, claims *Claims) error
}

// ClaimsDecoratorFunc adapts a function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(ctx context.Context, user *User, claims *Claims) error

// Decorate satisfies the ClaimsDecorator interface.
func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, user *User, claims *Claims) error {
	if f == nil {
		return nil
	}
	return f(ctx, user, claims)
}

type noopClaimsDecorator struct{}

func (noopClaimsDecorator) Decorate(context.Context, *User, *Claims) error {
	return nil
}

func normalizeClaimsDecorator(d ClaimsDecorator) ClaimsDecorator {
	if d == nil {
		return noopClaimsDecorator{}
	}
	return d
}

// RolesClaimDecorator adds the user's role names under the "roles" claim
func RolesClaimDecorator() ClaimsDecorator {
	return ClaimsDecoratorFunc(func(_ context.Context, user *User, claims *Claims) error {
		if user == nil || claims.Kind() != TokenAccess {
			return nil
		}
		if claims.Extra == nil {
			claims.Extra = map[string]any{}
		}
		claims.Extra["roles"] = user.Roles().Strings()
		return nil
	})
}
