package auth

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

// SeedRoles stores the role catalog, updating existing rows
func SeedRoles(ctx context.Context, repo RepositoryManager, catalog []RoleInfo) error {
	return repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, info := range catalog {
			if err := repo.Roles().UpsertInfoTx(ctx, tx, info); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureAdmin creates an active, verified superuser holding the admin
// role. An existing account is promoted and keeps its password.
func EnsureAdmin(ctx context.Context, repo RepositoryManager, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, wrapAs(ErrNoEmptyString, nil).WithMetadata(map[string]any{"field": "email"})
	}

	var out *User
	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := repo.Users().FindByEmailTx(ctx, tx, email)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := validation.Validate(password, PasswordRules...); err != nil {
				return NewValidationError(validation.Errors{"password": err})
			}

			hash, err := HashPassword(password)
			if err != nil {
				return err
			}

			record := &User{
				Email:        email,
				PasswordHash: hash,
				IsActive:     true,
				IsVerified:   true,
				IsSuperuser:  true,
			}
			record.SetRoles(NewRoleSet(RoleAdmin))

			out, err = repo.Users().CreateTx(ctx, tx, record)
			return err
		case err != nil:
			return err
		}

		if err := repo.Users().SetSuperuserTx(ctx, tx, user.ID, true); err != nil {
			return err
		}

		roles := user.Roles()
		roles[RoleAdmin] = struct{}{}
		if err := repo.Roles().SetUserRolesTx(ctx, tx, user.ID, roles); err != nil {
			return err
		}

		out, err = repo.Users().FindByIDTx(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, asError(err, "failed to ensure admin account")
	}

	return out, nil
}
