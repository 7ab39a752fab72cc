package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Roles interface {
	UpsertInfo(ctx context.Context, info RoleInfo) error
	UpsertInfoTx(ctx context.Context, tx bun.IDB, info RoleInfo) error
	ListInfo(ctx context.Context) ([]RoleInfo, error)
	UserRoles(ctx context.Context, userID uuid.UUID) (RoleSet, error)
	UserRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (RoleSet, error)
	SetUserRoles(ctx context.Context, userID uuid.UUID, roles RoleSet) error
	SetUserRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roles RoleSet) error
}

type roles struct {
	db *bun.DB
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB) Roles {
	return &roles{db: db}
}

func (r *roles) UpsertInfo(ctx context.Context, info RoleInfo) error {
	return r.UpsertInfoTx(ctx, r.db, info)
}

func (r *roles) UpsertInfoTx(ctx context.Context, tx bun.IDB, info RoleInfo) error {
	if !info.Role.IsValid() {
		return goerrors.New("unknown role", CategoryValidation).
			WithMetadata(map[string]any{"role": string(info.Role)})
	}

	permissions := info.Permissions
	if permissions == nil {
		permissions = []string{}
	}

	record := &RoleRecord{
		Role:        info.Role,
		Description: info.Description,
		Permissions: permissions,
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (role) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("permissions = EXCLUDED.permissions").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, CategoryInternal, "failed to store role info")
	}
	return nil
}

func (r *roles) ListInfo(ctx context.Context) ([]RoleInfo, error) {
	var records []RoleRecord
	if err := r.db.NewSelect().Model(&records).Order("role ASC").Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, CategoryInternal, "failed to list roles")
	}

	out := make([]RoleInfo, 0, len(records))
	for i := range records {
		out = append(out, records[i].Info())
	}
	return out, nil
}

func (r *roles) UserRoles(ctx context.Context, userID uuid.UUID) (RoleSet, error) {
	return r.UserRolesTx(ctx, r.db, userID)
}

func (r *roles) UserRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (RoleSet, error) {
	var links []UserRoleLink
	err := tx.NewSelect().
		Model(&links).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, CategoryInternal, "failed to load user roles")
	}

	set := make(RoleSet, len(links))
	for _, link := range links {
		set[link.Role] = struct{}{}
	}
	return set, nil
}

func (r *roles) SetUserRoles(ctx context.Context, userID uuid.UUID, roles RoleSet) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return r.SetUserRolesTx(ctx, tx, userID, roles)
	})
}

// SetUserRolesTx replaces the user's role set
func (r *roles) SetUserRolesTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roles RoleSet) error {
	for role := range roles {
		if !role.IsValid() {
			return goerrors.New("unknown role", CategoryValidation).
				WithMetadata(map[string]any{"role": string(role)})
		}
	}

	if _, err := tx.NewDelete().
		Model((*UserRoleLink)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, CategoryInternal, "failed to clear user roles")
	}

	if len(roles) == 0 {
		return nil
	}

	links := make([]*UserRoleLink, 0, len(roles))
	for _, role := range roles.Slice() {
		links = append(links, &UserRoleLink{UserID: userID, Role: role})
	}

	if _, err := tx.NewInsert().Model(&links).Exec(ctx); err != nil {
		return goerrors.Wrap(err, CategoryInternal, "failed to store user roles")
	}
	return nil
}
