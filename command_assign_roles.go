package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AssignRolesMessage struct {
	Actor  *User     `json:"-"`
	UserID uuid.UUID `json:"-"`
	Roles  []string  `json:"roles"`
}

func (e AssignRolesMessage) Type() string { return "user.roles.assign" }

// AssignRolesHandler replaces the role set of a user. Only admins may
// call it.
type AssignRolesHandler struct {
	commandBase
}

func NewAssignRolesHandler(repo RepositoryManager, opts ...CommandOption) *AssignRolesHandler {
	return &AssignRolesHandler{commandBase: newCommandBase(repo, opts)}
}

func (h *AssignRolesHandler) Execute(ctx context.Context, event AssignRolesMessage) (*User, error) {
	ctx, cancel, err := h.begin(ctx, "role assignment")
	if err != nil {
		return nil, err
	}
	defer cancel()
	return h.execute(ctx, event)
}

func (h *AssignRolesHandler) execute(ctx context.Context, event AssignRolesMessage) (*User, error) {
	if err := Authorize(event.Actor, RequireAdmin()); err != nil {
		return nil, err
	}

	roles := make(RoleSet, len(event.Roles))
	for _, name := range event.Roles {
		role, ok := ParseRole(name)
		if !ok {
			return nil, wrapAs(ErrValidation, nil).WithMetadata(map[string]any{
				"fields": map[string]string{"roles": "unknown role " + name},
			})
		}
		roles[role] = struct{}{}
	}

	var user *User
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.repo.Users().FindByIDTx(ctx, tx, event.UserID); err != nil {
			return err
		}

		if err := h.repo.Roles().SetUserRolesTx(ctx, tx, event.UserID, roles); err != nil {
			return err
		}

		var err error
		user, err = h.repo.Users().FindByIDTx(ctx, tx, event.UserID)
		return err
	})
	if err != nil {
		return nil, asError(err, "failed to assign roles")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventRolesChanged,
		Actor:     UserActor(event.Actor),
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"roles": roles.Strings(),
		},
	})

	return user, nil
}
