package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SetUserActiveMessage struct {
	Actor    *User     `json:"-"`
	UserID   uuid.UUID `json:"-"`
	IsActive bool      `json:"is_active"`
}

func (e SetUserActiveMessage) Type() string { return "user.status.set" }

// SetUserActiveHandler activates or deactivates an account. Admin only.
type SetUserActiveHandler struct {
	commandBase
}

func NewSetUserActiveHandler(repo RepositoryManager, opts ...CommandOption) *SetUserActiveHandler {
	return &SetUserActiveHandler{commandBase: newCommandBase(repo, opts)}
}

func (h *SetUserActiveHandler) Execute(ctx context.Context, event SetUserActiveMessage) (*User, error) {
	ctx, cancel, err := h.begin(ctx, "user status change")
	if err != nil {
		return nil, err
	}
	defer cancel()
	return h.execute(ctx, event)
}

func (h *SetUserActiveHandler) execute(ctx context.Context, event SetUserActiveMessage) (*User, error) {
	if err := Authorize(event.Actor, RequireAdmin()); err != nil {
		return nil, err
	}

	var (
		user *User
		was  bool
	)
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := h.repo.Users().FindByIDTx(ctx, tx, event.UserID)
		if err != nil {
			return err
		}
		was = current.IsActive

		if err := h.repo.Users().SetActiveTx(ctx, tx, event.UserID, event.IsActive); err != nil {
			return err
		}

		current.IsActive = event.IsActive
		user = current
		return nil
	})
	if err != nil {
		return nil, asError(err, "failed to update user status")
	}

	if was != event.IsActive {
		h.record(ctx, ActivityEvent{
			EventType: ActivityEventUserStatusChanged,
			Actor:     UserActor(event.Actor),
			UserID:    user.ID.String(),
			Metadata: map[string]any{
				"from_active": was,
				"to_active":   event.IsActive,
			},
		})
	}

	return user, nil
}
