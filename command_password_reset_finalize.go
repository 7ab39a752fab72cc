package auth

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token       string `json:"token" query:"token" form:"token"`
	NewPassword string `json:"new_password" query:"new_password" form:"new_password"`

	// ConfirmPassword is optional; when sent it must match NewPassword
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

func (e FinalizePasswordResetMessage) Validate() error {
	confirm := []validation.Rule{}
	if e.ConfirmPassword != "" {
		confirm = append(confirm, validation.By(ValidateStringEquals(e.NewPassword)))
	}
	return NewValidationError(validation.ValidateStruct(&e,
		validation.Field(&e.NewPassword, PasswordRules...),
		validation.Field(&e.ConfirmPassword, confirm...),
	))
}

type FinalizePasswordResetHandler struct {
	commandBase
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, opts ...CommandOption) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{commandBase: newCommandBase(repo, opts)}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel, err := h.begin(ctx, "password reset finalization")
	if err != nil {
		return err
	}
	defer cancel()
	return h.execute(ctx, event)
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	// the candidate password is checked before the store is touched
	if err := event.Validate(); err != nil {
		return err
	}

	token := strings.TrimSpace(event.Token)
	if token == "" {
		return ErrOneShotTokenInvalid
	}

	passwordHash, err := HashPassword(event.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, CategoryValidation, "invalid new password provided")
	}

	var user *User
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().FindByOneShotTokenTx(ctx, tx, OneShotPasswordReset, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrOneShotTokenInvalid
			}
			return err
		}

		if user.ResetTokenExpiresAt == nil || !h.now().Before(*user.ResetTokenExpiresAt) {
			return wrapAs(ErrOneShotTokenInvalid, nil).WithMetadata(map[string]any{
				"reason": "expired",
			})
		}

		return h.repo.Users().ConsumeResetTokenTx(ctx, tx, user.ID, token, passwordHash)
	})
	if err != nil {
		return asError(err, "failed to finalize password reset")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
	})

	return nil
}
