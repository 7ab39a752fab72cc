package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/uptrace/bun"
)

type VerifyEmailMessage struct {
	Token string `json:"token" query:"token" form:"token"`
}

func (e VerifyEmailMessage) Type() string { return "user.verify_email" }

type VerifyEmailHandler struct {
	commandBase
}

func NewVerifyEmailHandler(repo RepositoryManager, opts ...CommandOption) *VerifyEmailHandler {
	return &VerifyEmailHandler{commandBase: newCommandBase(repo, opts)}
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	ctx, cancel, err := h.begin(ctx, "email verification")
	if err != nil {
		return err
	}
	defer cancel()
	return h.execute(ctx, event)
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	token := strings.TrimSpace(event.Token)
	if token == "" {
		return ErrOneShotTokenInvalid
	}

	var user *User
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().FindByOneShotTokenTx(ctx, tx, OneShotVerification, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrOneShotTokenInvalid
			}
			return err
		}

		// a concurrent consumer may have cleared the token since the lookup
		return h.repo.Users().ConsumeVerificationTokenTx(ctx, tx, user.ID, token)
	})
	if err != nil {
		return asError(err, "failed to verify email")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
	})

	return nil
}
