package auth

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// EmailRequestMessage carries the address for resend-verification and
// forgot-password
type EmailRequestMessage struct {
	Email string `json:"email" query:"email" form:"email"`
}

func (e EmailRequestMessage) Validate() error {
	return NewValidationError(validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	))
}

type ResendVerificationMessage struct {
	EmailRequestMessage
}

func (e ResendVerificationMessage) Type() string { return "user.verification.resend" }

// ResendVerificationHandler rotates the verification token of an
// unverified account and mails it again. Unknown and already verified
// addresses are a silent no-op.
type ResendVerificationHandler struct {
	commandBase
}

func NewResendVerificationHandler(repo RepositoryManager, opts ...CommandOption) *ResendVerificationHandler {
	return &ResendVerificationHandler{commandBase: newCommandBase(repo, opts)}
}

func (h *ResendVerificationHandler) Execute(ctx context.Context, event ResendVerificationMessage) (string, error) {
	ctx, cancel, err := h.begin(ctx, "verification resend")
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := h.execute(ctx, event); err != nil {
		return "", err
	}
	return MessageVerificationSent, nil
}

func (h *ResendVerificationHandler) execute(ctx context.Context, event ResendVerificationMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	token, err := NewOneShotToken()
	if err != nil {
		return goerrors.Wrap(err, CategoryInternal, "failed to generate verification token")
	}

	var user *User
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := h.repo.Users().FindByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		if found.IsVerified {
			return nil
		}

		if err := h.repo.Users().SetVerificationTokenTx(ctx, tx, found.ID, token); err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		return asError(err, "failed to resend verification")
	}

	if user == nil {
		h.logger.Debug("verification resend skipped")
		return nil
	}

	h.deliver(ctx, func(c *EmailComposer) (EmailMessage, error) {
		return c.VerificationEmail(user, token)
	})

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventVerificationResent,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
	})

	return nil
}
