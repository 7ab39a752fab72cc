package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DefaultPasswordResetTTL is how long a reset token is honored
const DefaultPasswordResetTTL = time.Hour

type InitializePasswordResetMessage struct {
	EmailRequestMessage
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

// InitializePasswordResetHandler stores a reset token with its expiry
// and mails the recovery link. Unknown addresses are a silent no-op.
type InitializePasswordResetHandler struct {
	commandBase
	ttl time.Duration
}

func NewInitializePasswordResetHandler(repo RepositoryManager, ttl time.Duration, opts ...CommandOption) *InitializePasswordResetHandler {
	if ttl <= 0 {
		ttl = DefaultPasswordResetTTL
	}
	return &InitializePasswordResetHandler{
		commandBase: newCommandBase(repo, opts),
		ttl:         ttl,
	}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) (string, error) {
	ctx, cancel, err := h.begin(ctx, "password reset initialization")
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := h.execute(ctx, event); err != nil {
		return "", err
	}
	return MessageResetSent, nil
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	token, err := NewOneShotToken()
	if err != nil {
		return goerrors.Wrap(err, CategoryInternal, "failed to generate password reset token")
	}
	expiresAt := h.now().UTC().Add(h.ttl)

	var user *User
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := h.repo.Users().FindByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		if err := h.repo.Users().SetResetTokenTx(ctx, tx, found.ID, token, expiresAt); err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		return asError(err, "failed to initialize password reset")
	}

	if user == nil {
		h.logger.Debug("password reset requested for unknown email")
		return nil
	}

	h.deliver(ctx, func(c *EmailComposer) (EmailMessage, error) {
		return c.PasswordResetEmail(user, token, expiresAt)
	})

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"expires_at": expiresAt,
		},
	})

	return nil
}
