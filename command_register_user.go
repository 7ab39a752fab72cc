package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used to parse phone numbers without a country code
const DefaultPhoneRegion = "US"

type RegisterUserMessage struct {
	FirstName string `json:"first_name" form:"first_name"`
	LastName  string `json:"last_name" form:"last_name"`
	Email     string `json:"email" form:"email"`
	Phone     string `json:"phone_number" form:"phone_number"`
	Password  string `json:"password" form:"password"`
	UseHashid bool   `json:"-" form:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

func (e RegisterUserMessage) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, StrongPasswordRules...),
		validation.Field(&e.FirstName, validation.Length(0, 100)),
		validation.Field(&e.LastName, validation.Length(0, 100)),
		validation.Field(&e.Phone, validation.By(ValidatePhoneNumber(DefaultPhoneRegion))),
	)
	return NewValidationError(err)
}

// RegisterUserResponse is filled on success
type RegisterUserResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

// RegistrationConfig holds the account defaults applied on registration
type RegistrationConfig struct {
	TrialPeriod  time.Duration
	DefaultRoles RoleSet
	PhoneRegion  string
}

type RegisterUserHandler struct {
	commandBase
	config RegistrationConfig
}

func NewRegisterUserHandler(repo RepositoryManager, config RegistrationConfig, opts ...CommandOption) *RegisterUserHandler {
	if config.PhoneRegion == "" {
		config.PhoneRegion = DefaultPhoneRegion
	}
	return &RegisterUserHandler{
		commandBase: newCommandBase(repo, opts),
		config:      config,
	}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) (*RegisterUserResponse, error) {
	ctx, cancel, err := h.begin(ctx, "user registration")
	if err != nil {
		return nil, err
	}
	defer cancel()
	return h.execute(ctx, event)
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) (*RegisterUserResponse, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	phone := ""
	if event.Phone != "" {
		var err error
		if phone, err = NormalizePhoneNumber(event.Phone, h.config.PhoneRegion); err != nil {
			return nil, NewValidationError(validation.Errors{"phone_number": err})
		}
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, CategoryValidation, "invalid password provided")
	}

	token, err := NewOneShotToken()
	if err != nil {
		return nil, goerrors.Wrap(err, CategoryInternal, "failed to generate verification token")
	}

	now := h.now().UTC()
	user := &User{
		Email:        NormalizeEmail(event.Email),
		PasswordHash: hash,
		FirstName:    event.FirstName,
		LastName:     event.LastName,
		Phone:        phone,
		IsActive:     true,
		IsVerified:   false,
	}

	if h.config.TrialPeriod > 0 {
		trial := now.Add(h.config.TrialPeriod)
		user.TrialExpiresAt = &trial
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	user.SetRoles(h.config.DefaultRoles)

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := h.repo.Users().ExistsByEmailTx(ctx, tx, user.Email)
		if err != nil {
			return err
		}
		if exists {
			return ErrEmailTaken
		}

		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return err
		}

		// the token is stored with the account, a mail failure later on
		// does not undo the registration
		if err := h.repo.Users().SetVerificationTokenTx(ctx, tx, user.ID, token); err != nil {
			return err
		}
		user.VerificationToken = token

		return nil
	})
	if err != nil {
		return nil, asError(err, "user registration transaction failed")
	}

	h.logger.Info("registered user %s", user.ID)

	h.deliver(ctx, func(c *EmailComposer) (EmailMessage, error) {
		return c.VerificationEmail(user, token)
	})

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"roles": user.Roles().Strings(),
		},
	})

	return &RegisterUserResponse{UserID: user.ID, Email: user.Email}, nil
}
