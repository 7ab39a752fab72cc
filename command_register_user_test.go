package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-service"
)

type commandFixture struct {
	repo   auth.RepositoryManager
	clock  *testClock
	mailer *recordingMailer
	sink   *recordingSink
	opts   []auth.CommandOption
}

func newCommandFixture(t *testing.T) *commandFixture {
	t.Helper()

	clock := newTestClock()
	repo, _ := setupRepositories(t, clock.Now)

	composer, err := auth.NewEmailComposer("Acme", "https://app.example.com/")
	require.NoError(t, err)

	f := &commandFixture{
		repo:   repo,
		clock:  clock,
		mailer: &recordingMailer{},
		sink:   &recordingSink{},
	}
	f.opts = []auth.CommandOption{
		auth.WithCommandMailer(f.mailer, composer),
		auth.WithCommandActivitySink(f.sink),
		auth.WithCommandClock(clock.Now),
	}
	return f
}

func (f *commandFixture) register(t *testing.T, email string) *auth.User {
	t.Helper()

	handler := auth.NewRegisterUserHandler(f.repo, auth.RegistrationConfig{}, f.opts...)
	resp, err := handler.Execute(context.Background(), auth.RegisterUserMessage{
		Email:    email,
		Password: "Password123",
	})
	require.NoError(t, err)

	user, err := f.repo.Users().FindByID(context.Background(), resp.UserID)
	require.NoError(t, err)
	return user
}

func TestRegisterUserHandler(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()

	handler := auth.NewRegisterUserHandler(f.repo, auth.RegistrationConfig{
		TrialPeriod:  14 * 24 * time.Hour,
		DefaultRoles: auth.NewRoleSet(auth.RoleAnalyst),
	}, f.opts...)

	resp, err := handler.Execute(ctx, auth.RegisterUserMessage{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "Jane@Example.com",
		Phone:     "+1 650-253-0000",
		Password:  "Password123",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", resp.Email)

	user, err := f.repo.Users().FindByID(ctx, resp.UserID)
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsVerified)
	assert.False(t, user.IsSuperuser)
	assert.Equal(t, "+16502530000", user.Phone)
	assert.NotEmpty(t, user.VerificationToken)
	assert.Equal(t, []string{"analyst"}, user.Roles().Strings())
	require.NotNil(t, user.TrialExpiresAt)
	assert.True(t, user.InTrial(f.clock.Now()))
	assert.NoError(t, auth.ComparePasswordAndHash("Password123", user.PasswordHash))

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jane@example.com", sent[0].To)
	assert.Equal(t, "Acme - Verify your email", sent[0].Subject)
	assert.Contains(t, sent[0].TextBody, "Hi Jane Doe")
	assert.Contains(t, sent[0].TextBody, "https://app.example.com/verify-email?token="+user.VerificationToken)
	assert.Contains(t, sent[0].HTMLBody, "Verify email")

	require.Len(t, f.sink.events, 1)
	event := f.sink.events[0]
	assert.Equal(t, auth.ActivityEventUserRegistered, event.EventType)
	assert.Equal(t, user.ID.String(), event.UserID)
	assert.Equal(t, []string{"analyst"}, event.Metadata["roles"])
}

func TestRegisterUserHandler_DuplicateEmail(t *testing.T) {
	f := newCommandFixture(t)
	f.register(t, "jane@example.com")

	handler := auth.NewRegisterUserHandler(f.repo, auth.RegistrationConfig{}, f.opts...)
	_, err := handler.Execute(context.Background(), auth.RegisterUserMessage{
		Email:    "JANE@example.com",
		Password: "Password123",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
	assert.Equal(t, 409, auth.HTTPStatus(err))
	assert.Len(t, f.mailer.Sent(), 1)
}

func TestRegisterUserHandler_Validation(t *testing.T) {
	tests := []struct {
		name  string
		msg   auth.RegisterUserMessage
		field string
	}{
		{"missing email", auth.RegisterUserMessage{Password: "Password123"}, "email"},
		{"bad email", auth.RegisterUserMessage{Email: "nope", Password: "Password123"}, "email"},
		{"short password", auth.RegisterUserMessage{Email: "jane@example.com", Password: "Pa1"}, "password"},
		{"no digit", auth.RegisterUserMessage{Email: "jane@example.com", Password: "Passwordxx"}, "password"},
		{"no uppercase", auth.RegisterUserMessage{Email: "jane@example.com", Password: "password123"}, "password"},
		{"bad phone", auth.RegisterUserMessage{Email: "jane@example.com", Password: "Password123", Phone: "12"}, "phone_number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCommandFixture(t)
			handler := auth.NewRegisterUserHandler(f.repo, auth.RegistrationConfig{}, f.opts...)

			_, err := handler.Execute(context.Background(), tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, auth.ErrValidation)
			assert.Equal(t, 400, auth.HTTPStatus(err))

			fields := auth.AsError(err).ValidationMap()
			assert.Contains(t, fields, tt.field)

			assert.Empty(t, f.mailer.Sent())
			assert.Empty(t, f.sink.events)
		})
	}
}

func TestRegisterUserHandler_Hashid(t *testing.T) {
	f := newCommandFixture(t)
	handler := auth.NewRegisterUserHandler(f.repo, auth.RegistrationConfig{}, f.opts...)

	resp, err := handler.Execute(context.Background(), auth.RegisterUserMessage{
		Email:     "jane@example.com",
		Password:  "Password123",
		UseHashid: true,
	})
	require.NoError(t, err)

	expected, err := hashid.NewUUID("jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, expected, resp.UserID)
}

func TestRegisterUserHandler_MailFailureKeepsAccount(t *testing.T) {
	f := newCommandFixture(t)
	f.mailer.err = errors.New("smtp down")

	handler := auth.NewRegisterUserHandler(f.repo, auth.RegistrationConfig{}, f.opts...)
	resp, err := handler.Execute(context.Background(), auth.RegisterUserMessage{
		Email:    "jane@example.com",
		Password: "Password123",
	})
	require.NoError(t, err)

	user, err := f.repo.Users().FindByID(context.Background(), resp.UserID)
	require.NoError(t, err)
	assert.NotEmpty(t, user.VerificationToken)
}

func TestRegisterUserHandler_CancelledContext(t *testing.T) {
	f := newCommandFixture(t)
	handler := auth.NewRegisterUserHandler(f.repo, auth.RegistrationConfig{}, f.opts...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := handler.Execute(ctx, auth.RegisterUserMessage{
		Email:    "jane@example.com",
		Password: "Password123",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	exists, err := f.repo.Users().ExistsByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}
