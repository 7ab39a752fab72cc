package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-service"
)

// requestReset runs forgot-password for email and returns the stored token
func requestReset(t *testing.T, f *commandFixture, email string) string {
	t.Helper()

	handler := auth.NewInitializePasswordResetHandler(f.repo, time.Hour, f.opts...)
	_, err := handler.Execute(context.Background(), auth.InitializePasswordResetMessage{
		EmailRequestMessage: auth.EmailRequestMessage{Email: email},
	})
	require.NoError(t, err)

	user, err := f.repo.Users().FindByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotEmpty(t, user.ResetToken)
	return user.ResetToken
}

func TestInitializePasswordResetHandler(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()
	f.register(t, "jane@example.com")

	handler := auth.NewInitializePasswordResetHandler(f.repo, 2*time.Hour, f.opts...)
	msg, err := handler.Execute(ctx, auth.InitializePasswordResetMessage{
		EmailRequestMessage: auth.EmailRequestMessage{Email: "jane@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, auth.MessageResetSent, msg)

	user, err := f.repo.Users().FindByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, user.ResetToken)
	require.NotNil(t, user.ResetTokenExpiresAt)
	assert.True(t, f.clock.Now().Add(2*time.Hour).Equal(*user.ResetTokenExpiresAt))

	sent := f.mailer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Acme - Password recovery", sent[1].Subject)
	assert.Contains(t, sent[1].TextBody, "https://app.example.com/reset-password?token="+user.ResetToken)
	assert.Contains(t, sent[1].TextBody, "2024-03-01 14:00 UTC")

	assert.Contains(t, f.sink.Types(), auth.ActivityEventPasswordResetRequest)
}

func TestInitializePasswordResetHandler_UnknownEmail(t *testing.T) {
	f := newCommandFixture(t)

	handler := auth.NewInitializePasswordResetHandler(f.repo, 0, f.opts...)
	msg, err := handler.Execute(context.Background(), auth.InitializePasswordResetMessage{
		EmailRequestMessage: auth.EmailRequestMessage{Email: "ghost@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, auth.MessageResetSent, msg)
	assert.Empty(t, f.mailer.Sent())
	assert.Empty(t, f.sink.events)
}

func TestFinalizePasswordResetHandler(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()
	user := f.register(t, "jane@example.com")
	token := requestReset(t, f, "jane@example.com")

	handler := auth.NewFinalizePasswordResetHandler(f.repo, f.opts...)
	require.NoError(t, handler.Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:       token,
		NewPassword: "a-new-password",
	}))

	stored, err := f.repo.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("a-new-password", stored.PasswordHash))
	assert.Empty(t, stored.ResetToken)
	assert.Nil(t, stored.ResetTokenExpiresAt)

	assert.Contains(t, f.sink.Types(), auth.ActivityEventPasswordResetSuccess)

	err = handler.Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:       token,
		NewPassword: "another-password",
	})
	assert.ErrorIs(t, err, auth.ErrOneShotTokenInvalid)
}

func TestFinalizePasswordResetHandler_Expired(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()
	user := f.register(t, "jane@example.com")
	token := requestReset(t, f, "jane@example.com")

	f.clock.Advance(time.Hour)

	handler := auth.NewFinalizePasswordResetHandler(f.repo, f.opts...)
	err := handler.Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:       token,
		NewPassword: "a-new-password",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrOneShotTokenInvalid)
	assert.Equal(t, "expired", auth.AsError(err).Metadata["reason"])

	stored, err := f.repo.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("Password123", stored.PasswordHash))
	assert.NotContains(t, f.sink.Types(), auth.ActivityEventPasswordResetSuccess)
}

func TestFinalizePasswordResetHandler_Rejects(t *testing.T) {
	f := newCommandFixture(t)
	f.register(t, "jane@example.com")
	token := requestReset(t, f, "jane@example.com")
	handler := auth.NewFinalizePasswordResetHandler(f.repo, f.opts...)

	tests := []struct {
		name   string
		msg    auth.FinalizePasswordResetMessage
		target error
	}{
		{"short password", auth.FinalizePasswordResetMessage{Token: token, NewPassword: "short"}, auth.ErrValidation},
		{"short password checked first", auth.FinalizePasswordResetMessage{Token: "bogus", NewPassword: "short"}, auth.ErrValidation},
		{"confirmation mismatch", auth.FinalizePasswordResetMessage{Token: token, NewPassword: "a-new-password", ConfirmPassword: "another-password"}, auth.ErrValidation},
		{"empty token", auth.FinalizePasswordResetMessage{Token: " ", NewPassword: "a-new-password"}, auth.ErrOneShotTokenInvalid},
		{"unknown token", auth.FinalizePasswordResetMessage{Token: "bogus", NewPassword: "a-new-password"}, auth.ErrOneShotTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handler.Execute(context.Background(), tt.msg)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	// the valid token survives the failed attempts
	require.NoError(t, handler.Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:       token,
		NewPassword: "a-new-password",
	}))
}
