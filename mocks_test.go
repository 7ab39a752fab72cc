package auth_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/goliatone/go-auth-service"
)

// MockUserTracker implements auth.UserTracker
type MockUserTracker struct {
	mock.Mock
}

func (m *MockUserTracker) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	if user := args.Get(0); user != nil {
		return user.(*auth.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserTracker) TrackAttemptedLogin(ctx context.Context, user *auth.User, cooldown time.Duration) error {
	args := m.Called(ctx, user, cooldown)
	return args.Error(0)
}

func (m *MockUserTracker) TrackSuccessfulLogin(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// MockPasswordAuthenticator implements auth.PasswordAuthenticator
type MockPasswordAuthenticator struct {
	mock.Mock
}

func (m *MockPasswordAuthenticator) HashPassword(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordAuthenticator) ComparePasswordAndHash(password, hash string) error {
	args := m.Called(password, hash)
	return args.Error(0)
}
