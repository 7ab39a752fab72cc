package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-service"
)

func newMockedProvider(clock *testClock) (*auth.UserProvider, *MockUserTracker, *MockPasswordAuthenticator) {
	tracker := new(MockUserTracker)
	hasher := new(MockPasswordAuthenticator)
	provider := auth.NewUserProvider(tracker).
		WithPasswordAuthenticator(hasher).
		WithClock(clock.Now)
	return provider, tracker, hasher
}

func trackedUser() *auth.User {
	return &auth.User{
		ID:           uuid.New(),
		Email:        "jane@example.com",
		PasswordHash: "hash",
		IsActive:     true,
	}
}

func TestUserProvider_VerifyCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		provider, tracker, hasher := newMockedProvider(newTestClock())
		user := trackedUser()

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "secret", "hash").Return(nil).Once()
		tracker.On("TrackSuccessfulLogin", mock.Anything, user).Return(nil).Once()

		got, err := provider.VerifyCredentials(ctx, "jane@example.com", "secret")
		require.NoError(t, err)
		assert.Same(t, user, got)

		tracker.AssertExpectations(t)
		hasher.AssertExpectations(t)
	})

	t.Run("unknown email", func(t *testing.T) {
		provider, tracker, hasher := newMockedProvider(newTestClock())

		tracker.On("FindByEmail", mock.Anything, "ghost@example.com").Return(nil, auth.ErrNotFound).Once()
		hasher.On("ComparePasswordAndHash", "secret", mock.AnythingOfType("string")).
			Return(auth.ErrMismatchedHashAndPassword).Once()

		got, err := provider.VerifyCredentials(ctx, "ghost@example.com", "secret")
		assert.Nil(t, got)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		hasher.AssertExpectations(t)
		tracker.AssertNotCalled(t, "TrackAttemptedLogin", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		provider, tracker, _ := newMockedProvider(newTestClock())

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(nil, errors.New("db down")).Once()

		_, err := provider.VerifyCredentials(ctx, "jane@example.com", "secret")
		require.Error(t, err)
		assert.Equal(t, auth.CategoryInternal, auth.AsError(err).Category)
	})

	t.Run("wrong password is tracked", func(t *testing.T) {
		provider, tracker, hasher := newMockedProvider(newTestClock())
		user := trackedUser()

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "wrong", "hash").Return(auth.ErrMismatchedHashAndPassword).Once()
		tracker.On("TrackAttemptedLogin", mock.Anything, user, auth.DefaultLoginCooldown).Return(nil).Once()

		_, err := provider.VerifyCredentials(ctx, "jane@example.com", "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		tracker.AssertExpectations(t)
		tracker.AssertNotCalled(t, "TrackSuccessfulLogin", mock.Anything, mock.Anything)
	})

	t.Run("tracking failure", func(t *testing.T) {
		provider, tracker, hasher := newMockedProvider(newTestClock())
		user := trackedUser()

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "wrong", "hash").Return(auth.ErrMismatchedHashAndPassword).Once()
		tracker.On("TrackAttemptedLogin", mock.Anything, user, auth.DefaultLoginCooldown).Return(errors.New("db down")).Once()

		_, err := provider.VerifyCredentials(ctx, "jane@example.com", "wrong")
		require.Error(t, err)
		assert.Equal(t, auth.CategoryInternal, auth.AsError(err).Category)
	})

	t.Run("inactive account after valid password", func(t *testing.T) {
		provider, tracker, hasher := newMockedProvider(newTestClock())
		user := trackedUser()
		user.IsActive = false

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "secret", "hash").Return(nil).Once()

		_, err := provider.VerifyCredentials(ctx, "jane@example.com", "secret")
		assert.ErrorIs(t, err, auth.ErrInactiveAccount)
		tracker.AssertNotCalled(t, "TrackSuccessfulLogin", mock.Anything, mock.Anything)
	})

	t.Run("inactive account with wrong password", func(t *testing.T) {
		provider, tracker, hasher := newMockedProvider(newTestClock())
		user := trackedUser()
		user.IsActive = false

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "wrong", "hash").Return(auth.ErrMismatchedHashAndPassword).Once()
		tracker.On("TrackAttemptedLogin", mock.Anything, user, auth.DefaultLoginCooldown).Return(nil).Once()

		_, err := provider.VerifyCredentials(ctx, "jane@example.com", "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		assert.NotErrorIs(t, err, auth.ErrInactiveAccount)
	})

	t.Run("success tracking failure is not fatal", func(t *testing.T) {
		provider, tracker, hasher := newMockedProvider(newTestClock())
		user := trackedUser()

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "secret", "hash").Return(nil).Once()
		tracker.On("TrackSuccessfulLogin", mock.Anything, user).Return(errors.New("db down")).Once()

		got, err := provider.VerifyCredentials(ctx, "jane@example.com", "secret")
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestUserProvider_Lockout(t *testing.T) {
	ctx := context.Background()

	t.Run("locked inside cooldown", func(t *testing.T) {
		clock := newTestClock()
		provider, tracker, hasher := newMockedProvider(clock)
		provider.WithLockoutPolicy(auth.LockoutPolicy{MaxAttempts: 3, Cooldown: time.Hour})

		lastAttempt := clock.Now().Add(-30 * time.Minute)
		user := trackedUser()
		user.LoginAttempts = 3
		user.LoginAttemptAt = &lastAttempt

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "secret", mock.MatchedBy(func(hash string) bool {
			return hash != "hash"
		})).Return(auth.ErrMismatchedHashAndPassword).Once()

		got, err := provider.VerifyCredentials(ctx, "jane@example.com", "secret")
		assert.Same(t, user, got)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		assert.Equal(t, 401, auth.HTTPStatus(err))
		assert.Equal(t, auth.TextCodeInvalidCredentials, auth.TextCode(err))
		assert.Equal(t, true, auth.AsError(err).Metadata["locked"])

		hasher.AssertExpectations(t)
		tracker.AssertNotCalled(t, "TrackAttemptedLogin", mock.Anything, mock.Anything, mock.Anything)
		tracker.AssertNotCalled(t, "TrackSuccessfulLogin", mock.Anything, mock.Anything)
	})

	t.Run("counter resets after cooldown", func(t *testing.T) {
		clock := newTestClock()
		provider, tracker, hasher := newMockedProvider(clock)
		provider.WithLockoutPolicy(auth.LockoutPolicy{MaxAttempts: 3, Cooldown: time.Hour})

		lastAttempt := clock.Now().Add(-2 * time.Hour)
		user := trackedUser()
		user.LoginAttempts = 10
		user.LoginAttemptAt = &lastAttempt

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "secret", "hash").Return(nil).Once()
		tracker.On("TrackSuccessfulLogin", mock.Anything, user).Return(nil).Once()

		_, err := provider.VerifyCredentials(ctx, "jane@example.com", "secret")
		require.NoError(t, err)
		tracker.AssertExpectations(t)
	})

	t.Run("disabled", func(t *testing.T) {
		clock := newTestClock()
		provider, tracker, hasher := newMockedProvider(clock)
		provider.WithLockoutPolicy(auth.LockoutPolicy{MaxAttempts: 0})

		lastAttempt := clock.Now()
		user := trackedUser()
		user.LoginAttempts = 50
		user.LoginAttemptAt = &lastAttempt

		tracker.On("FindByEmail", mock.Anything, "jane@example.com").Return(user, nil).Once()
		hasher.On("ComparePasswordAndHash", "secret", "hash").Return(nil).Once()
		tracker.On("TrackSuccessfulLogin", mock.Anything, user).Return(nil).Once()

		_, err := provider.VerifyCredentials(ctx, "jane@example.com", "secret")
		assert.NoError(t, err)
	})
}

func TestUserProvider_LockoutWithRepository(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	repo, _ := setupRepositories(t, clock.Now)
	seedUser(t, repo, "jane@example.com")

	provider := auth.NewUserProvider(repo.Users()).
		WithClock(clock.Now).
		WithLockoutPolicy(auth.LockoutPolicy{MaxAttempts: 2, Cooldown: time.Hour})

	for i := 0; i < 2; i++ {
		_, err := provider.VerifyCredentials(ctx, "jane@example.com", "nope")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	// the right password does not help while locked
	_, err := provider.VerifyCredentials(ctx, "jane@example.com", "Password123")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	clock.Advance(2 * time.Hour)

	user, err := provider.VerifyCredentials(ctx, "jane@example.com", "Password123")
	require.NoError(t, err)

	stored, err := repo.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LoginAttemptAt)
	require.NotNil(t, stored.LoggedInAt)
}

func TestLockoutPolicy_Locked(t *testing.T) {
	now := newTestClock().Now()
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-2 * time.Hour)

	policy := auth.LockoutPolicy{MaxAttempts: 3, Cooldown: time.Hour}

	tests := []struct {
		name     string
		policy   auth.LockoutPolicy
		user     *auth.User
		expected bool
	}{
		{name: "nil user", policy: policy, user: nil},
		{name: "no failed attempts", policy: policy, user: &auth.User{}},
		{name: "below limit", policy: policy, user: &auth.User{LoginAttempts: 2, LoginAttemptAt: &recent}},
		{name: "at limit", policy: policy, user: &auth.User{LoginAttempts: 3, LoginAttemptAt: &recent}, expected: true},
		{name: "cooldown elapsed", policy: policy, user: &auth.User{LoginAttempts: 9, LoginAttemptAt: &stale}},
		{name: "disabled", policy: auth.LockoutPolicy{Cooldown: time.Hour}, user: &auth.User{LoginAttempts: 9, LoginAttemptAt: &recent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.policy.Locked(tt.user, now))
		})
	}
}

func TestUserProvider_ConcurrentFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	repo, _ := setupRepositories(t, clock.Now)
	seedUser(t, repo, "jane@example.com")

	provider := auth.NewUserProvider(repo.Users()).
		WithClock(clock.Now).
		WithLockoutPolicy(auth.LockoutPolicy{MaxAttempts: 100, Cooldown: time.Hour})

	const attempts = 20

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := provider.VerifyCredentials(ctx, "jane@example.com", "nope")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	stored, err := repo.Users().FindByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, attempts, stored.LoginAttempts)
}
