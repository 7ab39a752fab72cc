package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// DefaultMaxLoginAttempts is the number of failed logins allowed
	// inside the cool down window
	DefaultMaxLoginAttempts = 5
	// DefaultLoginCooldown is the window failed logins are counted in
	DefaultLoginCooldown = 24 * time.Hour
)

// UserTracker is the store UserProvider verifies credentials against
type UserTracker interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	TrackAttemptedLogin(ctx context.Context, user *User, cooldown time.Duration) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// LockoutPolicy limits failed logins. MaxAttempts <= 0 disables it.
type LockoutPolicy struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// Locked reports whether user used up its failed logins inside the
// cool down window that started with its last failed attempt
func (p LockoutPolicy) Locked(user *User, now time.Time) bool {
	if p.MaxAttempts <= 0 || user == nil || user.LoginAttemptAt == nil {
		return false
	}
	if !withinPeriod(now, *user.LoginAttemptAt, p.Cooldown) {
		return false
	}
	return user.LoginAttempts >= p.MaxAttempts
}

// UserProvider checks email and password pairs
type UserProvider struct {
	store  UserTracker
	hasher PasswordAuthenticator
	policy LockoutPolicy
	now    func() time.Time
	logger Logger
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserTracker) *UserProvider {
	return &UserProvider{
		store:  store,
		hasher: BcryptHasher{},
		policy: LockoutPolicy{
			MaxAttempts: DefaultMaxLoginAttempts,
			Cooldown:    DefaultLoginCooldown,
		},
		now:    time.Now,
		logger: defLogger{},
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.logger = normalizeLogger(l)
	return u
}

func (u *UserProvider) WithLockoutPolicy(policy LockoutPolicy) *UserProvider {
	if policy.Cooldown <= 0 {
		policy.Cooldown = DefaultLoginCooldown
	}
	u.policy = policy
	return u
}

func (u *UserProvider) WithPasswordAuthenticator(hasher PasswordAuthenticator) *UserProvider {
	if hasher != nil {
		u.hasher = hasher
	}
	return u
}

func (u *UserProvider) WithClock(now func() time.Time) *UserProvider {
	if now != nil {
		u.now = now
	}
	return u
}

// VerifyCredentials returns the user owning email when password matches.
// Unknown emails, locked accounts and wrong passwords all fail with
// ErrInvalidCredentials. The active flag is checked only after the
// password so it cannot be guessed either.
func (u *UserProvider) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	user, err := u.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// keep the timing of unknown emails close to a real check
			_ = u.hasher.ComparePasswordAndHash(password, dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, CategoryInternal, "failed to retrieve user during verification")
	}

	if u.policy.Locked(user, u.now()) {
		_ = u.hasher.ComparePasswordAndHash(password, dummyHash)
		u.logger.Warn("login rejected, account %s locked after %d failed attempts", user.ID, user.LoginAttempts)
		return user, wrapAs(ErrInvalidCredentials, nil).WithMetadata(map[string]any{
			"locked": true,
		})
	}

	if err := u.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := u.store.TrackAttemptedLogin(ctx, user, u.policy.Cooldown); err2 != nil {
			return nil, goerrors.Wrap(err2, CategoryInternal, "failed to track login attempt")
		}
		return user, wrapAs(ErrInvalidCredentials, err)
	}

	if !user.IsActive {
		return user, ErrInactiveAccount
	}

	if err := u.store.TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login: %v", err)
	}

	return user, nil
}
