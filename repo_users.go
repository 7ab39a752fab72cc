package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Users interface {
	CredentialStore

	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	FindByOneShotTokenTx(ctx context.Context, tx bun.IDB, kind OneShotKind, token string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error)

	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)

	SetVerificationToken(ctx context.Context, id uuid.UUID, token string) error
	SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error
	SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expiresAt time.Time) error
	ConsumeVerificationToken(ctx context.Context, id uuid.UUID, token string) error
	ConsumeVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error
	ConsumeResetToken(ctx context.Context, id uuid.UUID, token, passwordHash string) error
	ConsumeResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token, passwordHash string) error

	TrackAttemptedLogin(ctx context.Context, user *User, cooldown time.Duration) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User, cooldown time.Duration) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error

	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetActiveTx(ctx context.Context, tx bun.IDB, id uuid.UUID, active bool) error
	SetSuperuserTx(ctx context.Context, tx bun.IDB, id uuid.UUID, superuser bool) error
}

type users struct {
	repository.Repository[*User]
	db  *bun.DB
	now func() time.Time
}

var _ Users = (*users)(nil)

type UsersOption func(*users)

// WithUsersClock overrides the time source used for timestamps
func WithUsersClock(now func() time.Time) UsersOption {
	return func(u *users) {
		if now != nil {
			u.now = now
		}
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repoUsers := &users{
		db:  db,
		now: time.Now,
		Repository: repository.NewRepository(db, repository.ModelHandlers[*User]{
			NewRecord: func() *User {
				return &User{}
			},
			GetID: func(record *User) uuid.UUID {
				if record == nil {
					return uuid.Nil
				}
				return record.ID
			},
			SetID: func(record *User, id uuid.UUID) {
				record.ID = id
			},
			GetIdentifier: func() string {
				return "email"
			},
			GetIdentifierValue: func(record *User) string {
				return record.Email
			},
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}
	return repoUsers
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrUserNotFound
	}
	return a.findOneTx(ctx, tx, "email", email)
}

func (a *users) FindByOneShotToken(ctx context.Context, kind OneShotKind, token string) (*User, error) {
	return a.FindByOneShotTokenTx(ctx, a.db, kind, token)
}

func (a *users) FindByOneShotTokenTx(ctx context.Context, tx bun.IDB, kind OneShotKind, token string) (*User, error) {
	column := kind.column()
	if column == "" {
		return nil, goerrors.New("unknown one-shot token kind", CategoryInternal).
			WithMetadata(map[string]any{"kind": string(kind)})
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUserNotFound
	}

	return a.findOneTx(ctx, tx, column, token)
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	if id == uuid.Nil {
		return nil, ErrUserNotFound
	}
	record, err := a.Repository.GetByIDTx(ctx, tx, id.String(),
		repository.SelectRelation("RoleLinks"),
	)
	return lookupResult(record, err, "id")
}

func (a *users) findOneTx(ctx context.Context, tx bun.IDB, column, value string) (*User, error) {
	record, err := a.Repository.GetTx(ctx, tx,
		repository.SelectBy(column, "=", value),
		repository.SelectRelation("RoleLinks"),
	)
	return lookupResult(record, err, column)
}

func lookupResult(record *User, err error, column string) (*User, error) {
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, wrapAs(ErrUserNotFound, err).WithMetadata(map[string]any{
				"column": column,
			})
		}
		return nil, goerrors.Wrap(err, CategoryInternal, "failed to retrieve user")
	}
	return record, nil
}

func (a *users) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return a.ExistsByEmailTx(ctx, a.db, email)
}

func (a *users) ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	total, err := a.Repository.CountTx(ctx, tx,
		repository.SelectBy("email", "=", NormalizeEmail(email)),
	)
	if err != nil {
		return false, goerrors.Wrap(err, CategoryInternal, "failed to check email")
	}
	return total > 0, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

// CreateTx inserts the user and its role links
func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	if record == nil {
		return nil, goerrors.New("user must not be nil", CategoryInternal)
	}

	prepareUserDefaults(record, a.now())
	links := record.RoleLinks

	record, err := a.Repository.CreateTx(ctx, tx, record)
	if err != nil {
		if repository.IsDuplicatedKey(err) || isUniqueViolation(err) {
			return nil, wrapAs(ErrEmailTaken, err)
		}
		return nil, goerrors.Wrap(err, CategoryInternal, "failed to create user")
	}
	record.RoleLinks = links

	if len(record.RoleLinks) > 0 {
		for _, link := range record.RoleLinks {
			link.UserID = record.ID
		}
		if _, err := tx.NewInsert().Model(&record.RoleLinks).Exec(ctx); err != nil {
			return nil, goerrors.Wrap(err, CategoryInternal, "failed to create user roles")
		}
	}

	return record, nil
}

func (a *users) SetVerificationToken(ctx context.Context, id uuid.UUID, token string) error {
	return a.SetVerificationTokenTx(ctx, a.db, id, token)
}

func (a *users) SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("verification_token = ?", token).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return expectAffected(res, err, ErrUserNotFound, "failed to set verification token")
}

func (a *users) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	return a.SetResetTokenTx(ctx, a.db, id, token, expiresAt)
}

func (a *users) SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expiresAt time.Time) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_reset_token = ?", token).
		Set("password_reset_token_expires_at = ?", expiresAt.UTC()).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return expectAffected(res, err, ErrUserNotFound, "failed to set password reset token")
}

func (a *users) ConsumeVerificationToken(ctx context.Context, id uuid.UUID, token string) error {
	return a.ConsumeVerificationTokenTx(ctx, a.db, id, token)
}

// ConsumeVerificationTokenTx marks the user verified and clears the
// token, only if the stored token still matches
func (a *users) ConsumeVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("is_verified = ?", true).
		Set("verification_token = NULL").
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Where("verification_token = ?", token).
		Exec(ctx)
	return expectAffected(res, err, ErrOneShotTokenInvalid, "failed to consume verification token")
}

func (a *users) ConsumeResetToken(ctx context.Context, id uuid.UUID, token, passwordHash string) error {
	return a.ConsumeResetTokenTx(ctx, a.db, id, token, passwordHash)
}

// ConsumeResetTokenTx replaces the password hash and clears the token
// and its expiry, only if the stored token still matches
func (a *users) ConsumeResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("hashed_password = ?", passwordHash).
		Set("password_reset_token = NULL").
		Set("password_reset_token_expires_at = NULL").
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Where("password_reset_token = ?", token).
		Exec(ctx)
	return expectAffected(res, err, ErrOneShotTokenInvalid, "failed to consume password reset token")
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	loggedInAt := a.now().UTC()
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("last_login = ?", loggedInAt).
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Where("id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, CategoryInternal, "failed to track login")
	}

	user.LoggedInAt = &loggedInAt
	user.LoginAttempts = 0
	user.LoginAttemptAt = nil
	return nil
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User, cooldown time.Duration) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, user, cooldown)
}

// TrackAttemptedLoginTx counts a failed login in the database, so
// concurrent failures never overwrite each other. A counter whose last
// attempt is older than cooldown starts over at one.
func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User, cooldown time.Duration) error {
	attemptAt := a.now().UTC()
	windowStart := attemptAt.Add(-cooldown)

	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("login_attempts = CASE WHEN login_attempt_at IS NULL OR login_attempt_at <= ? THEN 1 ELSE login_attempts + 1 END", windowStart).
		Set("login_attempt_at = ?", attemptAt).
		Where("id = ?", user.ID).
		Exec(ctx)
	if err := expectAffected(res, err, ErrUserNotFound, "failed to track login attempt"); err != nil {
		return err
	}

	var attempts int
	err = tx.NewSelect().
		Model((*User)(nil)).
		Column("login_attempts").
		Where("id = ?", user.ID).
		Scan(ctx, &attempts)
	if err != nil {
		return goerrors.Wrap(err, CategoryInternal, "failed to read login attempts")
	}

	user.LoginAttempts = attempts
	user.LoginAttemptAt = &attemptAt
	return nil
}

func (a *users) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.UpdatePasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("hashed_password = ?", passwordHash).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return expectAffected(res, err, ErrUserNotFound, "failed to update password")
}

func (a *users) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return a.SetActiveTx(ctx, a.db, id, active)
}

func (a *users) SetActiveTx(ctx context.Context, tx bun.IDB, id uuid.UUID, active bool) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return expectAffected(res, err, ErrUserNotFound, "failed to update user status")
}

func (a *users) SetSuperuserTx(ctx context.Context, tx bun.IDB, id uuid.UUID, superuser bool) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("is_superuser = ?", superuser).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return expectAffected(res, err, ErrUserNotFound, "failed to update superuser flag")
}

func prepareUserDefaults(record *User, now time.Time) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	record.Email = NormalizeEmail(record.Email)

	now = now.UTC()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}

func expectAffected(res sql.Result, err error, notFound *Error, msg string) error {
	if err != nil {
		return goerrors.Wrap(err, CategoryInternal, msg)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, CategoryInternal, msg)
	}

	if n == 0 {
		return notFound
	}

	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
