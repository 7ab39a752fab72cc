package auth

import (
	"context"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// CredentialStore is the lookup surface the token core needs from storage
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByOneShotToken(ctx context.Context, kind OneShotKind, token string) (*User, error)
}

// Denylist tracks revoked token ids until they would expire naturally
type Denylist interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Mailer delivers transactional email
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a rendered email ready for delivery
type EmailMessage struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type noopDenylist struct{}

func (noopDenylist) Revoke(context.Context, string, time.Time) error { return nil }

func (noopDenylist) IsRevoked(context.Context, string) (bool, error) { return false, nil }

func normalizeDenylist(d Denylist) Denylist {
	if d == nil {
		return noopDenylist{}
	}
	return d
}
