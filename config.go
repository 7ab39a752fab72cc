package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	// DefaultAccessTokenExpireMinutes is eight days
	DefaultAccessTokenExpireMinutes = 60 * 24 * 8
	// SigningAlgorithm is the only algorithm accepted for tokens
	SigningAlgorithm = "HS256"
	minSecretKeyLength = 32
)

// Settings holds the service configuration, loaded from the environment
type Settings struct {
	ProjectName string `env:"PROJECT_NAME" envDefault:"Auth Service"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Debug       bool   `env:"DEBUG" envDefault:"true"`

	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":8000"`
	APIPrefix   string   `env:"API_PREFIX" envDefault:"/api"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	FrontendURL string   `env:"FRONTEND_URL" envDefault:"http://localhost"`

	SecretKey                  string        `env:"SECRET_KEY"`
	Algorithm                  string        `env:"ALGORITHM" envDefault:"HS256"`
	AccessTokenExpireMinutes   int           `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"11520"`
	RefreshTokenExpireMinutes  int           `env:"REFRESH_TOKEN_EXPIRE_MINUTES" envDefault:"0"`
	RefreshTokenRotation       bool          `env:"REFRESH_TOKEN_ROTATION" envDefault:"true"`
	RefreshCookieName          string        `env:"REFRESH_COOKIE_NAME" envDefault:"refresh_token"`
	TokenLeeway                time.Duration `env:"TOKEN_LEEWAY" envDefault:"0s"`
	PasswordResetTTL           time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"1h"`
	TrialPeriod                time.Duration `env:"TRIAL_PERIOD" envDefault:"720h"`
	MaxLoginAttempts           int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginCooldown              time.Duration `env:"LOGIN_COOLDOWN" envDefault:"24h"`
	DefaultRoles               []string      `env:"DEFAULT_ROLES" envSeparator:","`
	RequireVerifiedEmail       bool          `env:"REQUIRE_VERIFIED_EMAIL" envDefault:"false"`

	DatabaseDriver      string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL         string `env:"DATABASE_URL" envDefault:"file:auth.db?cache=shared&_pragma=foreign_keys(1)"`
	DatabaseAutoMigrate bool   `env:"DATABASE_AUTO_MIGRATE" envDefault:"true"`
	RedisURL            string `env:"REDIS_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	SMTPHost        string `env:"SMTP_HOST"`
	SMTPPort        int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser        string `env:"SMTP_USER"`
	SMTPPassword    string `env:"SMTP_PASSWORD"`
	SMTPTLS         bool   `env:"SMTP_TLS" envDefault:"true"`
	EmailsFromEmail string `env:"EMAILS_FROM_EMAIL"`
	EmailsFromName  string `env:"EMAILS_FROM_NAME"`
}

// LoadSettings parses the process environment and validates the result
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(nil)
}

// LoadSettingsFrom parses the given environment map. A nil map reads
// the process environment.
func LoadSettingsFrom(environ map[string]string) (*Settings, error) {
	s := &Settings{}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}

	if err := env.ParseWithOptions(s, opts); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate checks startup invariants. Any failure here is fatal.
func (s Settings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.ProjectName, validation.Required),
		validation.Field(&s.SecretKey, validation.Required, validation.Length(minSecretKeyLength, 0)),
		validation.Field(&s.Algorithm, validation.Required, validation.In(SigningAlgorithm)),
		validation.Field(&s.AccessTokenExpireMinutes, validation.Required, validation.Min(1)),
		validation.Field(&s.RefreshTokenExpireMinutes, validation.Min(0)),
		validation.Field(&s.RefreshCookieName, validation.Required),
		validation.Field(&s.DatabaseDriver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&s.DefaultRoles, validation.By(validateRoleNames)),
	)
	if err != nil {
		return newValidationError("invalid settings", err, FormatValidationErrorToMap(err))
	}
	return nil
}

// Issuer is the lowercased project name
func (s Settings) Issuer() string {
	return strings.ToLower(s.ProjectName)
}

// AccessAudience is the audience of access tokens
func (s Settings) AccessAudience() string {
	return s.Issuer()
}

// RefreshAudience is the audience of refresh tokens
func (s Settings) RefreshAudience() string {
	return s.Issuer() + "-refresh"
}

// AccessTTL is the access token lifetime
func (s Settings) AccessTTL() time.Duration {
	return time.Duration(s.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTTL is the refresh token lifetime, twice the access lifetime
// unless set explicitly
func (s Settings) RefreshTTL() time.Duration {
	if s.RefreshTokenExpireMinutes > 0 {
		return time.Duration(s.RefreshTokenExpireMinutes) * time.Minute
	}
	return 2 * s.AccessTTL()
}

// SecureCookies is true outside of debug mode
func (s Settings) SecureCookies() bool {
	return !s.Debug
}

// Roles parses DefaultRoles
func (s Settings) Roles() RoleSet {
	return ParseRoleSet(s.DefaultRoles...)
}

// IssuerConfig derives the token issuer configuration
func (s Settings) IssuerConfig() IssuerConfig {
	return IssuerConfig{
		Issuer:          s.Issuer(),
		AccessAudience:  s.AccessAudience(),
		RefreshAudience: s.RefreshAudience(),
		AccessTTL:       s.AccessTTL(),
		RefreshTTL:      s.RefreshTTL(),
	}
}

func validateRoleNames(value any) error {
	names, _ := value.([]string)
	for _, name := range names {
		if _, ok := ParseRole(name); !ok {
			return fmt.Errorf("unknown role %q", name)
		}
	}
	return nil
}
