package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenTypeBearer is the token_type of issued pairs
const TokenTypeBearer = "bearer"

// IssuerConfig holds the claim defaults applied by TokenIssuer
type IssuerConfig struct {
	Issuer          string
	AccessAudience  string
	RefreshAudience string
	AccessTTL       time.Duration
	// RefreshTTL defaults to twice AccessTTL
	RefreshTTL time.Duration
}

func (c IssuerConfig) ttl(kind TokenKind) time.Duration {
	if kind == TokenRefresh {
		if c.RefreshTTL > 0 {
			return c.RefreshTTL
		}
		return 2 * c.AccessTTL
	}
	return c.AccessTTL
}

func (c IssuerConfig) audience(kind TokenKind) string {
	if kind == TokenRefresh {
		if c.RefreshAudience != "" {
			return c.RefreshAudience
		}
		return c.Issuer + "-refresh"
	}
	if c.AccessAudience != "" {
		return c.AccessAudience
	}
	return c.Issuer
}

// TokenPair is returned by login and refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`

	AccessClaims  *Claims `json:"-"`
	RefreshClaims *Claims `json:"-"`
}

// TokenIssuer builds and signs access and refresh claim sets
type TokenIssuer struct {
	codec           *TokenCodec
	config          IssuerConfig
	now             func() time.Time
	claimsDecorator ClaimsDecorator
	logger          Logger
}

// NewTokenIssuer creates an issuer signing with codec
func NewTokenIssuer(codec *TokenCodec, config IssuerConfig) *TokenIssuer {
	return &TokenIssuer{
		codec:           codec,
		config:          config,
		now:             time.Now,
		claimsDecorator: noopClaimsDecorator{},
		logger:          defLogger{},
	}
}

func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	if now != nil {
		i.now = now
	}
	return i
}

// WithClaimsDecorator configures a ClaimsDecorator for enriching tokens.
func (i *TokenIssuer) WithClaimsDecorator(decorator ClaimsDecorator) *TokenIssuer {
	i.claimsDecorator = normalizeClaimsDecorator(decorator)
	return i
}

func (i *TokenIssuer) WithLogger(logger Logger) *TokenIssuer {
	i.logger = normalizeLogger(logger)
	return i
}

// Config returns the issuer defaults
func (i *TokenIssuer) Config() IssuerConfig {
	return i.config
}

// Issue signs a token of kind for subject. A ttl <= 0 uses the kind
// default. Extra claims never override registered claims.
func (i *TokenIssuer) Issue(ctx context.Context, kind TokenKind, subject string, ttl time.Duration, extra map[string]any) (string, *Claims, error) {
	return i.issue(ctx, nil, kind, subject, ttl, extra)
}

// IssuePair issues the access and refresh tokens for user
func (i *TokenIssuer) IssuePair(ctx context.Context, user *User) (*TokenPair, error) {
	access, accessClaims, err := i.IssueAccess(ctx, user)
	if err != nil {
		return nil, err
	}

	refresh, refreshClaims, err := i.IssueRefresh(ctx, user)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:   access,
		RefreshToken:  refresh,
		TokenType:     TokenTypeBearer,
		ExpiresIn:     int64(i.config.ttl(TokenAccess) / time.Second),
		AccessClaims:  accessClaims,
		RefreshClaims: refreshClaims,
	}, nil
}

// IssueAccess issues an access token carrying user_id and is_active
func (i *TokenIssuer) IssueAccess(ctx context.Context, user *User) (string, *Claims, error) {
	if user == nil {
		return "", nil, goerrors.New("user must not be nil", CategoryInternal)
	}
	return i.issue(ctx, user, TokenAccess, user.Email, 0, map[string]any{
		ClaimUserID:   user.ID.String(),
		ClaimIsActive: user.IsActive,
	})
}

// IssueRefresh issues a refresh token carrying user_id
func (i *TokenIssuer) IssueRefresh(ctx context.Context, user *User) (string, *Claims, error) {
	if user == nil {
		return "", nil, goerrors.New("user must not be nil", CategoryInternal)
	}
	return i.issue(ctx, user, TokenRefresh, user.Email, 0, map[string]any{
		ClaimUserID: user.ID.String(),
	})
}

func (i *TokenIssuer) issue(ctx context.Context, user *User, kind TokenKind, subject string, ttl time.Duration, extra map[string]any) (string, *Claims, error) {
	claims := i.newClaims(kind, subject, ttl, extra)
	snapshot := captureImmutableClaims(claims)

	decorator := normalizeClaimsDecorator(i.claimsDecorator)
	if err := decorator.Decorate(ctx, user, claims); err != nil {
		i.logger.Error("claims decorator failed: %v", err)
		return "", nil, err
	}

	if err := snapshot.validate(claims); err != nil {
		i.logger.Error("claims decorator mutated immutable claims: %v", err)
		return "", nil, err
	}

	signed, err := i.codec.Encode(claims)
	if err != nil {
		return "", nil, err
	}

	return signed, claims, nil
}

func (i *TokenIssuer) newClaims(kind TokenKind, subject string, ttl time.Duration, extra map[string]any) *Claims {
	if ttl <= 0 {
		ttl = i.config.ttl(kind)
	}

	// second precision, matching the encoded NumericDate
	now := i.now().Truncate(time.Second)

	claims := &Claims{
		Subject:   subject,
		Issuer:    i.config.Issuer,
		Audience:  i.config.audience(kind),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		ID:        uuid.NewString(),
		Extra:     make(map[string]any, len(extra)),
	}

	if kind == TokenRefresh {
		claims.Type = TokenRefresh
	}

	for k, v := range extra {
		if _, reserved := registeredClaims[k]; reserved {
			continue
		}
		claims.Extra[k] = v
	}

	return claims
}
