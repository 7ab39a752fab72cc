package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Auther runs the login, refresh, authenticate and logout flows
type Auther struct {
	users    *UserProvider
	issuer   *TokenIssuer
	resolver *IdentityResolver
	denylist Denylist
	activity ActivitySink
	logger   Logger
	now      func() time.Time
	rotate   bool
}

// NewAuthenticator returns a new Authenticator. Refresh token rotation
// is on by default.
func NewAuthenticator(users *UserProvider, issuer *TokenIssuer, resolver *IdentityResolver) *Auther {
	return &Auther{
		users:    users,
		issuer:   issuer,
		resolver: resolver,
		denylist: noopDenylist{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
		rotate:   true,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithDenylist enables revocation on logout and rotation, and checks
// the denylist on every resolve
func (s *Auther) WithDenylist(d Denylist) *Auther {
	s.denylist = normalizeDenylist(d)
	s.resolver.WithDenylist(s.denylist)
	return s
}

// WithRefreshRotation controls whether Refresh issues a new refresh token
func (s *Auther) WithRefreshRotation(rotate bool) *Auther {
	s.rotate = rotate
	return s
}

func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now != nil {
		s.now = now
	}
	return s
}

// Issuer returns the token issuer
func (s *Auther) Issuer() *TokenIssuer {
	return s.issuer
}

// Login checks the credentials and issues a token pair. Email
// verification is not required to log in.
func (s *Auther) Login(ctx context.Context, email, password string) (*TokenPair, *User, error) {
	email = NormalizeEmail(email)

	user, err := s.users.VerifyCredentials(ctx, email, password)
	if err != nil {
		s.logger.Warn("login failed for %s: %v", email, err)
		s.emit(ctx, ActivityEventLoginFailure, user, loginFailureMetadata(email, err))
		return nil, nil, err
	}

	pair, err := s.issuer.IssuePair(ctx, user)
	if err != nil {
		s.emit(ctx, ActivityEventLoginFailure, user, loginFailureMetadata(email, err))
		return nil, nil, err
	}

	s.emit(ctx, ActivityEventLoginSuccess, user, map[string]any{
		"email": email,
	})

	return pair, user, nil
}

// Refresh exchanges a refresh token for a new access token. With
// rotation on a new refresh token is issued and the presented one is
// revoked, otherwise the presented token is returned unchanged.
func (s *Auther) Refresh(ctx context.Context, raw string) (*TokenPair, *User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, wrapAs(ErrTokenMalformed, nil).WithMetadata(map[string]any{
			"reason": "refresh token not provided",
		})
	}

	user, presented, err := s.resolver.Resolve(ctx, raw, TokenRefresh)
	if err != nil {
		return nil, nil, err
	}

	if !user.IsActive {
		return nil, nil, ErrInactiveAccount
	}

	access, accessClaims, err := s.issuer.IssueAccess(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	pair := &TokenPair{
		AccessToken:   access,
		RefreshToken:  raw,
		TokenType:     TokenTypeBearer,
		ExpiresIn:     int64(s.issuer.Config().ttl(TokenAccess) / time.Second),
		AccessClaims:  accessClaims,
		RefreshClaims: presented,
	}

	if s.rotate {
		refresh, refreshClaims, err := s.issuer.IssueRefresh(ctx, user)
		if err != nil {
			return nil, nil, err
		}
		pair.RefreshToken = refresh
		pair.RefreshClaims = refreshClaims

		s.revoke(ctx, presented)
	}

	s.emit(ctx, ActivityEventTokenRefreshed, user, map[string]any{
		"rotated": s.rotate,
	})

	return pair, user, nil
}

// Authenticate resolves an access token to an active user
func (s *Auther) Authenticate(ctx context.Context, raw string) (*User, *Claims, error) {
	user, claims, err := s.resolver.Resolve(ctx, raw, TokenAccess)
	if err != nil {
		return nil, nil, err
	}

	if !user.IsActive {
		return nil, nil, ErrInactiveAccount
	}

	return user, claims, nil
}

// Logout revokes the access token and, when it verifies, the refresh
// token. Without a denylist this only emits the event.
func (s *Auther) Logout(ctx context.Context, user *User, access *Claims, refreshRaw string) error {
	s.revoke(ctx, access)

	if refreshRaw = strings.TrimSpace(refreshRaw); refreshRaw != "" {
		if claims, err := s.resolver.verifier.Verify(refreshRaw); err == nil && claims.Kind() == TokenRefresh {
			s.revoke(ctx, claims)
		}
	}

	s.emit(ctx, ActivityEventLogout, user, nil)
	return nil
}

func (s *Auther) revoke(ctx context.Context, claims *Claims) {
	if claims == nil || claims.ID == "" {
		return
	}
	if err := s.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
		s.logger.Error("failed to revoke token %s: %v", claims.ID, err)
	}
}

func (s *Auther) emit(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      UserActor(user),
		Metadata:   metadata,
		OccurredAt: s.now().UTC(),
	}
	if user != nil {
		event.UserID = user.ID.String()
	}
	emitActivity(ctx, s.activity, s.logger, event)
}

// loginFailureMetadata carries the lockout flag, which the caller never sees
func loginFailureMetadata(email string, err error) map[string]any {
	meta := map[string]any{
		"email": email,
		"code":  TextCode(err),
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if locked, _ := richErr.Metadata["locked"].(bool); locked {
			meta["locked"] = true
		}
	}
	return meta
}
