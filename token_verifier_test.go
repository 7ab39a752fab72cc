package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-service"
)

type failingDenylist struct{}

func (failingDenylist) Revoke(context.Context, string, time.Time) error { return nil }

func (failingDenylist) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestIdentityResolver_Resolve(t *testing.T) {
	clock := newTestClock()
	repo, _ := setupRepositories(t, clock.Now)
	user := seedUser(t, repo, "jane@example.com")

	issuer, codec := newTestIssuer(t, clock)
	resolver := auth.NewIdentityResolver(auth.NewTokenVerifier(codec), repo.Users())

	pair, err := issuer.IssuePair(context.Background(), user)
	require.NoError(t, err)

	got, claims, err := resolver.Resolve(context.Background(), pair.AccessToken, auth.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, auth.TokenAccess, claims.Kind())

	got, claims, err = resolver.Resolve(context.Background(), pair.RefreshToken, auth.TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, auth.TokenRefresh, claims.Kind())
}

func TestIdentityResolver_Failures(t *testing.T) {
	clock := newTestClock()
	repo, _ := setupRepositories(t, clock.Now)
	user := seedUser(t, repo, "jane@example.com")

	issuer, codec := newTestIssuer(t, clock)
	denylist := newMemoryDenylist()
	resolver := auth.NewIdentityResolver(auth.NewTokenVerifier(codec), repo.Users()).WithDenylist(denylist)
	ctx := context.Background()

	pair, err := issuer.IssuePair(ctx, user)
	require.NoError(t, err)

	noSubject, _, err := issuer.Issue(ctx, auth.TokenAccess, "", 0, nil)
	require.NoError(t, err)

	ghost, _, err := issuer.Issue(ctx, auth.TokenAccess, "ghost@example.com", 0, nil)
	require.NoError(t, err)

	revoked, revokedClaims, err := issuer.IssueAccess(ctx, user)
	require.NoError(t, err)
	require.NoError(t, denylist.Revoke(ctx, revokedClaims.ID, revokedClaims.ExpiresAt))

	tests := []struct {
		name     string
		raw      string
		expected auth.TokenKind
		target   error
	}{
		{"refresh used as access", pair.RefreshToken, auth.TokenAccess, auth.ErrTokenTypeMismatch},
		{"access used as refresh", pair.AccessToken, auth.TokenRefresh, auth.ErrTokenTypeMismatch},
		{"missing subject", noSubject, auth.TokenAccess, auth.ErrTokenSubjectMissing},
		{"unknown subject", ghost, auth.TokenAccess, auth.ErrUserNotFound},
		{"revoked", revoked, auth.TokenAccess, auth.ErrTokenRevoked},
		{"garbage", "abc", auth.TokenAccess, auth.ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, claims, err := resolver.Resolve(ctx, tt.raw, tt.expected)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Nil(t, user)
			assert.Nil(t, claims)
		})
	}

	t.Run("expired is checked before type", func(t *testing.T) {
		clock.Advance(time.Hour)
		_, _, err := resolver.Resolve(ctx, pair.RefreshToken, auth.TokenAccess)
		assert.True(t, auth.IsTokenExpiredError(err))
	})
}

func TestIdentityResolver_DenylistFailureIsInternal(t *testing.T) {
	clock := newTestClock()
	repo, _ := setupRepositories(t, clock.Now)
	user := seedUser(t, repo, "jane@example.com")

	issuer, codec := newTestIssuer(t, clock)
	resolver := auth.NewIdentityResolver(auth.NewTokenVerifier(codec), repo.Users()).
		WithDenylist(failingDenylist{})

	raw, _, err := issuer.IssueAccess(context.Background(), user)
	require.NoError(t, err)

	_, _, err = resolver.Resolve(context.Background(), raw, auth.TokenAccess)
	require.Error(t, err)

	var richErr *auth.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, auth.CategoryInternal, richErr.Category)
}

func TestTokenVerifier_Verify(t *testing.T) {
	clock := newTestClock()
	issuer, codec := newTestIssuer(t, clock)
	verifier := auth.NewTokenVerifier(codec)

	raw, _, err := issuer.IssueAccess(context.Background(), testUser())
	require.NoError(t, err)

	claims, err := verifier.Verify("  " + raw + " ")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", claims.Subject)
}
