package auth_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-service"
)

func TestAuthController_Session(t *testing.T) {
	app, stack := newTestApp(t)
	user := seedUser(t, stack.repo, "jane@example.com", auth.RoleManager)

	body, _ := login(t, app, "jane@example.com")
	access := body["access_token"].(string)

	claims, err := stack.verifier.Verify(access)
	require.NoError(t, err)

	resp, out := doJSON(t, app, http.MethodGet, "/api/auth/session", nil, bearer(access))
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, user.ID.String(), out["user_id"])
	assert.Equal(t, "jane@example.com", out["email"])
	assert.Equal(t, claims.ID, out["token_id"])
	assert.Equal(t, []any{"manager"}, out["roles"])
	assert.EqualValues(t, 900, out["expires_in"])

	stack.clock.Advance(5 * time.Minute)

	resp, out = doJSON(t, app, http.MethodGet, "/api/auth/session", nil, bearer(access))
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.EqualValues(t, 600, out["expires_in"])
}

func TestAuthController_SessionRejects(t *testing.T) {
	app, stack := newTestApp(t)
	seedUser(t, stack.repo, "jane@example.com")

	resp, out := doJSON(t, app, http.MethodGet, "/api/auth/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.TextCodeTokenMalformed, errorCodeOf(out))

	body, _ := login(t, app, "jane@example.com")

	resp, out = doJSON(t, app, http.MethodGet, "/api/auth/session", nil, bearer(body["refresh_token"].(string)))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.TextCodeTokenTypeMismatch, errorCodeOf(out))

	access := body["access_token"].(string)
	resp, _ = doJSON(t, app, http.MethodPost, "/api/auth/logout", nil, bearer(access))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out = doJSON(t, app, http.MethodGet, "/api/auth/session", nil, bearer(access))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.TextCodeTokenRevoked, errorCodeOf(out))
}

func TestAuthController_SessionRunsListeners(t *testing.T) {
	app, _ := newTestApp(t, auth.WithValidationListeners(auth.RequireVerifiedEmail()))

	resp, out := doJSON(t, app, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "new@example.com",
		"password": "Password123",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)

	body, _ := login(t, app, "new@example.com")
	resp, out = doJSON(t, app, http.MethodGet, "/api/auth/session", nil, bearer(body["access_token"].(string)))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.TextCodeNotEnoughPrivileges, errorCodeOf(out))
}
