package auth

import (
	"net/http"
	"time"

	"github.com/goliatone/go-router"

	"github.com/goliatone/go-auth-service/middleware/jwtware"
)

// SessionView describes the access token presented on the request
type SessionView struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	TokenID   string    `json:"token_id"`
	Roles     []string  `json:"roles"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

// RouterProtected is Protected for routes mounted through go-router
func (a *AuthController) RouterProtected(reqs ...Requirement) router.MiddlewareFunc {
	return jwtware.NewRouter(jwtware.RouterConfig{
		ContextKey:          a.ContextKey,
		Authenticate:        a.authenticate,
		Authorize:           authorizer(reqs),
		ContextEnricher:     enrichContext,
		ValidationListeners: a.Listeners,
		ErrorHandler: func(_ router.Context, err error) error {
			return notAuthenticated(err)
		},
	})
}

// RegisterSessionRoutes mounts the session endpoints on a go-router
// router. Errors propagate to the server's error handler.
func RegisterSessionRoutes[T any](a *AuthController, r router.Router[T]) {
	r.Get("/auth/session", a.Session, a.RouterProtected()).
		SetName("auth.session").
		SetSummary("Describe the presented access token").
		AddTags("auth")
}

// Session reports the subject and lifetime of the access token
func (a *AuthController) Session(c router.Context) error {
	p, ok := GetRouterPrincipal(c, a.ContextKey)
	if !ok || p.Claims == nil {
		return ErrTokenMalformed
	}

	ttl := p.Claims.TTL(a.Auther.now())
	if ttl < 0 {
		ttl = 0
	}

	return c.JSON(http.StatusOK, SessionView{
		UserID:    p.User.ID.String(),
		Email:     p.User.Email,
		TokenID:   p.Claims.ID,
		Roles:     p.User.Roles().Strings(),
		IssuedAt:  p.Claims.IssuedAt,
		ExpiresAt: p.Claims.ExpiresAt,
		ExpiresIn: int64(ttl / time.Second),
	})
}

// GetRouterPrincipal reads the Principal stored by the router middleware
func GetRouterPrincipal(c router.Context, key string) (*Principal, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	p, ok := c.Get(key, nil).(*Principal)
	return p, ok && p != nil && p.User != nil
}
