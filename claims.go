package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind distinguishes access from refresh tokens
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claim names
const (
	ClaimSubject   = "sub"
	ClaimIssuer    = "iss"
	ClaimAudience  = "aud"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
	ClaimTokenID   = "jti"
	ClaimType      = "type"
	ClaimUserID    = "user_id"
	ClaimIsActive  = "is_active"
)

var registeredClaims = map[string]struct{}{
	ClaimSubject:   {},
	ClaimIssuer:    {},
	ClaimAudience:  {},
	ClaimIssuedAt:  {},
	ClaimExpiresAt: {},
	ClaimTokenID:   {},
	ClaimType:      {},
	"nbf":          {},
}

// Claims is the decoded payload of a token
type Claims struct {
	Subject   string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
	// Type is empty for access tokens
	Type  TokenKind
	Extra map[string]any
}

// Kind treats a missing type claim as an access token
func (c *Claims) Kind() TokenKind {
	if c.Type == "" {
		return TokenAccess
	}
	return c.Type
}

// UserID returns the user_id extra claim
func (c *Claims) UserID() string {
	v, _ := c.Extra[ClaimUserID].(string)
	return v
}

// IsActive returns the is_active extra claim
func (c *Claims) IsActive() bool {
	v, _ := c.Extra[ClaimIsActive].(bool)
	return v
}

// Get returns an extra claim
func (c *Claims) Get(key string) (any, bool) {
	v, ok := c.Extra[key]
	return v, ok
}

// TTL is the remaining lifetime at now
func (c *Claims) TTL(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// mapClaims flattens the claims. Extras are written first so they can
// never replace registered claims.
func (c *Claims) mapClaims() jwt.MapClaims {
	out := make(jwt.MapClaims, len(c.Extra)+7)
	for k, v := range c.Extra {
		if _, reserved := registeredClaims[k]; reserved {
			continue
		}
		out[k] = v
	}

	out[ClaimSubject] = c.Subject
	out[ClaimIssuedAt] = jwt.NewNumericDate(c.IssuedAt)
	out[ClaimExpiresAt] = jwt.NewNumericDate(c.ExpiresAt)

	if c.Issuer != "" {
		out[ClaimIssuer] = c.Issuer
	}
	if c.Audience != "" {
		out[ClaimAudience] = c.Audience
	}
	if c.ID != "" {
		out[ClaimTokenID] = c.ID
	}
	if c.Type != "" && c.Type != TokenAccess {
		out[ClaimType] = string(c.Type)
	}

	return out
}

func claimsFromMap(mc jwt.MapClaims) *Claims {
	c := &Claims{Extra: map[string]any{}}

	c.Subject, _ = mc.GetSubject()
	c.Issuer, _ = mc.GetIssuer()

	if aud, err := mc.GetAudience(); err == nil && len(aud) > 0 {
		c.Audience = aud[0]
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}

	c.ID, _ = mc[ClaimTokenID].(string)
	if typ, ok := mc[ClaimType].(string); ok {
		c.Type = TokenKind(typ)
	}

	for k, v := range mc {
		if _, reserved := registeredClaims[k]; reserved {
			continue
		}
		c.Extra[k] = v
	}

	return c
}
