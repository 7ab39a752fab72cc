package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenCodec signs and parses HS256 tokens with a shared secret
type TokenCodec struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
	logger Logger
}

// NewTokenCodec fails when the secret is empty
func NewTokenCodec(secret []byte) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, goerrors.New("signing secret must not be empty", CategoryInternal)
	}
	return &TokenCodec{
		secret: secret,
		now:    time.Now,
		logger: defLogger{},
	}, nil
}

// WithLeeway tolerates clock skew on expiry checks
func (c *TokenCodec) WithLeeway(d time.Duration) *TokenCodec {
	c.leeway = d
	return c
}

// WithClock overrides the time source used for expiry checks
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *TokenCodec) WithLogger(logger Logger) *TokenCodec {
	c.logger = normalizeLogger(logger)
	return c
}

// Encode signs the claims
func (c *TokenCodec) Encode(claims *Claims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims.mapClaims())

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", goerrors.Wrap(err, CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// Decode checks signature and expiry and returns the claims. The
// audience is not validated.
func (c *TokenCodec) Decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{SigningAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.leeway > 0 {
		parserOptions = append(parserOptions, jwt.WithLeeway(c.leeway))
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			c.logger.Error("TokenCodec decode encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, wrapAs(ErrTokenExpired, err)
		}
		return nil, wrapAs(ErrTokenMalformed, err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	return claimsFromMap(mc), nil
}
