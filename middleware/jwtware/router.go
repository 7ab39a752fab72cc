package jwtware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-router"
)

// RouterConfig configures the go-router middleware. Router contexts
// expose no cookies, so TokenLookup accepts header, query and param
// sources only.
type RouterConfig struct {
	ContextKey  string
	TokenLookup string
	AuthScheme  string

	// Authenticate is required
	Authenticate AuthenticateFunc
	Authorize    func(principal any) error

	ContextEnricher func(ctx context.Context, principal any) context.Context
	ErrorHandler    func(c router.Context, err error) error

	ValidationListeners []ValidationListener
}

type routerExtractor func(c router.Context) (string, error)

// NewRouter returns the middleware for go-router servers. The principal
// is stored in the request scoped context store under ContextKey.
func NewRouter(config RouterConfig) router.MiddlewareFunc {
	cfg := config.withDefaults()
	extractors := routerExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			raw, err := extractRouterToken(c, extractors)
			if err != nil {
				return cfg.ErrorHandler(c, err)
			}

			principal, err := cfg.Authenticate(c.Context(), raw)
			if err != nil {
				return cfg.ErrorHandler(c, err)
			}

			if err := runValidationListeners(cfg.ValidationListeners, c, principal); err != nil {
				return cfg.ErrorHandler(c, err)
			}

			if cfg.Authorize != nil {
				if err := cfg.Authorize(principal); err != nil {
					return cfg.ErrorHandler(c, err)
				}
			}

			c.Set(cfg.ContextKey, principal)

			if cfg.ContextEnricher != nil {
				c.SetContext(cfg.ContextEnricher(c.Context(), principal))
			}

			return next(c)
		}
	}
}

func (cfg RouterConfig) withDefaults() RouterConfig {
	if cfg.Authenticate == nil {
		panic("AUTH: JWT router middleware configuration: Authenticate is required.")
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if errors.Is(err, ErrJWTMissingOrMalformed) {
				return c.Status(http.StatusBadRequest).Send([]byte(ErrJWTMissingOrMalformed.Error()))
			}
			return c.Status(http.StatusUnauthorized).Send([]byte("Invalid or expired token"))
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

func extractRouterToken(c router.Context, extractors []routerExtractor) (string, error) {
	var raw string
	err := ErrJWTMissingOrMalformed

	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func routerExtractors(tokenLookup, authScheme string) []routerExtractor {
	extractors := make([]routerExtractor, 0)

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(rootPart), ":")
		if !ok {
			continue
		}
		source, name = strings.TrimSpace(source), strings.TrimSpace(name)

		switch source {
		case "header":
			extractors = append(extractors, func(c router.Context) (string, error) {
				return bearerToken(c.Header(name), authScheme)
			})
		case "query":
			extractors = append(extractors, func(c router.Context) (string, error) {
				return nonEmpty(c.Query(name, ""))
			})
		case "param":
			extractors = append(extractors, func(c router.Context) (string, error) {
				return nonEmpty(c.Param(name, ""))
			})
		}
	}

	return extractors
}

func bearerToken(value, authScheme string) (string, error) {
	l := len(authScheme)
	if len(value) > l+1 && strings.EqualFold(value[:l], authScheme) && value[l] == ' ' {
		return nonEmpty(strings.TrimSpace(value[l+1:]))
	}
	return "", ErrJWTMissingOrMalformed
}

func nonEmpty(token string) (string, error) {
	if token == "" {
		return "", ErrJWTMissingOrMalformed
	}
	return token, nil
}
