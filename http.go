package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/goliatone/go-auth-service/middleware/jwtware"
)

// DefaultRefreshCookieName is the cookie carrying the refresh token
const DefaultRefreshCookieName = "refresh_token"

// CookieConfig describes the refresh token cookie
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultRefreshCookieName
	}
	return c.Name
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// ExtractBearerToken reads "Authorization: Bearer <token>"
func ExtractBearerToken(c *fiber.Ctx) string {
	return jwtware.FromAuthHeader(c, "Bearer")
}

// ExtractRefreshToken reads the bearer header first and falls back to
// the refresh cookie
func ExtractRefreshToken(c *fiber.Ctx, cookieName string) string {
	if raw := ExtractBearerToken(c); raw != "" {
		return raw
	}
	if cookieName == "" {
		cookieName = DefaultRefreshCookieName
	}
	return strings.TrimSpace(c.Cookies(cookieName))
}

// SetRefreshCookie stores token in an http-only, same-site lax cookie
func SetRefreshCookie(c *fiber.Ctx, cfg CookieConfig, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.name(),
		Value:    token,
		Path:     cfg.path(),
		MaxAge:   int(cfg.MaxAge / time.Second),
		Expires:  time.Now().Add(cfg.MaxAge),
		HTTPOnly: true,
		Secure:   cfg.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClearRefreshCookie expires the refresh cookie
func ClearRefreshCookie(c *fiber.Ctx, cfg CookieConfig) {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.name(),
		Value:    "",
		Path:     cfg.path(),
		MaxAge:   -1,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   cfg.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ErrorBody is the JSON error envelope payload
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorHandler renders errors as {"error": {"code", "message"}}.
// Internal errors never expose their cause.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{
				Error: ErrorBody{
					Code:    strings.ToUpper(strings.ReplaceAll(utilsStatusMessage(fiberErr.Code), " ", "_")),
					Message: fiberErr.Message,
				},
			})
		}

		richErr := AsError(err)
		status := HTTPStatus(richErr)

		body := ErrorBody{
			Code:    TextCode(richErr),
			Message: richErr.Message,
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error("request %s %s failed: %v", c.Method(), c.Path(), err)
			body.Code = strings.ToUpper(string(CategoryInternal))
			body.Message = "internal server error"
		} else {
			logger.Debug("request %s %s rejected: %s %s",
				c.Method(), c.Path(), body.Code, print.MaybePrettyJSON(richErr.Metadata))
			if fields := richErr.ValidationMap(); len(fields) > 0 {
				body.Fields = fields
			}
		}

		if status == fiber.StatusUnauthorized {
			c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
		}

		return c.Status(status).JSON(ErrorResponse{Error: body})
	}
}

func utilsStatusMessage(status int) string {
	if msg := fiber.NewError(status).Message; msg != "" {
		return msg
	}
	return "error"
}

// RequestLogger logs method, path, status and latency of every request
func RequestLogger(logger Logger) fiber.Handler {
	logger = normalizeLogger(logger)

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = HTTPStatus(err)
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
		}

		logger.Info("%s %s %d %s", c.Method(), c.OriginalURL(), status, time.Since(start))
		return err
	}
}
