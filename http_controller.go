package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"

	"github.com/goliatone/go-auth-service/middleware/jwtware"
)

const (
	MessageLoggedOut         = "Successfully logged out"
	MessageRegistered        = "User registered successfully. Check your email to verify the account."
	MessageEmailVerified     = "Email verified successfully"
	MessagePasswordResetDone = "Password updated successfully"
)

type AuthController struct {
	Debug            bool
	Logger           Logger
	Repo             RepositoryManager
	Auther           *Auther
	Cookie           CookieConfig
	ContextKey       string
	Registration     RegistrationConfig
	PasswordResetTTL time.Duration
	CommandOptions   []CommandOption
	MetricsHandler   fiber.Handler

	// Listeners run on every protected route once the token is resolved
	Listeners []ValidationListener

	register    *RegisterUserHandler
	verifyEmail *VerifyEmailHandler
	resend      *ResendVerificationHandler
	forgot      *InitializePasswordResetHandler
	reset       *FinalizePasswordResetHandler
	assignRoles *AssignRolesHandler
	setActive   *SetUserActiveHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Logger = normalizeLogger(logger)
		return a
	}
}

func WithControllerCookie(cookie CookieConfig) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Cookie = cookie
		return a
	}
}

func WithControllerRegistration(config RegistrationConfig) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Registration = config
		return a
	}
}

func WithControllerPasswordResetTTL(ttl time.Duration) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.PasswordResetTTL = ttl
		return a
	}
}

// WithControllerCommandOptions is passed to every flow handler
func WithControllerCommandOptions(opts ...CommandOption) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.CommandOptions = append(a.CommandOptions, opts...)
		return a
	}
}

// WithMetricsHandler mounts h on GET /metrics
func WithMetricsHandler(h fiber.Handler) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.MetricsHandler = h
		return a
	}
}

// WithValidationListeners adds listeners to every protected route
func WithValidationListeners(listeners ...ValidationListener) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Listeners = append(a.Listeners, listeners...)
		return a
	}
}

// NewAuthController builds the JSON controller. Auther and Repo are
// required.
func NewAuthController(auther *Auther, repo RepositoryManager, opts ...AuthControllerOption) *AuthController {
	a := &AuthController{
		Logger:           defLogger{},
		Repo:             repo,
		Auther:           auther,
		ContextKey:       DefaultContextKey,
		PasswordResetTTL: DefaultPasswordResetTTL,
		Cookie: CookieConfig{
			Name: DefaultRefreshCookieName,
			Path: "/",
		},
	}

	for _, opt := range opts {
		if opt != nil {
			a = opt(a)
		}
	}

	if a.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if a.Auther == nil {
		panic("Missing Auther in auth controller...")
	}

	if a.Cookie.MaxAge <= 0 {
		a.Cookie.MaxAge = a.Auther.Issuer().Config().ttl(TokenRefresh)
	}

	cmdOpts := append([]CommandOption{WithCommandLogger(a.Logger)}, a.CommandOptions...)
	a.register = NewRegisterUserHandler(a.Repo, a.Registration, cmdOpts...)
	a.verifyEmail = NewVerifyEmailHandler(a.Repo, cmdOpts...)
	a.resend = NewResendVerificationHandler(a.Repo, cmdOpts...)
	a.forgot = NewInitializePasswordResetHandler(a.Repo, a.PasswordResetTTL, cmdOpts...)
	a.reset = NewFinalizePasswordResetHandler(a.Repo, cmdOpts...)
	a.assignRoles = NewAssignRolesHandler(a.Repo, cmdOpts...)
	a.setActive = NewSetUserActiveHandler(a.Repo, cmdOpts...)

	return a
}

// RegisterRoutes mounts the auth API on r
func (a *AuthController) RegisterRoutes(r fiber.Router) {
	protected := a.Protected()
	admin := a.Protected(RequireAdmin())

	r.Get("/health", a.Health)
	if a.MetricsHandler != nil {
		r.Get("/metrics", a.MetricsHandler)
	}

	g := r.Group("/auth")
	g.Post("/login", a.Login)
	g.Post("/refresh", a.Refresh)
	g.Post("/logout", protected, a.Logout)
	g.Post("/register", a.Register)
	g.Post("/verify-email", a.VerifyEmail)
	g.Post("/resend-verification", a.ResendVerification)
	g.Post("/forgot-password", a.ForgotPassword)
	g.Post("/reset-password", a.ResetPassword)
	g.Get("/me", protected, a.Me)

	r.Get("/roles", admin, a.ListRoles)
	r.Put("/users/:id/roles", admin, a.AssignRoles)
	r.Patch("/users/:id/active", admin, a.SetActive)
}

// Protected requires a valid access token for an active user that
// satisfies every requirement
func (a *AuthController) Protected(reqs ...Requirement) fiber.Handler {
	cfg := jwtware.Config{
		ContextKey:      a.ContextKey,
		Authenticate:    a.authenticate,
		Authorize:       authorizer(reqs),
		ContextEnricher: enrichContext,
		ErrorHandler: func(_ *fiber.Ctx, err error) error {
			return notAuthenticated(err)
		},
	}

	RegisterValidationListeners(&cfg, a.Listeners...)

	return jwtware.New(cfg)
}

func (a *AuthController) authenticate(ctx context.Context, raw string) (any, error) {
	user, claims, err := a.Auther.Authenticate(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &Principal{User: user, Claims: claims}, nil
}

func authorizer(reqs []Requirement) func(principal any) error {
	if len(reqs) == 0 {
		return nil
	}
	return func(principal any) error {
		p, _ := principal.(*Principal)
		var user *User
		if p != nil {
			user = p.User
		}
		for _, req := range reqs {
			if err := Authorize(user, req); err != nil {
				return err
			}
		}
		return nil
	}
}

func notAuthenticated(err error) error {
	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		return wrapAs(ErrTokenMalformed, nil).WithMetadata(map[string]any{
			"reason": "not authenticated",
		})
	}
	return err
}

// LoginRequest accepts either username or email as the identifier
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Identifier returns the email used to log in
func (r LoginRequest) Identifier() string {
	if r.Username != "" {
		return r.Username
	}
	return r.Email
}

func (r LoginRequest) Validate() error {
	identifier := r.Identifier()
	err := validation.Errors{
		"username": validation.Validate(identifier, validation.Required),
		"password": validation.Validate(r.Password, validation.Required),
	}.Filter()
	return NewValidationError(err)
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := bindBody(c, payload); err != nil {
		return err
	}

	if a.Debug {
		redacted := *payload
		redacted.Password = "******"
		a.Logger.Debug("auth login payload: %s", print.MaybePrettyJSON(redacted))
	}

	if err := payload.Validate(); err != nil {
		return err
	}

	pair, _, err := a.Auther.Login(c.UserContext(), payload.Identifier(), payload.Password)
	if err != nil {
		return err
	}

	SetRefreshCookie(c, a.Cookie, pair.RefreshToken)
	return c.JSON(pair)
}

func (a *AuthController) Refresh(c *fiber.Ctx) error {
	raw := ExtractRefreshToken(c, a.Cookie.name())

	pair, _, err := a.Auther.Refresh(c.UserContext(), raw)
	if err != nil {
		return err
	}

	SetRefreshCookie(c, a.Cookie, pair.RefreshToken)
	return c.JSON(pair)
}

func (a *AuthController) Logout(c *fiber.Ctx) error {
	principal, ok := GetPrincipal(c, a.ContextKey)
	if !ok {
		return ErrTokenMalformed
	}

	refresh := strings.TrimSpace(c.Cookies(a.Cookie.name()))
	if err := a.Auther.Logout(c.UserContext(), principal.User, principal.Claims, refresh); err != nil {
		return err
	}

	ClearRefreshCookie(c, a.Cookie)
	return c.JSON(fiber.Map{"message": MessageLoggedOut})
}

func (a *AuthController) Register(c *fiber.Ctx) error {
	payload := new(RegisterUserMessage)
	if err := bindBody(c, payload); err != nil {
		return err
	}

	if a.Debug {
		redacted := *payload
		redacted.Password = "******"
		a.Logger.Debug("auth register payload: %s", print.MaybePrettyJSON(redacted))
	}

	res, err := a.register.Execute(c.UserContext(), *payload)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": MessageRegistered,
		"data":    res,
	})
}

func (a *AuthController) VerifyEmail(c *fiber.Ctx) error {
	payload := new(VerifyEmailMessage)
	if err := bindQueryAndBody(c, payload); err != nil {
		return err
	}

	if err := a.verifyEmail.Execute(c.UserContext(), *payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": MessageEmailVerified})
}

func (a *AuthController) ResendVerification(c *fiber.Ctx) error {
	payload := new(EmailRequestMessage)
	if err := bindQueryAndBody(c, payload); err != nil {
		return err
	}

	msg, err := a.resend.Execute(c.UserContext(), ResendVerificationMessage{EmailRequestMessage: *payload})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": msg})
}

func (a *AuthController) ForgotPassword(c *fiber.Ctx) error {
	payload := new(EmailRequestMessage)
	if err := bindQueryAndBody(c, payload); err != nil {
		return err
	}

	msg, err := a.forgot.Execute(c.UserContext(), InitializePasswordResetMessage{EmailRequestMessage: *payload})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": msg})
}

func (a *AuthController) ResetPassword(c *fiber.Ctx) error {
	payload := new(FinalizePasswordResetMessage)
	if err := bindQueryAndBody(c, payload); err != nil {
		return err
	}

	if err := a.reset.Execute(c.UserContext(), *payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": MessagePasswordResetDone})
}

// UserView is the public representation of a user
type UserView struct {
	*User
	Roles []string `json:"roles"`
}

func NewUserView(user *User) UserView {
	return UserView{User: user, Roles: user.Roles().Strings()}
}

func (a *AuthController) Me(c *fiber.Ctx) error {
	principal, ok := GetPrincipal(c, a.ContextKey)
	if !ok {
		return ErrTokenMalformed
	}
	return c.JSON(NewUserView(principal.User))
}

func (a *AuthController) ListRoles(c *fiber.Ctx) error {
	infos, err := a.Repo.Roles().ListInfo(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"roles": infos})
}

func (a *AuthController) AssignRoles(c *fiber.Ctx) error {
	principal, ok := GetPrincipal(c, a.ContextKey)
	if !ok {
		return ErrTokenMalformed
	}

	userID, err := userIDParam(c)
	if err != nil {
		return err
	}

	payload := new(AssignRolesMessage)
	if err := bindBody(c, payload); err != nil {
		return err
	}
	payload.Actor = principal.User
	payload.UserID = userID

	user, err := a.assignRoles.Execute(c.UserContext(), *payload)
	if err != nil {
		return err
	}

	return c.JSON(NewUserView(user))
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" form:"is_active"`
}

func (a *AuthController) SetActive(c *fiber.Ctx) error {
	principal, ok := GetPrincipal(c, a.ContextKey)
	if !ok {
		return ErrTokenMalformed
	}

	userID, err := userIDParam(c)
	if err != nil {
		return err
	}

	payload := new(setActiveRequest)
	if err := bindBody(c, payload); err != nil {
		return err
	}
	if payload.IsActive == nil {
		return wrapAs(ErrValidation, nil).WithMetadata(map[string]any{
			"fields": map[string]string{"is_active": "cannot be blank"},
		})
	}

	user, err := a.setActive.Execute(c.UserContext(), SetUserActiveMessage{
		Actor:    principal.User,
		UserID:   userID,
		IsActive: *payload.IsActive,
	})
	if err != nil {
		return err
	}

	return c.JSON(NewUserView(user))
}

func (a *AuthController) Health(c *fiber.Ctx) error {
	if err := a.Repo.Ping(c.UserContext()); err != nil {
		a.Logger.Error("health check failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func userIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, wrapAs(ErrValidation, nil).WithMetadata(map[string]any{
			"fields": map[string]string{"id": "must be a valid UUID"},
		})
	}
	return id, nil
}

func bindBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return wrapAs(ErrValidation, err).WithMetadata(map[string]any{
			"fields": map[string]string{"body": "malformed request body"},
		})
	}
	return nil
}

func bindQueryAndBody(c *fiber.Ctx, out any) error {
	if err := c.QueryParser(out); err != nil {
		return wrapAs(ErrValidation, err).WithMetadata(map[string]any{
			"fields": map[string]string{"query": "malformed query string"},
		})
	}
	return bindBody(c, out)
}
