package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-router"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-auth-service"
	"github.com/goliatone/go-auth-service/activitymap"
	"github.com/goliatone/go-auth-service/denylist"
	"github.com/goliatone/go-auth-service/mailer/smtp"
	"github.com/goliatone/go-auth-service/metrics"
	"github.com/goliatone/go-auth-service/persistence"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	settings *auth.Settings
	logger   auth.Logger
	db       *bun.DB
	redis    *redis.Client
	repo     auth.RepositoryManager
	auther   *auth.Auther
	srv      *fiber.App
}

// NewApp opens storage and wires every service behind the HTTP API
func NewApp(ctx context.Context, settings *auth.Settings, logger auth.Logger) (*App, error) {
	a := &App{settings: settings, logger: logger}

	if err := a.setupDatabase(ctx); err != nil {
		a.close()
		return nil, err
	}

	if err := a.setupAuth(ctx); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	s := a.settings

	db, err := persistence.Open(ctx, s.DatabaseDriver, s.DatabaseURL,
		persistence.WithDebug(s.Debug && strings.EqualFold(s.LogLevel, "debug")),
		persistence.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db

	if s.DatabaseAutoMigrate {
		if err := persistence.Migrate(ctx, db, s.DatabaseDriver, persistence.WithLogger(a.logger)); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	a.repo = auth.NewRepositoryManager(db)
	a.repo.MustValidate()

	if err := auth.SeedRoles(ctx, a.repo, auth.DefaultRoleCatalog); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	return nil
}

func (a *App) setupAuth(ctx context.Context) error {
	s := a.settings

	codec, err := auth.NewTokenCodec([]byte(s.SecretKey))
	if err != nil {
		return err
	}
	codec.WithLeeway(s.TokenLeeway).WithLogger(a.logger)

	issuer := auth.NewTokenIssuer(codec, s.IssuerConfig()).WithLogger(a.logger)
	resolver := auth.NewIdentityResolver(auth.NewTokenVerifier(codec), a.repo.Users()).
		WithLogger(a.logger)

	provider := auth.NewUserProvider(a.repo.Users()).
		WithLogger(a.logger).
		WithLockoutPolicy(auth.LockoutPolicy{
			MaxAttempts: s.MaxLoginAttempts,
			Cooldown:    s.LoginCooldown,
		})

	registry := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(registry, metrics.DefaultNamespace)

	activity := auth.ActivitySinks{
		activitymap.LoggingSink(a.logger, activitymap.WithDefaultChannel(s.Issuer())),
		metrics.NewActivityCollector(registry, metrics.DefaultNamespace),
	}

	a.auther = auth.NewAuthenticator(provider, issuer, resolver).
		WithLogger(a.logger).
		WithActivitySink(activity).
		WithRefreshRotation(s.RefreshTokenRotation)

	if s.RedisURL != "" {
		client, err := denylist.Connect(ctx, s.RedisURL)
		if err != nil {
			return err
		}
		a.redis = client
		a.auther.WithDenylist(denylist.NewRedisStore(client))
		a.logger.Info("token denylist enabled")
	}

	composer, err := auth.NewEmailComposer(s.ProjectName, s.FrontendURL)
	if err != nil {
		return fmt.Errorf("compile email templates: %w", err)
	}

	var listeners []auth.ValidationListener
	if s.RequireVerifiedEmail {
		listeners = append(listeners, auth.RequireVerifiedEmail())
	}

	controller := auth.NewAuthController(a.auther, a.repo,
		auth.WithControllerDebug(s.Debug),
		auth.WithControllerLogger(a.logger),
		auth.WithControllerCookie(auth.CookieConfig{
			Name:   s.RefreshCookieName,
			Path:   "/",
			Secure: s.SecureCookies(),
			MaxAge: s.RefreshTTL(),
		}),
		auth.WithControllerRegistration(auth.RegistrationConfig{
			TrialPeriod:  s.TrialPeriod,
			DefaultRoles: s.Roles(),
		}),
		auth.WithControllerPasswordResetTTL(s.PasswordResetTTL),
		auth.WithControllerCommandOptions(
			auth.WithCommandMailer(a.mailer(), composer),
			auth.WithCommandActivitySink(activity),
		),
		auth.WithMetricsHandler(metrics.Handler(registry)),
		auth.WithValidationListeners(listeners...),
	)

	errorHandler := auth.NewErrorHandler(a.logger)

	server := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			AppName:               s.ProjectName,
			ErrorHandler:          errorHandler,
			DisableStartupMessage: true,
		})
	})
	a.srv = server.WrappedRouter()

	origins := strings.Join(s.CORSOrigins, ",")
	a.srv.Use(
		recover.New(recover.Config{EnableStackTrace: s.Debug}),
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowCredentials: origins != "*" && origins != "",
		}),
		auth.RequestLogger(a.logger),
		httpMetrics.Middleware(errorHandler),
	)

	controller.RegisterRoutes(a.srv.Group(s.APIPrefix))
	auth.RegisterSessionRoutes(controller, server.Router().Group(s.APIPrefix))

	return nil
}

func (a *App) mailer() auth.Mailer {
	s := a.settings

	config := smtp.Config{
		Host:      s.SMTPHost,
		Port:      s.SMTPPort,
		Username:  s.SMTPUser,
		Password:  s.SMTPPassword,
		StartTLS:  s.SMTPTLS,
		FromEmail: s.EmailsFromEmail,
		FromName:  s.EmailsFromName,
	}

	if !config.Enabled() {
		a.logger.Warn("SMTP is not configured, emails will be logged")
		return auth.NewLogMailer(a.logger)
	}

	a.logger.Info("sending email through %s", config)
	return smtp.NewSender(config, smtp.DefaultBreakerConfig(), smtp.WithLogger(a.logger))
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("listening on %s", a.settings.HTTPAddr)
		errc <- a.srv.Listen(a.settings.HTTPAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	if err := a.srv.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database: %v", err)
			return
		}
		a.logger.Debug("database closed")
	}
}
