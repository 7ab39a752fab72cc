package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	auth "github.com/goliatone/go-auth-service"
)

func main() {
	settings, err := auth.LoadSettings()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	logger, flush, err := auth.NewZapLogger(settings.LogLevel, settings.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = flush() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := NewApp(ctx, settings, logger)
	if err != nil {
		logger.Error("failed to initialize application: %v", err)
		_ = flush()
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("application error: %v", err)
		_ = flush()
		os.Exit(1)
	}

	logger.Info("%s stopped", settings.ProjectName)
}
