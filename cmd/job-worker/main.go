package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/db"
	"github.com/avencia-dev/taskforge/pkg/logger"
	"github.com/avencia-dev/taskforge/pkg/metrics"
	"github.com/avencia-dev/taskforge/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "job-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "job-worker"

	logg = logger.New(logger.Options{
		ServiceName: "job-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	queueMetrics := metrics.NewQueueMetrics(promRegistry)
	handlers := taskqueue.NewHandlerRegistry()

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Handlers: handlers,
		Metrics:  queueMetrics,
		Gatherer: promRegistry,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create job worker", err)
		os.Exit(1)
	}

	registerBuiltinHandlers(handlers, service.Producer(), logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting job worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "job worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "job worker shutting down gracefully")
}
