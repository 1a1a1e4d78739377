package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/avencia-dev/taskforge/api"
	"github.com/avencia-dev/taskforge/api/controllers"
	"github.com/avencia-dev/taskforge/api/routes"
	"github.com/avencia-dev/taskforge/internal/cron"
	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/db"
	"github.com/avencia-dev/taskforge/pkg/enums"
	"github.com/avencia-dev/taskforge/pkg/logger"
	"github.com/avencia-dev/taskforge/pkg/metrics"
	"github.com/avencia-dev/taskforge/pkg/migrate"
	"github.com/avencia-dev/taskforge/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "maintenance-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "maintenance-worker"

	logg = logger.New(logger.Options{
		ServiceName: "maintenance-worker",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	maintenanceMetrics := metrics.NewMaintenanceMetrics(promRegistry)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("maintenance", cfg.App.Env), cfg.Maintenance.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create maintenance lock", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	jobsRepo := taskqueue.NewRepository(gormDB, enums.QueueJobs)
	outboxRepo := taskqueue.NewRepository(gormDB, enums.QueueOutbox)
	dlqRepo := taskqueue.NewDLQRepository(gormDB)

	registry := cron.NewRegistry()
	if err := registerJobs(registry, cfg, logg, jobsRepo, outboxRepo, dlqRepo); err != nil {
		logg.Error(context.Background(), "failed to register maintenance jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  maintenanceMetrics,
		Interval: cfg.Maintenance.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create maintenance service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.RouterParams{
		Config: cfg,
		Logger: logg,
		Dependencies: []controllers.Dependency{
			{Name: "database", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
		},
		Registry: promRegistry,
	})
	ops := api.NewOpsServer(cfg.Ops, logg, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting maintenance worker")

	opsErr := make(chan error, 1)
	go func() {
		opsErr <- ops.Run(ctx)
	}()

	runErr := service.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if err := multierr.Append(runErr, <-opsErr); err != nil {
		logg.Error(ctx, "maintenance worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "maintenance worker shutting down gracefully")
}

func registerJobs(
	registry *cron.Registry,
	cfg *config.Config,
	logg *logger.Logger,
	jobsRepo, outboxRepo *taskqueue.Repository,
	dlqRepo *taskqueue.DLQRepository,
) error {
	for _, repo := range []*taskqueue.Repository{jobsRepo, outboxRepo} {
		job, err := cron.NewQueueRetentionJob(cron.QueueRetentionJobParams{
			Logger:     logg,
			Repository: repo,
			Retention:  cfg.Maintenance.CompletedRetentionDays,
		})
		if err != nil {
			return fmt.Errorf("queue retention job: %w", err)
		}
		registry.Register(job)
	}

	dlqRetention, err := cron.NewDLQRetentionJob(cron.DLQRetentionJobParams{
		Logger:     logg,
		Repository: dlqRepo,
		Retention:  cfg.Maintenance.DLQResolvedRetentionDays,
	})
	if err != nil {
		return fmt.Errorf("dlq retention job: %w", err)
	}
	registry.Register(dlqRetention)

	dlqReport, err := cron.NewDLQReportJob(cron.DLQReportJobParams{
		Logger:        logg,
		Counter:       dlqRepo,
		WarnThreshold: cfg.Maintenance.DLQWarnThreshold,
	})
	if err != nil {
		return fmt.Errorf("dlq report job: %w", err)
	}
	registry.Register(dlqReport)

	return nil
}
