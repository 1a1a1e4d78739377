package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/avencia-dev/taskforge/api"
	"github.com/avencia-dev/taskforge/api/controllers"
	"github.com/avencia-dev/taskforge/api/routes"
	"github.com/avencia-dev/taskforge/internal/delivery"
	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/db"
	"github.com/avencia-dev/taskforge/pkg/enums"
	"github.com/avencia-dev/taskforge/pkg/logger"
	"github.com/avencia-dev/taskforge/pkg/metrics"
	"github.com/avencia-dev/taskforge/pkg/pubsub"
)

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	PubSub   *pubsub.Client
	Metrics  *metrics.QueueMetrics
	Gatherer prometheus.Gatherer
}

type Service struct {
	cfg    *config.Config
	logg   *logger.Logger
	db     *db.Client
	pubsub *pubsub.Client
	poller *taskqueue.Poller
	ops    *api.OpsServer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}

	cfg := params.Config
	logg := params.Logger
	gormDB := params.DB.DB()

	jobsRepo := taskqueue.NewRepository(gormDB, enums.QueueJobs)
	outboxRepo := taskqueue.NewRepository(gormDB, enums.QueueOutbox)
	dlqRepo := taskqueue.NewDLQRepository(gormDB)

	jobsProducer, err := taskqueue.NewProducer(taskqueue.ProducerParams{
		DB:         params.DB,
		Repository: jobsRepo,
		Logger:     logg,
		Settings:   cfg.Jobs.Settings(),
	})
	if err != nil {
		return nil, fmt.Errorf("building jobs producer: %w", err)
	}
	outboxProducer, err := taskqueue.NewProducer(taskqueue.ProducerParams{
		DB:         params.DB,
		Repository: outboxRepo,
		Logger:     logg,
		Settings:   cfg.Outbox.Settings(),
	})
	if err != nil {
		return nil, fmt.Errorf("building outbox producer: %w", err)
	}

	dlqManager, err := taskqueue.NewDLQManager(taskqueue.DLQManagerParams{
		DB:                params.DB,
		DLQ:               dlqRepo,
		Jobs:              jobsRepo,
		Outbox:            outboxRepo,
		Logger:            logg,
		JobsMaxAttempts:   cfg.Jobs.DefaultMaxAttempts,
		OutboxMaxAttempts: cfg.Outbox.DefaultMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("building dlq manager: %w", err)
	}

	dispatcher := buildDispatcher(cfg, logg, params.PubSub)

	poller, err := taskqueue.NewPoller(taskqueue.PollerParams{
		Settings:   cfg.Outbox.Settings(),
		WorkerID:   cfg.Service.WorkerID,
		DB:         params.DB,
		Store:      outboxRepo,
		DLQ:        dlqRepo,
		Dispatcher: dispatcher,
		Logger:     logg,
		Metrics:    params.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("building poller: %w", err)
	}

	router := routes.NewRouter(routes.RouterParams{
		Config: cfg,
		Logger: logg,
		Stats: map[enums.Queue]controllers.StatsProvider{
			enums.QueueJobs:   jobsProducer,
			enums.QueueOutbox: outboxProducer,
		},
		DLQ: dlqManager,
		Dependencies: []controllers.Dependency{
			{Name: "database", Pinger: params.DB},
			{Name: "pubsub", Pinger: params.PubSub},
		},
		Registry: params.Gatherer,
	})

	return &Service{
		cfg:    cfg,
		logg:   logg,
		db:     params.DB,
		pubsub: params.PubSub,
		poller: poller,
		ops:    api.NewOpsServer(cfg.Ops, logg, router),
	}, nil
}

// buildDispatcher registers one adapter per destination. Destinations with
// blank endpoints stay registered; their adapters surface a permanent
// configuration error at delivery time.
func buildDispatcher(cfg *config.Config, logg *logger.Logger, ps *pubsub.Client) *delivery.Dispatcher {
	dispatcher := delivery.NewDispatcher(logg)
	dispatcher.Register(enums.DestinationWebhook, delivery.NewWebhookAdapter(cfg.Delivery.WebhookTimeout))
	dispatcher.Register(enums.DestinationEmail, delivery.NewEmailAdapter(cfg.Delivery))
	dispatcher.Register(enums.DestinationSMS, delivery.NewSMSAdapter(cfg.Delivery))
	dispatcher.Register(enums.DestinationPaymentGateway, delivery.NewPaymentAdapter(cfg.Delivery))
	dispatcher.Register(enums.DestinationAnalytics, delivery.NewPubSubAdapter("analytics", ps.AnalyticsPublisher(), cfg.Delivery.PublishTimeout))
	dispatcher.Register(enums.DestinationNotification, delivery.NewPubSubAdapter("notification", ps.NotificationPublisher(), cfg.Delivery.PublishTimeout))
	return dispatcher
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	opsErr := make(chan error, 1)
	go func() {
		opsErr <- s.ops.Run(ctx)
	}()

	pollErr := s.poller.Run(ctx)
	if errors.Is(pollErr, context.Canceled) {
		pollErr = nil
	}
	return multierr.Append(pollErr, <-opsErr)
}
