package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/avencia-dev/taskforge/pkg/logger"
)

const defaultResolvedRetentionDays = 90

// DLQRetentionJobParams configure the resolved dead-letter purge.
type DLQRetentionJobParams struct {
	Logger     *logger.Logger
	Repository dlqRetentionRepo
	Retention  int
}

type dlqRetentionRepo interface {
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewDLQRetentionJob purges resolved dead letters past the retention window.
// Unresolved entries never expire automatically.
func NewDLQRetentionJob(params DLQRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("dead-letter repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultResolvedRetentionDays
	}
	return &dlqRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type dlqRetentionJob struct {
	logg      *logger.Logger
	repo      dlqRetentionRepo
	retention int
	now       func() time.Time
}

func (j *dlqRetentionJob) Name() string { return "dlq-retention" }

func (j *dlqRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.repo.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("dlq retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "resolved dead-letter purge complete")
	return nil
}
