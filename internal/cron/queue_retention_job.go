package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/avencia-dev/taskforge/pkg/enums"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

const defaultCompletedRetentionDays = 30

// QueueRetentionJobParams configure a completed-row retention job for one
// queue table.
type QueueRetentionJobParams struct {
	Logger     *logger.Logger
	Repository queueRetentionRepo
	Retention  int
}

type queueRetentionRepo interface {
	Queue() enums.Queue
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewQueueRetentionJob deletes completed rows older than the retention window.
// Rows in any other status are never touched here.
func NewQueueRetentionJob(params QueueRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("queue repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultCompletedRetentionDays
	}
	return &queueRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type queueRetentionJob struct {
	logg      *logger.Logger
	repo      queueRetentionRepo
	retention int
	now       func() time.Time
}

func (j *queueRetentionJob) Name() string {
	return fmt.Sprintf("queue-retention-%s", j.repo.Queue())
}

func (j *queueRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.repo.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("queue retention %s: %w", j.repo.Queue(), err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"queue":          string(j.repo.Queue()),
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "completed-row retention cleanup complete")
	return nil
}
