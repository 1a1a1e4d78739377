package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

const (
	cleanupTaskType        = "queue.cleanup"
	defaultCleanupDays     = 30
	defaultCleanupInterval = 24 * time.Hour
)

type cleanupPayload struct {
	DaysToKeep    int `json:"daysToKeep"`
	IntervalHours int `json:"intervalHours"`
}

// registerBuiltinHandlers wires the administrative task types the worker
// understands out of the box. Recurring tasks reschedule themselves after
// each run, so a single seed row keeps the chain alive.
func registerBuiltinHandlers(registry *taskqueue.HandlerRegistry, producer *taskqueue.Producer, logg *logger.Logger) {
	registry.Register(cleanupTaskType, cleanupHandler(producer, logg))
}

func cleanupHandler(producer *taskqueue.Producer, logg *logger.Logger) taskqueue.Handler {
	return func(ctx context.Context, record models.TaskRecord) (json.RawMessage, error) {
		var payload cleanupPayload
		if len(record.Payload) > 0 {
			if err := json.Unmarshal(record.Payload, &payload); err != nil {
				return nil, taskqueue.NewPermanentError(fmt.Errorf("decoding cleanup payload: %w", err))
			}
		}
		days := payload.DaysToKeep
		if days <= 0 {
			days = defaultCleanupDays
		}
		interval := defaultCleanupInterval
		if payload.IntervalHours > 0 {
			interval = time.Duration(payload.IntervalHours) * time.Hour
		}

		deleted, err := producer.CleanupOldJobs(ctx, days)
		if err != nil {
			return nil, err
		}

		next, err := producer.ScheduleNextOccurrence(ctx, cleanupTaskType, interval, record.Payload)
		if err != nil {
			return nil, err
		}

		logCtx := logg.WithFields(ctx, map[string]any{
			"rows_deleted": deleted,
			"next_run":     next.ScheduledAt,
		})
		logg.Info(logCtx, "queue cleanup task complete")

		return json.Marshal(map[string]any{
			"rowsDeleted": deleted,
			"nextTaskId":  next.ID,
		})
	}
}
