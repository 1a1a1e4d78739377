package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
	apperrors "github.com/avencia-dev/taskforge/pkg/errors"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EnqueueInput is the producer-facing enqueue contract.
type EnqueueInput struct {
	TaskType    string          `json:"taskType" validate:"required,max=255"`
	Payload     json.RawMessage `json:"payload"`
	ScheduledAt *time.Time      `json:"scheduledAt,omitempty"`
	Priority    *int            `json:"priority,omitempty" validate:"omitempty,min=0"`
	MaxAttempts *int            `json:"maxAttempts,omitempty" validate:"omitempty,min=1,max=100"`

	CorrelationID *string  `json:"correlationId,omitempty"`
	CreatedBy     *string  `json:"createdBy,omitempty"`
	Tags          []string `json:"tags,omitempty"`

	// Outbox destinations only; ignored for the job queue.
	Destination    *enums.Destination `json:"destination,omitempty"`
	DestinationURL *string            `json:"destinationUrl,omitempty"`
	AggregateType  *string            `json:"aggregateType,omitempty"`
	AggregateID    *uuid.UUID         `json:"aggregateId,omitempty"`
}

// EnqueueResult is what producers get back per accepted input.
type EnqueueResult struct {
	ID          uuid.UUID        `json:"id"`
	TaskType    string           `json:"taskType"`
	Status      enums.TaskStatus `json:"status"`
	ScheduledAt time.Time        `json:"scheduledAt"`
}

// ProducerParams wires a Producer.
type ProducerParams struct {
	DB         txRunner
	Repository *Repository
	Logger     *logger.Logger
	Settings   config.QueueSettings
}

// Producer is the enqueue API for one queue.
type Producer struct {
	db       txRunner
	repo     *Repository
	logg     *logger.Logger
	validate *validator.Validate

	defaultMaxAttempts int
}

// NewProducer validates wiring and builds a Producer.
func NewProducer(params ProducerParams) (*Producer, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	maxAttempts := params.Settings.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Producer{
		db:                 params.DB,
		repo:               params.Repository,
		logg:               params.Logger,
		validate:           validator.New(),
		defaultMaxAttempts: maxAttempts,
	}, nil
}

// Enqueue inserts one pending record. ScheduledAt defaults to now and
// priority to the normal tier. No side effects beyond the single insert.
func (p *Producer) Enqueue(ctx context.Context, input EnqueueInput) (*EnqueueResult, error) {
	record, err := p.buildRecord(input, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := p.repo.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("inserting %s task: %w", p.repo.Queue(), err)
	}
	p.logEnqueued(ctx, record)
	return resultOf(record), nil
}

// EnqueueDelayed inserts one pending record scheduled delay from now.
func (p *Producer) EnqueueDelayed(ctx context.Context, input EnqueueInput, delay time.Duration) (*EnqueueResult, error) {
	if delay < 0 {
		delay = 0
	}
	at := time.Now().UTC().Add(delay)
	input.ScheduledAt = &at
	return p.Enqueue(ctx, input)
}

// EnqueueBatch inserts all inputs inside one transaction. All-or-nothing:
// if any input is invalid or any insert fails, nothing is committed.
// Results come back in input order.
func (p *Producer) EnqueueBatch(ctx context.Context, inputs []EnqueueInput) ([]EnqueueResult, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	records := make([]*models.TaskRecord, 0, len(inputs))
	for i, input := range inputs {
		record, err := p.buildRecord(input, now)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		records = append(records, record)
	}

	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, record := range records {
			if err := p.repo.InsertTx(tx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batch enqueue: %w", err)
	}

	results := make([]EnqueueResult, 0, len(records))
	for _, record := range records {
		p.logEnqueued(ctx, record)
		results = append(results, *resultOf(record))
	}
	return results, nil
}

// ScheduleNextOccurrence chains a recurring job: a handler calls this at the
// end of its own successful run to book the next execution. The engine has
// no cron scheduler of its own.
func (p *Producer) ScheduleNextOccurrence(ctx context.Context, taskType string, interval time.Duration, payload json.RawMessage) (*EnqueueResult, error) {
	if interval <= 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "interval must be positive")
	}
	return p.EnqueueDelayed(ctx, EnqueueInput{TaskType: taskType, Payload: payload}, interval)
}

// Cancel transitions a pending record to cancelled. Returns false without
// touching the record for any other status, including processing: a claimed
// task cannot be cancelled.
func (p *Producer) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	cancelled, err := p.repo.CancelPending(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancelling task %s: %w", id, err)
	}
	if cancelled {
		ctxWithTask := p.logg.WithTaskID(ctx, id.String())
		p.logg.Info(ctxWithTask, "task cancelled")
	}
	return cancelled, nil
}

// GetStatus returns the record, or nil when it does not exist.
func (p *Producer) GetStatus(ctx context.Context, id uuid.UUID) (*models.TaskRecord, error) {
	return p.repo.FindByID(ctx, id)
}

// GetStats returns record counts grouped by status.
func (p *Producer) GetStats(ctx context.Context) (map[enums.TaskStatus]int64, error) {
	return p.repo.CountByStatus(ctx)
}

// GetJobsByType lists the newest records of a task type.
func (p *Producer) GetJobsByType(ctx context.Context, taskType string, status *enums.TaskStatus, limit int) ([]models.TaskRecord, error) {
	if taskType == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "task type is required")
	}
	return p.repo.ListByType(ctx, taskType, status, limit)
}

// CleanupOldJobs deletes completed records older than daysToKeep days.
func (p *Producer) CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 1 {
		return 0, apperrors.New(apperrors.CodeValidation, "daysToKeep must be at least 1")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	removed, err := p.repo.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up completed tasks: %w", err)
	}
	if removed > 0 {
		fields := map[string]any{"removed": removed, "cutoff": cutoff.Format(time.RFC3339)}
		p.logg.Info(p.logg.WithFields(ctx, fields), "old completed tasks removed")
	}
	return removed, nil
}

func (p *Producer) buildRecord(input EnqueueInput, now time.Time) (*models.TaskRecord, error) {
	if err := p.validate.Struct(input); err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, "invalid enqueue input").WithDetails(err.Error())
	}
	payload := input.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, apperrors.New(apperrors.CodeValidation, "payload is not valid JSON")
	}
	if input.Destination != nil && !input.Destination.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, "unknown destination").WithDetails(string(*input.Destination))
	}

	scheduledAt := now
	if input.ScheduledAt != nil {
		scheduledAt = input.ScheduledAt.UTC()
	}
	priority := enums.PriorityNormal
	if input.Priority != nil {
		priority = *input.Priority
	}
	maxAttempts := p.defaultMaxAttempts
	if input.MaxAttempts != nil {
		maxAttempts = *input.MaxAttempts
	}

	return &models.TaskRecord{
		ID:             uuid.New(),
		TaskType:       input.TaskType,
		Payload:        payload,
		Status:         enums.TaskPending,
		Priority:       priority,
		MaxAttempts:    maxAttempts,
		ScheduledAt:    scheduledAt,
		CorrelationID:  input.CorrelationID,
		CreatedBy:      input.CreatedBy,
		Tags:           input.Tags,
		Destination:    input.Destination,
		DestinationURL: input.DestinationURL,
		AggregateType:  input.AggregateType,
		AggregateID:    input.AggregateID,
	}, nil
}

func (p *Producer) logEnqueued(ctx context.Context, record *models.TaskRecord) {
	fields := map[string]any{
		"task_id":      record.ID.String(),
		"task_type":    record.TaskType,
		"queue":        p.repo.Queue(),
		"priority":     record.Priority,
		"scheduled_at": record.ScheduledAt.Format(time.RFC3339Nano),
	}
	p.logg.Info(p.logg.WithFields(ctx, fields), "task enqueued")
}

func resultOf(record *models.TaskRecord) *EnqueueResult {
	return &EnqueueResult{
		ID:          record.ID,
		TaskType:    record.TaskType,
		Status:      record.Status,
		ScheduledAt: record.ScheduledAt,
	}
}
