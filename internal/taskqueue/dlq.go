package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
	apperrors "github.com/avencia-dev/taskforge/pkg/errors"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

// DLQManagerParams wires a DLQManager.
type DLQManagerParams struct {
	DB     txRunner
	DLQ    *DLQRepository
	Jobs   *Repository
	Outbox *Repository
	Logger *logger.Logger

	JobsMaxAttempts   int
	OutboxMaxAttempts int
}

// DLQManager is the resolution surface over the dead-letter table: list,
// resolve, and requeue. The engine never purges dead letters on its own;
// every row waits for explicit disposal.
type DLQManager struct {
	db   txRunner
	dlq  *DLQRepository
	logg *logger.Logger

	repos       map[enums.Queue]*Repository
	maxAttempts map[enums.Queue]int
}

// NewDLQManager validates wiring and builds a DLQManager.
func NewDLQManager(params DLQManagerParams) (*DLQManager, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Jobs == nil {
		return nil, errors.New("jobs repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	jobsAttempts := params.JobsMaxAttempts
	if jobsAttempts <= 0 {
		jobsAttempts = 3
	}
	outboxAttempts := params.OutboxMaxAttempts
	if outboxAttempts <= 0 {
		outboxAttempts = 5
	}
	return &DLQManager{
		db:   params.DB,
		dlq:  params.DLQ,
		logg: params.Logger,
		repos: map[enums.Queue]*Repository{
			enums.QueueJobs:   params.Jobs,
			enums.QueueOutbox: params.Outbox,
		},
		maxAttempts: map[enums.Queue]int{
			enums.QueueJobs:   jobsAttempts,
			enums.QueueOutbox: outboxAttempts,
		},
	}, nil
}

// ListItems returns dead-letter rows matching the options.
func (m *DLQManager) ListItems(ctx context.Context, opts DLQListOptions) ([]models.DeadLetterRecord, error) {
	return m.dlq.List(ctx, opts)
}

// GetItem returns one dead-letter row, or nil when it does not exist.
func (m *DLQManager) GetItem(ctx context.Context, id uuid.UUID) (*models.DeadLetterRecord, error) {
	return m.dlq.FindByID(ctx, id)
}

// Resolve marks a dead-letter row disposed. Returns false when the row is
// missing or already resolved.
func (m *DLQManager) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, resolution enums.DLQResolution, notes *string) (bool, error) {
	if resolvedBy == "" {
		return false, apperrors.New(apperrors.CodeValidation, "resolvedBy is required")
	}
	if !resolution.IsValid() {
		return false, apperrors.New(apperrors.CodeValidation, "unknown resolution").WithDetails(string(resolution))
	}
	resolved, err := m.dlq.Resolve(ctx, id, resolvedBy, resolution, notes)
	if err != nil {
		return false, fmt.Errorf("resolving dead letter %s: %w", id, err)
	}
	if resolved {
		fields := map[string]any{"dlq_id": id.String(), "resolution": resolution, "resolved_by": resolvedBy}
		m.logg.Info(m.logg.WithFields(ctx, fields), "dead letter resolved")
	}
	return resolved, nil
}

// Requeue gives a dead letter another run by creating a brand-new pending
// record from its payload: fresh id, attempts back to zero, high priority.
// The source row is marked resolved "requeued" in the same transaction, and
// that conditional resolve is what makes Requeue single-shot: a missing or
// already-resolved row yields nil with no error.
func (m *DLQManager) Requeue(ctx context.Context, id uuid.UUID, requeuedBy string) (*EnqueueResult, error) {
	entry, err := m.dlq.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading dead letter %s: %w", id, err)
	}
	if entry == nil || entry.Resolved() {
		return nil, nil
	}

	repo, ok := m.repos[entry.Queue]
	if !ok {
		return nil, apperrors.New(apperrors.CodeStateConflict, "dead letter references unknown queue").WithDetails(string(entry.Queue))
	}

	record := &models.TaskRecord{
		ID:             uuid.New(),
		TaskType:       entry.TaskType,
		Payload:        entry.Payload,
		Status:         enums.TaskPending,
		Priority:       enums.PriorityHigh,
		Attempts:       0,
		MaxAttempts:    m.maxAttempts[entry.Queue],
		ScheduledAt:    time.Now().UTC(),
		CorrelationID:  entry.CorrelationID,
		Destination:    entry.Destination,
		DestinationURL: entry.DestinationURL,
	}

	requeued := false
	err = m.db.WithTx(ctx, func(tx *gorm.DB) error {
		resolved, err := m.dlq.ResolveTx(tx, id, requeuedBy, enums.ResolutionRequeued, nil)
		if err != nil {
			return err
		}
		if !resolved {
			// Lost the race to another resolver.
			return nil
		}
		if err := repo.InsertTx(tx, record); err != nil {
			return err
		}
		requeued = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("requeueing dead letter %s: %w", id, err)
	}
	if !requeued {
		return nil, nil
	}

	fields := map[string]any{
		"dlq_id":    id.String(),
		"task_id":   record.ID.String(),
		"task_type": record.TaskType,
		"queue":     entry.Queue,
	}
	m.logg.Info(m.logg.WithFields(ctx, fields), "dead letter requeued")
	return resultOf(record), nil
}

// UnresolvedCounts returns unresolved dead letters grouped by queue.
func (m *DLQManager) UnresolvedCounts(ctx context.Context) (map[enums.Queue]int64, error) {
	return m.dlq.CountUnresolved(ctx)
}
