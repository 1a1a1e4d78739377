package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
)

// Repository is the record store for one task table. job_queue and
// event_outbox share the row shape, so the same repository serves both;
// the queue selects the table at construction.
type Repository struct {
	db    *gorm.DB
	queue enums.Queue
	table string
}

// NewRepository builds a repository bound to the given queue's table.
func NewRepository(db *gorm.DB, queue enums.Queue) *Repository {
	return &Repository{db: db, queue: queue, table: queue.Table()}
}

// Queue returns the queue this repository is bound to.
func (r *Repository) Queue() enums.Queue {
	return r.queue
}

func (r *Repository) scoped(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table)
}

// InsertTx inserts one record inside an existing transaction.
func (r *Repository) InsertTx(tx *gorm.DB, record *models.TaskRecord) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Table(r.table).Create(record).Error
}

// Insert inserts one record outside any caller transaction.
func (r *Repository) Insert(ctx context.Context, record *models.TaskRecord) error {
	return r.scoped(ctx).Create(record).Error
}

// FindByID returns the record or nil when no row exists.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.TaskRecord, error) {
	var record models.TaskRecord
	err := r.scoped(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FetchDue selects up to limit records eligible for execution: pending or
// failed, past their scheduled time, and past any retry hold. Ordered by
// priority, then FIFO by schedule time within a tier.
func (r *Repository) FetchDue(ctx context.Context, limit int, now time.Time) ([]models.TaskRecord, error) {
	var rows []models.TaskRecord
	err := r.scoped(ctx).
		Where("status IN ?", []enums.TaskStatus{enums.TaskPending, enums.TaskFailed}).
		Where("scheduled_at <= ?", now).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
		Order("priority ASC").
		Order("COALESCE(next_attempt_at, scheduled_at) ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim attempts to take the lease on a record. The conditional predicate on
// status makes this a compare-and-swap: of N workers racing on the same row,
// exactly one sees an affected row and may execute the task. The attempt
// counter increments here so a worker crash mid-task still consumes budget.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, workerID string, leaseTimeout time.Duration, now time.Time) (bool, error) {
	res := r.scoped(ctx).
		Where("id = ? AND status IN ?", id, []enums.TaskStatus{enums.TaskPending, enums.TaskFailed}).
		Updates(map[string]any{
			"status":          enums.TaskProcessing,
			"locked_by":       workerID,
			"locked_at":       now,
			"lock_expires_at": now.Add(leaseTimeout),
			"started_at":      now,
			"attempts":        gorm.Expr("attempts + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkCompleted finishes a claimed record: terminal status, lock cleared,
// result and timing recorded.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage, duration time.Duration) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":          enums.TaskCompleted,
		"locked_by":       nil,
		"locked_at":       nil,
		"lock_expires_at": nil,
		"completed_at":    now,
		"duration_ms":     duration.Milliseconds(),
		"updated_at":      now,
	}
	if len(result) > 0 {
		updates["result"] = result
	}
	return r.scoped(ctx).
		Where("id = ? AND status = ?", id, enums.TaskProcessing).
		Updates(updates).Error
}

// MarkFailed schedules a retry: status back to failed, lock cleared, and
// next_attempt_at set so the record becomes eligible again once due.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, taskErr error, stack *string, nextAttemptAt time.Time) error {
	now := time.Now().UTC()
	return r.scoped(ctx).
		Where("id = ? AND status = ?", id, enums.TaskProcessing).
		Updates(map[string]any{
			"status":          enums.TaskFailed,
			"locked_by":       nil,
			"locked_at":       nil,
			"lock_expires_at": nil,
			"last_error":      truncateError(taskErr),
			"error_stack":     stack,
			"next_attempt_at": nextAttemptAt,
			"updated_at":      now,
		}).Error
}

// MarkDLQTx flips a record terminal inside the same transaction that inserts
// its dead-letter copy.
func (r *Repository) MarkDLQTx(tx *gorm.DB, id uuid.UUID, taskErr error) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Table(r.table).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          enums.TaskDLQ,
			"locked_by":       nil,
			"locked_at":       nil,
			"lock_expires_at": nil,
			"last_error":      truncateError(taskErr),
			"updated_at":      time.Now().UTC(),
		}).Error
}

// CancelPending cancels a record only while it is still pending. A claimed
// or terminal record is left untouched and false is returned.
func (r *Repository) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.scoped(ctx).
		Where("id = ? AND status = ?", id, enums.TaskPending).
		Updates(map[string]any{
			"status":     enums.TaskCancelled,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReclaimExpired resets records whose lease expired without resolution,
// recovering work orphaned by a worker crash. Returns the reclaimed count.
func (r *Repository) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.scoped(ctx).
		Where("status = ? AND lock_expires_at < ?", enums.TaskProcessing, now).
		Updates(map[string]any{
			"status":          enums.TaskPending,
			"locked_by":       nil,
			"locked_at":       nil,
			"lock_expires_at": nil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CountByStatus returns row counts grouped by status.
func (r *Repository) CountByStatus(ctx context.Context) (map[enums.TaskStatus]int64, error) {
	type row struct {
		Status enums.TaskStatus
		Total  int64
	}
	var rows []row
	err := r.scoped(ctx).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.TaskStatus]int64, len(rows))
	for _, item := range rows {
		counts[item.Status] = item.Total
	}
	return counts, nil
}

// ListByType returns the newest records of a task type, optionally filtered
// by status.
func (r *Repository) ListByType(ctx context.Context, taskType string, status *enums.TaskStatus, limit int) ([]models.TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.scoped(ctx).Where("task_type = ?", taskType)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.TaskRecord
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteCompletedBefore removes completed records older than the cutoff.
// Retention housekeeping only; nothing in the engine depends on it.
func (r *Repository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.scoped(ctx).
		Where("status = ? AND completed_at < ?", enums.TaskCompleted, cutoff).
		Delete(&models.TaskRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

const maxStoredErrorLen = 1024

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxStoredErrorLen {
		msg = msg[:maxStoredErrorLen]
	}
	return &msg
}
