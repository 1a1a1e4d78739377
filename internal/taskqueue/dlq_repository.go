package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
)

// DLQRepository persists dead-letter rows. Both queues share the table;
// the queue discriminator column records the origin.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx writes a dead-letter copy inside the transaction that flips the
// source record terminal.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.DeadLetterRecord) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.LastError != nil {
		msg := *entry.LastError
		if len(msg) > maxStoredErrorLen {
			msg = msg[:maxStoredErrorLen]
			entry.LastError = &msg
		}
	}
	return tx.Create(&entry).Error
}

// FindByID returns the dead-letter row or nil when no row exists.
func (r *DLQRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.DeadLetterRecord, error) {
	var entry models.DeadLetterRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// DLQListOptions filters List.
type DLQListOptions struct {
	Queue          *enums.Queue
	TaskType       string
	Limit          int
	Offset         int
	UnresolvedOnly bool
}

// List returns dead-letter rows, newest failures first.
func (r *DLQRepository) List(ctx context.Context, opts DLQListOptions) ([]models.DeadLetterRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Model(&models.DeadLetterRecord{})
	if opts.Queue != nil {
		query = query.Where("queue = ?", *opts.Queue)
	}
	if opts.TaskType != "" {
		query = query.Where("task_type = ?", opts.TaskType)
	}
	if opts.UnresolvedOnly {
		query = query.Where("resolved_at IS NULL")
	}
	var rows []models.DeadLetterRecord
	err := query.
		Order("failed_at DESC").
		Limit(limit).
		Offset(opts.Offset).
		Find(&rows).Error
	return rows, err
}

// ResolveTx marks an unresolved row disposed. The resolved_at guard makes
// resolution first-writer-wins: a second resolution attempt affects no rows.
func (r *DLQRepository) ResolveTx(tx *gorm.DB, id uuid.UUID, resolvedBy string, resolution enums.DLQResolution, notes *string) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Model(&models.DeadLetterRecord{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]any{
			"resolved_at": time.Now().UTC(),
			"resolved_by": resolvedBy,
			"resolution":  resolution,
			"notes":       notes,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Resolve marks an unresolved row disposed outside any caller transaction.
func (r *DLQRepository) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, resolution enums.DLQResolution, notes *string) (bool, error) {
	return r.ResolveTx(r.db.WithContext(ctx), id, resolvedBy, resolution, notes)
}

// CountUnresolved returns unresolved dead letters grouped by queue.
func (r *DLQRepository) CountUnresolved(ctx context.Context) (map[enums.Queue]int64, error) {
	type row struct {
		Queue enums.Queue
		Total int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.DeadLetterRecord{}).
		Select("queue, COUNT(*) AS total").
		Where("resolved_at IS NULL").
		Group("queue").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.Queue]int64, len(rows))
	for _, item := range rows {
		counts[item.Queue] = item.Total
	}
	return counts, nil
}

// DeleteResolvedBefore purges resolved dead letters older than the cutoff.
// Unresolved rows are kept until an operator disposes of them.
func (r *DLQRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("resolved_at IS NOT NULL").
		Where("resolved_at < ?", cutoff).
		Delete(&models.DeadLetterRecord{})
	return res.RowsAffected, res.Error
}
