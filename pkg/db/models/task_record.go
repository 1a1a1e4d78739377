package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/avencia-dev/taskforge/pkg/enums"
)

// TaskRecord is one row of either task table (job_queue or event_outbox).
// The two tables share this shape; the repository binds the table name.
//
// Lease invariant: locked_by, locked_at and lock_expires_at are non-null
// exactly while status = processing.
type TaskRecord struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	TaskType    string           `gorm:"column:task_type;not null;index"`
	Payload     json.RawMessage  `gorm:"column:payload;type:jsonb;not null"`
	Status      enums.TaskStatus `gorm:"column:status;type:task_status_enum;not null;default:'pending';index"`
	Priority    int              `gorm:"column:priority;not null;default:100"`
	Attempts    int              `gorm:"column:attempts;not null;default:0"`
	MaxAttempts int              `gorm:"column:max_attempts;not null"`

	ScheduledAt   time.Time  `gorm:"column:scheduled_at;not null"`
	NextAttemptAt *time.Time `gorm:"column:next_attempt_at"`

	LockedBy      *string    `gorm:"column:locked_by"`
	LockedAt      *time.Time `gorm:"column:locked_at"`
	LockExpiresAt *time.Time `gorm:"column:lock_expires_at"`

	LastError   *string         `gorm:"column:last_error"`
	ErrorStack  *string         `gorm:"column:error_stack"`
	Result      json.RawMessage `gorm:"column:result;type:jsonb"`
	StartedAt   *time.Time      `gorm:"column:started_at"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
	DurationMS  *int64          `gorm:"column:duration_ms"`

	CorrelationID *string        `gorm:"column:correlation_id"`
	CreatedBy     *string        `gorm:"column:created_by"`
	Tags          pq.StringArray `gorm:"column:tags;type:text[]"`

	// Outbox-only columns; null for job_queue rows.
	Destination    *enums.Destination `gorm:"column:destination;type:destination_type_enum"`
	DestinationURL *string            `gorm:"column:destination_url"`
	AggregateType  *string            `gorm:"column:aggregate_type"`
	AggregateID    *uuid.UUID         `gorm:"column:aggregate_id;type:uuid"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Locked reports whether the record currently carries a lease.
func (t TaskRecord) Locked() bool {
	return t.LockedBy != nil && t.LockExpiresAt != nil
}
