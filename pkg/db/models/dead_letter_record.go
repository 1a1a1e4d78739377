package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/avencia-dev/taskforge/pkg/enums"
)

// DeadLetterRecord is an immutable copy of a task that was abandoned.
// Rows are created once, mutated only by resolution, and never deleted
// by the engine itself.
type DeadLetterRecord struct {
	ID         uuid.UUID   `gorm:"column:id;type:uuid;primaryKey"`
	Queue      enums.Queue `gorm:"column:queue;not null;index"`
	OriginalID uuid.UUID   `gorm:"column:original_id;type:uuid;not null;index"`
	TaskType   string      `gorm:"column:task_type;not null;index"`
	Payload    json.RawMessage `gorm:"column:payload;type:jsonb;not null"`

	Destination    *enums.Destination `gorm:"column:destination;type:destination_type_enum"`
	DestinationURL *string            `gorm:"column:destination_url"`
	CorrelationID  *string            `gorm:"column:correlation_id"`

	TotalAttempts int                 `gorm:"column:total_attempts;not null"`
	LastError     *string             `gorm:"column:last_error"`
	FailureReason enums.FailureReason `gorm:"column:failure_reason;type:failure_reason_enum;not null"`
	FailedAt      time.Time           `gorm:"column:failed_at;not null"`

	ResolvedAt *time.Time           `gorm:"column:resolved_at"`
	ResolvedBy *string              `gorm:"column:resolved_by"`
	Resolution *enums.DLQResolution `gorm:"column:resolution"`
	Notes      *string              `gorm:"column:notes"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (DeadLetterRecord) TableName() string { return "dead_letters" }

// Resolved reports whether an operator already disposed of the row.
func (d DeadLetterRecord) Resolved() bool {
	return d.ResolvedAt != nil
}
