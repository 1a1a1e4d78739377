package enums

import "fmt"

// TaskStatus maps to the task_status enum in Postgres.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskDLQ        TaskStatus = "dlq"
	TaskCancelled  TaskStatus = "cancelled"
)

var validTaskStatuses = []TaskStatus{
	TaskPending,
	TaskProcessing,
	TaskCompleted,
	TaskFailed,
	TaskDLQ,
	TaskCancelled,
}

// IsValid reports whether the value matches the canonical task_status enum.
func (s TaskStatus) IsValid() bool {
	for _, candidate := range validTaskStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a record in this status can still change.
// Records in dlq keep their terminal status even after the paired
// dead-letter row is resolved.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskDLQ || s == TaskCancelled
}

// ParseTaskStatus converts raw input into TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, error) {
	for _, candidate := range validTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid task status %q", value)
}
