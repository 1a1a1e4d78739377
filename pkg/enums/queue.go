package enums

import "fmt"

// Queue selects which task table a worker polls. The two tables are
// structurally identical; only the dispatch path differs.
type Queue string

const (
	QueueJobs   Queue = "jobs"
	QueueOutbox Queue = "outbox"
)

var validQueues = []Queue{QueueJobs, QueueOutbox}

// Table returns the backing table name for the queue.
func (q Queue) Table() string {
	switch q {
	case QueueOutbox:
		return "event_outbox"
	default:
		return "job_queue"
	}
}

func (q Queue) IsValid() bool {
	for _, candidate := range validQueues {
		if candidate == q {
			return true
		}
	}
	return false
}

// ParseQueue converts raw input into Queue.
func ParseQueue(value string) (Queue, error) {
	for _, candidate := range validQueues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid queue %q", value)
}

// Priority tiers for job selection. Lower values are served first.
const (
	PriorityHigh   = 10
	PriorityNormal = 100
	PriorityLow    = 200
)
