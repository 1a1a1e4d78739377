package cron

import (
	"context"
	"fmt"

	"github.com/avencia-dev/taskforge/pkg/enums"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

const defaultDLQWarnThreshold = 100

// DLQReportJobParams configure the unresolved-backlog report.
type DLQReportJobParams struct {
	Logger        *logger.Logger
	Counter       dlqCounter
	WarnThreshold int64
}

type dlqCounter interface {
	CountUnresolved(ctx context.Context) (map[enums.Queue]int64, error)
}

// NewDLQReportJob logs the unresolved dead-letter backlog per queue and
// escalates to a warning once any queue crosses the threshold.
func NewDLQReportJob(params DLQReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Counter == nil {
		return nil, fmt.Errorf("dead-letter counter required")
	}
	threshold := params.WarnThreshold
	if threshold <= 0 {
		threshold = defaultDLQWarnThreshold
	}
	return &dlqReportJob{
		logg:      params.Logger,
		counter:   params.Counter,
		threshold: threshold,
	}, nil
}

type dlqReportJob struct {
	logg      *logger.Logger
	counter   dlqCounter
	threshold int64
}

func (j *dlqReportJob) Name() string { return "dlq-report" }

func (j *dlqReportJob) Run(ctx context.Context) error {
	counts, err := j.counter.CountUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("dlq report: %w", err)
	}
	var total int64
	for _, queue := range []enums.Queue{enums.QueueJobs, enums.QueueOutbox} {
		count := counts[queue]
		total += count
		queueCtx := j.logg.WithFields(ctx, map[string]any{
			"queue":      string(queue),
			"unresolved": count,
		})
		if count >= j.threshold {
			j.logg.Warn(queueCtx, "unresolved dead-letter backlog above threshold")
			continue
		}
		j.logg.Info(queueCtx, "unresolved dead-letter backlog")
	}
	totalCtx := j.logg.WithField(ctx, "unresolved_total", total)
	j.logg.Info(totalCtx, "dead-letter report complete")
	return nil
}
