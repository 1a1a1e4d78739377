package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
	"github.com/avencia-dev/taskforge/pkg/logger"
	"github.com/avencia-dev/taskforge/pkg/metrics"
)

const (
	defaultBatchSize     = 25
	defaultPollInterval  = 5 * time.Second
	defaultLeaseTimeout  = 5 * time.Minute
	defaultCircuitPause  = 30 * time.Second
	defaultShutdownGrace = 30 * time.Second
)

// Dispatcher executes one claimed record: a handler registry for the job
// queue, a destination dispatcher for the outbox.
type Dispatcher interface {
	Dispatch(ctx context.Context, record models.TaskRecord) (json.RawMessage, error)
}

type pollerStore interface {
	Queue() enums.Queue
	FetchDue(ctx context.Context, limit int, now time.Time) ([]models.TaskRecord, error)
	Claim(ctx context.Context, id uuid.UUID, workerID string, leaseTimeout time.Duration, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage, duration time.Duration) error
	MarkFailed(ctx context.Context, id uuid.UUID, taskErr error, stack *string, nextAttemptAt time.Time) error
	MarkDLQTx(tx *gorm.DB, id uuid.UUID, taskErr error) error
	ReclaimExpired(ctx context.Context, now time.Time) (int64, error)
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.DeadLetterRecord) error
}

// PollerParams wires a Poller.
type PollerParams struct {
	Settings   config.QueueSettings
	WorkerID   string
	DB         txRunner
	Store      pollerStore
	DLQ        deadLetterStore
	Dispatcher Dispatcher
	Breaker    CircuitBreaker
	Logger     *logger.Logger
	Metrics    *metrics.QueueMetrics
}

// Poller is the worker loop for one queue: reclaim expired leases, fetch due
// work, claim it via conditional updates, and run claimed tasks
// concurrently. Many poller processes may race on the same tables; the claim
// compare-and-swap is the only coordination between them.
type Poller struct {
	settings config.QueueSettings
	workerID string
	queue    enums.Queue

	db        txRunner
	store     pollerStore
	dlq       deadLetterStore
	dispatch  Dispatcher
	breaker   CircuitBreaker
	backoff   *BackoffCalculator
	logg      *logger.Logger
	collector *metrics.QueueMetrics

	wg sync.WaitGroup
}

// NewPoller validates wiring and builds a Poller.
func NewPoller(params PollerParams) (*Poller, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Store == nil {
		return nil, errors.New("record store is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dead letter store is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}

	settings := params.Settings
	if settings.BatchSize <= 0 {
		settings.BatchSize = defaultBatchSize
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = defaultPollInterval
	}
	if settings.LeaseTimeout <= 0 {
		settings.LeaseTimeout = defaultLeaseTimeout
	}
	if settings.MaxCircuitPause <= 0 {
		settings.MaxCircuitPause = defaultCircuitPause
	}
	if settings.ShutdownGrace <= 0 {
		settings.ShutdownGrace = defaultShutdownGrace
	}

	workerID := params.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	}

	breaker := params.Breaker
	if breaker == nil {
		breaker = NopBreaker()
	}

	return &Poller{
		settings:  settings,
		workerID:  workerID,
		queue:     params.Store.Queue(),
		db:        params.DB,
		store:     params.Store,
		dlq:       params.DLQ,
		dispatch:  params.Dispatcher,
		breaker:   breaker,
		backoff:   NewBackoffCalculator(settings),
		logg:      params.Logger,
		collector: params.Metrics,
	}, nil
}

// WorkerID returns the lease identity used for claims.
func (p *Poller) WorkerID() string {
	return p.workerID
}

// Run polls until the context is canceled, then drains in-flight work for at
// most the shutdown grace period. The timer re-arms at a fixed interval;
// only an open circuit changes the pacing.
func (p *Poller) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = p.logg.WithQueue(ctx, string(p.queue))
	ctx = p.logg.WithWorkerID(ctx, p.workerID)
	p.logg.Info(ctx, "queue poller started")

	for {
		select {
		case <-ctx.Done():
			p.logg.Info(ctx, "queue poller context canceled")
			p.drain(ctx)
			return ctx.Err()
		default:
		}

		if !p.breaker.CanExecute() {
			pause := p.breaker.Backoff()
			if pause <= 0 || pause > p.settings.MaxCircuitPause {
				pause = p.settings.MaxCircuitPause
			}
			p.logg.Warn(p.logg.WithField(ctx, "pause", pause.String()), "circuit open, skipping tick")
			if err := p.sleep(ctx, pause); err != nil {
				p.drain(ctx)
				return err
			}
			continue
		}

		if err := p.tick(ctx); err != nil {
			// Store-level failure: charge the breaker, not task budgets.
			p.breaker.RecordFailure(err)
			p.logg.Error(ctx, "poll tick failed", err)
		} else {
			p.breaker.RecordSuccess()
		}

		if err := p.sleep(ctx, p.settings.PollInterval); err != nil {
			p.drain(ctx)
			return err
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	now := time.Now().UTC()

	reclaimed, err := p.store.ReclaimExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("reclaiming expired leases: %w", err)
	}
	if reclaimed > 0 {
		p.collector.AddReclaimed(string(p.queue), float64(reclaimed))
		p.logg.Warn(p.logg.WithField(ctx, "reclaimed", reclaimed), "expired leases reclaimed")
	}

	records, err := p.store.FetchDue(ctx, p.settings.BatchSize, now)
	if err != nil {
		return fmt.Errorf("fetching due tasks: %w", err)
	}

	for _, record := range records {
		claimed, err := p.store.Claim(ctx, record.ID, p.workerID, p.settings.LeaseTimeout, now)
		if err != nil {
			return fmt.Errorf("claiming task %s: %w", record.ID, err)
		}
		if !claimed {
			// Another worker won the row between fetch and claim.
			continue
		}

		// Mirror what the claim update wrote so outcome resolution sees
		// the post-claim attempt count.
		record.Status = enums.TaskProcessing
		record.Attempts++
		record.LockedBy = &p.workerID

		p.collector.IncClaim(string(p.queue))
		p.collector.IncInFlight(string(p.queue))
		p.wg.Add(1)
		go p.execute(ctx, record, now)
	}
	return nil
}

func (p *Poller) execute(ctx context.Context, record models.TaskRecord, claimedAt time.Time) {
	defer p.wg.Done()
	defer p.collector.DecInFlight(string(p.queue))

	taskCtx := p.logg.WithFields(ctx, map[string]any{
		"task_id":   record.ID.String(),
		"task_type": record.TaskType,
		"attempt":   record.Attempts,
	})

	result, stack, err := p.runHandler(taskCtx, record)
	duration := time.Since(claimedAt)

	// Outcome writes survive shutdown cancellation so a finished handler
	// still gets its status recorded during drain.
	markCtx := context.WithoutCancel(ctx)

	if err == nil {
		if markErr := p.store.MarkCompleted(markCtx, record.ID, result, duration); markErr != nil {
			p.breaker.RecordFailure(markErr)
			p.logg.Error(taskCtx, "recording task completion failed", markErr)
			return
		}
		p.collector.IncCompletion(string(p.queue))
		p.collector.ObserveDuration(string(p.queue), duration)
		p.logg.Info(p.logg.WithField(taskCtx, "duration_ms", duration.Milliseconds()), "task completed")
		return
	}

	p.resolveFailure(markCtx, taskCtx, record, err, stack)
}

// runHandler isolates handler execution: a panic is converted into an error
// against this task only and never takes down the poller.
func (p *Poller) runHandler(ctx context.Context, record models.TaskRecord) (result json.RawMessage, stack *string, err error) {
	defer func() {
		if r := recover(); r != nil {
			trace := string(debug.Stack())
			stack = &trace
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	result, err = p.dispatch.Dispatch(ctx, record)
	return result, stack, err
}

func (p *Poller) resolveFailure(markCtx, logCtx context.Context, record models.TaskRecord, taskErr error, stack *string) {
	permanent := IsPermanent(taskErr)
	exhausted := record.Attempts >= record.MaxAttempts

	if permanent || exhausted {
		reason := enums.FailureMaxRetriesExceeded
		if permanent {
			reason = enums.FailurePermanent
		}
		if err := p.moveToDLQ(markCtx, record, taskErr, reason); err != nil {
			p.breaker.RecordFailure(err)
			p.logg.Error(logCtx, "dead letter transition failed", err)
			return
		}
		p.collector.IncDeadLetter(string(p.queue), string(reason))
		fields := map[string]any{"reason": reason, "error": taskErr.Error()}
		p.logg.Warn(p.logg.WithFields(logCtx, fields), "task dead-lettered")
		return
	}

	delay := p.backoff.Delay(record.Attempts)
	nextAttemptAt := time.Now().UTC().Add(delay)
	if err := p.store.MarkFailed(markCtx, record.ID, taskErr, stack, nextAttemptAt); err != nil {
		p.breaker.RecordFailure(err)
		p.logg.Error(logCtx, "recording task failure failed", err)
		return
	}
	p.collector.IncRetry(string(p.queue))
	fields := map[string]any{
		"error":         taskErr.Error(),
		"retry_in":      delay.String(),
		"next_attempt":  nextAttemptAt.Format(time.RFC3339Nano),
		"attempts_left": record.MaxAttempts - record.Attempts,
	}
	p.logg.Warn(p.logg.WithFields(logCtx, fields), "task failed, retry scheduled")
}

// moveToDLQ copies the record into the dead-letter table and flips the
// source terminal in one transaction: either both happen or neither does.
func (p *Poller) moveToDLQ(ctx context.Context, record models.TaskRecord, taskErr error, reason enums.FailureReason) error {
	return p.db.WithTx(ctx, func(tx *gorm.DB) error {
		entry := models.DeadLetterRecord{
			ID:             uuid.New(),
			Queue:          p.queue,
			OriginalID:     record.ID,
			TaskType:       record.TaskType,
			Payload:        record.Payload,
			Destination:    record.Destination,
			DestinationURL: record.DestinationURL,
			CorrelationID:  record.CorrelationID,
			TotalAttempts:  record.Attempts,
			LastError:      truncateError(taskErr),
			FailureReason:  reason,
			FailedAt:       time.Now().UTC(),
		}
		if err := p.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("inserting dead letter for %s: %w", record.ID, err)
		}
		if err := p.store.MarkDLQTx(tx, record.ID, taskErr); err != nil {
			return fmt.Errorf("marking task %s terminal: %w", record.ID, err)
		}
		return nil
	})
}

func (p *Poller) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logg.Info(ctx, "in-flight tasks drained")
	case <-time.After(p.settings.ShutdownGrace):
		p.logg.Warn(ctx, "shutdown grace elapsed with tasks still in flight")
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
