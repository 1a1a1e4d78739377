package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
)

func seedTask(t *testing.T, repo *Repository, mutate func(*models.TaskRecord)) *models.TaskRecord {
	t.Helper()
	record := &models.TaskRecord{
		ID:          uuid.New(),
		TaskType:    "send_report",
		Payload:     json.RawMessage(`{"reportId":"r-1"}`),
		Status:      enums.TaskPending,
		Priority:    enums.PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
	}
	if mutate != nil {
		mutate(record)
	}
	require.NoError(t, repo.Insert(context.Background(), record))
	return record
}

func TestRepositoryInsertAndFindByID(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()

	created := seedTask(t, repo, func(r *models.TaskRecord) {
		r.Tags = []string{"reporting", "daily"}
		correlation := "corr-42"
		r.CorrelationID = &correlation
	})

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "send_report", found.TaskType)
	assert.Equal(t, enums.TaskPending, found.Status)
	assert.Equal(t, []string{"reporting", "daily"}, []string(found.Tags))
	require.NotNil(t, found.CorrelationID)
	assert.Equal(t, "corr-42", *found.CorrelationID)

	missing, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryFetchDueFiltersAndOrders(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()
	now := time.Now().UTC()

	high := seedTask(t, repo, func(r *models.TaskRecord) {
		r.Priority = enums.PriorityHigh
		r.ScheduledAt = now.Add(-time.Second)
	})
	early := seedTask(t, repo, func(r *models.TaskRecord) {
		r.ScheduledAt = now.Add(-time.Hour)
	})
	late := seedTask(t, repo, func(r *models.TaskRecord) {
		r.ScheduledAt = now.Add(-time.Minute)
	})
	// Not yet due.
	seedTask(t, repo, func(r *models.TaskRecord) {
		r.ScheduledAt = now.Add(time.Hour)
	})
	// Failed but still in its retry hold.
	seedTask(t, repo, func(r *models.TaskRecord) {
		r.Status = enums.TaskFailed
		hold := now.Add(10 * time.Minute)
		r.NextAttemptAt = &hold
	})
	// Failed and past its hold: eligible.
	retryable := seedTask(t, repo, func(r *models.TaskRecord) {
		r.Status = enums.TaskFailed
		r.ScheduledAt = now.Add(-2 * time.Hour)
		hold := now.Add(-time.Second)
		r.NextAttemptAt = &hold
	})
	// Terminal statuses never come back.
	seedTask(t, repo, func(r *models.TaskRecord) { r.Status = enums.TaskCompleted })
	seedTask(t, repo, func(r *models.TaskRecord) { r.Status = enums.TaskCancelled })

	due, err := repo.FetchDue(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, due, 4)

	assert.Equal(t, high.ID, due[0].ID, "high priority first")
	assert.Equal(t, early.ID, due[1].ID, "FIFO within normal tier")
	assert.Equal(t, late.ID, due[2].ID)
	assert.Equal(t, retryable.ID, due[3].ID, "retry hold time orders the failed record")

	limited, err := repo.FetchDue(ctx, 2, now)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRepositoryClaimIsCompareAndSwap(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()
	now := time.Now().UTC()

	record := seedTask(t, repo, nil)

	wins := 0
	for i := 0; i < 5; i++ {
		claimed, err := repo.Claim(ctx, record.ID, "worker-a", 5*time.Minute, now)
		require.NoError(t, err)
		if claimed {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one of N claim attempts succeeds")

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.TaskProcessing, found.Status)
	assert.Equal(t, 1, found.Attempts)
	require.NotNil(t, found.LockedBy)
	assert.Equal(t, "worker-a", *found.LockedBy)
	require.NotNil(t, found.LockExpiresAt)
	assert.WithinDuration(t, now.Add(5*time.Minute), *found.LockExpiresAt, time.Second)
	require.NotNil(t, found.StartedAt)
}

func TestRepositoryClaimRetriesFailedRecord(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()
	now := time.Now().UTC()

	record := seedTask(t, repo, func(r *models.TaskRecord) {
		r.Status = enums.TaskFailed
		r.Attempts = 1
	})

	claimed, err := repo.Claim(ctx, record.ID, "worker-b", time.Minute, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, found.Attempts, "attempts only ever increase")
}

func TestRepositoryMarkCompletedClearsLock(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()
	now := time.Now().UTC()

	record := seedTask(t, repo, nil)
	claimed, err := repo.Claim(ctx, record.ID, "worker-a", time.Minute, now)
	require.NoError(t, err)
	require.True(t, claimed)

	result := json.RawMessage(`{"rows":12}`)
	require.NoError(t, repo.MarkCompleted(ctx, record.ID, result, 1500*time.Millisecond))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TaskCompleted, found.Status)
	assert.Nil(t, found.LockedBy)
	assert.Nil(t, found.LockExpiresAt)
	require.NotNil(t, found.CompletedAt)
	require.NotNil(t, found.DurationMS)
	assert.Equal(t, int64(1500), *found.DurationMS)
	assert.JSONEq(t, `{"rows":12}`, string(found.Result))
}

func TestRepositoryMarkFailedSchedulesRetry(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()
	now := time.Now().UTC()

	record := seedTask(t, repo, nil)
	claimed, err := repo.Claim(ctx, record.ID, "worker-a", time.Minute, now)
	require.NoError(t, err)
	require.True(t, claimed)

	next := now.Add(10 * time.Second)
	stack := "goroutine 1 [running]"
	require.NoError(t, repo.MarkFailed(ctx, record.ID, errors.New("downstream unavailable"), &stack, next))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TaskFailed, found.Status)
	assert.Nil(t, found.LockedBy, "lock cleared so the record is claimable once due")
	require.NotNil(t, found.NextAttemptAt)
	assert.WithinDuration(t, next, *found.NextAttemptAt, time.Second)
	require.NotNil(t, found.LastError)
	assert.Equal(t, "downstream unavailable", *found.LastError)
	require.NotNil(t, found.ErrorStack)
}

func TestRepositoryCancelPendingOnly(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := seedTask(t, repo, nil)
	cancelled, err := repo.CancelPending(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	found, err := repo.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TaskCancelled, found.Status)

	claimedRecord := seedTask(t, repo, nil)
	ok, err := repo.Claim(ctx, claimedRecord.ID, "worker-a", time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)

	cancelled, err = repo.CancelPending(ctx, claimedRecord.ID)
	require.NoError(t, err)
	assert.False(t, cancelled, "a claimed task cannot be cancelled")

	found, err = repo.FindByID(ctx, claimedRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TaskProcessing, found.Status)
}

func TestRepositoryReclaimExpired(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()
	claimTime := time.Now().UTC().Add(-10 * time.Minute)

	orphaned := seedTask(t, repo, nil)
	ok, err := repo.Claim(ctx, orphaned.ID, "worker-crashed", 5*time.Minute, claimTime)
	require.NoError(t, err)
	require.True(t, ok)

	healthy := seedTask(t, repo, nil)
	ok, err = repo.Claim(ctx, healthy.ID, "worker-alive", 5*time.Minute, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	reclaimed, err := repo.ReclaimExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	found, err := repo.FindByID(ctx, orphaned.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TaskPending, found.Status)
	assert.Nil(t, found.LockedBy)
	assert.Equal(t, 1, found.Attempts, "reclamation does not refund the attempt")

	stillHeld, err := repo.FindByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TaskProcessing, stillHeld.Status)
}

func TestRepositoryCountByStatusAndListByType(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()

	seedTask(t, repo, nil)
	seedTask(t, repo, nil)
	seedTask(t, repo, func(r *models.TaskRecord) { r.Status = enums.TaskCompleted })
	seedTask(t, repo, func(r *models.TaskRecord) {
		r.TaskType = "recompute_scores"
		r.Status = enums.TaskDLQ
	})

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[enums.TaskPending])
	assert.Equal(t, int64(1), counts[enums.TaskCompleted])
	assert.Equal(t, int64(1), counts[enums.TaskDLQ])

	reports, err := repo.ListByType(ctx, "send_report", nil, 10)
	require.NoError(t, err)
	assert.Len(t, reports, 3)

	pending := enums.TaskPending
	filtered, err := repo.ListByType(ctx, "send_report", &pending, 10)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestRepositoryDeleteCompletedBefore(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()
	now := time.Now().UTC()

	old := seedTask(t, repo, func(r *models.TaskRecord) {
		r.Status = enums.TaskCompleted
		done := now.AddDate(0, 0, -40)
		r.CompletedAt = &done
	})
	recent := seedTask(t, repo, func(r *models.TaskRecord) {
		r.Status = enums.TaskCompleted
		done := now.Add(-time.Hour)
		r.CompletedAt = &done
	})
	pending := seedTask(t, repo, nil)

	removed, err := repo.DeleteCompletedBefore(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	gone, err := repo.FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	for _, id := range []uuid.UUID{recent.ID, pending.ID} {
		kept, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, kept)
	}
}

func TestRepositoriesAreTableScoped(t *testing.T) {
	db := setupTaskQueueDB(t)
	jobs := NewRepository(db, enums.QueueJobs)
	outbox := NewRepository(db, enums.QueueOutbox)
	ctx := context.Background()

	record := seedTask(t, jobs, nil)

	fromOutbox, err := outbox.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, fromOutbox, "job rows are invisible to the outbox repository")
}
