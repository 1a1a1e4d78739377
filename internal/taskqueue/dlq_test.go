package taskqueue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
)

func newTestDLQManager(t *testing.T, db *gorm.DB) *DLQManager {
	t.Helper()
	manager, err := NewDLQManager(DLQManagerParams{
		DB:                gormTxRunner{db: db},
		DLQ:               NewDLQRepository(db),
		Jobs:              NewRepository(db, enums.QueueJobs),
		Outbox:            NewRepository(db, enums.QueueOutbox),
		Logger:            testLogger(),
		JobsMaxAttempts:   3,
		OutboxMaxAttempts: 5,
	})
	require.NoError(t, err)
	return manager
}

func TestDLQManagerRequeueCreatesNewIdentity(t *testing.T) {
	db := setupTaskQueueDB(t)
	manager := newTestDLQManager(t, db)
	jobs := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()

	entry := seedDeadLetter(t, db, nil)

	result, err := manager.Requeue(ctx, entry.ID, "ops")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEqual(t, entry.OriginalID, result.ID, "requeue mints a fresh id")
	assert.Equal(t, entry.TaskType, result.TaskType)
	assert.Equal(t, enums.TaskPending, result.Status)

	requeued, err := jobs.FindByID(ctx, result.ID)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, 0, requeued.Attempts)
	assert.Equal(t, enums.PriorityHigh, requeued.Priority)
	assert.Equal(t, 3, requeued.MaxAttempts)
	assert.JSONEq(t, string(entry.Payload), string(requeued.Payload))

	source, err := manager.GetItem(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, source)
	require.True(t, source.Resolved())
	require.NotNil(t, source.Resolution)
	assert.Equal(t, enums.ResolutionRequeued, *source.Resolution)
	require.NotNil(t, source.ResolvedBy)
	assert.Equal(t, "ops", *source.ResolvedBy)
}

func TestDLQManagerRequeueIsSingleShot(t *testing.T) {
	db := setupTaskQueueDB(t)
	manager := newTestDLQManager(t, db)
	ctx := context.Background()

	entry := seedDeadLetter(t, db, nil)

	first, err := manager.Requeue(ctx, entry.ID, "ops")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := manager.Requeue(ctx, entry.ID, "ops")
	require.NoError(t, err)
	assert.Nil(t, second, "already-resolved rows cannot be requeued again")

	missing, err := manager.Requeue(ctx, uuid.New(), "ops")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDLQManagerRequeueRoutesToOriginQueue(t *testing.T) {
	db := setupTaskQueueDB(t)
	manager := newTestDLQManager(t, db)
	outbox := NewRepository(db, enums.QueueOutbox)
	jobs := NewRepository(db, enums.QueueJobs)
	ctx := context.Background()

	dest := enums.DestinationWebhook
	url := "https://hooks.example.com/orders"
	entry := seedDeadLetter(t, db, func(e *models.DeadLetterRecord) {
		e.Queue = enums.QueueOutbox
		e.TaskType = "order.created"
		e.Destination = &dest
		e.DestinationURL = &url
		e.FailureReason = enums.FailurePermanent
	})

	result, err := manager.Requeue(ctx, entry.ID, "ops")
	require.NoError(t, err)
	require.NotNil(t, result)

	requeued, err := outbox.FindByID(ctx, result.ID)
	require.NoError(t, err)
	require.NotNil(t, requeued, "outbox dead letters go back to event_outbox")
	assert.Equal(t, 5, requeued.MaxAttempts)
	require.NotNil(t, requeued.Destination)
	assert.Equal(t, enums.DestinationWebhook, *requeued.Destination)
	require.NotNil(t, requeued.DestinationURL)
	assert.Equal(t, url, *requeued.DestinationURL)

	inJobs, err := jobs.FindByID(ctx, result.ID)
	require.NoError(t, err)
	assert.Nil(t, inJobs)
}

func TestDLQManagerResolveValidation(t *testing.T) {
	db := setupTaskQueueDB(t)
	manager := newTestDLQManager(t, db)
	ctx := context.Background()

	entry := seedDeadLetter(t, db, nil)

	_, err := manager.Resolve(ctx, entry.ID, "", enums.ResolutionDiscarded, nil)
	require.Error(t, err)

	_, err = manager.Resolve(ctx, entry.ID, "ops", enums.DLQResolution("shredded"), nil)
	require.Error(t, err)

	ok, err := manager.Resolve(ctx, entry.ID, "ops", enums.ResolutionDiscarded, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = manager.Resolve(ctx, entry.ID, "ops", enums.ResolutionDiscarded, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
