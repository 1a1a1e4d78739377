package taskqueue

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
)

func seedDeadLetter(t *testing.T, db *gorm.DB, mutate func(*models.DeadLetterRecord)) models.DeadLetterRecord {
	t.Helper()
	msg := "downstream returned 503"
	entry := models.DeadLetterRecord{
		ID:            uuid.New(),
		Queue:         enums.QueueJobs,
		OriginalID:    uuid.New(),
		TaskType:      "send_report",
		Payload:       json.RawMessage(`{"reportId":"r-1"}`),
		TotalAttempts: 3,
		LastError:     &msg,
		FailureReason: enums.FailureMaxRetriesExceeded,
		FailedAt:      time.Now().UTC(),
	}
	if mutate != nil {
		mutate(&entry)
	}
	repo := NewDLQRepository(db)
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.InsertTx(tx, entry)
	}))
	return entry
}

func TestDLQRepositoryInsertTruncatesLongErrors(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewDLQRepository(db)

	long := strings.Repeat("x", maxStoredErrorLen+500)
	entry := seedDeadLetter(t, db, func(e *models.DeadLetterRecord) {
		e.LastError = &long
	})

	found, err := repo.FindByID(context.Background(), entry.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.LastError)
	assert.Len(t, *found.LastError, maxStoredErrorLen)
}

func TestDLQRepositoryInsertRequiresTx(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewDLQRepository(db)
	err := repo.InsertTx(nil, models.DeadLetterRecord{})
	require.Error(t, err)
}

func TestDLQRepositoryListFilters(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewDLQRepository(db)
	ctx := context.Background()

	seedDeadLetter(t, db, nil)
	seedDeadLetter(t, db, func(e *models.DeadLetterRecord) {
		e.TaskType = "deliver_webhook"
		e.Queue = enums.QueueOutbox
		e.FailureReason = enums.FailurePermanent
	})
	resolved := seedDeadLetter(t, db, nil)
	ok, err := repo.Resolve(ctx, resolved.ID, "ops", enums.ResolutionDiscarded, nil)
	require.NoError(t, err)
	require.True(t, ok)

	all, err := repo.List(ctx, DLQListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	outboxQueue := enums.QueueOutbox
	outboxOnly, err := repo.List(ctx, DLQListOptions{Queue: &outboxQueue})
	require.NoError(t, err)
	require.Len(t, outboxOnly, 1)
	assert.Equal(t, "deliver_webhook", outboxOnly[0].TaskType)

	byType, err := repo.List(ctx, DLQListOptions{TaskType: "send_report"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	unresolved, err := repo.List(ctx, DLQListOptions{UnresolvedOnly: true})
	require.NoError(t, err)
	assert.Len(t, unresolved, 2)
}

func TestDLQRepositoryResolveIsFirstWriterWins(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewDLQRepository(db)
	ctx := context.Background()

	entry := seedDeadLetter(t, db, nil)
	notes := "payload fixed by hand"

	ok, err := repo.Resolve(ctx, entry.ID, "ops", enums.ResolutionManual, &notes)
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := repo.Resolve(ctx, entry.ID, "someone-else", enums.ResolutionDiscarded, nil)
	require.NoError(t, err)
	assert.False(t, again, "second resolution affects no rows")

	found, err := repo.FindByID(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.True(t, found.Resolved())
	require.NotNil(t, found.ResolvedBy)
	assert.Equal(t, "ops", *found.ResolvedBy)
	require.NotNil(t, found.Resolution)
	assert.Equal(t, enums.ResolutionManual, *found.Resolution)
	require.NotNil(t, found.Notes)
	assert.Equal(t, notes, *found.Notes)
}

func TestDLQRepositoryCountUnresolved(t *testing.T) {
	db := setupTaskQueueDB(t)
	repo := NewDLQRepository(db)
	ctx := context.Background()

	seedDeadLetter(t, db, nil)
	seedDeadLetter(t, db, nil)
	seedDeadLetter(t, db, func(e *models.DeadLetterRecord) { e.Queue = enums.QueueOutbox })
	resolved := seedDeadLetter(t, db, nil)
	_, err := repo.Resolve(ctx, resolved.ID, "ops", enums.ResolutionDiscarded, nil)
	require.NoError(t, err)

	counts, err := repo.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[enums.QueueJobs])
	assert.Equal(t, int64(1), counts[enums.QueueOutbox])
}
