package taskqueue

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/avencia-dev/taskforge/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "taskqueue-test", Output: io.Discard})
}

// gormTxRunner satisfies txRunner over a raw test DB handle.
type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

const taskTableColumns = `
  id TEXT PRIMARY KEY,
  task_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  priority INTEGER NOT NULL DEFAULT 100,
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL,
  scheduled_at DATETIME NOT NULL,
  next_attempt_at DATETIME,
  locked_by TEXT,
  locked_at DATETIME,
  lock_expires_at DATETIME,
  last_error TEXT,
  error_stack TEXT,
  result TEXT,
  started_at DATETIME,
  completed_at DATETIME,
  duration_ms INTEGER,
  correlation_id TEXT,
  created_by TEXT,
  tags TEXT,
  destination TEXT,
  destination_url TEXT,
  aggregate_type TEXT,
  aggregate_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
`

func setupTaskQueueDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	for _, table := range []string{"job_queue", "event_outbox"} {
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", table, taskTableColumns)
		require.NoError(t, db.Exec(stmt).Error)
	}

	deadLetters := `
CREATE TABLE IF NOT EXISTS dead_letters (
  id TEXT PRIMARY KEY,
  queue TEXT NOT NULL,
  original_id TEXT NOT NULL,
  task_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  destination TEXT,
  destination_url TEXT,
  correlation_id TEXT,
  total_attempts INTEGER NOT NULL,
  last_error TEXT,
  failure_reason TEXT NOT NULL,
  failed_at DATETIME NOT NULL,
  resolved_at DATETIME,
  resolved_by TEXT,
  resolution TEXT,
  notes TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(deadLetters).Error)

	t.Cleanup(func() {
		for _, table := range []string{"job_queue", "event_outbox", "dead_letters"} {
			_ = db.Exec("DELETE FROM " + table).Error
		}
	})
	return db
}
