package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/avencia-dev/taskforge/pkg/enums"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

type fakeQueueRetentionRepo struct {
	queue   enums.Queue
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeQueueRetentionRepo) Queue() enums.Queue { return f.queue }

func (f *fakeQueueRetentionRepo) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

func cronTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestQueueRetentionJobUsesRetentionCutoff(t *testing.T) {
	repo := &fakeQueueRetentionRepo{queue: enums.QueueJobs, deleted: 12}
	job, err := NewQueueRetentionJob(QueueRetentionJobParams{
		Logger:     cronTestLogger(),
		Repository: repo,
		Retention:  7,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if job.Name() != "queue-retention-jobs" {
		t.Fatalf("unexpected job name %q", job.Name())
	}

	before := time.Now().UTC()
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	expected := before.Add(-7 * 24 * time.Hour)
	if repo.cutoff.Before(expected.Add(-time.Second)) || repo.cutoff.After(expected.Add(time.Second)) {
		t.Fatalf("cutoff %v not near expected %v", repo.cutoff, expected)
	}
}

func TestQueueRetentionJobDefaultsRetention(t *testing.T) {
	repo := &fakeQueueRetentionRepo{queue: enums.QueueOutbox}
	job, err := NewQueueRetentionJob(QueueRetentionJobParams{
		Logger:     cronTestLogger(),
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	expected := time.Now().UTC().Add(-defaultCompletedRetentionDays * 24 * time.Hour)
	if repo.cutoff.Before(expected.Add(-time.Second)) || repo.cutoff.After(expected.Add(time.Second)) {
		t.Fatalf("cutoff %v not near expected %v", repo.cutoff, expected)
	}
}

func TestQueueRetentionJobPropagatesErrors(t *testing.T) {
	repo := &fakeQueueRetentionRepo{queue: enums.QueueJobs, err: errors.New("db down")}
	job, err := NewQueueRetentionJob(QueueRetentionJobParams{
		Logger:     cronTestLogger(),
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected repository error to surface")
	}
}
