package controllers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
)

type fakeDLQService struct {
	items      []models.DeadLetterRecord
	item       *models.DeadLetterRecord
	lastOpts   taskqueue.DLQListOptions
	resolveOK  bool
	resolvedBy string
	requeued   *taskqueue.EnqueueResult
	counts     map[enums.Queue]int64
}

func (f *fakeDLQService) ListItems(_ context.Context, opts taskqueue.DLQListOptions) ([]models.DeadLetterRecord, error) {
	f.lastOpts = opts
	return f.items, nil
}

func (f *fakeDLQService) GetItem(context.Context, uuid.UUID) (*models.DeadLetterRecord, error) {
	return f.item, nil
}

func (f *fakeDLQService) Resolve(_ context.Context, _ uuid.UUID, resolvedBy string, _ enums.DLQResolution, _ *string) (bool, error) {
	f.resolvedBy = resolvedBy
	return f.resolveOK, nil
}

func (f *fakeDLQService) Requeue(context.Context, uuid.UUID, string) (*taskqueue.EnqueueResult, error) {
	return f.requeued, nil
}

func (f *fakeDLQService) UnresolvedCounts(context.Context) (map[enums.Queue]int64, error) {
	return f.counts, nil
}

func TestListDLQForwardsFilters(t *testing.T) {
	svc := &fakeDLQService{items: []models.DeadLetterRecord{}}
	req := httptest.NewRequest(http.MethodGet, "/v1/dlq?queue=outbox&taskType=order.created&limit=25&unresolvedOnly=true", nil)
	w := httptest.NewRecorder()

	ListDLQ(svc, controllerTestLogger())(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastOpts.Queue == nil || *svc.lastOpts.Queue != enums.QueueOutbox {
		t.Fatalf("queue filter not forwarded: %+v", svc.lastOpts)
	}
	if svc.lastOpts.TaskType != "order.created" || svc.lastOpts.Limit != 25 || !svc.lastOpts.UnresolvedOnly {
		t.Fatalf("filters not forwarded: %+v", svc.lastOpts)
	}
}

func TestListDLQRejectsBadQueue(t *testing.T) {
	svc := &fakeDLQService{}
	req := httptest.NewRequest(http.MethodGet, "/v1/dlq?queue=bogus", nil)
	w := httptest.NewRecorder()

	ListDLQ(svc, controllerTestLogger())(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
}

func TestGetDLQItemNotFound(t *testing.T) {
	svc := &fakeDLQService{}
	req := httptest.NewRequest(http.MethodGet, "/v1/dlq/x", nil)
	req = withURLParam(req, "id", uuid.NewString())
	w := httptest.NewRecorder()

	GetDLQItem(svc, controllerTestLogger())(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 but got %d", w.Code)
	}
}

func TestResolveDLQItemSuccess(t *testing.T) {
	svc := &fakeDLQService{resolveOK: true}
	body := bytes.NewBufferString(`{"resolvedBy":"ops@example.com","resolution":"discarded"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/dlq/x/resolve", body)
	req = withURLParam(req, "id", uuid.NewString())
	w := httptest.NewRecorder()

	ResolveDLQItem(svc, controllerTestLogger())(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.resolvedBy != "ops@example.com" {
		t.Fatalf("resolver not forwarded: %q", svc.resolvedBy)
	}
}

func TestResolveDLQItemAlreadyResolved(t *testing.T) {
	svc := &fakeDLQService{resolveOK: false}
	body := bytes.NewBufferString(`{"resolvedBy":"ops@example.com","resolution":"manual_fix"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/dlq/x/resolve", body)
	req = withURLParam(req, "id", uuid.NewString())
	w := httptest.NewRecorder()

	ResolveDLQItem(svc, controllerTestLogger())(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 but got %d", w.Code)
	}
}

func TestResolveDLQItemRequiresBodyFields(t *testing.T) {
	svc := &fakeDLQService{resolveOK: true}
	body := bytes.NewBufferString(`{"resolution":"discarded"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/dlq/x/resolve", body)
	req = withURLParam(req, "id", uuid.NewString())
	w := httptest.NewRecorder()

	ResolveDLQItem(svc, controllerTestLogger())(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
	if svc.resolvedBy != "" {
		t.Fatalf("invalid body must not reach the service")
	}
}

func TestRequeueDLQItemSuccess(t *testing.T) {
	svc := &fakeDLQService{requeued: &taskqueue.EnqueueResult{
		ID:          uuid.New(),
		TaskType:    "email.send",
		Status:      enums.TaskPending,
		ScheduledAt: time.Now().UTC(),
	}}
	body := bytes.NewBufferString(`{"requeuedBy":"ops@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/dlq/x/requeue", body)
	req = withURLParam(req, "id", uuid.NewString())
	w := httptest.NewRecorder()

	RequeueDLQItem(svc, controllerTestLogger())(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 but got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequeueDLQItemMissingRow(t *testing.T) {
	svc := &fakeDLQService{requeued: nil}
	body := bytes.NewBufferString(`{"requeuedBy":"ops@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/dlq/x/requeue", body)
	req = withURLParam(req, "id", uuid.NewString())
	w := httptest.NewRecorder()

	RequeueDLQItem(svc, controllerTestLogger())(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 but got %d", w.Code)
	}
}
