package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/avencia-dev/taskforge/api/responses"
	"github.com/avencia-dev/taskforge/api/validators"
	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
	pkgerrors "github.com/avencia-dev/taskforge/pkg/errors"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

// DLQService is the dead-letter surface the admin endpoints need.
type DLQService interface {
	ListItems(ctx context.Context, opts taskqueue.DLQListOptions) ([]models.DeadLetterRecord, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.DeadLetterRecord, error)
	Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, resolution enums.DLQResolution, notes *string) (bool, error)
	Requeue(ctx context.Context, id uuid.UUID, requeuedBy string) (*taskqueue.EnqueueResult, error)
	UnresolvedCounts(ctx context.Context) (map[enums.Queue]int64, error)
}

// ListDLQ returns dead letters, newest first.
func ListDLQ(svc DLQService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq service unavailable"))
			return
		}

		opts := taskqueue.DLQListOptions{}

		if raw := strings.TrimSpace(r.URL.Query().Get("queue")); raw != "" {
			queue, err := enums.ParseQueue(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid queue filter"))
				return
			}
			opts.Queue = &queue
		}

		opts.TaskType = validators.SanitizeString(r.URL.Query().Get("taskType"), 255)

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		opts.Limit = limit

		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 100000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		opts.Offset = offset

		if raw := strings.TrimSpace(r.URL.Query().Get("unresolvedOnly")); raw == "true" {
			opts.UnresolvedOnly = true
		}

		items, err := svc.ListItems(r.Context(), opts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

// GetDLQItem returns one dead letter.
func GetDLQItem(svc DLQService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq service unavailable"))
			return
		}

		id, err := parseIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := svc.GetItem(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if item == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found"))
			return
		}
		responses.WriteSuccess(w, item)
	}
}

type resolveDLQRequest struct {
	ResolvedBy string  `json:"resolvedBy" validate:"required,max=255"`
	Resolution string  `json:"resolution" validate:"required"`
	Notes      *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// ResolveDLQItem marks a dead letter as handled.
func ResolveDLQItem(svc DLQService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq service unavailable"))
			return
		}

		id, err := parseIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body resolveDLQRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resolution := enums.DLQResolution(body.Resolution)
		resolved, err := svc.Resolve(r.Context(), id, body.ResolvedBy, resolution, body.Notes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !resolved {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "dead letter is missing or already resolved"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": id, "resolution": resolution})
	}
}

type requeueDLQRequest struct {
	RequeuedBy string `json:"requeuedBy" validate:"required,max=255"`
}

// RequeueDLQItem copies a dead letter back onto its origin queue.
func RequeueDLQItem(svc DLQService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq service unavailable"))
			return
		}

		id, err := parseIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body requeueDLQRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Requeue(r.Context(), id, body.RequeuedBy)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "dead letter is missing or already resolved"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// DLQSummary reports the unresolved backlog per queue.
func DLQSummary(svc DLQService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq service unavailable"))
			return
		}

		counts, err := svc.UnresolvedCounts(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary := map[string]int64{}
		for queue, count := range counts {
			summary[string(queue)] = count
		}
		responses.WriteSuccess(w, map[string]any{"unresolved": summary})
	}
}
