package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avencia-dev/taskforge/api/responses"
	"github.com/avencia-dev/taskforge/api/validators"
	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
	pkgerrors "github.com/avencia-dev/taskforge/pkg/errors"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

const maxListLimit = 200

// JobService is the producer surface the job endpoints need.
type JobService interface {
	Enqueue(ctx context.Context, input taskqueue.EnqueueInput) (*taskqueue.EnqueueResult, error)
	EnqueueBatch(ctx context.Context, inputs []taskqueue.EnqueueInput) ([]taskqueue.EnqueueResult, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*models.TaskRecord, error)
	GetJobsByType(ctx context.Context, taskType string, status *enums.TaskStatus, limit int) ([]models.TaskRecord, error)
}

// EnqueueJob accepts a single task submission.
func EnqueueJob(svc JobService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job service unavailable"))
			return
		}

		var input taskqueue.EnqueueInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Enqueue(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// EnqueueJobBatch accepts multiple submissions committed atomically.
func EnqueueJobBatch(svc JobService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job service unavailable"))
			return
		}

		var body struct {
			Jobs []taskqueue.EnqueueInput `json:"jobs" validate:"required,min=1,max=100,dive"`
		}
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		results, err := svc.EnqueueBatch(r.Context(), body.Jobs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, results)
	}
}

// GetJob returns a single task record by id.
func GetJob(svc JobService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job service unavailable"))
			return
		}

		id, err := parseIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if record == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "job not found"))
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// ListJobs filters records by task type and optional status.
func ListJobs(svc JobService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job service unavailable"))
			return
		}

		taskType := validators.SanitizeString(r.URL.Query().Get("taskType"), 255)
		if taskType == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "taskType query parameter is required"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status *enums.TaskStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed := enums.TaskStatus(raw)
			if !parsed.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter").
					WithDetails(map[string]string{"status": raw}))
				return
			}
			status = &parsed
		}

		records, err := svc.GetJobsByType(r.Context(), taskType, status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, records)
	}
}

// CancelJob cancels a pending task. Claimed or finished tasks are reported
// as a state conflict.
func CancelJob(svc JobService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job service unavailable"))
			return
		}

		id, err := parseIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cancelled, err := svc.Cancel(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !cancelled {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "job is not pending"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": id, "status": enums.TaskCancelled})
	}
}

func parseIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid id")
	}
	return id, nil
}
