package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avencia-dev/taskforge/api/responses"
	"github.com/avencia-dev/taskforge/pkg/enums"
	pkgerrors "github.com/avencia-dev/taskforge/pkg/errors"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

// StatsProvider returns per-status row counts for one queue.
type StatsProvider interface {
	GetStats(ctx context.Context) (map[enums.TaskStatus]int64, error)
}

// QueueStats exposes the status breakdown for jobs or outbox.
func QueueStats(providers map[enums.Queue]StatsProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queue, err := enums.ParseQueue(chi.URLParam(r, "queue"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid queue"))
			return
		}

		provider := providers[queue]
		if provider == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stats provider unavailable"))
			return
		}

		counts, err := provider.GetStats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		breakdown := map[string]int64{}
		var total int64
		for status, count := range counts {
			breakdown[string(status)] = count
			total += count
		}
		responses.WriteSuccess(w, map[string]any{
			"queue":    queue,
			"statuses": breakdown,
			"total":    total,
		})
	}
}
