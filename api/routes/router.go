package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avencia-dev/taskforge/api/controllers"
	"github.com/avencia-dev/taskforge/api/middleware"
	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/enums"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

// RouterParams wire the ops surface. Nil services disable their routes'
// happy path but keep the route registered so probes get a typed error
// instead of a 404.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	Jobs         controllers.JobService
	Stats        map[enums.Queue]controllers.StatsProvider
	DLQ          controllers.DLQService
	Dependencies []controllers.Dependency
	Registry     prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Dependencies...))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", controllers.EnqueueJob(params.Jobs, logg))
			r.Post("/batch", controllers.EnqueueJobBatch(params.Jobs, logg))
			r.Get("/", controllers.ListJobs(params.Jobs, logg))
			r.Get("/{id}", controllers.GetJob(params.Jobs, logg))
			r.Post("/{id}/cancel", controllers.CancelJob(params.Jobs, logg))
		})

		r.Get("/queues/{queue}/stats", controllers.QueueStats(params.Stats, logg))

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", controllers.ListDLQ(params.DLQ, logg))
			r.Get("/summary", controllers.DLQSummary(params.DLQ, logg))
			r.Get("/{id}", controllers.GetDLQItem(params.DLQ, logg))
			r.Post("/{id}/resolve", controllers.ResolveDLQItem(params.DLQ, logg))
			r.Post("/{id}/requeue", controllers.RequeueDLQItem(params.DLQ, logg))
		})
	})

	return r
}
