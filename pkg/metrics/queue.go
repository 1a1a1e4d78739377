package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics records poller activity per queue. All methods are nil-safe:
// a worker runs identically whether or not a registerer was provided.
type QueueMetrics struct {
	claims      *prometheus.CounterVec
	completions *prometheus.CounterVec
	retries     *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	reclaimed   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
}

// NewQueueMetrics registers the queue metrics on the provided registerer.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_claims_total",
		Help: "Tasks successfully claimed by this worker.",
	}, []string{"queue"})
	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_completions_total",
		Help: "Tasks that finished successfully.",
	}, []string{"queue"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_retries_total",
		Help: "Tasks that failed transiently and were scheduled for retry.",
	}, []string{"queue"})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_dead_letters_total",
		Help: "Tasks moved to the dead-letter table.",
	}, []string{"queue", "reason"})
	reclaimed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_leases_reclaimed_total",
		Help: "Expired leases reset back to pending.",
	}, []string{"queue"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Handler execution time in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "task_in_flight",
		Help: "Claimed tasks currently executing in this process.",
	}, []string{"queue"})
	reg.MustRegister(claims, completions, retries, deadLetters, reclaimed, duration, inFlight)
	return &QueueMetrics{
		claims:      claims,
		completions: completions,
		retries:     retries,
		deadLetters: deadLetters,
		reclaimed:   reclaimed,
		duration:    duration,
		inFlight:    inFlight,
	}
}

func (q *QueueMetrics) IncClaim(queue string) {
	if q == nil || q.claims == nil {
		return
	}
	q.claims.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (q *QueueMetrics) IncCompletion(queue string) {
	if q == nil || q.completions == nil {
		return
	}
	q.completions.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (q *QueueMetrics) IncRetry(queue string) {
	if q == nil || q.retries == nil {
		return
	}
	q.retries.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (q *QueueMetrics) IncDeadLetter(queue, reason string) {
	if q == nil || q.deadLetters == nil {
		return
	}
	q.deadLetters.WithLabelValues(normalizeLabel(queue), normalizeLabel(reason)).Inc()
}

func (q *QueueMetrics) AddReclaimed(queue string, count float64) {
	if q == nil || q.reclaimed == nil {
		return
	}
	q.reclaimed.WithLabelValues(normalizeLabel(queue)).Add(count)
}

func (q *QueueMetrics) ObserveDuration(queue string, duration time.Duration) {
	if q == nil || q.duration == nil {
		return
	}
	q.duration.WithLabelValues(normalizeLabel(queue)).Observe(duration.Seconds())
}

func (q *QueueMetrics) IncInFlight(queue string) {
	if q == nil || q.inFlight == nil {
		return
	}
	q.inFlight.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (q *QueueMetrics) DecInFlight(queue string) {
	if q == nil || q.inFlight == nil {
		return
	}
	q.inFlight.WithLabelValues(normalizeLabel(queue)).Dec()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
