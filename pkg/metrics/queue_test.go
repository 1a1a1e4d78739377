package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestQueueMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewQueueMetrics(reg)

	metrics.IncClaim("jobs")
	metrics.IncCompletion("jobs")
	metrics.IncRetry("jobs")
	metrics.IncDeadLetter("jobs", "max_retries_exceeded")
	metrics.AddReclaimed("jobs", 3)
	metrics.ObserveDuration("jobs", 125*time.Millisecond)
	metrics.IncInFlight("jobs")
	metrics.DecInFlight("jobs")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for name, want := range map[string]float64{
		"task_claims_total":           1,
		"task_completions_total":      1,
		"task_retries_total":          1,
		"task_leases_reclaimed_total": 3,
	} {
		got, err := fetchCounterValue(mfs, name, "queue", "jobs")
		if err != nil {
			t.Fatalf("fetch %s: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s = %f, want %f", name, got, want)
		}
	}

	if got, err := fetchHistogramSum(mfs, "task_duration_seconds", "queue", "jobs"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestQueueMetricsNilSafe(t *testing.T) {
	var metrics *QueueMetrics
	metrics.IncClaim("jobs")
	metrics.ObserveDuration("jobs", time.Second)

	empty := NewQueueMetrics(nil)
	empty.IncDeadLetter("outbox", "permanent_failure")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
