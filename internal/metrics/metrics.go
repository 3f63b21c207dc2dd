// Package metrics provides Prometheus metrics for a batch run.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bias_api_attempts_total",
			Help: "Total number of API call attempts",
		},
		[]string{"model"},
	)
	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bias_api_retries_total",
			Help: "Total number of retried API calls by error class",
		},
		[]string{"model", "class"},
	)
	TaskResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bias_task_results_total",
			Help: "Total number of terminal task results by status class",
		},
		[]string{"stage", "class"},
	)
	TasksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bias_tasks_skipped_total",
			Help: "Tasks skipped because a result was already persisted",
		},
		[]string{"stage"},
	)
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bias_api_call_duration_seconds",
			Help:    "API call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"model"},
	)
	RateLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bias_request_rate_limit",
			Help: "Current adaptive request rate (requests per second)",
		},
	)
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bias_workers_active",
			Help: "Number of tasks currently in flight",
		},
	)
)

func RecordAttempt(model string, duration time.Duration) {
	APIAttempts.WithLabelValues(model).Inc()
	APILatency.WithLabelValues(model).Observe(duration.Seconds())
}

func RecordRetry(model, class string) {
	APIRetries.WithLabelValues(model, class).Inc()
}

func RecordResult(stage, class string) {
	TaskResults.WithLabelValues(stage, class).Inc()
}

func RecordSkipped(stage string, n int) {
	TasksSkipped.WithLabelValues(stage).Add(float64(n))
}

func UpdateRateLimit(limit float64) {
	RateLimit.Set(limit)
}

func WorkerStarted() {
	WorkersActive.Inc()
}

func WorkerDone() {
	WorkersActive.Dec()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
