// Package observability exposes Prometheus metrics for the dispatch path.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aibuilder_dispatch_requests_total",
			Help: "Total dispatched requests by task type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aibuilder_dispatch_duration_seconds",
			Help:    "End-to-end dispatch latency including the provider call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	analyticsWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aibuilder_analytics_write_failures_total",
			Help: "Total analytics updates that failed and were dropped",
		},
	)

	providerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aibuilder_provider_errors_total",
			Help: "Total upstream provider errors by provider",
		},
		[]string{"provider"},
	)
)

// ObserveDispatch records one dispatched request.
func ObserveDispatch(taskType string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	dispatchTotal.WithLabelValues(taskType, outcome).Inc()
	dispatchDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// ObserveAnalyticsFailure counts a dropped best-effort analytics write.
func ObserveAnalyticsFailure() {
	analyticsWriteFailures.Inc()
}

// ObserveProviderError counts an upstream provider failure.
func ObserveProviderError(provider string) {
	providerErrors.WithLabelValues(provider).Inc()
}
