// Package metrics holds the Prometheus instrumentation for the
// upload and analysis pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Pipeline metrics
	CallsUploaded   prometheus.Counter
	CallsProcessed  *prometheus.CounterVec
	CallsInFlight   prometheus.Gauge
	ProcessingTime  prometheus.Histogram
	AIRequestsTotal *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal *prometheus.CounterVec
)

// Init initializes all metrics and registers them. Safe to call
// more than once.
func Init() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		CallsUploaded = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callview_calls_uploaded_total",
				Help: "Total number of calls accepted for processing",
			},
		)

		CallsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callview_calls_processed_total",
				Help: "Total number of pipeline outcomes by status",
			},
			[]string{"status"},
		)

		CallsInFlight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callview_calls_in_flight",
				Help: "Number of calls currently in the pipeline",
			},
		)

		ProcessingTime = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callview_processing_seconds",
				Help:    "End-to-end time to transcribe and analyze a call",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		)

		AIRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callview_ai_requests_total",
				Help: "Total number of AI service requests by kind and outcome",
			},
			[]string{"kind", "outcome"},
		)

		RequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callview_http_requests_total",
				Help: "Total number of HTTP requests by method and path",
			},
			[]string{"method", "path"},
		)

		registry.MustRegister(
			CallsUploaded,
			CallsProcessed,
			CallsInFlight,
			ProcessingTime,
			AIRequestsTotal,
			RequestsTotal,
		)
	})
}

// Handler returns the HTTP handler serving the registry. Init must
// have been called first.
func Handler() http.Handler {
	return promhttp.HandlerFor(
		registry, promhttp.HandlerOpts{},
	)
}
