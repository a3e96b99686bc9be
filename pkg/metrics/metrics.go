// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// AssistantCallsTotal tracks remote assistant API calls by step.
	AssistantCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_remote_calls_total",
			Help: "Remote assistant API calls by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	// RunDuration tracks wall time from run creation to a terminal observation.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_run_duration_seconds",
			Help:    "Assistant run duration until a terminal status",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"outcome"},
	)

	// RunPollAttempts tracks how many status checks a run needed.
	RunPollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_run_poll_attempts",
			Help:    "Status checks issued per assistant run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 89},
		},
	)

	// ImagesMaterialized tracks materialized images.
	ImagesMaterialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "images_materialized_total",
			Help: "Images materialized by source and policy",
		},
		[]string{"source", "policy"},
	)

	// ImageBytes tracks materialized image sizes.
	ImageBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_bytes",
			Help:    "Size of materialized images in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 11),
		},
	)

	// ImagesSwept tracks upload files removed by retention.
	ImagesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "images_swept_total",
			Help: "Uploaded images removed by the retention sweeper",
		},
	)

	// VisionRequestsTotal tracks vision describer calls.
	VisionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_requests_total",
			Help: "Vision describer calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ExchangesTotal tracks relayed exchanges.
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchanges_total",
			Help: "Relayed exchanges by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAssistantCall records one remote assistant API call.
func RecordAssistantCall(step string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	AssistantCallsTotal.WithLabelValues(step, outcome).Inc()
}

// RecordRun records the outcome of a polled run.
func RecordRun(outcome string, duration float64, attempts int) {
	RunDuration.WithLabelValues(outcome).Observe(duration)
	RunPollAttempts.Observe(float64(attempts))
}

// RecordImage records a materialized image.
func RecordImage(source, policy string, size int) {
	ImagesMaterialized.WithLabelValues(source, policy).Inc()
	ImageBytes.Observe(float64(size))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
