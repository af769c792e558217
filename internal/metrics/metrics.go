// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Database query performance (DuckDB)
// - API endpoint latency and throughput
// - Event queue depth and drain behavior
// - Detection engine activity
// - WebSocket connections

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Event Queue Metrics
	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "behavior_events_ingested_total",
			Help: "Total number of behavioral events accepted for processing",
		},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "behavior_events_processed_total",
			Help: "Total number of behavioral events successfully processed",
		},
	)

	EventsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "behavior_events_failed_total",
			Help: "Total number of behavioral events whose processing failed",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "behavior_queue_depth",
			Help: "Current depth of the in-memory event queue",
		},
	)

	QueueDrains = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behavior_queue_drains_total",
			Help: "Total number of queue drains",
		},
		[]string{"trigger"}, // "ticker", "backlog"
	)

	QueueDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "behavior_queue_drain_duration_seconds",
			Help:    "Duration of queue drain operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Detection Metrics
	DetectorChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behavior_detector_checks_total",
			Help: "Total number of detector evaluations",
		},
		[]string{"detector"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behavior_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"anomaly_type", "severity"},
	)

	ProfilesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "behavior_profiles_tracked",
			Help: "Current number of behavioral profiles in the cache",
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordEventIngested records an event accepted for processing.
func RecordEventIngested() {
	EventsIngested.Inc()
}

// RecordEventProcessed records the outcome of processing a single event.
func RecordEventProcessed(err error) {
	if err != nil {
		EventsFailed.Inc()
		return
	}
	EventsProcessed.Inc()
}

// UpdateQueueDepth updates the event queue depth gauge.
func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// RecordQueueDrain records a completed drain and what triggered it.
func RecordQueueDrain(trigger string, duration time.Duration) {
	QueueDrains.WithLabelValues(trigger).Inc()
	QueueDrainDuration.Observe(duration.Seconds())
}

// RecordDetectorCheck records a single detector evaluation.
func RecordDetectorCheck(detector string) {
	DetectorChecks.WithLabelValues(detector).Inc()
}

// RecordAnomaly records a detected anomaly.
func RecordAnomaly(anomalyType, severity string) {
	AnomaliesDetected.WithLabelValues(anomalyType, severity).Inc()
}

// UpdateProfilesTracked updates the profile cache gauge.
func UpdateProfilesTracked(count int) {
	ProfilesTracked.Set(float64(count))
}

// RecordCircuitBreakerRequest records a request routed through a breaker.
func RecordCircuitBreakerRequest(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// UpdateCircuitBreakerState updates the breaker state gauge.
func UpdateCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}
