// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package implements application instrumentation using the Prometheus client
library, exposing metrics for monitoring performance, errors, and system health.

# Overview

The package provides metrics for:
  - HTTP request latency and throughput
  - Database query performance (DuckDB)
  - Event queue depth, drains, and per-event outcomes
  - Detection engine activity per detector and anomaly severity
  - Circuit breaker state transitions
  - WebSocket connection counts

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8686/metrics

# Usage Example

Basic setup in main.go:

	import (
	    "behaviord/internal/metrics"
	    "github.com/prometheus/client_golang/prometheus/promhttp"
	)

	func main() {
	    http.Handle("/metrics", promhttp.Handler())

	    metrics.RecordAPIRequest("GET", "/api/v1/stats", "200", 23*time.Millisecond)
	    metrics.RecordEventIngested()
	    metrics.RecordAnomaly("statistical", "high")
	}

Example PromQL queries:

	# Event ingestion rate
	rate(behavior_events_ingested_total[5m])

	# Anomaly rate by severity
	sum by (severity) (rate(behavior_anomalies_detected_total[5m]))

	# API p95 latency
	histogram_quantile(0.95, rate(api_request_duration_seconds_bucket[5m]))

# Thread Safety

All metric recording functions are thread-safe and designed for concurrent use
from multiple goroutines. The Prometheus client library handles synchronization
internally.

# Cardinality Management

To prevent high cardinality issues:

  - Endpoint labels are normalized (no query parameters)
  - Detector and anomaly type labels are limited to the registered strategy set
  - Entity-specific labels are avoided
*/
package metrics
