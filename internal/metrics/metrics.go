// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package metrics defines the Prometheus collectors of the long-running
// daemon. Collectors register with the default registry and are served by
// the status service on /metrics. Short-lived child processes (workers,
// conversion tasks) do not export metrics; their parent records outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source Supervisor
	WorkersLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rinexpipe_workers_live",
			Help: "Number of live source worker processes",
		},
	)

	WorkerStarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rinexpipe_worker_starts_total",
			Help: "Total number of source worker processes started",
		},
	)

	WorkerStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rinexpipe_worker_stops_total",
			Help: "Total number of source worker stops by final state",
		},
		[]string{"state"}, // "exited", "abandoned"
	)

	WorkerUnexpectedExits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rinexpipe_worker_unexpected_exits_total",
			Help: "Worker processes found exited without being stopped",
		},
	)

	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rinexpipe_reconcile_total",
			Help: "Total reconciliation passes by trigger",
		},
		[]string{"trigger"}, // "interval", "signature", "startup"
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rinexpipe_reconcile_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
	)

	StationListSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rinexpipe_station_list_sources",
			Help: "Number of sources in the last station list read",
		},
	)

	StationListFallback = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rinexpipe_station_list_fallback",
			Help: "1 when the fallback station list is in use",
		},
	)

	SourceCaptureAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rinexpipe_source_capture_age_seconds",
			Help: "Age of the most recently modified raw capture per source",
		},
		[]string{"source"},
	)

	// Batch Conversion Scheduler
	SchedulerTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rinexpipe_scheduler_triggers_total",
			Help: "Cadence triggers that submitted a batch",
		},
		[]string{"cadence"},
	)

	SchedulerLastBucket = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rinexpipe_scheduler_last_bucket_start_seconds",
			Help: "Unix start time of the last submitted bucket per cadence",
		},
		[]string{"cadence"},
	)

	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rinexpipe_conversions_total",
			Help: "Conversion task outcomes",
		},
		[]string{"cadence", "outcome"}, // published, skipped, no_input, failed
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rinexpipe_conversion_duration_seconds",
			Help:    "Duration of conversion tasks",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600, 1800},
		},
		[]string{"cadence"},
	)

	PoolInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rinexpipe_pool_inflight",
			Help: "Conversion tasks currently running",
		},
	)

	DedupDroppedEpochs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rinexpipe_dedup_dropped_epochs_total",
			Help: "Duplicate epoch records dropped from artifacts",
		},
	)

	// Station list generation
	QueryDBRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rinexpipe_querydb_refresh_total",
			Help: "Station list refreshes from the database by result",
		},
		[]string{"result"}, // "written", "unchanged", "error"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rinexpipe_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// Status API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rinexpipe_http_requests_total",
			Help: "Total number of status API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rinexpipe_http_request_duration_seconds",
			Help:    "Status API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordConversion records one finished conversion task.
func RecordConversion(cadence, outcome string, duration time.Duration, duplicates int) {
	ConversionsTotal.WithLabelValues(cadence, outcome).Inc()
	ConversionDuration.WithLabelValues(cadence).Observe(duration.Seconds())
	if duplicates > 0 {
		DedupDroppedEpochs.Add(float64(duplicates))
	}
}

// RecordReconcile records a reconciliation pass.
func RecordReconcile(trigger string, duration time.Duration, live int) {
	ReconcileTotal.WithLabelValues(trigger).Inc()
	ReconcileDuration.Observe(duration.Seconds())
	WorkersLive.Set(float64(live))
}

// RecordTrigger records a cadence trigger that submitted bucketStart.
func RecordTrigger(cadence string, bucketStart time.Time) {
	SchedulerTriggers.WithLabelValues(cadence).Inc()
	SchedulerLastBucket.WithLabelValues(cadence).Set(float64(bucketStart.Unix()))
}

// RecordAPIRequest records a status API request.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackInFlight adjusts the pool in-flight gauge.
func TrackInFlight(inc bool) {
	if inc {
		PoolInFlight.Inc()
	} else {
		PoolInFlight.Dec()
	}
}

// SetStationList records the size and origin of the station list in use.
func SetStationList(sources int, fallback bool) {
	StationListSources.Set(float64(sources))
	if fallback {
		StationListFallback.Set(1)
	} else {
		StationListFallback.Set(0)
	}
}
