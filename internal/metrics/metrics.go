// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package metrics provides Prometheus instrumentation for Flagwarden:
// flag evaluation outcomes, mutation counts, audit recording, cache
// efficiency, API latency, and database query performance. Metrics are
// exposed on /metrics via promhttp.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_evaluations_total",
			Help: "Total number of flag evaluations by result",
		},
		[]string{"result"}, // "true" / "false"
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flag_evaluation_duration_seconds",
			Help:    "Flag evaluation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	// Mutation metrics
	FlagMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_mutations_total",
			Help: "Total number of flag mutations by action",
		},
		[]string{"action"},
	)

	FlagMutationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_mutation_errors_total",
			Help: "Total number of failed flag mutations",
		},
		[]string{"error_type"},
	)

	// Audit metrics
	AuditEntriesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_recorded_total",
			Help: "Total number of audit log entries recorded",
		},
	)

	AuditRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_record_failures_total",
			Help: "Total number of swallowed audit recording failures",
		},
	)

	AuditEntriesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_pruned_total",
			Help: "Total number of audit entries removed by retention cleanup",
		},
	)

	// Flag cache metrics
	FlagCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flag_cache_hits_total",
			Help: "Total number of flag cache hits",
		},
	)

	FlagCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flag_cache_misses_total",
			Help: "Total number of flag cache misses",
		},
	)

	FlagCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flag_cache_entries",
			Help: "Current number of cached flags",
		},
	)

	// API endpoint metrics
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

	// Database metrics
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

	// Notifier metrics
	NotifyPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_publishes_total",
			Help: "Total number of notification publishes by topic",
		},
		[]string{"topic"},
	)

	NotifyPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_publish_failures_total",
			Help: "Total number of dropped notification publishes",
		},
		[]string{"topic"},
	)

	// Directory client metrics
	DirectoryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_lookups_total",
			Help: "Total number of identity directory lookups",
		},
		[]string{"outcome"}, // "hit", "miss", "error", "open"
	)
)

// RecordEvaluation increments the evaluation counter for a result.
func RecordEvaluation(enabled bool) {
	EvaluationsTotal.WithLabelValues(strconv.FormatBool(enabled)).Inc()
}

// RecordFlagMutation increments the mutation counter for an action.
func RecordFlagMutation(action string) {
	FlagMutationsTotal.WithLabelValues(action).Inc()
}

// RecordAuditEntry increments the recorded-entries counter.
func RecordAuditEntry() {
	AuditEntriesRecorded.Inc()
}

// RecordAuditFailure increments the swallowed-failure counter.
func RecordAuditFailure() {
	AuditRecordFailures.Inc()
}

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDBQuery records query duration and an error when one occurred.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordNotifyPublish records a publish attempt and whether it was dropped.
func RecordNotifyPublish(topic string, err error) {
	NotifyPublishes.WithLabelValues(topic).Inc()
	if err != nil {
		NotifyPublishFailures.WithLabelValues(topic).Inc()
	}
}

// RecordDirectoryLookup records an identity directory lookup outcome.
func RecordDirectoryLookup(outcome string) {
	DirectoryLookups.WithLabelValues(outcome).Inc()
}
