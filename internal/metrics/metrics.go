// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nash_validations_total",
			Help: "Total number of Nash CSV validations by outcome",
		},
		[]string{"outcome"},
	)

	ValidationRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nash_validation_rows_total",
			Help: "Data rows scanned during validation, split by allowlist membership",
		},
		[]string{"allowlisted"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nash_uploads_total",
			Help: "Total number of uploads by result",
		},
		[]string{"result"},
	)

	UploadsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nash_uploads_active",
			Help: "Number of uploads currently holding a slot",
		},
	)

	RegistrySaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_saves_total",
			Help: "Total number of registry file saves",
		},
		[]string{"registry", "result"},
	)

	BulkEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_bulk_entries_total",
			Help: "Spark bulk upload entries by result",
		},
		[]string{"result"},
	)

	AnalyticsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "analytics_run_duration_seconds",
			Help: "Duration of analytics process runs in seconds",
		},
		[]string{"script"},
	)

	AnalyticsFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_run_failures_total",
			Help: "Total number of failed analytics process runs",
		},
		[]string{"script"},
	)

	SweptFiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_removed_files_total",
			Help: "Total number of stale temp and staging files removed",
		},
	)
)
