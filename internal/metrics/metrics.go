// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package metrics provides Prometheus instrumentation for the capture,
// detection, fast-path, and alerting subsystems.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture Subsystem Metrics
	EventsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_captured_total",
			Help: "Total number of events processed by the capture pipeline",
		},
		[]string{"source", "status", "tenant"},
	)

	CaptureRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capture_rate",
			Help: "Fraction of ingested events that reached captured/validated status",
		},
		[]string{"source"},
	)

	CaptureQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_size",
			Help: "Current depth of the capture work queue",
		},
	)

	CaptureQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capture_queue_wait_seconds",
			Help:    "Time spent blocked enqueueing into a full capture queue",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	CaptureProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_processing_duration_seconds",
			Help:    "Time to process one event through the capture pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	CaptureValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_validation_failures_total",
			Help: "Total number of capture records that failed validation",
		},
		[]string{"source", "reason"},
	)

	CaptureRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_retries_total",
			Help: "Total number of capture retry attempts",
		},
	)

	// Detection Metrics
	ThreatDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threat_detections_total",
			Help: "Total number of security events generated by detectors",
		},
		[]string{"signature", "level", "tenant"},
	)

	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detection_duration_seconds",
			Help:    "Time to run one signature over one event batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"signature"},
	)

	DetectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_errors_total",
			Help: "Total number of detector errors (isolated per signature)",
		},
		[]string{"signature"},
	)

	ActiveSecurityEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_security_events",
			Help: "Current number of unresolved security events",
		},
		[]string{"level", "tenant"},
	)

	SecurityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "security_score",
			Help: "Per-tenant security score (100 = no active threats)",
		},
		[]string{"tenant"},
	)

	// Fast Path Metrics
	FastPathScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fastpath_scan_duration_seconds",
			Help:    "Duration of one fast-path scan tick",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
		},
	)

	FastPathCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fastpath_cache_hits_total",
			Help: "Fast-path cache hits",
		},
	)

	FastPathCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fastpath_cache_misses_total",
			Help: "Fast-path cache misses",
		},
	)

	// Alerting Metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_sent_total",
			Help: "Total number of alert notifications sent",
		},
		[]string{"type", "severity", "tenant"},
	)

	AlertDeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_delivery_failures_total",
			Help: "Total number of failed notification deliveries",
		},
		[]string{"channel"},
	)

	AlertCooldownSuppressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_cooldown_suppressions_total",
			Help: "Notifications suppressed by rule cooldown windows",
		},
	)
)

// ObserveCaptureProcessing records the processing duration for one event.
func ObserveCaptureProcessing(source string, start time.Time) {
	CaptureProcessingDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// ObserveDetection records the duration of one signature run.
func ObserveDetection(signature string, start time.Time) {
	DetectionDuration.WithLabelValues(signature).Observe(time.Since(start).Seconds())
}
