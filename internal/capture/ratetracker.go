// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package capture

import (
	"sync"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// minEventsForRateAlert is the observation floor before a low capture rate
// is worth alerting on.
const minEventsForRateAlert = 10

// sourceCounters accumulates per-source capture outcomes.
type sourceCounters struct {
	Total    int64
	Captured int64
	Failed   int64
}

// RateTracker computes global and per-source capture rates and logs an alert
// when a source's rate drops below the configured threshold.
type RateTracker struct {
	mu             sync.Mutex
	global         sourceCounters
	perSource      map[string]*sourceCounters
	alertThreshold float64
	alerted        map[string]bool
}

// NewRateTracker creates a tracker alerting below the given threshold.
func NewRateTracker(alertThreshold float64) *RateTracker {
	if alertThreshold <= 0 || alertThreshold > 1 {
		alertThreshold = 0.95
	}
	return &RateTracker{
		perSource:      make(map[string]*sourceCounters),
		alertThreshold: alertThreshold,
		alerted:        make(map[string]bool),
	}
}

func (r *RateTracker) counters(source string) *sourceCounters {
	c, ok := r.perSource[source]
	if !ok {
		c = &sourceCounters{}
		r.perSource[source] = c
	}
	return c
}

// RecordCaptured counts one successfully captured event for a source.
func (r *RateTracker) RecordCaptured(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters(source)
	c.Total++
	c.Captured++
	r.global.Total++
	r.global.Captured++
	r.publishLocked(source, c)
}

// RecordFailed counts one permanently failed event for a source.
func (r *RateTracker) RecordFailed(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters(source)
	c.Total++
	c.Failed++
	r.global.Total++
	r.global.Failed++
	r.publishLocked(source, c)
}

// publishLocked refreshes the gauge and emits the low-rate alert on the
// healthy-to-degraded transition only, so logs do not flood.
func (r *RateTracker) publishLocked(source string, c *sourceCounters) {
	rate := rateOf(c)
	metrics.CaptureRate.WithLabelValues(source).Set(rate)

	if c.Total < minEventsForRateAlert {
		return
	}
	below := rate < r.alertThreshold
	if below && !r.alerted[source] {
		r.alerted[source] = true
		logging.Warn().Str("source", source).Float64("capture_rate", rate).
			Float64("threshold", r.alertThreshold).Int64("observed", c.Total).
			Msg("capture rate below alert threshold")
	} else if !below && r.alerted[source] {
		r.alerted[source] = false
		logging.Info().Str("source", source).Float64("capture_rate", rate).
			Msg("capture rate recovered")
	}
}

func rateOf(c *sourceCounters) float64 {
	if c.Total == 0 {
		return 1.0
	}
	return float64(c.Captured) / float64(c.Total)
}

// GlobalRate returns captured/total across all sources.
func (r *RateTracker) GlobalRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rateOf(&r.global)
}

// SourceRate returns captured/total for one source.
func (r *RateTracker) SourceRate(source string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.perSource[source]
	if !ok {
		return 1.0
	}
	return rateOf(c)
}

// RateStats is a point-in-time snapshot of capture rates.
type RateStats struct {
	Total      int64              `json:"total"`
	Captured   int64              `json:"captured"`
	Failed     int64              `json:"failed"`
	GlobalRate float64            `json:"global_rate"`
	PerSource  map[string]float64 `json:"per_source"`
}

// Stats returns a snapshot of all counters.
func (r *RateTracker) Stats() RateStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := RateStats{
		Total:      r.global.Total,
		Captured:   r.global.Captured,
		Failed:     r.global.Failed,
		GlobalRate: rateOf(&r.global),
		PerSource:  make(map[string]float64, len(r.perSource)),
	}
	for name, c := range r.perSource {
		s.PerSource[name] = rateOf(c)
	}
	return s
}
