// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package capture

import (
	"time"
)

// Grade is a health classification for one pipeline dimension.
type Grade string

const (
	GradeHealthy    Grade = "healthy"
	GradeDegraded   Grade = "degraded"
	GradeOverloaded Grade = "overloaded"
)

// Health reports each capture dimension graded independently, plus the
// worst overall grade.
type Health struct {
	Overall        Grade   `json:"overall"`
	QueueFill      Grade   `json:"queue_fill"`
	QueueFillRatio float64 `json:"queue_fill_ratio"`
	Listeners      Grade   `json:"listeners"`
	ListenerRatio  float64 `json:"listener_ratio"`
	CaptureRate    Grade   `json:"capture_rate"`
	CaptureRateVal float64 `json:"capture_rate_value"`
	Processors     Grade   `json:"processors"`
	ProcessorRatio float64 `json:"processor_ratio"`
}

// Health grades the pipeline. A listener counts as active if it completed a
// successful poll within three poll intervals.
func (m *Manager) Health() Health {
	now := time.Now()
	window := 3 * m.cfg.PollInterval
	if window <= 0 {
		window = 15 * time.Second
	}

	m.listenerMu.Lock()
	total := len(m.lastPollAt)
	active := 0
	for _, at := range m.lastPollOK {
		if now.Sub(at) <= window {
			active++
		}
	}
	m.listenerMu.Unlock()

	listenerRatio := 1.0
	if total > 0 {
		listenerRatio = float64(active) / float64(total)
	}

	st := m.Stats()

	h := Health{
		QueueFillRatio: st.QueueFillRatio,
		ListenerRatio:  listenerRatio,
		CaptureRateVal: st.GlobalCaptureRate,
		ProcessorRatio: st.LiveProcessorRatio,
	}
	h.QueueFill = gradeHighBad(st.QueueFillRatio, 0.7, 0.9)
	h.Listeners = gradeLowBad(listenerRatio, 0.99, 0.5)
	h.CaptureRate = gradeLowBad(st.GlobalCaptureRate, 0.95, 0.8)
	h.Processors = gradeLowBad(st.LiveProcessorRatio, 0.99, 0.5)
	h.Overall = worst(h.QueueFill, h.Listeners, h.CaptureRate, h.Processors)
	return h
}

// gradeHighBad grades a ratio where high values are bad (queue fill).
func gradeHighBad(v, degraded, overloaded float64) Grade {
	switch {
	case v >= overloaded:
		return GradeOverloaded
	case v >= degraded:
		return GradeDegraded
	default:
		return GradeHealthy
	}
}

// gradeLowBad grades a ratio where low values are bad.
func gradeLowBad(v, healthy, overloaded float64) Grade {
	switch {
	case v < overloaded:
		return GradeOverloaded
	case v < healthy:
		return GradeDegraded
	default:
		return GradeHealthy
	}
}

func worst(grades ...Grade) Grade {
	out := GradeHealthy
	for _, g := range grades {
		if g == GradeOverloaded {
			return GradeOverloaded
		}
		if g == GradeDegraded {
			out = GradeDegraded
		}
	}
	return out
}
