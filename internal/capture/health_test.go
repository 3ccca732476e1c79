// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package capture

import (
	"testing"
	"time"
)

func TestHealthFreshPipelineIsHealthy(t *testing.T) {
	m := NewManager(testCaptureConfig(), nil)

	h := m.Health()
	if h.Overall != GradeHealthy {
		t.Fatalf("Overall = %s, want healthy", h.Overall)
	}
	if h.QueueFill != GradeHealthy || h.Listeners != GradeHealthy {
		t.Fatalf("dimensions = %s/%s, want healthy", h.QueueFill, h.Listeners)
	}
}

func TestHealthStaleListenerDegrades(t *testing.T) {
	m := NewManager(testCaptureConfig(), nil)

	// One listener that has not had a successful poll recently.
	m.listenerMu.Lock()
	m.lastPollAt["audit_log"] = time.Now()
	m.lastPollOK["audit_log"] = time.Now().Add(-time.Hour)
	m.listenerMu.Unlock()

	h := m.Health()
	if h.Listeners != GradeOverloaded {
		t.Fatalf("Listeners = %s, want overloaded", h.Listeners)
	}
	if h.Overall != GradeOverloaded {
		t.Fatalf("Overall = %s, want overloaded", h.Overall)
	}
}

func TestHealthLowCaptureRateDegrades(t *testing.T) {
	m := NewManager(testCaptureConfig(), nil)

	for i := 0; i < 9; i++ {
		m.tracker.RecordCaptured("audit_log")
	}
	m.tracker.RecordFailed("audit_log")

	h := m.Health()
	if h.CaptureRate != GradeDegraded {
		t.Fatalf("CaptureRate grade = %s at %.2f, want degraded", h.CaptureRate, h.CaptureRateVal)
	}
	if h.Overall != GradeDegraded {
		t.Fatalf("Overall = %s, want degraded", h.Overall)
	}
}

func TestGradeThresholds(t *testing.T) {
	if g := gradeHighBad(0.5, 0.7, 0.9); g != GradeHealthy {
		t.Fatalf("fill 0.5 = %s", g)
	}
	if g := gradeHighBad(0.75, 0.7, 0.9); g != GradeDegraded {
		t.Fatalf("fill 0.75 = %s", g)
	}
	if g := gradeHighBad(0.95, 0.7, 0.9); g != GradeOverloaded {
		t.Fatalf("fill 0.95 = %s", g)
	}

	if g := gradeLowBad(1.0, 0.99, 0.5); g != GradeHealthy {
		t.Fatalf("ratio 1.0 = %s", g)
	}
	if g := gradeLowBad(0.7, 0.99, 0.5); g != GradeDegraded {
		t.Fatalf("ratio 0.7 = %s", g)
	}
	if g := gradeLowBad(0.2, 0.99, 0.5); g != GradeOverloaded {
		t.Fatalf("ratio 0.2 = %s", g)
	}
}

func TestWorstGrade(t *testing.T) {
	if g := worst(GradeHealthy, GradeHealthy); g != GradeHealthy {
		t.Fatalf("worst = %s", g)
	}
	if g := worst(GradeHealthy, GradeDegraded, GradeHealthy); g != GradeDegraded {
		t.Fatalf("worst = %s", g)
	}
	if g := worst(GradeDegraded, GradeOverloaded); g != GradeOverloaded {
		t.Fatalf("worst = %s", g)
	}
}
