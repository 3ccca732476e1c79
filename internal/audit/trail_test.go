// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/history"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	hs, err := history.Open("")
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	trail, err := New(context.Background(), hs.DB())
	if err != nil {
		t.Fatalf("create trail: %v", err)
	}
	return trail
}

func securityEvent(id string) *detection.SecurityEvent {
	return &detection.SecurityEvent{
		EventID:     id,
		EventType:   detection.EventTypeBruteForce,
		ThreatLevel: detection.LevelHigh,
		TenantID:    "tenant-a",
		UserID:      "admin",
		IPAddress:   "203.0.113.5",
		Timestamp:   time.Now().UTC(),
		Description: "repeated failed logins",
		Details:     detection.EventDetails{Confidence: 0.84, FailedAttempts: 12},
	}
}

func TestTrailWriteAndCount(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	if err := trail.Write(ctx, securityEvent("se-1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := trail.Write(ctx, securityEvent("se-2")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	n, err := trail.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	n, err = trail.Count(ctx, "tenant-b")
	if err != nil {
		t.Fatalf("Count tenant-b: %v", err)
	}
	if n != 0 {
		t.Fatalf("Count tenant-b = %d, want 0", n)
	}
}

func TestTrailWriteIsIdempotent(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	se := securityEvent("se-1")
	if err := trail.Write(ctx, se); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := trail.Write(ctx, se); err != nil {
		t.Fatalf("second write: %v", err)
	}

	n, err := trail.Count(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestTrailRecordResolution(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	if err := trail.Write(ctx, securityEvent("se-1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := trail.RecordResolution(ctx, "se-1", "false positive", time.Now().UTC()); err != nil {
		t.Fatalf("RecordResolution: %v", err)
	}

	var resolved bool
	var notes string
	err := trail.db.QueryRowContext(ctx,
		`SELECT resolved, resolution_notes FROM security_events WHERE event_id = ?`, "se-1").
		Scan(&resolved, &notes)
	if err != nil {
		t.Fatalf("query resolution: %v", err)
	}
	if !resolved || notes != "false positive" {
		t.Fatalf("resolved=%v notes=%q", resolved, notes)
	}
}

func TestTrailAsyncWritesDrainOnRun(t *testing.T) {
	trail := newTestTrail(t)

	trail.WriteAsync(securityEvent("se-1"))
	trail.WriteAsync(securityEvent("se-2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Run flushes the queued writes on its way out
	if err := trail.Run(ctx); err != context.Canceled {
		t.Fatalf("Run returned %v", err)
	}

	n, err := trail.Count(context.Background(), "")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}
