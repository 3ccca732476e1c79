// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package behavior

import (
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

func activityEvent(user, action string, ts time.Time) models.AuditEvent {
	return models.AuditEvent{
		ID:           fmt.Sprintf("ev-%s-%d", action, ts.UnixNano()),
		TenantID:     "tenant-a",
		Source:       models.SourceAuditLog,
		UserID:       user,
		IPAddress:    "203.0.113.5",
		Action:       action,
		ResourceType: "document",
		Timestamp:    ts,
	}
}

func TestObserveCreatesProfilesLazily(t *testing.T) {
	store := NewStore(nil)

	if store.Len() != 0 {
		t.Fatalf("fresh store has %d profiles", store.Len())
	}

	store.Observe([]models.AuditEvent{
		activityEvent("alice", "READ", time.Now()),
		activityEvent("bob", "READ", time.Now()),
		{ID: "no-user", TenantID: "tenant-a", Action: "READ", Timestamp: time.Now()},
	})

	if store.Len() != 2 {
		t.Errorf("profile count = %d, want 2 (userless events carry no signal)", store.Len())
	}

	p, ok := store.Get("tenant-a", "alice")
	if !ok {
		t.Fatal("alice's profile missing")
	}
	if p.ObservedEvents != 1 {
		t.Errorf("observed events = %d, want 1", p.ObservedEvents)
	}
	if _, ok := store.Get("tenant-a", "carol"); ok {
		t.Error("unknown user reported a profile")
	}
}

func TestFrequencySmoothing(t *testing.T) {
	store := NewStore(nil)
	now := time.Now()

	// Nine READs then one DELETE: READ should dominate, but DELETE carries
	// the most recent weight of a single observation.
	var batch []models.AuditEvent
	for i := 0; i < 9; i++ {
		batch = append(batch, activityEvent("alice", "READ", now))
	}
	batch = append(batch, activityEvent("alice", "DELETE", now))
	store.Observe(batch)

	p, ok := store.Get("tenant-a", "alice")
	if !ok {
		t.Fatal("profile missing")
	}

	if p.ActionFreq["READ"] <= p.ActionFreq["DELETE"] {
		t.Errorf("READ freq %.3f should outweigh single DELETE %.3f",
			p.ActionFreq["READ"], p.ActionFreq["DELETE"])
	}
	// A single fresh observation contributes exactly alpha.
	if diff := p.ActionFreq["DELETE"] - Alpha; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("DELETE freq = %.3f, want alpha %.3f", p.ActionFreq["DELETE"], Alpha)
	}
}

func TestPeakHours(t *testing.T) {
	store := NewStore(nil)
	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	// Heavy activity at 09:00 and 14:00 UTC, single events elsewhere.
	var batch []models.AuditEvent
	for i := 0; i < 10; i++ {
		batch = append(batch, activityEvent("alice", "READ", base.Add(9*time.Hour)))
		batch = append(batch, activityEvent("alice", "READ", base.Add(14*time.Hour)))
	}
	batch = append(batch, activityEvent("alice", "READ", base.Add(3*time.Hour)))
	store.Observe(batch)

	p, ok := store.Get("tenant-a", "alice")
	if !ok {
		t.Fatal("profile missing")
	}
	if len(p.PeakHours) == 0 || len(p.PeakHours) > PeakHourCount {
		t.Fatalf("peak hours = %v", p.PeakHours)
	}
	if !p.IsPeakHour(9) || !p.IsPeakHour(14) {
		t.Errorf("peak hours = %v, want 9 and 14 included", p.PeakHours)
	}
	if p.IsPeakHour(22) {
		t.Errorf("silent hour 22 reported as peak: %v", p.PeakHours)
	}
}

func TestBaselineForRequiresHistory(t *testing.T) {
	store := NewStore(nil)
	store.Observe([]models.AuditEvent{activityEvent("alice", "READ", time.Now())})

	if _, ok := store.BaselineFor("tenant-a", "alice"); ok {
		t.Error("baseline reported usable without enough active days")
	}

	store.SetBaseline("tenant-a", "alice",
		Baseline{Mean: 20, StdDev: 5, Days: MinBaselineDays},
		Baseline{Mean: 1 << 20, StdDev: 1 << 18, Days: MinBaselineDays})

	snap, ok := store.BaselineFor("tenant-a", "alice")
	if !ok {
		t.Fatal("baseline with enough days reported unusable")
	}
	if snap.ActionCount.Mean != 20 || snap.ActionCount.StdDev != 5 {
		t.Errorf("action baseline = %+v", snap.ActionCount)
	}

	if _, ok := store.BaselineFor("tenant-a", "nobody"); ok {
		t.Error("unknown user reported a baseline")
	}
}

func TestRecordAnomalyAccumulatesRisk(t *testing.T) {
	store := NewStore(nil)
	store.Observe([]models.AuditEvent{activityEvent("alice", "READ", time.Now())})

	store.RecordAnomaly("tenant-a", "alice", 0.8)
	p, _ := store.Get("tenant-a", "alice")
	first := p.RiskScore
	if first <= 0 || first >= 1 {
		t.Fatalf("risk after one anomaly = %.3f", first)
	}

	store.RecordAnomaly("tenant-a", "alice", 0.8)
	p, _ = store.Get("tenant-a", "alice")
	if p.RiskScore <= first {
		t.Errorf("risk did not grow: %.3f -> %.3f", first, p.RiskScore)
	}
	if p.RiskScore >= 1 {
		t.Errorf("risk exceeded 1: %.3f", p.RiskScore)
	}
	if p.AnomalyCount != 2 {
		t.Errorf("anomaly count = %d, want 2", p.AnomalyCount)
	}

	// Unknown users are a no-op, not a phantom profile.
	store.RecordAnomaly("tenant-a", "ghost", 0.9)
	if _, ok := store.Get("tenant-a", "ghost"); ok {
		t.Error("anomaly created a profile")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewStore(nil)
	store.Observe([]models.AuditEvent{activityEvent("alice", "READ", time.Now())})

	p, _ := store.Get("tenant-a", "alice")
	p.ActionFreq["INJECTED"] = 99

	fresh, _ := store.Get("tenant-a", "alice")
	if _, ok := fresh.ActionFreq["INJECTED"]; ok {
		t.Error("mutating a returned profile leaked into the store")
	}
}
