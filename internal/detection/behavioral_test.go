// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/behavior"
	"github.com/tomtom215/vigil/internal/models"
)

func findSignature(t *testing.T, id string) *Signature {
	t.Helper()
	for _, sig := range BuiltinSignatures() {
		if sig.ID == id {
			return sig
		}
	}
	t.Fatalf("builtin signature %s not found", id)
	return nil
}

func roleMutation(id, tenant, user string, ts time.Time) models.AuditEvent {
	return models.AuditEvent{
		ID:           id,
		TenantID:     tenant,
		Source:       models.SourceAuditLog,
		UserID:       user,
		IPAddress:    "198.51.100.23",
		Action:       "UPDATE",
		ResourceType: "role",
		ResourceID:   "viewer",
		Timestamp:    ts,
		Details:      models.EventDetails{Status: models.StatusSuccess},
	}
}

// seededProfiles returns a profile store where mallory's action-count
// baseline is mean 20, stddev 5 over enough active days to qualify.
func seededProfiles() *behavior.Store {
	profiles := behavior.NewStore(nil)
	profiles.SetBaseline("tenant-a", "mallory",
		behavior.Baseline{Mean: 20, StdDev: 5, Days: 14},
		behavior.Baseline{Mean: 1 << 20, StdDev: 1 << 18, Days: 14})
	return profiles
}

func TestBehavioralVolumeAnomaly(t *testing.T) {
	profiles := seededProfiles()
	detector := NewBehavioralDetector(profiles)
	sig := findSignature(t, "sig-privesc")

	now := time.Now()
	var batch []models.AuditEvent
	for i := 0; i < 120; i++ {
		batch = append(batch, roleMutation(fmt.Sprintf("ev-%d", i), "tenant-a", "mallory", now))
	}

	detected, err := detector.Detect(context.Background(), sig, batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 1 {
		t.Fatalf("expected 1 security event, got %d", len(detected))
	}

	se := detected[0]
	if se.EventType != EventTypePrivilegeEscalation {
		t.Errorf("event type = %s, want %s", se.EventType, EventTypePrivilegeEscalation)
	}
	// (120 - 20) / 5 = 20 standard deviations, far past the anomaly bar.
	if se.Details.ZScore <= zScoreThreshold {
		t.Errorf("z-score = %.1f, want > %.1f", se.Details.ZScore, zScoreThreshold)
	}
	if se.Details.OperationCount != 120 {
		t.Errorf("operation count = %d, want 120", se.Details.OperationCount)
	}
	if len(se.Details.MatchedIndicators) != 1 || se.Details.MatchedIndicators[0] != IndicatorVolumeAnomaly {
		t.Errorf("matched indicators = %v, want [%s]", se.Details.MatchedIndicators, IndicatorVolumeAnomaly)
	}
	// One of three indicators at weight 1.8: confidence 0.6, MEDIUM.
	if se.Details.Confidence < 0.59 || se.Details.Confidence > 0.61 {
		t.Errorf("confidence = %.2f, want 0.60", se.Details.Confidence)
	}
	if se.ThreatLevel != LevelMedium {
		t.Errorf("threat level = %s, want %s", se.ThreatLevel, LevelMedium)
	}
}

func TestBehavioralSkipsUsersWithoutBaseline(t *testing.T) {
	detector := NewBehavioralDetector(behavior.NewStore(nil))
	sig := findSignature(t, "sig-privesc")

	now := time.Now()
	var batch []models.AuditEvent
	for i := 0; i < 120; i++ {
		batch = append(batch, roleMutation(fmt.Sprintf("ev-%d", i), "tenant-a", "newcomer", now))
	}

	detected, err := detector.Detect(context.Background(), sig, batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 0 {
		t.Fatalf("user with no baseline must be skipped, got %d events", len(detected))
	}
}

func TestBehavioralAllIndicators(t *testing.T) {
	profiles := seededProfiles()
	detector := NewBehavioralDetector(profiles)
	sig := findSignature(t, "sig-privesc")

	now := time.Now()
	var batch []models.AuditEvent
	for i := 0; i < 120; i++ {
		ev := roleMutation(fmt.Sprintf("ev-%d", i), "tenant-a", "mallory", now)
		ev.ResourceID = "admin"
		ev.Details.TargetTenantID = "tenant-b"
		batch = append(batch, ev)
	}

	detected, err := detector.Detect(context.Background(), sig, batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 1 {
		t.Fatalf("expected 1 security event, got %d", len(detected))
	}

	se := detected[0]
	if len(se.Details.MatchedIndicators) != 3 {
		t.Errorf("matched indicators = %v, want all 3", se.Details.MatchedIndicators)
	}
	// 3/3 at weight 1.8 clamps to 1.0.
	if se.Details.Confidence != 1.0 {
		t.Errorf("confidence = %.2f, want 1.0", se.Details.Confidence)
	}
	if se.ThreatLevel != LevelCritical {
		t.Errorf("threat level = %s, want %s", se.ThreatLevel, LevelCritical)
	}
}

func TestBehavioralNormalVolumeIsQuiet(t *testing.T) {
	profiles := seededProfiles()
	detector := NewBehavioralDetector(profiles)
	sig := findSignature(t, "sig-privesc")

	now := time.Now()
	var batch []models.AuditEvent
	for i := 0; i < 21; i++ {
		batch = append(batch, roleMutation(fmt.Sprintf("ev-%d", i), "tenant-a", "mallory", now))
	}

	detected, err := detector.Detect(context.Background(), sig, batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 0 {
		t.Fatalf("activity within the baseline must not fire, got %d events", len(detected))
	}
}

func TestBehavioralRecordsAnomaly(t *testing.T) {
	profiles := seededProfiles()
	detector := NewBehavioralDetector(profiles)
	sig := findSignature(t, "sig-privesc")

	now := time.Now()
	var batch []models.AuditEvent
	for i := 0; i < 120; i++ {
		batch = append(batch, roleMutation(fmt.Sprintf("ev-%d", i), "tenant-a", "mallory", now))
	}

	if _, err := detector.Detect(context.Background(), sig, batch); err != nil {
		t.Fatalf("detect: %v", err)
	}

	p, ok := profiles.Get("tenant-a", "mallory")
	if !ok {
		t.Fatal("profile missing after anomaly")
	}
	if p.AnomalyCount != 1 {
		t.Errorf("anomaly count = %d, want 1", p.AnomalyCount)
	}
	if p.RiskScore <= 0 {
		t.Errorf("risk score = %.2f, want > 0", p.RiskScore)
	}
}
