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

	"github.com/tomtom215/vigil/internal/models"
)

func TestStatisticalBruteForce(t *testing.T) {
	detector := NewStatisticalDetector()
	sig := findSignature(t, "sig-bruteforce")

	now := time.Now()
	var batch []models.AuditEvent
	for i := 0; i < 12; i++ {
		batch = append(batch, failedLogin(
			fmt.Sprintf("ev-%d", i), "203.0.113.5", "alice",
			now.Add(-time.Duration(i)*20*time.Second)))
	}

	detected, err := detector.Detect(context.Background(), sig, batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 1 {
		t.Fatalf("expected 1 security event, got %d", len(detected))
	}

	se := detected[0]
	if se.EventType != EventTypeBruteForce {
		t.Errorf("event type = %s, want %s", se.EventType, EventTypeBruteForce)
	}
	// 12/10 × 1/1 × 0.7 = 0.84, HIGH.
	if se.Details.Confidence < 0.83 || se.Details.Confidence > 0.85 {
		t.Errorf("confidence = %.2f, want 0.84", se.Details.Confidence)
	}
	if se.ThreatLevel != LevelHigh {
		t.Errorf("threat level = %s, want %s", se.ThreatLevel, LevelHigh)
	}
	if se.Details.FailedAttempts != 12 {
		t.Errorf("failed_attempts = %d, want 12", se.Details.FailedAttempts)
	}
	if se.Details.UniqueUsernames != 1 {
		t.Errorf("unique_usernames = %d, want 1", se.Details.UniqueUsernames)
	}
	if se.IPAddress != "203.0.113.5" {
		t.Errorf("ip_address = %s, want 203.0.113.5", se.IPAddress)
	}
}

func TestStatisticalIgnoresEventsOutsideWindow(t *testing.T) {
	detector := NewStatisticalDetector()
	sig := findSignature(t, "sig-bruteforce")

	stale := time.Now().Add(-time.Hour)
	var batch []models.AuditEvent
	for i := 0; i < 12; i++ {
		batch = append(batch, failedLogin(fmt.Sprintf("ev-%d", i), "203.0.113.5", "alice", stale))
	}

	detected, err := detector.Detect(context.Background(), sig, batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 0 {
		t.Fatalf("events outside the window fired: got %d events", len(detected))
	}
}

func TestStatisticalGroupsByIP(t *testing.T) {
	detector := NewStatisticalDetector()
	sig := findSignature(t, "sig-bruteforce")

	now := time.Now()
	var batch []models.AuditEvent
	// 6 failures each from two IPs: neither crosses the threshold of 10.
	for i := 0; i < 6; i++ {
		batch = append(batch, failedLogin(fmt.Sprintf("a-%d", i), "203.0.113.5", "alice", now))
		batch = append(batch, failedLogin(fmt.Sprintf("b-%d", i), "198.51.100.7", "alice", now))
	}

	detected, err := detector.Detect(context.Background(), sig, batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 0 {
		t.Fatalf("per-IP grouping leaked across IPs: got %d events", len(detected))
	}
}

func TestStatisticalAccumulatesAcrossBatches(t *testing.T) {
	detector := NewStatisticalDetector()
	sig := findSignature(t, "sig-bruteforce")

	now := time.Now()
	firstHalf := make([]models.AuditEvent, 0, 6)
	secondHalf := make([]models.AuditEvent, 0, 6)
	for i := 0; i < 6; i++ {
		firstHalf = append(firstHalf, failedLogin(
			fmt.Sprintf("a-%d", i), "203.0.113.5", "alice", now.Add(-time.Minute)))
		secondHalf = append(secondHalf, failedLogin(
			fmt.Sprintf("b-%d", i), "203.0.113.5", "alice", now))
	}

	detected, err := detector.Detect(context.Background(), sig, firstHalf)
	if err != nil {
		t.Fatalf("detect first half: %v", err)
	}
	if len(detected) != 0 {
		t.Fatalf("6 failures fired early: got %d events", len(detected))
	}

	detected, err = detector.Detect(context.Background(), sig, secondHalf)
	if err != nil {
		t.Fatalf("detect second half: %v", err)
	}
	if len(detected) != 1 {
		t.Fatalf("12 in-window failures split across two batches: expected 1 security event, got %d", len(detected))
	}

	se := detected[0]
	if se.EventType != EventTypeBruteForce {
		t.Errorf("event type = %s, want %s", se.EventType, EventTypeBruteForce)
	}
	if se.Details.FailedAttempts != 12 {
		t.Errorf("failed_attempts = %d, want 12", se.Details.FailedAttempts)
	}
	// Same math as the single-batch case: 12/10 × 1/1 × 0.7 = 0.84.
	if se.Details.Confidence < 0.83 || se.Details.Confidence > 0.85 {
		t.Errorf("confidence = %.2f, want 0.84", se.Details.Confidence)
	}
	if se.ThreatLevel != LevelHigh {
		t.Errorf("threat level = %s, want %s", se.ThreatLevel, LevelHigh)
	}
}

func TestStatisticalResetsAfterFiring(t *testing.T) {
	detector := NewStatisticalDetector()
	sig := findSignature(t, "sig-bruteforce")

	now := time.Now()
	var batch []models.AuditEvent
	for i := 0; i < 12; i++ {
		batch = append(batch, failedLogin(fmt.Sprintf("ev-%d", i), "203.0.113.5", "alice", now))
	}

	detected, err := detector.Detect(context.Background(), sig, batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 1 {
		t.Fatalf("expected 1 security event, got %d", len(detected))
	}

	// A couple of stragglers after the track fired must not re-fire.
	tail := []models.AuditEvent{
		failedLogin("t-0", "203.0.113.5", "alice", now),
		failedLogin("t-1", "203.0.113.5", "alice", now),
	}
	detected, err = detector.Detect(context.Background(), sig, tail)
	if err != nil {
		t.Fatalf("detect tail: %v", err)
	}
	if len(detected) != 0 {
		t.Fatalf("fired again immediately after firing: got %d events", len(detected))
	}
}

func TestStatisticalMissingThreshold(t *testing.T) {
	detector := NewStatisticalDetector()
	sig := &Signature{ID: "sig-bad", Method: MethodStatistical, EventType: EventTypeBruteForce}

	if _, err := detector.Detect(context.Background(), sig, nil); err == nil {
		t.Fatal("signature without a failure threshold must error")
	}
}

func TestStatisticalUsernameSpreadRaisesConfidence(t *testing.T) {
	detector := NewStatisticalDetector()
	sig := findSignature(t, "sig-bruteforce")

	now := time.Now()
	var spray []models.AuditEvent
	for i := 0; i < 12; i++ {
		spray = append(spray, failedLogin(
			fmt.Sprintf("ev-%d", i), "203.0.113.5", fmt.Sprintf("user-%d", i), now))
	}

	detected, err := detector.Detect(context.Background(), sig, spray)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 1 {
		t.Fatalf("expected 1 security event, got %d", len(detected))
	}
	// 12 usernames against a spread threshold of 1 clamps confidence to 1.0.
	if detected[0].Details.Confidence != 1.0 {
		t.Errorf("confidence = %.2f, want 1.0", detected[0].Details.Confidence)
	}
	if detected[0].ThreatLevel != LevelCritical {
		t.Errorf("threat level = %s, want %s", detected[0].ThreatLevel, LevelCritical)
	}
}
