// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/cache"
	"github.com/tomtom215/vigil/internal/models"
)

// StatisticalDetector applies threshold rules to grouped event counts.
// The canonical use is brute-force detection: failed logins grouped by
// source IP within a sliding window.
//
// Counts accumulate across Detect calls: a source that spreads its
// attempts over several batches still crosses the threshold once the
// in-window total does. Each (signature, IP) pair carries its own
// sliding-window counter; a pair is dropped after it fires or once its
// window empties.
type StatisticalDetector struct {
	mu     sync.Mutex
	tracks map[string]map[string]*ipTrack // signature ID -> source IP
}

// NewStatisticalDetector creates a statistical detector.
func NewStatisticalDetector() *StatisticalDetector {
	return &StatisticalDetector{
		tracks: make(map[string]map[string]*ipTrack),
	}
}

// Method returns the strategy identifier.
func (d *StatisticalDetector) Method() Method {
	return MethodStatistical
}

// ipTrack accumulates one source IP's failed logins across batches.
type ipTrack struct {
	window    *cache.SlidingWindowCounter
	usernames map[string]time.Time // last seen per account
	tenantID  string
	last      time.Time
}

// Detect folds failed-login events into per-IP sliding windows and fires
// when a window's total reaches the failure threshold. Confidence is
//
//	min((count/max_failures_per_hour) × (unique/unique_threshold) × weight, 1.0)
//
// A track that fires is reset so repeat offenders re-accumulate from
// zero; alert-level cooldown suppresses the duplicates in between.
func (d *StatisticalDetector) Detect(ctx context.Context, sig *Signature, events []models.AuditEvent) ([]*SecurityEvent, error) {
	rules := sig.StatisticalRules
	if rules.FailureThreshold <= 0 {
		return nil, fmt.Errorf("signature %s: failure_threshold not set", sig.ID)
	}

	window := time.Duration(rules.TimeWindowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}
	cutoff := time.Now().Add(-window)

	d.mu.Lock()
	defer d.mu.Unlock()

	sigTracks, ok := d.tracks[sig.ID]
	if !ok {
		sigTracks = make(map[string]*ipTrack)
		d.tracks[sig.ID] = sigTracks
	}

	for i := range events {
		e := &events[i]
		if !e.IsFailedLogin() || e.IPAddress == "" {
			continue
		}
		if e.Timestamp.Before(cutoff) {
			continue
		}

		t, ok := sigTracks[e.IPAddress]
		if !ok {
			t = &ipTrack{
				window:    cache.NewSlidingWindowCounter(window, 10),
				usernames: make(map[string]time.Time),
				tenantID:  e.TenantID,
			}
			sigTracks[e.IPAddress] = t
		}

		t.window.IncrementOne()
		if e.UserID != "" {
			t.usernames[e.UserID] = e.Timestamp
		}
		if e.Timestamp.After(t.last) {
			t.last = e.Timestamp
		}
	}

	var results []*SecurityEvent

	for ip, t := range sigTracks {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		count := int(t.window.Count())
		if count == 0 {
			delete(sigTracks, ip)
			continue
		}
		for u, seen := range t.usernames {
			if seen.Before(cutoff) {
				delete(t.usernames, u)
			}
		}
		if count < rules.FailureThreshold {
			continue
		}

		countFactor := float64(count) / float64(max(rules.MaxFailuresPerHour, 1))

		unique := len(t.usernames)
		if unique == 0 {
			unique = 1
		}
		spreadFactor := float64(unique) / float64(max(rules.UniqueUsernamesThreshold, 1))

		confidence := clamp(countFactor * spreadFactor * sig.SeverityWeight)
		if confidence < sig.ConfidenceThreshold {
			continue
		}

		results = append(results, &SecurityEvent{
			EventID:     uuid.New().String(),
			EventType:   sig.EventType,
			ThreatLevel: LevelFromConfidence(confidence),
			TenantID:    t.tenantID,
			IPAddress:   ip,
			Timestamp:   time.Now(),
			Description: fmt.Sprintf("%s: %d failed logins from %s across %d account(s) within %s",
				sig.Name, count, ip, unique, window),
			Details: EventDetails{
				Confidence:      confidence,
				SignatureID:     sig.ID,
				FailedAttempts:  count,
				UniqueUsernames: unique,
				WindowSeconds:   int(window.Seconds()),
			},
		})

		delete(sigTracks, ip)
	}

	return results, nil
}
