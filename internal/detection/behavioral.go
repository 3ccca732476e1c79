// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/behavior"
	"github.com/tomtom215/vigil/internal/models"
)

// Behavioral indicator names recognized in signature definitions.
const (
	IndicatorVolumeAnomaly     = "volume_anomaly"
	IndicatorCrossTenantAccess = "cross_tenant_access"
	IndicatorAdminKeyword      = "admin_keyword"
)

// zScoreThreshold is the anomaly bar for the volume indicator: an operation
// count more than three standard deviations above the user's baseline mean.
const zScoreThreshold = 3.0

// BaselineReader is the read contract behavioral detectors use against the
// behavior profile store.
type BaselineReader interface {
	BaselineFor(tenantID, userID string) (behavior.BaselineSnapshot, bool)
	RecordAnomaly(tenantID, userID string, confidence float64)
}

// BehavioralDetector scores sensitive-resource mutations against per-user
// behavior baselines. The canonical use is privilege-escalation detection.
type BehavioralDetector struct {
	profiles BaselineReader
}

// NewBehavioralDetector creates a behavioral detector backed by the given
// profile store.
func NewBehavioralDetector(profiles BaselineReader) *BehavioralDetector {
	return &BehavioralDetector{profiles: profiles}
}

// Method returns the strategy identifier.
func (d *BehavioralDetector) Method() Method {
	return MethodBehavioral
}

// userGroup accumulates one user's sensitive mutations within the batch.
type userGroup struct {
	tenantID    string
	count       int
	crossTenant bool
	adminHit    bool
	lastIP      string
}

// Detect groups sensitive-resource mutations by user and matches the
// signature's behavioral indicators. Confidence =
// matched_indicators / total_indicators × severity_weight. Users without a
// usable baseline are skipped, not errored.
func (d *BehavioralDetector) Detect(ctx context.Context, sig *Signature, events []models.AuditEvent) ([]*SecurityEvent, error) {
	if len(sig.BehavioralIndicators) == 0 {
		return nil, fmt.Errorf("signature %s: no behavioral indicators", sig.ID)
	}

	groups := make(map[string]*userGroup) // key: tenant + "\x00" + user

	for i := range events {
		e := &events[i]
		if e.UserID == "" || !e.IsSensitiveMutation() {
			continue
		}

		key := e.TenantID + "\x00" + e.UserID
		g, ok := groups[key]
		if !ok {
			g = &userGroup{tenantID: e.TenantID}
			groups[key] = g
		}

		g.count++
		if e.IsCrossTenant() {
			g.crossTenant = true
		}
		if containsAdminKeyword(e) {
			g.adminHit = true
		}
		if e.IPAddress != "" {
			g.lastIP = e.IPAddress
		}
	}

	var results []*SecurityEvent

	for key, g := range groups {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		userID := key[strings.IndexByte(key, 0)+1:]

		baseline, ok := d.profiles.BaselineFor(g.tenantID, userID)
		if !ok {
			// Insufficient history: behavioral checks do not apply yet.
			continue
		}

		zScore := zScoreFor(float64(g.count), baseline.ActionCount)

		var matched []string
		for _, indicator := range sig.BehavioralIndicators {
			switch indicator {
			case IndicatorVolumeAnomaly:
				if zScore > zScoreThreshold {
					matched = append(matched, indicator)
				}
			case IndicatorCrossTenantAccess:
				if g.crossTenant {
					matched = append(matched, indicator)
				}
			case IndicatorAdminKeyword:
				if g.adminHit {
					matched = append(matched, indicator)
				}
			}
		}
		if len(matched) == 0 {
			continue
		}

		confidence := clamp(float64(len(matched)) / float64(len(sig.BehavioralIndicators)) * sig.SeverityWeight)
		if confidence < sig.ConfidenceThreshold {
			continue
		}

		d.profiles.RecordAnomaly(g.tenantID, userID, confidence)

		results = append(results, &SecurityEvent{
			EventID:     uuid.New().String(),
			EventType:   sig.EventType,
			ThreatLevel: LevelFromConfidence(confidence),
			TenantID:    g.tenantID,
			UserID:      userID,
			IPAddress:   g.lastIP,
			Timestamp:   time.Now(),
			Description: fmt.Sprintf("%s: %d sensitive mutations by user %s (z=%.1f, indicators: %s)",
				sig.Name, g.count, userID, zScore, strings.Join(matched, ",")),
			Details: EventDetails{
				Confidence:        confidence,
				SignatureID:       sig.ID,
				ZScore:            zScore,
				MatchedIndicators: matched,
				OperationCount:    g.count,
			},
		})
	}

	return results, nil
}

// zScoreFor computes how many standard deviations value sits above the
// baseline mean. A zero-stddev baseline cannot score; it reports 0.
func zScoreFor(value float64, baseline behavior.Baseline) float64 {
	if baseline.StdDev <= 0 {
		return 0
	}
	return (value - baseline.Mean) / baseline.StdDev
}

// containsAdminKeyword reports whether the event references administrative
// capability by name.
func containsAdminKeyword(e *models.AuditEvent) bool {
	for _, s := range []string{e.Action, e.ResourceType, e.ResourceID} {
		lower := strings.ToLower(s)
		if strings.Contains(lower, "admin") || strings.Contains(lower, "root") || strings.Contains(lower, "superuser") {
			return true
		}
	}
	return false
}
