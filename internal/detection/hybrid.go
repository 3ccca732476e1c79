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

// HybridDetector combines a statistical score with a behavioral score.
// The canonical use is data-exfiltration detection: export volume and count
// against thresholds, blended with off-peak-hour ratio and burstiness
// against the user's export baseline.
//
// Like the statistical detector, export totals accumulate across Detect
// calls through per-(signature, user) sliding windows, so a slow
// exfiltration spread over several batches still crosses the thresholds.
type HybridDetector struct {
	profiles BaselineReader

	mu     sync.Mutex
	tracks map[string]map[string]*exportTrack // signature ID -> tenant+user
}

// NewHybridDetector creates a hybrid detector backed by the given profile
// store.
func NewHybridDetector(profiles BaselineReader) *HybridDetector {
	return &HybridDetector{
		profiles: profiles,
		tracks:   make(map[string]map[string]*exportTrack),
	}
}

// Method returns the strategy identifier.
func (d *HybridDetector) Method() Method {
	return MethodHybrid
}

// exportTrack accumulates one user's export activity across batches.
type exportTrack struct {
	tenantID string
	count    *cache.SlidingWindowCounter
	bytes    *cache.SlidingWindowCounter
	stamps   []time.Time // in-window event times, for off-peak hours
	lastIP   string
}

// Detect folds export events into per-user sliding windows; combined
// confidence is (statistical + behavioral) × severity_weight, clamped to
// [0, 1]. A track that fires is reset, like the statistical detector's.
func (d *HybridDetector) Detect(ctx context.Context, sig *Signature, events []models.AuditEvent) ([]*SecurityEvent, error) {
	rules := sig.StatisticalRules
	if rules.ExportCountThreshold <= 0 && rules.ExportVolumeBytes <= 0 {
		return nil, fmt.Errorf("signature %s: no export thresholds set", sig.ID)
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
		sigTracks = make(map[string]*exportTrack)
		d.tracks[sig.ID] = sigTracks
	}

	for i := range events {
		e := &events[i]
		if e.UserID == "" || !e.IsExport() {
			continue
		}
		if e.Timestamp.Before(cutoff) {
			continue
		}

		key := e.TenantID + "\x00" + e.UserID
		t, ok := sigTracks[key]
		if !ok {
			t = &exportTrack{
				tenantID: e.TenantID,
				count:    cache.NewSlidingWindowCounter(window, 10),
				bytes:    cache.NewSlidingWindowCounter(window, 10),
			}
			sigTracks[key] = t
		}

		t.count.IncrementOne()
		t.bytes.Increment(e.Details.ExportBytes)
		t.stamps = append(t.stamps, e.Timestamp)
		if e.IPAddress != "" {
			t.lastIP = e.IPAddress
		}
	}

	var results []*SecurityEvent

	for key, t := range sigTracks {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		count := int(t.count.Count())
		if count == 0 {
			delete(sigTracks, key)
			continue
		}
		t.stamps = pruneStamps(t.stamps, cutoff)

		bytes := t.bytes.Count()
		userID := key[len(t.tenantID)+1:]

		statScore := statisticalScore(count, bytes, rules)

		baseline, haveBaseline := d.profiles.BaselineFor(t.tenantID, userID)

		// Off-peak ratio needs a profile; without one only the statistical
		// half contributes.
		var behaviorScore, offPeakRatio float64
		if haveBaseline && len(t.stamps) > 0 {
			offPeak := 0
			for _, ts := range t.stamps {
				if !peakHour(baseline.PeakHours, ts.UTC().Hour()) {
					offPeak++
				}
			}
			offPeakRatio = float64(offPeak) / float64(len(t.stamps))

			burstiness := float64(count) / (baseline.ExportVolume.Mean/1024 + 1)
			if burstiness > 1 {
				burstiness = 1
			}
			behaviorScore = offPeakRatio*0.5 + burstiness*0.5
		}

		if statScore == 0 && behaviorScore == 0 {
			continue
		}

		confidence := clamp((statScore + behaviorScore) * sig.SeverityWeight)
		if confidence < sig.ConfidenceThreshold {
			continue
		}

		if haveBaseline {
			d.profiles.RecordAnomaly(t.tenantID, userID, confidence)
		}

		results = append(results, &SecurityEvent{
			EventID:     uuid.New().String(),
			EventType:   sig.EventType,
			ThreatLevel: LevelFromConfidence(confidence),
			TenantID:    t.tenantID,
			UserID:      userID,
			IPAddress:   t.lastIP,
			Timestamp:   time.Now(),
			Description: fmt.Sprintf("%s: user %s exported %d MB across %d operations (off-peak ratio %.2f)",
				sig.Name, userID, bytes/(1<<20), count, offPeakRatio),
			Details: EventDetails{
				Confidence:    confidence,
				SignatureID:   sig.ID,
				ExportBytes:   bytes,
				ExportCount:   count,
				OffPeakRatio:  offPeakRatio,
				StatScore:     statScore,
				BehaviorScore: behaviorScore,
			},
		})

		delete(sigTracks, key)
	}

	return results, nil
}

// statisticalScore blends export volume and count against their thresholds,
// each capped at 1, averaged.
func statisticalScore(count int, bytes int64, rules StatisticalRules) float64 {
	var volumeFactor, countFactor float64

	if rules.ExportVolumeBytes > 0 {
		volumeFactor = float64(bytes) / float64(rules.ExportVolumeBytes)
		if volumeFactor > 1 {
			volumeFactor = 1
		}
	}
	if rules.ExportCountThreshold > 0 {
		countFactor = float64(count) / float64(rules.ExportCountThreshold)
		if countFactor > 1 {
			countFactor = 1
		}
	}

	// Below half of either threshold contributes nothing; ordinary export
	// activity must not accumulate score.
	if volumeFactor < 0.5 && countFactor < 0.5 {
		return 0
	}

	return (volumeFactor + countFactor) / 2
}

// pruneStamps drops timestamps older than the cutoff, in place.
func pruneStamps(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func peakHour(peaks []int, hour int) bool {
	for _, h := range peaks {
		if h == hour {
			return true
		}
	}
	return false
}
