// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package behavior maintains per-user statistical fingerprints feeding the
// behavioral and hybrid detectors: exponentially smoothed frequency maps,
// peak activity hours, and (mean, stddev) baselines over a trailing window.
package behavior

import (
	"sort"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// Alpha is the exponential smoothing factor for frequency maps.
const Alpha = 0.3

// PeakHourCount is how many top activity hours a profile tracks.
const PeakHourCount = 6

// Baseline is a (mean, stddev) pair for one metric.
type Baseline struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`

	// Days is the number of distinct active days behind the numbers.
	// Detectors must skip behavioral checks when this is too small.
	Days int `json:"days"`
}

// Profile is one user's behavioral fingerprint within a tenant.
// All mutation goes through the Store; a Profile handed out by the Store is
// a snapshot and safe to read without locks.
type Profile struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`

	// Exponentially smoothed frequency maps (alpha = 0.3).
	ActionFreq   map[string]float64 `json:"action_freq"`
	ResourceFreq map[string]float64 `json:"resource_freq"`
	IPFreq       map[string]float64 `json:"ip_freq"`
	HourFreq     [24]float64        `json:"hour_freq"`

	// PeakHours are the top activity hours, recomputed on every update.
	PeakHours []int `json:"peak_hours"`

	ActionCountBaseline  Baseline `json:"action_count_baseline"`
	ExportVolumeBaseline Baseline `json:"export_volume_baseline"`

	RiskScore    float64   `json:"risk_score"`
	AnomalyCount int       `json:"anomaly_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastUpdated  time.Time `json:"last_updated"`

	// ObservedEvents counts every event folded into this profile.
	ObservedEvents int64 `json:"observed_events"`
}

// newProfile creates an empty profile for lazy initialization on first
// observed activity.
func newProfile(tenantID, userID string, now time.Time) *Profile {
	return &Profile{
		UserID:       userID,
		TenantID:     tenantID,
		ActionFreq:   make(map[string]float64),
		ResourceFreq: make(map[string]float64),
		IPFreq:       make(map[string]float64),
		FirstSeen:    now,
		LastUpdated:  now,
	}
}

// observe folds one event into the profile. Caller holds the store lock.
func (p *Profile) observe(e *models.AuditEvent) {
	decay(p.ActionFreq)
	p.ActionFreq[e.Action] += Alpha

	decay(p.ResourceFreq)
	p.ResourceFreq[e.ResourceType] += Alpha

	if e.IPAddress != "" {
		decay(p.IPFreq)
		p.IPFreq[e.IPAddress] += Alpha
	}

	hour := e.Timestamp.UTC().Hour()
	for i := range p.HourFreq {
		p.HourFreq[i] *= 1 - Alpha
	}
	p.HourFreq[hour] += Alpha

	p.ObservedEvents++
	p.LastUpdated = time.Now()
	p.recomputePeakHours()
}

// decay applies the (1-alpha) factor to every key of a frequency map.
func decay(freq map[string]float64) {
	for k := range freq {
		freq[k] *= 1 - Alpha
	}
}

// recomputePeakHours refreshes the top-N activity hours.
func (p *Profile) recomputePeakHours() {
	type hourWeight struct {
		hour   int
		weight float64
	}

	hours := make([]hourWeight, 0, 24)
	for h, w := range p.HourFreq {
		if w > 0 {
			hours = append(hours, hourWeight{hour: h, weight: w})
		}
	}

	sort.Slice(hours, func(i, j int) bool {
		if hours[i].weight != hours[j].weight {
			return hours[i].weight > hours[j].weight
		}
		return hours[i].hour < hours[j].hour
	})

	n := PeakHourCount
	if len(hours) < n {
		n = len(hours)
	}

	peak := make([]int, n)
	for i := 0; i < n; i++ {
		peak[i] = hours[i].hour
	}
	sort.Ints(peak)
	p.PeakHours = peak
}

// IsPeakHour reports whether the given hour is one of the profile's peak
// activity hours.
func (p *Profile) IsPeakHour(hour int) bool {
	for _, h := range p.PeakHours {
		if h == hour {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand outside the store lock.
func (p *Profile) clone() *Profile {
	c := *p
	c.ActionFreq = copyMap(p.ActionFreq)
	c.ResourceFreq = copyMap(p.ResourceFreq)
	c.IPFreq = copyMap(p.IPFreq)
	c.PeakHours = append([]int(nil), p.PeakHours...)
	return &c
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
