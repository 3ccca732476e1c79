// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package behavior

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/history"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

// MinBaselineDays is the minimum number of distinct active days a baseline
// needs before detectors may trust it. Below this, BaselineFor reports
// ok=false and behavioral checks are skipped for the user.
const MinBaselineDays = 3

// BaselineWindow is the trailing window over which baselines are computed.
const BaselineWindow = 30 * 24 * time.Hour

// BaselineSource provides the historical aggregates behind baselines.
// Satisfied by *history.Store.
type BaselineSource interface {
	DailyActionStats(ctx context.Context, tenantID, userID string, window time.Duration) (history.BaselineStats, error)
	DailyExportStats(ctx context.Context, tenantID, userID string, window time.Duration) (history.BaselineStats, error)
	ActiveUsers(ctx context.Context, window time.Duration) ([][2]string, error)
}

// BaselineSnapshot is the read contract detectors consume.
type BaselineSnapshot struct {
	ActionCount  Baseline
	ExportVolume Baseline
	PeakHours    []int
}

// Store owns all behavior profiles. Profiles are created lazily on first
// observed activity and never deleted; tenant lifecycle bounds growth.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*Profile // key: tenantID + "\x00" + userID

	source BaselineSource
}

// NewStore creates an empty profile store. source may be nil, in which case
// baselines are never recomputed and all baseline reads report ok=false.
func NewStore(source BaselineSource) *Store {
	return &Store{
		profiles: make(map[string]*Profile),
		source:   source,
	}
}

func profileKey(tenantID, userID string) string {
	return tenantID + "\x00" + userID
}

// Observe folds a batch of events into the owning profiles. Events without
// a user are skipped; they carry no behavioral signal.
func (s *Store) Observe(events []models.AuditEvent) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range events {
		e := &events[i]
		if e.UserID == "" {
			continue
		}

		key := profileKey(e.TenantID, e.UserID)
		p, ok := s.profiles[key]
		if !ok {
			p = newProfile(e.TenantID, e.UserID, now)
			s.profiles[key] = p
		}
		p.observe(e)
	}
}

// Get returns a snapshot of the profile for (tenant, user), or ok=false if
// no activity has been observed.
func (s *Store) Get(tenantID, userID string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[profileKey(tenantID, userID)]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// BaselineFor returns the baseline snapshot detectors consume. ok=false
// means insufficient history: the detector must skip behavioral checks for
// this user rather than error.
func (s *Store) BaselineFor(tenantID, userID string) (BaselineSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[profileKey(tenantID, userID)]
	if !ok || p.ActionCountBaseline.Days < MinBaselineDays {
		return BaselineSnapshot{}, false
	}

	return BaselineSnapshot{
		ActionCount:  p.ActionCountBaseline,
		ExportVolume: p.ExportVolumeBaseline,
		PeakHours:    append([]int(nil), p.PeakHours...),
	}, true
}

// RecordAnomaly bumps a profile's anomaly count and risk score after a
// behavioral detector fired for the user.
func (s *Store) RecordAnomaly(tenantID, userID string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileKey(tenantID, userID)]
	if !ok {
		return
	}

	p.AnomalyCount++
	// Risk approaches 1.0 asymptotically as anomalies accumulate.
	p.RiskScore = p.RiskScore + (1-p.RiskScore)*confidence*0.5
}

// Len returns the number of tracked profiles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// RecomputeBaselines refreshes (mean, stddev) baselines for every user with
// activity in the trailing window. Called periodically by the baseline
// worker; failures for one user do not abort the rest.
func (s *Store) RecomputeBaselines(ctx context.Context) error {
	if s.source == nil {
		return nil
	}

	users, err := s.source.ActiveUsers(ctx, BaselineWindow)
	if err != nil {
		return err
	}

	for _, tu := range users {
		tenantID, userID := tu[0], tu[1]

		actions, err := s.source.DailyActionStats(ctx, tenantID, userID, BaselineWindow)
		if err != nil {
			logging.Warn().Err(err).Str("tenant_id", tenantID).Str("user_id", userID).
				Msg("action baseline recompute failed")
			continue
		}

		exports, err := s.source.DailyExportStats(ctx, tenantID, userID, BaselineWindow)
		if err != nil {
			logging.Warn().Err(err).Str("tenant_id", tenantID).Str("user_id", userID).
				Msg("export baseline recompute failed")
			continue
		}

		s.mu.Lock()
		key := profileKey(tenantID, userID)
		p, ok := s.profiles[key]
		if !ok {
			p = newProfile(tenantID, userID, time.Now())
			s.profiles[key] = p
		}
		p.ActionCountBaseline = Baseline{Mean: actions.Mean, StdDev: actions.StdDev, Days: actions.Days}
		p.ExportVolumeBaseline = Baseline{Mean: exports.Mean, StdDev: exports.StdDev, Days: exports.Days}
		s.mu.Unlock()
	}

	return nil
}

// SetBaseline overrides a user's baselines directly. Intended for tests and
// for seeding profiles from snapshots.
func (s *Store) SetBaseline(tenantID, userID string, actions, exports Baseline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey(tenantID, userID)
	p, ok := s.profiles[key]
	if !ok {
		p = newProfile(tenantID, userID, time.Now())
		s.profiles[key] = p
	}
	p.ActionCountBaseline = actions
	p.ExportVolumeBaseline = exports
}

// RunWithContext runs the periodic baseline recompute loop until the context
// is canceled. Designed to run under suture supervision.
func (s *Store) RunWithContext(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RecomputeBaselines(ctx); err != nil {
				logging.Error().Err(err).Msg("baseline recompute failed")
			}
		}
	}
}
