// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// ErrEventNotFound is returned when a security event ID is unknown.
var ErrEventNotFound = errors.New("security event not found")

// ErrAlreadyResolved is returned when resolving an already-resolved event.
var ErrAlreadyResolved = errors.New("security event already resolved")

const (
	// defaultActiveRetention is how long an unresolved event stays active
	// before it is expired into the resolved set.
	defaultActiveRetention = 24 * time.Hour

	// defaultResolvedRetention is how long resolved events are kept for
	// inspection before they are dropped.
	defaultResolvedRetention = 7 * 24 * time.Hour

	// maxResolvedEvents caps the resolved set regardless of age.
	maxResolvedEvents = 10000
)

// Store holds detected security events, split into active and resolved sets.
type Store struct {
	mu       sync.RWMutex
	active   map[string]*SecurityEvent
	resolved []*SecurityEvent

	activeRetention   time.Duration
	resolvedRetention time.Duration
}

// NewStore creates a security event store with default retention.
func NewStore() *Store {
	return &Store{
		active:            make(map[string]*SecurityEvent),
		resolvedRetention: defaultResolvedRetention,
		activeRetention:   defaultActiveRetention,
	}
}

// Add inserts a detected event into the active set.
func (s *Store) Add(se *SecurityEvent) {
	s.mu.Lock()
	s.active[se.EventID] = se
	s.mu.Unlock()

	metrics.ActiveSecurityEvents.WithLabelValues(string(se.ThreatLevel), se.TenantID).Inc()
	s.updateSecurityScore(se.TenantID)
}

// Get returns the event with the given ID from either set.
func (s *Store) Get(id string) (*SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if se, ok := s.active[id]; ok {
		return se, nil
	}
	for _, se := range s.resolved {
		if se.EventID == id {
			return se, nil
		}
	}
	return nil, ErrEventNotFound
}

// Active returns unresolved events for a tenant, newest first. An empty
// tenant returns all tenants.
func (s *Store) Active(tenantID string) []*SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SecurityEvent, 0, len(s.active))
	for _, se := range s.active {
		if tenantID != "" && se.TenantID != tenantID {
			continue
		}
		out = append(out, se)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// ActiveAtLeast returns unresolved events at or above the given level.
func (s *Store) ActiveAtLeast(level ThreatLevel) []*SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SecurityEvent
	for _, se := range s.active {
		if se.ThreatLevel.AtLeast(level) {
			out = append(out, se)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// IsResolved reports whether the event exists and has been resolved.
// Unknown IDs report false.
func (s *Store) IsResolved(id string) bool {
	se, err := s.Get(id)
	return err == nil && se.Resolved
}

// Resolve marks an active event as resolved and moves it to the resolved set.
func (s *Store) Resolve(id, notes string) error {
	s.mu.Lock()
	se, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		for _, r := range s.resolved {
			if r.EventID == id {
				return ErrAlreadyResolved
			}
		}
		return ErrEventNotFound
	}

	now := time.Now()
	se.Resolved = true
	se.ResolutionNotes = notes
	se.ResolvedAt = &now

	delete(s.active, id)
	s.resolved = append(s.resolved, se)
	s.trimResolvedLocked()
	s.mu.Unlock()

	metrics.ActiveSecurityEvents.WithLabelValues(string(se.ThreatLevel), se.TenantID).Dec()
	s.updateSecurityScore(se.TenantID)

	logging.Info().Str("event_id", id).Str("event_type", se.EventType).
		Str("tenant_id", se.TenantID).Msg("security event resolved")
	return nil
}

// Expire moves active events older than the active retention into the
// resolved set and prunes aged resolved events. Returns how many were expired.
func (s *Store) Expire(now time.Time) int {
	s.mu.Lock()

	var expired []*SecurityEvent
	cutoff := now.Add(-s.activeRetention)
	for id, se := range s.active {
		if se.Timestamp.Before(cutoff) {
			se.Resolved = true
			se.ResolutionNotes = "auto-expired after retention window"
			resolvedAt := now
			se.ResolvedAt = &resolvedAt
			delete(s.active, id)
			s.resolved = append(s.resolved, se)
			expired = append(expired, se)
		}
	}

	resolvedCutoff := now.Add(-s.resolvedRetention)
	kept := s.resolved[:0]
	for _, se := range s.resolved {
		if se.ResolvedAt == nil || se.ResolvedAt.After(resolvedCutoff) {
			kept = append(kept, se)
		}
	}
	s.resolved = kept
	s.trimResolvedLocked()
	s.mu.Unlock()

	for _, se := range expired {
		metrics.ActiveSecurityEvents.WithLabelValues(string(se.ThreatLevel), se.TenantID).Dec()
		s.updateSecurityScore(se.TenantID)
	}

	if len(expired) > 0 {
		logging.Debug().Int("count", len(expired)).Msg("expired stale security events")
	}
	return len(expired)
}

// trimResolvedLocked bounds the resolved set; caller holds the lock.
func (s *Store) trimResolvedLocked() {
	if n := len(s.resolved); n > maxResolvedEvents {
		s.resolved = s.resolved[n-maxResolvedEvents:]
	}
}

// StoreStats summarizes store contents.
type StoreStats struct {
	Active        int                 `json:"active"`
	Resolved      int                 `json:"resolved"`
	ActiveByLevel map[ThreatLevel]int `json:"active_by_level"`
}

// Stats returns counts of stored events.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := StoreStats{
		Active:        len(s.active),
		Resolved:      len(s.resolved),
		ActiveByLevel: make(map[ThreatLevel]int),
	}
	for _, se := range s.active {
		st.ActiveByLevel[se.ThreatLevel]++
	}
	return st
}

// SecurityScore grades a tenant from its unresolved threats: 100 is clean,
// each active event deducts by level, floor at 0.
func (s *Store) SecurityScore(tenantID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scoreLocked(tenantID)
}

func (s *Store) scoreLocked(tenantID string) float64 {
	score := 100.0
	for _, se := range s.active {
		if se.TenantID != tenantID {
			continue
		}
		switch se.ThreatLevel {
		case LevelCritical:
			score -= 25
		case LevelHigh:
			score -= 15
		case LevelMedium:
			score -= 8
		case LevelLow:
			score -= 3
		default:
			score -= 1
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (s *Store) updateSecurityScore(tenantID string) {
	metrics.SecurityScore.WithLabelValues(tenantID).Set(s.SecurityScore(tenantID))
}

// RunWithContext runs the periodic expiry sweep until the context is
// cancelled. Suitable as a suture service body.
func (s *Store) RunWithContext(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Expire(now)
		}
	}
}
