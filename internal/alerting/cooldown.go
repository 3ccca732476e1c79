// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerting

import (
	"sync"
	"time"
)

// CooldownTracker suppresses repeat alerts for the same
// (rule, tenant, event_type) within a rule's cooldown window.
type CooldownTracker struct {
	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewCooldownTracker creates an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{lastFired: make(map[string]time.Time)}
}

func cooldownKey(ruleID, tenantID, eventType string) string {
	return ruleID + "\x00" + tenantID + "\x00" + eventType
}

// Suppressed reports whether the combination is still inside its cooldown
// window as of now.
func (t *CooldownTracker) Suppressed(ruleID, tenantID, eventType string, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastFired[cooldownKey(ruleID, tenantID, eventType)]
	return ok && now.Sub(last) < cooldown
}

// MarkFired refreshes the cooldown timestamp for the combination.
func (t *CooldownTracker) MarkFired(ruleID, tenantID, eventType string, now time.Time) {
	t.mu.Lock()
	t.lastFired[cooldownKey(ruleID, tenantID, eventType)] = now
	t.mu.Unlock()
}

// ActiveCount returns how many combinations fired within the given horizon.
// Used by statistics; a generous horizon counts all remembered entries.
func (t *CooldownTracker) ActiveCount(horizon time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, last := range t.lastFired {
		if now.Sub(last) < horizon {
			n++
		}
	}
	return n
}

// Prune drops entries older than the horizon so the map stays bounded.
func (t *CooldownTracker) Prune(horizon time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, last := range t.lastFired {
		if now.Sub(last) >= horizon {
			delete(t.lastFired, k)
		}
	}
}
