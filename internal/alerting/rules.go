// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerting

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
)

// RuleStore holds alert rules. Rules are mutated only through the explicit
// add/remove/enable/disable operations.
type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]*AlertRule
}

// NewRuleStore creates an empty rule store.
func NewRuleStore() *RuleStore {
	return &RuleStore{rules: make(map[string]*AlertRule)}
}

// Add registers a rule. Duplicate IDs are rejected.
func (s *RuleStore) Add(rule *AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.RuleID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.RuleID)
	}
	s.rules[rule.RuleID] = rule
	logging.Info().Str("rule_id", rule.RuleID).Str("name", rule.Name).
		Bool("enabled", rule.Enabled).Msg("alert rule added")
	return nil
}

// Remove deletes a rule.
func (s *RuleStore) Remove(ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[ruleID]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	delete(s.rules, ruleID)
	return nil
}

// Enable turns a rule on.
func (s *RuleStore) Enable(ruleID string) error {
	return s.setEnabled(ruleID, true)
}

// Disable turns a rule off. Disabled rules never generate notifications.
func (s *RuleStore) Disable(ruleID string) error {
	return s.setEnabled(ruleID, false)
}

func (s *RuleStore) setEnabled(ruleID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	r.Enabled = enabled
	return nil
}

// Get returns a copy of one rule.
func (s *RuleStore) Get(ruleID string) (AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return AlertRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return *r, nil
}

// FindMatching returns enabled rules matching the event, in stable rule-ID
// order so fan-out is deterministic.
func (s *RuleStore) FindMatching(se *detection.SecurityEvent) []*AlertRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AlertRule
	for _, r := range s.rules {
		if r.Enabled && r.Matches(se) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// EnabledCount returns how many rules are enabled.
func (s *RuleStore) EnabledCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rules {
		if r.Enabled {
			n++
		}
	}
	return n
}

// LoadConfig converts rule documents to rules and registers them, returning
// the first conversion/registration error.
func (s *RuleStore) LoadConfig(docs []config.AlertRuleConfig) error {
	for i := range docs {
		rule, err := RuleFromConfig(&docs[i])
		if err != nil {
			return fmt.Errorf("rule %q: %w", docs[i].RuleID, err)
		}
		if err := s.Add(rule); err != nil {
			return err
		}
	}
	return nil
}

// RuleFromConfig converts one rule document. Configuration is validated
// before startup, so errors here indicate a bypassed validation path.
func RuleFromConfig(doc *config.AlertRuleConfig) (*AlertRule, error) {
	levels := make([]detection.ThreatLevel, 0, len(doc.ThreatLevels))
	for _, lvl := range doc.ThreatLevels {
		levels = append(levels, detection.ThreatLevel(lvl))
	}

	var ipPattern *regexp.Regexp
	if doc.Conditions.IPPattern != "" {
		re, err := regexp.Compile(doc.Conditions.IPPattern)
		if err != nil {
			return nil, fmt.Errorf("compile ip_pattern: %w", err)
		}
		ipPattern = re
	}

	priority := Priority(doc.Priority)
	if priority == "" {
		priority = PriorityMedium
	}

	return &AlertRule{
		RuleID:            doc.RuleID,
		Name:              doc.Name,
		EventTypes:        doc.EventTypes,
		ThreatLevels:      levels,
		Channels:          doc.Channels,
		Priority:          priority,
		Enabled:           true,
		CooldownMinutes:   doc.CooldownMinutes,
		EscalationMinutes: doc.EscalationMinutes,
		Recipients:        doc.Recipients,
		Conditions: RuleConditions{
			TenantIDs: doc.Conditions.TenantIDs,
			UserIDs:   doc.Conditions.UserIDs,
			IPPattern: ipPattern,
		},
	}, nil
}

// DefaultRules returns the built-in rule set covering every built-in threat
// type at HIGH and CRITICAL via the system log channel, so a bare deployment
// still surfaces threats somewhere.
func DefaultRules() []*AlertRule {
	return []*AlertRule{
		{
			RuleID: "builtin-critical",
			Name:   "Critical threats",
			EventTypes: []string{
				detection.EventTypeSQLInjection,
				detection.EventTypeXSS,
				detection.EventTypePathTraversal,
				detection.EventTypeBruteForce,
				detection.EventTypePrivilegeEscalation,
				detection.EventTypeDataExfiltration,
			},
			ThreatLevels:    []detection.ThreatLevel{detection.LevelCritical},
			Channels:        []string{"log"},
			Priority:        PriorityCritical,
			Enabled:         true,
			CooldownMinutes: 5,
			Recipients:      []string{"operators"},
		},
		{
			RuleID: "builtin-high",
			Name:   "High-severity threats",
			EventTypes: []string{
				detection.EventTypeSQLInjection,
				detection.EventTypeXSS,
				detection.EventTypePathTraversal,
				detection.EventTypeBruteForce,
				detection.EventTypePrivilegeEscalation,
				detection.EventTypeDataExfiltration,
			},
			ThreatLevels:    []detection.ThreatLevel{detection.LevelHigh},
			Channels:        []string{"log"},
			Priority:        PriorityHigh,
			Enabled:         true,
			CooldownMinutes: 15,
			Recipients:      []string{"operators"},
		},
	}
}
