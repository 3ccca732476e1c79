// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/models"
)

// RuleBasedDetector matches signature patterns against the serialized event
// payload. Patterns are case-insensitive regular expressions compiled once
// per signature and cached.
type RuleBasedDetector struct {
	mu       sync.Mutex
	compiled map[string][]*regexp.Regexp // signature ID -> compiled patterns
}

// NewRuleBasedDetector creates a rule-based detector.
func NewRuleBasedDetector() *RuleBasedDetector {
	return &RuleBasedDetector{
		compiled: make(map[string][]*regexp.Regexp),
	}
}

// Method returns the strategy identifier.
func (d *RuleBasedDetector) Method() Method {
	return MethodRuleBased
}

// patternsFor returns the compiled patterns for a signature, compiling them
// on first use. A pattern that fails to compile poisons the signature: the
// error surfaces once and the signature never fires.
func (d *RuleBasedDetector) patternsFor(sig *Signature) ([]*regexp.Regexp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if compiled, ok := d.compiled[sig.ID]; ok {
		return compiled, nil
	}

	compiled := make([]*regexp.Regexp, 0, len(sig.Patterns))
	for _, pattern := range sig.Patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("signature %s: compile pattern %q: %w", sig.ID, pattern, err)
		}
		compiled = append(compiled, re)
	}

	d.compiled[sig.ID] = compiled
	return compiled, nil
}

// Detect scans each event's serialized payload for the signature's patterns.
// Confidence = min(matched/total × severity_weight, 1.0); an event is
// reported only when confidence clears the signature threshold.
func (d *RuleBasedDetector) Detect(ctx context.Context, sig *Signature, events []models.AuditEvent) ([]*SecurityEvent, error) {
	if len(sig.Patterns) == 0 {
		return nil, nil
	}

	patterns, err := d.patternsFor(sig)
	if err != nil {
		return nil, err
	}

	var results []*SecurityEvent

	for i := range events {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		e := &events[i]
		payload := e.Serialized()

		var matched []string
		for j, re := range patterns {
			if re.MatchString(payload) {
				matched = append(matched, sig.Patterns[j])
			}
		}
		if len(matched) == 0 {
			continue
		}

		confidence := clamp(float64(len(matched)) / float64(len(sig.Patterns)) * sig.SeverityWeight)
		if confidence < sig.ConfidenceThreshold {
			continue
		}

		results = append(results, &SecurityEvent{
			EventID:     uuid.New().String(),
			EventType:   sig.EventType,
			ThreatLevel: LevelFromConfidence(confidence),
			TenantID:    e.TenantID,
			UserID:      e.UserID,
			IPAddress:   e.IPAddress,
			Timestamp:   time.Now(),
			Description: fmt.Sprintf("%s: %d of %d patterns matched on %s %s",
				sig.Name, len(matched), len(sig.Patterns), e.Action, e.ResourceType),
			Details: EventDetails{
				Confidence:      confidence,
				SignatureID:     sig.ID,
				MatchedPatterns: matched,
				SourceEventID:   e.ID,
			},
		})
	}

	return results, nil
}
