// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerting

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/detection"
)

func TestRuleMatching(t *testing.T) {
	rule := testRule("log")
	se := bruteForceEvent("se-1")

	if !rule.Matches(se) {
		t.Error("matching event rejected")
	}

	wrongType := bruteForceEvent("se-2")
	wrongType.EventType = detection.EventTypeSQLInjection
	if rule.Matches(wrongType) {
		t.Error("wrong event type matched")
	}

	wrongLevel := bruteForceEvent("se-3")
	wrongLevel.ThreatLevel = detection.LevelLow
	if rule.Matches(wrongLevel) {
		t.Error("wrong threat level matched")
	}
}

func TestRuleConditions(t *testing.T) {
	rule := testRule("log")
	rule.Conditions = RuleConditions{
		TenantIDs: []string{"tenant-a"},
		IPPattern: regexp.MustCompile(`^203\.0\.113\.`),
	}

	se := bruteForceEvent("se-1")
	if !rule.Matches(se) {
		t.Error("event satisfying conditions rejected")
	}

	otherTenant := bruteForceEvent("se-2")
	otherTenant.TenantID = "tenant-b"
	if rule.Matches(otherTenant) {
		t.Error("tenant condition ignored")
	}

	otherNet := bruteForceEvent("se-3")
	otherNet.IPAddress = "198.51.100.7"
	if rule.Matches(otherNet) {
		t.Error("ip pattern condition ignored")
	}
}

func TestRuleStoreLifecycle(t *testing.T) {
	store := NewRuleStore()

	if err := store.Add(testRule("log")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(testRule("log")); !errors.Is(err, ErrDuplicateRule) {
		t.Errorf("duplicate add: got %v, want ErrDuplicateRule", err)
	}
	if store.EnabledCount() != 1 {
		t.Errorf("enabled count = %d, want 1", store.EnabledCount())
	}

	if err := store.Disable("rule-bruteforce"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if got := store.FindMatching(bruteForceEvent("se-1")); len(got) != 0 {
		t.Errorf("disabled rule matched: %d rules", len(got))
	}

	if err := store.Enable("rule-bruteforce"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if got := store.FindMatching(bruteForceEvent("se-1")); len(got) != 1 {
		t.Errorf("enabled rule not matched: %d rules", len(got))
	}

	if err := store.Remove("rule-bruteforce"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove("rule-bruteforce"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("second remove: got %v, want ErrRuleNotFound", err)
	}
}

func TestDefaultRulesCoverBuiltinThreats(t *testing.T) {
	store := NewRuleStore()
	for _, rule := range DefaultRules() {
		if err := store.Add(rule); err != nil {
			t.Fatalf("add default rule: %v", err)
		}
	}

	high := bruteForceEvent("se-1")
	if got := store.FindMatching(high); len(got) != 1 || got[0].RuleID != "builtin-high" {
		t.Errorf("HIGH brute force matched %d rules", len(got))
	}

	critical := bruteForceEvent("se-2")
	critical.ThreatLevel = detection.LevelCritical
	if got := store.FindMatching(critical); len(got) != 1 || got[0].RuleID != "builtin-critical" {
		t.Errorf("CRITICAL brute force matched %d rules", len(got))
	}
}

func TestRuleFromConfig(t *testing.T) {
	doc := config.AlertRuleConfig{
		RuleID:          "custom-1",
		Name:            "Custom brute force",
		EventTypes:      []string{detection.EventTypeBruteForce},
		ThreatLevels:    []string{"HIGH", "CRITICAL"},
		Channels:        []string{"webhook"},
		CooldownMinutes: 10,
		Conditions:      config.RuleConditionConfig{IPPattern: `^10\.`},
	}

	rule, err := RuleFromConfig(&doc)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !rule.Enabled {
		t.Error("configured rules start enabled")
	}
	if rule.Priority != PriorityMedium {
		t.Errorf("default priority = %s, want medium", rule.Priority)
	}
	if rule.Conditions.IPPattern == nil || !rule.Conditions.IPPattern.MatchString("10.1.2.3") {
		t.Error("ip pattern not compiled")
	}

	doc.Conditions.IPPattern = `[broken`
	if _, err := RuleFromConfig(&doc); err == nil {
		t.Error("invalid ip pattern accepted")
	}
}

func TestCooldownTracker(t *testing.T) {
	tr := NewCooldownTracker()
	now := time.Now()
	cooldown := time.Minute

	if tr.Suppressed("rule-1", "tenant-a", "BRUTE_FORCE_ATTACK", cooldown, now) {
		t.Error("fresh tracker suppressed")
	}

	tr.MarkFired("rule-1", "tenant-a", "BRUTE_FORCE_ATTACK", now)

	if !tr.Suppressed("rule-1", "tenant-a", "BRUTE_FORCE_ATTACK", cooldown, now.Add(30*time.Second)) {
		t.Error("not suppressed inside cooldown")
	}
	if tr.Suppressed("rule-1", "tenant-b", "BRUTE_FORCE_ATTACK", cooldown, now.Add(30*time.Second)) {
		t.Error("cooldown crossed tenants")
	}
	if tr.Suppressed("rule-1", "tenant-a", "SQL_INJECTION_ATTEMPT", cooldown, now.Add(30*time.Second)) {
		t.Error("cooldown crossed event types")
	}
	if tr.Suppressed("rule-1", "tenant-a", "BRUTE_FORCE_ATTACK", cooldown, now.Add(2*time.Minute)) {
		t.Error("suppressed after cooldown expired")
	}

	// Zero cooldown disables suppression entirely.
	if tr.Suppressed("rule-1", "tenant-a", "BRUTE_FORCE_ATTACK", 0, now) {
		t.Error("zero cooldown suppressed")
	}

	tr.Prune(time.Minute, now.Add(time.Hour))
	if tr.ActiveCount(time.Minute, now.Add(time.Hour)) != 0 {
		t.Error("prune left stale entries")
	}
}
