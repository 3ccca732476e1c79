// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package detection turns batches of canonical audit events into security
// events with confidence scores, using four interchangeable detection
// strategies keyed by signature method.
package detection

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// Method identifies the detection strategy a signature uses.
type Method string

const (
	MethodRuleBased   Method = "rule_based"
	MethodStatistical Method = "statistical"
	MethodBehavioral  Method = "behavioral"
	MethodML          Method = "ml"
	MethodHybrid      Method = "hybrid"
)

// ThreatLevel grades a detected threat.
type ThreatLevel string

const (
	LevelInfo     ThreatLevel = "INFO"
	LevelLow      ThreatLevel = "LOW"
	LevelMedium   ThreatLevel = "MEDIUM"
	LevelHigh     ThreatLevel = "HIGH"
	LevelCritical ThreatLevel = "CRITICAL"
)

// LevelFromConfidence maps a confidence score to a threat level.
// The mapping is deterministic: equal confidence always yields equal level.
func LevelFromConfidence(confidence float64) ThreatLevel {
	switch {
	case confidence >= 0.9:
		return LevelCritical
	case confidence >= 0.7:
		return LevelHigh
	case confidence >= 0.5:
		return LevelMedium
	case confidence >= 0.3:
		return LevelLow
	default:
		return LevelInfo
	}
}

// rank orders threat levels for comparisons; higher is worse.
func (l ThreatLevel) rank() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is at or above other.
func (l ThreatLevel) AtLeast(other ThreatLevel) bool {
	return l.rank() >= other.rank()
}

// Threat event types produced by the built-in signatures.
const (
	EventTypeSQLInjection        = "SQL_INJECTION_ATTEMPT"
	EventTypeXSS                 = "XSS_ATTEMPT"
	EventTypePathTraversal       = "PATH_TRAVERSAL_ATTEMPT"
	EventTypeBruteForce          = "BRUTE_FORCE_ATTACK"
	EventTypePrivilegeEscalation = "PRIVILEGE_ESCALATION"
	EventTypeDataExfiltration    = "DATA_EXFILTRATION"
)

// StatisticalRules parameterizes statistical thresholding.
type StatisticalRules struct {
	// TimeWindowSeconds is the sliding window over which events are grouped.
	TimeWindowSeconds int `json:"time_window_seconds"`

	// FailureThreshold is the minimum grouped count before the signature fires.
	FailureThreshold int `json:"failure_threshold"`

	// MaxFailuresPerHour normalizes the count factor of the confidence score.
	MaxFailuresPerHour int `json:"max_failures_per_hour"`

	// UniqueUsernamesThreshold normalizes the username-spread factor.
	UniqueUsernamesThreshold int `json:"unique_usernames_threshold"`

	// ExportVolumeBytes is the export volume threshold for hybrid signatures.
	ExportVolumeBytes int64 `json:"export_volume_bytes,omitempty"`

	// ExportCountThreshold is the export count threshold for hybrid signatures.
	ExportCountThreshold int `json:"export_count_threshold,omitempty"`
}

// Signature is one detection-rule definition. Signatures are loaded at
// startup and never mutated at runtime.
type Signature struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Category             string           `json:"category"`
	Method               Method           `json:"method"`
	EventType            string           `json:"event_type"`
	ConfidenceThreshold  float64          `json:"confidence_threshold"`
	Patterns             []string         `json:"patterns,omitempty"`
	StatisticalRules     StatisticalRules `json:"statistical_rules,omitempty"`
	BehavioralIndicators []string         `json:"behavioral_indicators,omitempty"`
	SeverityWeight       float64          `json:"severity_weight"`
}

// EventDetails is the typed payload of a SecurityEvent. One struct with
// per-strategy optional fields replaces the open details dictionary.
type EventDetails struct {
	Confidence  float64 `json:"confidence"`
	SignatureID string  `json:"signature_id"`

	// Rule-based
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
	SourceEventID   string   `json:"source_event_id,omitempty"`

	// Statistical
	FailedAttempts  int `json:"failed_attempts,omitempty"`
	UniqueUsernames int `json:"unique_usernames,omitempty"`
	WindowSeconds   int `json:"window_seconds,omitempty"`

	// Behavioral
	ZScore            float64  `json:"z_score,omitempty"`
	MatchedIndicators []string `json:"matched_indicators,omitempty"`
	OperationCount    int      `json:"operation_count,omitempty"`

	// Hybrid
	ExportBytes   int64   `json:"export_bytes,omitempty"`
	ExportCount   int     `json:"export_count,omitempty"`
	OffPeakRatio  float64 `json:"off_peak_ratio,omitempty"`
	StatScore     float64 `json:"stat_score,omitempty"`
	BehaviorScore float64 `json:"behavior_score,omitempty"`
}

// SecurityEvent is a detected threat. Created by a detector; mutated only to
// mark resolution.
type SecurityEvent struct {
	EventID     string       `json:"event_id"`
	EventType   string       `json:"event_type"`
	ThreatLevel ThreatLevel  `json:"threat_level"`
	TenantID    string       `json:"tenant_id"`
	UserID      string       `json:"user_id,omitempty"`
	IPAddress   string       `json:"ip_address,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Description string       `json:"description"`
	Details     EventDetails `json:"details"`

	Resolved        bool       `json:"resolved"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Detector is one detection strategy. Implementations must be safe for
// concurrent use; the engine runs signatures in parallel over one batch.
type Detector interface {
	// Method returns the strategy this detector implements.
	Method() Method

	// Detect evaluates a signature over an event batch and returns zero or
	// more candidate security events. A batch with no matches is not an
	// error.
	Detect(ctx context.Context, sig *Signature, events []models.AuditEvent) ([]*SecurityEvent, error)
}

// clamp bounds a confidence score to [0, 1].
func clamp(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
