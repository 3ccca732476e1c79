// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package alerting matches detected security events against configurable
// alert rules, enforces cooldown suppression, fans out per-channel
// notifications, and delivers them with bounded retry.
package alerting

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/tomtom215/vigil/internal/detection"
)

// Alerting errors.
var (
	ErrRuleNotFound  = errors.New("alert rule not found")
	ErrDuplicateRule = errors.New("alert rule id already registered")
)

// Priority orders notification urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Escalate returns the next priority up; critical stays critical.
func (p Priority) Escalate() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

// RuleConditions restricts a rule to a subset of events. Empty fields match
// everything.
type RuleConditions struct {
	TenantIDs []string       `json:"tenant_ids,omitempty"`
	UserIDs   []string       `json:"user_ids,omitempty"`
	IPPattern *regexp.Regexp `json:"-"`
}

// Satisfied reports whether an event passes every set condition.
func (c RuleConditions) Satisfied(se *detection.SecurityEvent) bool {
	if len(c.TenantIDs) > 0 && !contains(c.TenantIDs, se.TenantID) {
		return false
	}
	if len(c.UserIDs) > 0 && !contains(c.UserIDs, se.UserID) {
		return false
	}
	if c.IPPattern != nil && !c.IPPattern.MatchString(se.IPAddress) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// AlertRule maps security events to notification channels. Mutable only via
// the rule store's add/remove/enable/disable operations.
type AlertRule struct {
	RuleID            string                  `json:"rule_id"`
	Name              string                  `json:"name"`
	EventTypes        []string                `json:"event_types"`
	ThreatLevels      []detection.ThreatLevel `json:"threat_levels"`
	Channels          []string                `json:"channels"`
	Priority          Priority                `json:"priority"`
	Enabled           bool                    `json:"enabled"`
	CooldownMinutes   int                     `json:"cooldown_minutes"`
	EscalationMinutes int                     `json:"escalation_minutes"`
	Recipients        []string                `json:"recipients"`
	Conditions        RuleConditions          `json:"conditions"`
}

// Matches reports whether the rule applies to a security event. Enabled is
// checked by the caller; Matches is a pure predicate over the event.
func (r *AlertRule) Matches(se *detection.SecurityEvent) bool {
	if !contains(r.EventTypes, se.EventType) {
		return false
	}
	found := false
	for _, lvl := range r.ThreatLevels {
		if lvl == se.ThreatLevel {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	return r.Conditions.Satisfied(se)
}

// NotificationStatus is an AlertNotification lifecycle state.
type NotificationStatus string

const (
	NotificationPending      NotificationStatus = "PENDING"
	NotificationSent         NotificationStatus = "SENT"
	NotificationFailed       NotificationStatus = "FAILED"
	NotificationAcknowledged NotificationStatus = "ACKNOWLEDGED"
	NotificationResolved     NotificationStatus = "RESOLVED"
)

// AlertNotification is one deliverable: a (rule, channel, recipient) match
// for a triggering security event.
type AlertNotification struct {
	NotificationID string             `json:"notification_id"`
	AlertID        string             `json:"alert_id"`
	RuleID         string             `json:"rule_id"`
	Channel        string             `json:"channel"`
	Recipient      string             `json:"recipient"`
	Subject        string             `json:"subject"`
	Message        string             `json:"message"`
	Priority       Priority           `json:"priority"`
	CreatedAt      time.Time          `json:"created_at"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	Status         NotificationStatus `json:"status"`
	RetryCount     int                `json:"retry_count"`
	MaxRetries     int                `json:"max_retries"`
	Error          string             `json:"error,omitempty"`

	// metadata rides along to the channel handler.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PermanentlyFailed reports whether the notification is out of retry budget.
func (n *AlertNotification) PermanentlyFailed() bool {
	return n.Status == NotificationFailed && n.RetryCount >= n.MaxRetries
}

// ChannelHandler delivers one notification. Send must not panic or return an
// error; failures are reported through the boolean. The engine still guards
// against panicking handlers and treats a panic as failure.
type ChannelHandler interface {
	Name() string
	Send(ctx context.Context, recipient, subject, message string, priority Priority, metadata map[string]string) bool
}
