// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package config

import (
	"fmt"
	"regexp"
	"strings"
)

// knownChannels are the channel names a rule may reference.
var knownChannels = map[string]struct{}{
	"email":   {},
	"slack":   {},
	"webhook": {},
	"log":     {},
}

// knownThreatLevels are the threat level names a rule may reference.
var knownThreatLevels = map[string]struct{}{
	"INFO":     {},
	"LOW":      {},
	"MEDIUM":   {},
	"HIGH":     {},
	"CRITICAL": {},
}

// Validate checks the whole configuration document and returns one error
// carrying every problem found. Startup must not proceed on error.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateCapture()...)
	errs = append(errs, c.validateAlerting()...)

	if c.Detection.BatchSize <= 0 {
		errs = append(errs, "detection.batch_size must be positive")
	}
	if c.FastPath.ScanInterval <= 0 {
		errs = append(errs, "fastpath.scan_interval must be positive")
	}
	if c.History.RetentionDays <= 0 {
		errs = append(errs, "history.retention_days must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d error(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCapture() []string {
	var errs []string

	if c.Capture.QueueCapacity <= 0 {
		errs = append(errs, "capture.queue_capacity must be positive")
	}
	if c.Capture.Processors <= 0 {
		errs = append(errs, "capture.processors must be positive")
	}
	if c.Capture.MaxRetryAttempts < 0 {
		errs = append(errs, "capture.max_retry_attempts must not be negative")
	}
	if c.Capture.CaptureAlertThreshold <= 0 || c.Capture.CaptureAlertThreshold > 1 {
		errs = append(errs, "capture.capture_alert_threshold must be in (0, 1]")
	}

	return errs
}

// validateAlerting checks channel sub-fields required when a channel is
// enabled, and every custom rule.
func (c *Config) validateAlerting() []string {
	var errs []string
	a := c.Alerting

	if a.Email.Enabled {
		if a.Email.SMTPServer == "" {
			errs = append(errs, "alerting.email.smtp_server is required when email is enabled")
		}
		if a.Email.SMTPPort <= 0 {
			errs = append(errs, "alerting.email.smtp_port is required when email is enabled")
		}
		if a.Email.FromAddress == "" {
			errs = append(errs, "alerting.email.from_address is required when email is enabled")
		}
	}

	if a.Slack.Enabled && a.Slack.WebhookURL == "" {
		errs = append(errs, "alerting.slack.webhook_url is required when slack is enabled")
	}

	if a.Webhook.Enabled && a.Webhook.URL == "" {
		errs = append(errs, "alerting.webhook.url is required when webhook is enabled")
	}

	if a.DeliveryBatchSize <= 0 {
		errs = append(errs, "alerting.delivery_batch_size must be positive")
	}
	if a.MaxRetries < 0 {
		errs = append(errs, "alerting.max_retries must not be negative")
	}

	for i, rule := range a.CustomRules {
		errs = append(errs, validateRule(i, rule)...)
	}

	return errs
}

func validateRule(i int, rule AlertRuleConfig) []string {
	var errs []string
	prefix := fmt.Sprintf("alerting.custom_rules[%d]", i)

	if rule.RuleID == "" {
		errs = append(errs, prefix+".rule_id is required")
	}
	if len(rule.EventTypes) == 0 {
		errs = append(errs, prefix+".event_types must not be empty")
	}
	if len(rule.ThreatLevels) == 0 {
		errs = append(errs, prefix+".threat_levels must not be empty")
	}
	for _, level := range rule.ThreatLevels {
		if _, ok := knownThreatLevels[level]; !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown threat level %q", prefix, level))
		}
	}
	if len(rule.Channels) == 0 {
		errs = append(errs, prefix+".channels must not be empty")
	}
	for _, ch := range rule.Channels {
		if _, ok := knownChannels[ch]; !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown channel %q", prefix, ch))
		}
	}
	if rule.CooldownMinutes < 0 {
		errs = append(errs, prefix+".cooldown_minutes must not be negative")
	}
	if rule.EscalationMinutes < 0 {
		errs = append(errs, prefix+".escalation_minutes must not be negative")
	}
	if rule.Conditions.IPPattern != "" {
		if _, err := regexp.Compile(rule.Conditions.IPPattern); err != nil {
			errs = append(errs, fmt.Sprintf("%s.conditions.ip_pattern is not a valid regexp: %v", prefix, err))
		}
	}

	return errs
}
