// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package config defines the Vigil configuration document and its koanf-based
// loader. Configuration is resolved in three layers: struct defaults, then a
// YAML config file, then VIGIL_* environment variables.
package config

import (
	"time"
)

// Config is the root configuration document.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Capture   CaptureConfig   `koanf:"capture"`
	Detection DetectionConfig `koanf:"detection"`
	FastPath  FastPathConfig  `koanf:"fastpath"`
	Alerting  AlertingConfig  `koanf:"alerting"`
	History   HistoryConfig   `koanf:"history"`
	Cache     CacheConfig     `koanf:"cache"`
	Ops       OpsConfig       `koanf:"ops"`
}

// LoggingConfig configures the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// CaptureConfig configures the event capture subsystem.
type CaptureConfig struct {
	// QueueCapacity is the bounded capture queue size.
	QueueCapacity int `koanf:"queue_capacity"`

	// Processors is the number of concurrent queue processors.
	Processors int `koanf:"processors"`

	// PollInterval is how often source listeners poll for new records.
	PollInterval time.Duration `koanf:"poll_interval"`

	// MaxRetryAttempts bounds per-record retries after processing failure.
	MaxRetryAttempts int `koanf:"max_retry_attempts"`

	// RetryDelay is the minimum time between retry attempts for one record.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// SweepInterval is how often the retry and validation sweep workers run.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// FailedRingSize bounds the in-memory list of permanently failed events.
	FailedRingSize int `koanf:"failed_ring_size"`

	// CaptureAlertThreshold is the capture rate below which a source is
	// flagged (log-level alert), once it has at least ten observed events.
	CaptureAlertThreshold float64 `koanf:"capture_alert_threshold"`
}

// DetectionConfig configures the threat detection engine.
type DetectionConfig struct {
	// BatchSize is the maximum events handed to one detection run.
	BatchSize int `koanf:"batch_size"`

	// BatchInterval flushes a partial batch after this long.
	BatchInterval time.Duration `koanf:"batch_interval"`

	// BaselineInterval is how often behavior baselines are recomputed.
	BaselineInterval time.Duration `koanf:"baseline_interval"`

	// ResolvedRetention is how long resolved security events stay queryable
	// before being archived out of the active store.
	ResolvedRetention time.Duration `koanf:"resolved_retention"`
}

// FastPathConfig configures the real-time fast path.
type FastPathConfig struct {
	Enabled bool `koanf:"enabled"`

	// ScanInterval is the fast-path tick (hard SLA budget).
	ScanInterval time.Duration `koanf:"scan_interval"`

	// AlertTTL is how long an (event_type, tenant, key) combination is
	// remembered to suppress duplicate fast-path alerts.
	AlertTTL time.Duration `koanf:"alert_ttl"`

	// AutoResponse enables the external auto-response hook for HIGH and
	// CRITICAL events.
	AutoResponse bool `koanf:"auto_response"`
}

// AlertingConfig is the rule and channel configuration document.
type AlertingConfig struct {
	Email      EmailChannelConfig   `koanf:"email"`
	Slack      SlackChannelConfig   `koanf:"slack"`
	Webhook    WebhookChannelConfig `koanf:"webhook"`
	Recipients RecipientsConfig     `koanf:"recipients"`

	// CustomRules are operator-defined alert rules loaded at startup,
	// in addition to the built-in defaults.
	CustomRules []AlertRuleConfig `koanf:"custom_rules"`

	// DeliveryBatchSize bounds notifications handled per delivery cycle.
	DeliveryBatchSize int `koanf:"delivery_batch_size"`

	// DeliveryInterval is how often the delivery loop runs.
	DeliveryInterval time.Duration `koanf:"delivery_interval"`

	// RetryDelay is the minimum wait before redelivering a failed notification.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// MaxRetries bounds redelivery attempts per notification.
	MaxRetries int `koanf:"max_retries"`
}

// EmailChannelConfig configures the SMTP email channel.
type EmailChannelConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPServer   string `koanf:"smtp_server"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
	UseTLS       bool   `koanf:"use_tls"`
}

// SlackChannelConfig configures the Slack webhook channel.
type SlackChannelConfig struct {
	Enabled    bool   `koanf:"enabled"`
	WebhookURL string `koanf:"webhook_url"`
}

// WebhookChannelConfig configures the generic webhook channel.
type WebhookChannelConfig struct {
	Enabled bool              `koanf:"enabled"`
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
}

// RecipientsConfig maps recipient groups to addresses.
type RecipientsConfig struct {
	Default  []string `koanf:"default"`
	Security []string `koanf:"security"`
	OnCall   []string `koanf:"on_call"`
}

// AlertRuleConfig is the document form of one alert rule.
type AlertRuleConfig struct {
	RuleID            string              `koanf:"rule_id"`
	Name              string              `koanf:"name"`
	EventTypes        []string            `koanf:"event_types"`
	ThreatLevels      []string            `koanf:"threat_levels"`
	Channels          []string            `koanf:"channels"`
	Priority          string              `koanf:"priority"`
	CooldownMinutes   int                 `koanf:"cooldown_minutes"`
	EscalationMinutes int                 `koanf:"escalation_minutes"`
	Recipients        []string            `koanf:"recipients"`
	Conditions        RuleConditionConfig `koanf:"conditions"`
}

// RuleConditionConfig restricts a rule to a subset of events.
type RuleConditionConfig struct {
	TenantIDs []string `koanf:"tenant_ids"`
	UserIDs   []string `koanf:"user_ids"`
	IPPattern string   `koanf:"ip_pattern"`
}

// HistoryConfig configures the embedded DuckDB event history store.
type HistoryConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string `koanf:"path"`

	// RetentionDays bounds how far back history is kept.
	RetentionDays int `koanf:"retention_days"`
}

// Retention returns the history retention as a duration.
func (h HistoryConfig) Retention() time.Duration {
	days := h.RetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// CacheConfig configures the fast-path two-tier cache.
type CacheConfig struct {
	// TTL is the default entry TTL for the in-process tier.
	TTL time.Duration `koanf:"ttl"`

	// BadgerPath enables the persistent tier when set.
	BadgerPath string `koanf:"badger_path"`
}

// OpsConfig configures the operational HTTP surface (/healthz, /metrics).
type OpsConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Capture: CaptureConfig{
			QueueCapacity:         10000,
			Processors:            4,
			PollInterval:          5 * time.Second,
			MaxRetryAttempts:      3,
			RetryDelay:            30 * time.Second,
			SweepInterval:         10 * time.Second,
			FailedRingSize:        1000,
			CaptureAlertThreshold: 0.95,
		},
		Detection: DetectionConfig{
			BatchSize:         500,
			BatchInterval:     2 * time.Second,
			BaselineInterval:  15 * time.Minute,
			ResolvedRetention: 24 * time.Hour,
		},
		FastPath: FastPathConfig{
			Enabled:      true,
			ScanInterval: 5 * time.Second,
			AlertTTL:     5 * time.Minute,
			AutoResponse: false,
		},
		Alerting: AlertingConfig{
			Email:   EmailChannelConfig{Enabled: false, SMTPPort: 587, UseTLS: true},
			Slack:   SlackChannelConfig{Enabled: false},
			Webhook: WebhookChannelConfig{Enabled: false},
			Recipients: RecipientsConfig{
				Default: []string{},
			},
			DeliveryBatchSize: 10,
			DeliveryInterval:  2 * time.Second,
			RetryDelay:        5 * time.Minute,
			MaxRetries:        3,
		},
		History: HistoryConfig{
			Path:          "/data/vigil.duckdb",
			RetentionDays: 30,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Minute,
			BadgerPath: "/data/vigil-cache",
		},
		Ops: OpsConfig{
			ListenAddr: ":9090",
		},
	}
}
