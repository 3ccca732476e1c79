// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// maxNotificationHistory bounds the retained delivered/failed notifications.
const maxNotificationHistory = 5000

// cooldownPruneHorizon drops cooldown entries untouched this long.
const cooldownPruneHorizon = 24 * time.Hour

// Resolver reports whether a security event has been resolved. Satisfied by
// the detection store; escalation consults it before re-alerting.
type Resolver interface {
	IsResolved(eventID string) bool
}

// escalation is a scheduled re-alert for an unresolved security event.
type escalation struct {
	event  *detection.SecurityEvent
	ruleID string
	dueAt  time.Time
}

// Engine matches security events to alert rules and delivers notifications.
type Engine struct {
	cfg       config.AlertingConfig
	rules     *RuleStore
	cooldowns *CooldownTracker
	resolver  Resolver

	mu          sync.Mutex
	handlers    map[string]ChannelHandler
	pending     []*AlertNotification
	history     []*AlertNotification
	escalations []escalation

	// statistics
	generated int64
	sent      int64
	failed    int64
	byChannel map[string]int64
	byPrio    map[Priority]int64
}

// NewEngine creates an alert engine. Channels are registered separately so
// tests can inject fakes.
func NewEngine(cfg config.AlertingConfig, rules *RuleStore, resolver Resolver) *Engine {
	return &Engine{
		cfg:       cfg,
		rules:     rules,
		cooldowns: NewCooldownTracker(),
		resolver:  resolver,
		handlers:  make(map[string]ChannelHandler),
		byChannel: make(map[string]int64),
		byPrio:    make(map[Priority]int64),
	}
}

// RegisterHandler adds a channel handler. A rule naming a channel with no
// registered handler simply skips that channel.
func (e *Engine) RegisterHandler(h ChannelHandler) {
	e.mu.Lock()
	e.handlers[h.Name()] = h
	e.mu.Unlock()
	logging.Info().Str("channel", h.Name()).Msg("registered alert channel")
}

// RegisterConfiguredChannels wires the channels enabled in configuration,
// plus the always-available system log channel.
func (e *Engine) RegisterConfiguredChannels() {
	e.RegisterHandler(NewLogChannel())
	if e.cfg.Email.Enabled {
		e.RegisterHandler(NewEmailChannel(e.cfg.Email))
	}
	if e.cfg.Slack.Enabled {
		e.RegisterHandler(NewSlackChannel(e.cfg.Slack))
	}
	if e.cfg.Webhook.Enabled {
		e.RegisterHandler(NewWebhookChannel(e.cfg.Webhook))
	}
}

// HandleSecurityEvent matches the event against enabled rules, applies
// cooldown, and enqueues one notification per (rule, channel, recipient).
func (e *Engine) HandleSecurityEvent(_ context.Context, se *detection.SecurityEvent) error {
	now := time.Now()

	for _, rule := range e.rules.FindMatching(se) {
		cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
		if e.cooldowns.Suppressed(rule.RuleID, se.TenantID, se.EventType, cooldown, now) {
			metrics.AlertCooldownSuppressions.Inc()
			logging.Debug().Str("rule_id", rule.RuleID).Str("event_type", se.EventType).
				Str("tenant_id", se.TenantID).Msg("alert suppressed by cooldown")
			continue
		}
		e.cooldowns.MarkFired(rule.RuleID, se.TenantID, se.EventType, now)

		e.fanOut(se, rule, rule.Priority, "")

		if rule.EscalationMinutes > 0 {
			e.mu.Lock()
			e.escalations = append(e.escalations, escalation{
				event:  se,
				ruleID: rule.RuleID,
				dueAt:  now.Add(time.Duration(rule.EscalationMinutes) * time.Minute),
			})
			e.mu.Unlock()
		}
	}
	return nil
}

// fanOut enqueues notifications for every (channel, recipient) of a rule.
// subjectPrefix marks escalation re-alerts.
func (e *Engine) fanOut(se *detection.SecurityEvent, rule *AlertRule, priority Priority, subjectPrefix string) {
	subject := fmt.Sprintf("%s%s threat detected: %s", subjectPrefix, se.ThreatLevel, se.EventType)
	msg := fmt.Sprintf("%s (tenant %s, confidence %.2f)", se.Description, se.TenantID, se.Details.Confidence)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, channel := range rule.Channels {
		if _, ok := e.handlers[channel]; !ok {
			logging.Warn().Str("channel", channel).Str("rule_id", rule.RuleID).
				Msg("rule references unregistered channel")
			continue
		}
		for _, recipient := range e.resolveRecipients(rule.Recipients) {
			n := &AlertNotification{
				NotificationID: uuid.New().String(),
				AlertID:        se.EventID,
				RuleID:         rule.RuleID,
				Channel:        channel,
				Recipient:      recipient,
				Subject:        subject,
				Message:        msg,
				Priority:       priority,
				CreatedAt:      time.Now(),
				Status:         NotificationPending,
				MaxRetries:     e.maxRetries(),
				Metadata: map[string]string{
					"event_id":     se.EventID,
					"event_type":   se.EventType,
					"threat_level": string(se.ThreatLevel),
					"tenant_id":    se.TenantID,
				},
			}
			e.pending = append(e.pending, n)
			e.generated++
		}
	}
}

// resolveRecipients expands recipient group names (default, security,
// on_call) into configured addresses; anything else passes through as a
// literal address.
func (e *Engine) resolveRecipients(recipients []string) []string {
	var out []string
	for _, r := range recipients {
		switch r {
		case "default":
			out = append(out, e.cfg.Recipients.Default...)
		case "security":
			out = append(out, e.cfg.Recipients.Security...)
		case "on_call":
			out = append(out, e.cfg.Recipients.OnCall...)
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		out = append(out, "operators")
	}
	return out
}

func (e *Engine) maxRetries() int {
	if e.cfg.MaxRetries <= 0 {
		return 3
	}
	return e.cfg.MaxRetries
}

func (e *Engine) retryDelay() time.Duration {
	if e.cfg.RetryDelay <= 0 {
		return 5 * time.Minute
	}
	return e.cfg.RetryDelay
}

// Run drives the delivery, retry, and escalation loops until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.DeliveryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.DeliverBatch(ctx)
			e.RetrySweep(time.Now())
			e.EscalationSweep(ctx, time.Now())
		case <-prune.C:
			e.cooldowns.Prune(cooldownPruneHorizon, time.Now())
		}
	}
}

// DeliverBatch attempts delivery for up to DeliveryBatchSize pending
// notifications. Handler panics are treated as failures.
func (e *Engine) DeliverBatch(ctx context.Context) {
	batchSize := e.cfg.DeliveryBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	e.mu.Lock()
	n := batchSize
	if n > len(e.pending) {
		n = len(e.pending)
	}
	batch := e.pending[:n]
	e.pending = e.pending[n:]
	e.mu.Unlock()

	for _, notif := range batch {
		e.deliver(ctx, notif)
	}
}

func (e *Engine) deliver(ctx context.Context, n *AlertNotification) {
	e.mu.Lock()
	handler, ok := e.handlers[n.Channel]
	e.mu.Unlock()

	now := time.Now()
	success := false
	if ok {
		success = sendSafely(ctx, handler, n)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n.SentAt = &now
	if success {
		n.Status = NotificationSent
		n.Error = ""
		e.sent++
		e.byChannel[n.Channel]++
		e.byPrio[n.Priority]++
		metrics.AlertsSent.WithLabelValues(n.Metadata["event_type"], n.Metadata["threat_level"], n.Metadata["tenant_id"]).Inc()
	} else {
		n.Status = NotificationFailed
		if n.Error == "" {
			n.Error = fmt.Sprintf("channel %s delivery failed", n.Channel)
		}
		e.failed++
		logging.Warn().Str("notification_id", n.NotificationID).Str("channel", n.Channel).
			Int("retry_count", n.RetryCount).Int("max_retries", n.MaxRetries).
			Msg("notification delivery failed")
	}
	e.recordHistoryLocked(n)
}

// sendSafely invokes a handler with panic isolation. The contract says
// handlers never panic; this guard keeps a misbehaving one from taking the
// delivery loop down.
func sendSafely(ctx context.Context, h ChannelHandler, n *AlertNotification) (success bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("channel", h.Name()).
				Msg("channel handler panicked")
			success = false
		}
	}()
	return h.Send(ctx, n.Recipient, n.Subject, n.Message, n.Priority, n.Metadata)
}

// recordHistoryLocked appends a terminal-state copy; caller holds the lock.
func (e *Engine) recordHistoryLocked(n *AlertNotification) {
	e.history = append(e.history, n)
	if len(e.history) > maxNotificationHistory {
		e.history = e.history[len(e.history)-maxNotificationHistory:]
	}
}

// RetrySweep requeues failed notifications whose retry delay has elapsed.
// RetryCount counts redeliveries, so a notification attempts delivery
// MaxRetries+1 times in total before it is permanently failed.
func (e *Engine) RetrySweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.history[:0]
	for _, n := range e.history {
		if n.Status == NotificationFailed && n.RetryCount < n.MaxRetries &&
			n.SentAt != nil && now.Sub(*n.SentAt) >= e.retryDelay() {
			n.RetryCount++
			n.Status = NotificationPending
			e.pending = append(e.pending, n)
			continue
		}
		kept = append(kept, n)
	}
	e.history = kept
}

// EscalationSweep re-alerts at elevated priority for events still unresolved
// after their rule's escalation window. Each escalation fires at most once.
func (e *Engine) EscalationSweep(_ context.Context, now time.Time) {
	e.mu.Lock()
	var due []escalation
	kept := e.escalations[:0]
	for _, esc := range e.escalations {
		if now.Before(esc.dueAt) {
			kept = append(kept, esc)
			continue
		}
		due = append(due, esc)
	}
	e.escalations = kept
	e.mu.Unlock()

	for _, esc := range due {
		if e.resolver != nil && e.resolver.IsResolved(esc.event.EventID) {
			continue
		}
		rule, err := e.rules.Get(esc.ruleID)
		if err != nil || !rule.Enabled {
			continue
		}
		logging.Warn().Str("event_id", esc.event.EventID).Str("rule_id", esc.ruleID).
			Msg("escalating unresolved security event")
		e.fanOut(esc.event, &rule, rule.Priority.Escalate(), "ESCALATION: ")
	}
}

// Statistics summarizes engine activity.
type Statistics struct {
	Generated       int64              `json:"generated"`
	Sent            int64              `json:"sent"`
	Failed          int64              `json:"failed"`
	Pending         int                `json:"pending"`
	SuccessRate     float64            `json:"success_rate"`
	ByChannel       map[string]int64   `json:"by_channel"`
	ByPriority      map[Priority]int64 `json:"by_priority"`
	ActiveCooldowns int                `json:"active_cooldowns"`
	EnabledRules    int                `json:"enabled_rules"`
}

// Stats returns a snapshot of delivery statistics.
func (e *Engine) Stats() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	byChannel := make(map[string]int64, len(e.byChannel))
	for k, v := range e.byChannel {
		byChannel[k] = v
	}
	byPrio := make(map[Priority]int64, len(e.byPrio))
	for k, v := range e.byPrio {
		byPrio[k] = v
	}

	rate := 1.0
	if attempts := e.sent + e.failed; attempts > 0 {
		rate = float64(e.sent) / float64(attempts)
	}

	return Statistics{
		Generated:       e.generated,
		Sent:            e.sent,
		Failed:          e.failed,
		Pending:         len(e.pending),
		SuccessRate:     rate,
		ByChannel:       byChannel,
		ByPriority:      byPrio,
		ActiveCooldowns: e.cooldowns.ActiveCount(cooldownPruneHorizon, time.Now()),
		EnabledRules:    e.rules.EnabledCount(),
	}
}

// History returns terminal-state notifications, newest last.
func (e *Engine) History() []*AlertNotification {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*AlertNotification, len(e.history))
	copy(out, e.history)
	return out
}

// PendingCount returns the number of queued notifications.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
