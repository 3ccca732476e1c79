// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package eventbus carries validated events and detected threats between the
// capture, detection, and alerting stages over watermill's in-process
// transport. Stages communicate only through messages; no stage reaches into
// another's state.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/models"
)

// Topics carried by the bus.
const (
	TopicValidatedEvents = "events.validated"
	TopicDetectedThreats = "threats.detected"
	TopicPoison          = "dlq.events"
)

// Config holds bus tuning knobs.
type Config struct {
	// OutputChannelBuffer is the per-subscriber buffer size.
	OutputChannelBuffer int64

	// CloseTimeout is how long to wait for handlers when closing.
	CloseTimeout time.Duration

	// Retry configuration for handler failures.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		OutputChannelBuffer:  1024,
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
	}
}

// Bus is the in-process message fabric. Handler failures are retried with
// exponential backoff and dead-lettered to the poison topic after the retry
// budget is spent.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter
}

// New creates the bus and its pre-configured router.
func New(cfg Config) (*Bus, error) {
	logger := NewLoggerAdapter()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.OutputChannelBuffer,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	// Middleware order, outer to inner: recover panics, retry transient
	// failures, dead-letter permanent failures.
	router.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	poison, err := middleware.PoisonQueue(pubsub, TopicPoison)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	router.AddMiddleware(poison)

	return &Bus{pubsub: pubsub, router: router, logger: logger}, nil
}

// PublishEvent publishes a validated audit event.
func (b *Bus) PublishEvent(_ context.Context, ev models.AuditEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_id", ev.ID)
	msg.Metadata.Set("tenant_id", ev.TenantID)
	return b.pubsub.Publish(TopicValidatedEvents, msg)
}

// Publish satisfies the capture sink contract.
func (b *Bus) Publish(ctx context.Context, ev models.AuditEvent) error {
	return b.PublishEvent(ctx, ev)
}

// PublishThreat publishes a detected security event for the alert engine.
func (b *Bus) PublishThreat(_ context.Context, se *detection.SecurityEvent) error {
	payload, err := json.Marshal(se)
	if err != nil {
		return fmt.Errorf("marshal security event %s: %w", se.EventID, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", se.EventType)
	msg.Metadata.Set("threat_level", string(se.ThreatLevel))
	return b.pubsub.Publish(TopicDetectedThreats, msg)
}

// OnEvents registers a consumer for validated audit events.
func (b *Bus) OnEvents(name string, fn func(ctx context.Context, ev models.AuditEvent) error) {
	b.router.AddConsumerHandler(name, TopicValidatedEvents, b.pubsub,
		func(msg *message.Message) error {
			var ev models.AuditEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return fmt.Errorf("unmarshal event: %w", err)
			}
			return fn(msg.Context(), ev)
		})
}

// OnThreats registers a consumer for detected security events.
func (b *Bus) OnThreats(name string, fn func(ctx context.Context, se *detection.SecurityEvent) error) {
	b.router.AddConsumerHandler(name, TopicDetectedThreats, b.pubsub,
		func(msg *message.Message) error {
			var se detection.SecurityEvent
			if err := json.Unmarshal(msg.Payload, &se); err != nil {
				return fmt.Errorf("unmarshal security event: %w", err)
			}
			return fn(msg.Context(), &se)
		})
}

// Run starts the router and blocks until the context is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel closed once the router is running. Used by
// startup ordering so publishers do not race handler registration.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close shuts down the router and the underlying pub/sub.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("close router: %w", err)
	}
	return b.pubsub.Close()
}
