// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

// HistoryWriter persists events for baseline computation and the fast path.
// Satisfied by the history store.
type HistoryWriter interface {
	InsertEvents(ctx context.Context, events []models.AuditEvent) error
}

// ThreatPublisher forwards detected threats to the alerting stage.
// Satisfied by the event bus.
type ThreatPublisher interface {
	PublishThreat(ctx context.Context, se *SecurityEvent) error
}

// Batcher accumulates validated events from the bus into detection batches.
// A batch is flushed when it reaches the size limit or when the flush
// interval elapses with a partial batch.
type Batcher struct {
	engine  *Engine
	history HistoryWriter
	threats ThreatPublisher

	size     int
	interval time.Duration

	mu      sync.Mutex
	pending []models.AuditEvent
}

// NewBatcher creates a detection batcher.
func NewBatcher(engine *Engine, history HistoryWriter, threats ThreatPublisher, size int, interval time.Duration) *Batcher {
	if size <= 0 {
		size = 500
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Batcher{
		engine:   engine,
		history:  history,
		threats:  threats,
		size:     size,
		interval: interval,
	}
}

// Handle accepts one validated event from the bus. Full batches flush
// inline so detection latency tracks the event rate, not just the timer.
func (b *Batcher) Handle(ctx context.Context, ev models.AuditEvent) error {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		b.Flush(ctx)
	}
	return nil
}

// Flush processes the current batch: persist to history, run detection, and
// publish any threats found.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if b.history != nil {
		if err := b.history.InsertEvents(ctx, batch); err != nil {
			logging.Error().Err(err).Int("events", len(batch)).Msg("history insert failed")
		}
	}

	detected := b.engine.ProcessBatch(ctx, batch)
	for _, se := range detected {
		if b.threats == nil {
			continue
		}
		if err := b.threats.PublishThreat(ctx, se); err != nil {
			logging.Error().Err(err).Str("event_id", se.EventID).Msg("threat publish failed")
		}
	}
}

// RunWithContext flushes partial batches on the interval until cancelled,
// with one final flush on the way out.
func (b *Batcher) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}
