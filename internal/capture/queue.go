// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package capture

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// dequeuePollTimeout keeps dequeue responsive to shutdown.
const dequeuePollTimeout = time.Second

// Queue is the bounded hand-off point between source listeners and
// processors. Enqueue blocks when the queue is full (backpressure) rather
// than dropping; events are never silently discarded.
type Queue struct {
	ch chan models.AuditEvent
}

// NewQueue creates a bounded queue.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Queue{ch: make(chan models.AuditEvent, capacity)}
}

// Enqueue pushes an event, blocking until space is available or the context
// is cancelled. The wait is recorded so saturation shows up in metrics.
func (q *Queue) Enqueue(ctx context.Context, ev models.AuditEvent) error {
	start := time.Now()
	select {
	case q.ch <- ev:
		metrics.CaptureQueueWait.Observe(time.Since(start).Seconds())
		metrics.CaptureQueueSize.Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		return ErrShutdown
	}
}

// Dequeue pops the next event. It returns ok=false after a short poll
// timeout so worker loops can observe shutdown between events.
func (q *Queue) Dequeue(ctx context.Context) (models.AuditEvent, bool) {
	timer := time.NewTimer(dequeuePollTimeout)
	defer timer.Stop()

	select {
	case ev := <-q.ch:
		metrics.CaptureQueueSize.Set(float64(len(q.ch)))
		return ev, true
	case <-timer.C:
		return models.AuditEvent{}, false
	case <-ctx.Done():
		return models.AuditEvent{}, false
	}
}

// TryDequeue pops without waiting. Used by the drain path on shutdown.
func (q *Queue) TryDequeue() (models.AuditEvent, bool) {
	select {
	case ev := <-q.ch:
		metrics.CaptureQueueSize.Set(float64(len(q.ch)))
		return ev, true
	default:
		return models.AuditEvent{}, false
	}
}

// Len returns the current queue depth.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// FillRatio returns depth/capacity in [0,1].
func (q *Queue) FillRatio() float64 {
	return float64(len(q.ch)) / float64(cap(q.ch))
}
