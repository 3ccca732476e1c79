// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

type recordingHistory struct {
	mu      sync.Mutex
	batches [][]models.AuditEvent
	err     error
}

func (h *recordingHistory) InsertEvents(_ context.Context, events []models.AuditEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, events)
	return h.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*SecurityEvent
}

func (p *recordingPublisher) PublishThreat(_ context.Context, se *SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, se)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestBatcherFlushesWhenFull(t *testing.T) {
	history := &recordingHistory{}
	threats := &recordingPublisher{}
	b := NewBatcher(newTestEngine(), history, threats, 12, time.Hour)

	now := time.Now()
	for i := 0; i < 12; i++ {
		ev := failedLogin(string(rune('a'+i)), "203.0.113.5", "admin", now)
		if err := b.Handle(context.Background(), ev); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	if len(history.batches) != 1 || len(history.batches[0]) != 12 {
		t.Fatalf("history got %d batches, want one batch of 12", len(history.batches))
	}
	if threats.count() != 1 {
		t.Fatalf("published %d threats, want 1", threats.count())
	}
	if threats.events[0].EventType != EventTypeBruteForce {
		t.Fatalf("EventType = %s, want %s", threats.events[0].EventType, EventTypeBruteForce)
	}
}

func TestBatcherFlushSkipsEmptyBatch(t *testing.T) {
	history := &recordingHistory{}
	b := NewBatcher(newTestEngine(), history, &recordingPublisher{}, 10, time.Hour)

	b.Flush(context.Background())

	if len(history.batches) != 0 {
		t.Fatalf("empty flush wrote %d batches", len(history.batches))
	}
}

func TestBatcherPartialBatchWaitsForFlush(t *testing.T) {
	history := &recordingHistory{}
	b := NewBatcher(newTestEngine(), history, &recordingPublisher{}, 100, time.Hour)

	ev := failedLogin("ev-1", "203.0.113.5", "admin", time.Now())
	if err := b.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(history.batches) != 0 {
		t.Fatal("partial batch flushed before interval")
	}

	b.Flush(context.Background())
	if len(history.batches) != 1 || len(history.batches[0]) != 1 {
		t.Fatal("manual flush did not drain partial batch")
	}
}

func TestBatcherDetectionProceedsOnHistoryError(t *testing.T) {
	history := &recordingHistory{err: errors.New("disk full")}
	threats := &recordingPublisher{}
	b := NewBatcher(newTestEngine(), history, threats, 12, time.Hour)

	now := time.Now()
	for i := 0; i < 12; i++ {
		ev := failedLogin(string(rune('a'+i)), "203.0.113.5", "admin", now)
		_ = b.Handle(context.Background(), ev)
	}

	if threats.count() != 1 {
		t.Fatalf("history failure suppressed detection: %d threats", threats.count())
	}
}

func TestBatcherRunFlushesOnCancel(t *testing.T) {
	history := &recordingHistory{}
	b := NewBatcher(newTestEngine(), history, &recordingPublisher{}, 100, time.Hour)

	_ = b.Handle(context.Background(), failedLogin("ev-1", "203.0.113.5", "admin", time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunWithContext(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("RunWithContext returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunWithContext did not exit on cancel")
	}

	if len(history.batches) != 1 {
		t.Fatalf("final flush wrote %d batches, want 1", len(history.batches))
	}
}

func TestBatcherDefaults(t *testing.T) {
	b := NewBatcher(newTestEngine(), nil, nil, 0, 0)
	if b.size != 500 {
		t.Fatalf("default size = %d, want 500", b.size)
	}
	if b.interval != 2*time.Second {
		t.Fatalf("default interval = %v, want 2s", b.interval)
	}
}
