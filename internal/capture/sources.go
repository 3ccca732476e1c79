// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// FuncSource adapts a poll function to the Source contract. External feeds
// (audit log, system log, database log, network log) are wired through this
// at startup.
type FuncSource struct {
	name string
	poll func(ctx context.Context, since time.Time) ([]models.AuditEvent, error)
}

// NewFuncSource wraps a poll function as a Source.
func NewFuncSource(name models.Source, poll func(ctx context.Context, since time.Time) ([]models.AuditEvent, error)) *FuncSource {
	return &FuncSource{name: string(name), poll: poll}
}

func (s *FuncSource) Name() string { return s.name }

func (s *FuncSource) PollSince(ctx context.Context, since time.Time) ([]models.AuditEvent, error) {
	return s.poll(ctx, since)
}

// ChannelSource adapts a push feed (the live security monitor) to the
// poll-since contract by buffering pushed events until the next poll.
type ChannelSource struct {
	name string

	mu      sync.Mutex
	pending []models.AuditEvent
}

// NewChannelSource creates a buffering source for push-style feeds.
func NewChannelSource(name models.Source) *ChannelSource {
	return &ChannelSource{name: string(name)}
}

func (s *ChannelSource) Name() string { return s.name }

// Push buffers an event for the next poll.
func (s *ChannelSource) Push(ev models.AuditEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
}

// PollSince drains the buffer. The since argument is ignored: pushed events
// are consumed exactly once.
func (s *ChannelSource) PollSince(_ context.Context, _ time.Time) ([]models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	out := s.pending
	s.pending = nil
	return out, nil
}
