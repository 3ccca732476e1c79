// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package capture guarantees every raw event from every configured source is
// enqueued, processed, and validated, with bounded retries and a measurable
// capture rate.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// Capture pipeline errors.
var (
	ErrShutdown     = errors.New("capture pipeline shutting down")
	ErrQueueClosed  = errors.New("capture queue closed")
	ErrUnknownEvent = errors.New("unknown event id")
)

// Status is a CaptureRecord lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCaptured  Status = "CAPTURED"
	StatusValidated Status = "VALIDATED"
	StatusFailed    Status = "FAILED"
	StatusRetry     Status = "RETRY"
)

// CaptureRecord tracks one raw event through the pipeline.
//
// Lifecycle: PENDING -> CAPTURED -> VALIDATED | FAILED -> RETRY -> (CAPTURED|FAILED).
// A FAILED record with attempts >= max_retry_attempts is permanent.
type CaptureRecord struct {
	EventID        string            `json:"event_id"`
	Source         string            `json:"source"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	LastAttempt    *time.Time        `json:"last_attempt,omitempty"`
	Error          string            `json:"error,omitempty"`
	ValidationHash string            `json:"validation_hash,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Source is the poll-since contract every configured event source satisfies.
// Returning an empty slice for no new records is a no-op, not an error.
type Source interface {
	// Name returns the canonical source identifier (models.Source* values).
	Name() string

	// PollSince returns records with timestamps after the given instant.
	PollSince(ctx context.Context, since time.Time) ([]models.AuditEvent, error)
}

// Sink receives validated events for downstream detection.
type Sink interface {
	Publish(ctx context.Context, event models.AuditEvent) error
}

// ValidationHash computes the integrity hash over the stable field subset.
// It exists for audit purposes, not deduplication.
func ValidationHash(ev models.AuditEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		ev.ID, ev.Source, ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.TenantID, ev.UserID)
	return hex.EncodeToString(h.Sum(nil))
}
