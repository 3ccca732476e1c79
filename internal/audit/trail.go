// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package audit keeps the append-only compliance trail of detected security
// events and their resolutions, mirrored to the structured log.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
)

// writeBuffer bounds asynchronously queued writes. Writes beyond the buffer
// fall back to the log mirror only, so the detection loop never blocks on
// the trail.
const writeBuffer = 1024

// Trail is the DuckDB-backed security event record. It shares the history
// store's database handle.
type Trail struct {
	db     *sql.DB
	writes chan *detection.SecurityEvent
}

// New creates the trail and its table.
func New(ctx context.Context, db *sql.DB) (*Trail, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS security_events (
    event_id         VARCHAR PRIMARY KEY,
    event_type       VARCHAR NOT NULL,
    threat_level     VARCHAR NOT NULL,
    tenant_id        VARCHAR NOT NULL,
    user_id          VARCHAR,
    ip_address       VARCHAR,
    ts               TIMESTAMP NOT NULL,
    description      VARCHAR,
    details          VARCHAR,
    resolved         BOOLEAN DEFAULT FALSE,
    resolution_notes VARCHAR,
    resolved_at      TIMESTAMP
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create security_events table: %w", err)
	}
	return &Trail{
		db:     db,
		writes: make(chan *detection.SecurityEvent, writeBuffer),
	}, nil
}

// Write appends one security event synchronously.
func (t *Trail) Write(ctx context.Context, se *detection.SecurityEvent) error {
	details, err := json.Marshal(se.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = t.db.ExecContext(ctx, `
INSERT OR IGNORE INTO security_events
    (event_id, event_type, threat_level, tenant_id, user_id, ip_address, ts, description, details, resolved)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		se.EventID, se.EventType, string(se.ThreatLevel), se.TenantID,
		se.UserID, se.IPAddress, se.Timestamp, se.Description, string(details), se.Resolved)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}

	t.mirror(se)
	return nil
}

// WriteAsync queues a write without blocking. A full buffer drops the
// database write but still mirrors to the log.
func (t *Trail) WriteAsync(se *detection.SecurityEvent) {
	select {
	case t.writes <- se:
	default:
		logging.Warn().Str("event_id", se.EventID).Msg("audit write buffer full, logged only")
		t.mirror(se)
	}
}

// RecordResolution updates the trail when an event is resolved.
func (t *Trail) RecordResolution(ctx context.Context, eventID, notes string, resolvedAt time.Time) error {
	_, err := t.db.ExecContext(ctx, `
UPDATE security_events SET resolved = TRUE, resolution_notes = ?, resolved_at = ? WHERE event_id = ?`,
		notes, resolvedAt, eventID)
	if err != nil {
		return fmt.Errorf("record resolution for %s: %w", eventID, err)
	}
	logging.Info().Str("event_id", eventID).Msg("resolution recorded in audit trail")
	return nil
}

// Run drains the async write queue until the context is cancelled, then
// flushes whatever is already queued.
func (t *Trail) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.flush()
			return ctx.Err()
		case se := <-t.writes:
			if err := t.Write(context.WithoutCancel(ctx), se); err != nil {
				logging.Error().Err(err).Str("event_id", se.EventID).Msg("audit trail write failed")
			}
		}
	}
}

func (t *Trail) flush() {
	for {
		select {
		case se := <-t.writes:
			if err := t.Write(context.Background(), se); err != nil {
				logging.Error().Err(err).Str("event_id", se.EventID).Msg("audit trail flush write failed")
			}
		default:
			return
		}
	}
}

// Count returns how many events the trail holds, optionally per tenant.
func (t *Trail) Count(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	var err error
	if tenantID == "" {
		err = t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`).Scan(&n)
	} else {
		err = t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events WHERE tenant_id = ?`, tenantID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count security events: %w", err)
	}
	return n, nil
}

// mirror writes the structured-log copy of a trail entry.
func (t *Trail) mirror(se *detection.SecurityEvent) {
	logging.Info().
		Str("event_id", se.EventID).
		Str("event_type", se.EventType).
		Str("threat_level", string(se.ThreatLevel)).
		Str("tenant_id", se.TenantID).
		Str("user_id", se.UserID).
		Str("ip_address", se.IPAddress).
		Float64("confidence", se.Details.Confidence).
		Msg("security event recorded")
}
