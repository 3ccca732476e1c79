// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package history provides the embedded DuckDB event history store. Validated
// events land here after capture; the store serves windowed queries for the
// fast path and trailing aggregates for behavior baselines.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/models"
)

// Store is the DuckDB-backed event history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path. An empty path opens
// an in-memory database, used in tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// DB exposes the underlying handle so the audit trail can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// createTables creates the events table if it does not exist.
func (s *Store) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			source TEXT NOT NULL,
			user_id TEXT,
			ip_address TEXT,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT,
			timestamp TIMESTAMPTZ NOT NULL,
			status TEXT,
			export_bytes BIGINT,
			details JSON
		)`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}

// InsertEvents appends a batch of validated events. Duplicate IDs are
// ignored so a retried capture never double-counts.
func (s *Store) InsertEvents(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events
			(id, tenant_id, source, user_id, ip_address, action,
			 resource_type, resource_id, timestamp, status, export_bytes, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details for %s: %w", e.ID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			e.ID, e.TenantID, string(e.Source), e.UserID, e.IPAddress,
			e.Action, e.ResourceType, e.ResourceID, e.Timestamp,
			string(e.Details.Status), e.Details.ExportBytes, string(details),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// EventsSince returns events with timestamp strictly after since, oldest
// first, up to limit.
func (s *Store) EventsSince(ctx context.Context, since time.Time, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, source, user_id, ip_address, action,
		       resource_type, resource_id, timestamp, details::VARCHAR
		FROM events
		WHERE timestamp > ?
		ORDER BY timestamp ASC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents reads event rows into canonical events.
func scanEvents(rows *sql.Rows) ([]models.AuditEvent, error) {
	var events []models.AuditEvent

	for rows.Next() {
		var e models.AuditEvent
		var source, details string
		var userID, ipAddress, resourceID sql.NullString

		if err := rows.Scan(&e.ID, &e.TenantID, &source, &userID, &ipAddress,
			&e.Action, &e.ResourceType, &resourceID, &e.Timestamp, &details); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Source = models.Source(source)
		e.UserID = userID.String
		e.IPAddress = ipAddress.String
		e.ResourceID = resourceID.String

		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details for %s: %w", e.ID, err)
			}
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// BaselineStats is a (mean, stddev) pair computed over a trailing window.
type BaselineStats struct {
	Mean   float64
	StdDev float64
	Days   int // number of distinct days with activity in the window
}

// DailyActionStats computes the mean and population standard deviation of a
// user's daily action counts over the trailing window.
func (s *Store) DailyActionStats(ctx context.Context, tenantID, userID string, window time.Duration) (BaselineStats, error) {
	return s.dailyStats(ctx, `
		SELECT COALESCE(AVG(n), 0), COALESCE(STDDEV_POP(n), 0), COUNT(*) FROM (
			SELECT DATE_TRUNC('day', timestamp) AS day, COUNT(*) AS n
			FROM events
			WHERE tenant_id = ? AND user_id = ? AND timestamp > ?
			GROUP BY day
		)`, tenantID, userID, window)
}

// DailyExportStats computes the mean and population standard deviation of a
// user's daily export volume (bytes) over the trailing window.
func (s *Store) DailyExportStats(ctx context.Context, tenantID, userID string, window time.Duration) (BaselineStats, error) {
	return s.dailyStats(ctx, `
		SELECT COALESCE(AVG(n), 0), COALESCE(STDDEV_POP(n), 0), COUNT(*) FROM (
			SELECT DATE_TRUNC('day', timestamp) AS day, SUM(export_bytes) AS n
			FROM events
			WHERE tenant_id = ? AND user_id = ? AND timestamp > ?
			  AND action IN ('EXPORT', 'DOWNLOAD', 'BULK_READ')
			GROUP BY day
		)`, tenantID, userID, window)
}

func (s *Store) dailyStats(ctx context.Context, query, tenantID, userID string, window time.Duration) (BaselineStats, error) {
	var stats BaselineStats
	cutoff := time.Now().Add(-window)

	row := s.db.QueryRowContext(ctx, query, tenantID, userID, cutoff)
	if err := row.Scan(&stats.Mean, &stats.StdDev, &stats.Days); err != nil {
		return BaselineStats{}, fmt.Errorf("daily stats: %w", err)
	}

	return stats, nil
}

// ActiveUsers returns the distinct (tenant, user) pairs with any activity in
// the trailing window, for baseline recomputation.
func (s *Store) ActiveUsers(ctx context.Context, window time.Duration) ([][2]string, error) {
	cutoff := time.Now().Add(-window)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id, user_id
		FROM events
		WHERE timestamp > ? AND user_id IS NOT NULL AND user_id <> ''`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users [][2]string
	for rows.Next() {
		var tenant, user string
		if err := rows.Scan(&tenant, &user); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		users = append(users, [2]string{tenant, user})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active users: %w", err)
	}

	return users, nil
}

// Prune deletes events older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // duckdb reports affected rows best-effort
	}
	return n, nil
}
