// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func historyEvent(id, user string, ts time.Time) models.AuditEvent {
	return models.AuditEvent{
		SchemaVersion: models.SchemaVersion,
		ID:            id,
		TenantID:      "tenant-a",
		Source:        models.SourceAuditLog,
		UserID:        user,
		IPAddress:     "203.0.113.5",
		Action:        "READ",
		ResourceType:  "document",
		Timestamp:     ts,
		Details:       models.EventDetails{Status: models.StatusSuccess},
	}
}

func TestInsertAndQuerySince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	var batch []models.AuditEvent
	for i := 0; i < 5; i++ {
		batch = append(batch, historyEvent(fmt.Sprintf("ev-%d", i), "alice", base.Add(time.Duration(i)*time.Minute)))
	}
	if err := s.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	got, err := s.EventsSince(ctx, base.Add(90*time.Second), 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	// Oldest first.
	if got[0].ID != "ev-2" || got[2].ID != "ev-4" {
		t.Fatalf("order = %s..%s, want ev-2..ev-4", got[0].ID, got[2].ID)
	}
	if got[0].UserID != "alice" || got[0].IPAddress != "203.0.113.5" {
		t.Fatalf("actor fields lost: %+v", got[0])
	}
	if got[0].Details.Status != models.StatusSuccess {
		t.Fatalf("details lost: %+v", got[0].Details)
	}
}

func TestInsertIgnoresDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := historyEvent("ev-dup", "alice", now)
	if err := s.InsertEvents(ctx, []models.AuditEvent{ev}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertEvents(ctx, []models.AuditEvent{ev}); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	got, err := s.EventsSince(ctx, now.Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
}

func TestInsertEmptyBatchIsNoOp(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertEvents(context.Background(), nil); err != nil {
		t.Fatalf("empty insert: %v", err)
	}
}

func TestDailyActionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	// Anchor at noon so per-day buckets never straddle midnight.
	noon := time.Now().UTC().Truncate(24 * time.Hour).Add(12 * time.Hour)

	// Three days of activity: 2, 4, and 6 events.
	var batch []models.AuditEvent
	id := 0
	for day, n := range map[int]int{1: 2, 2: 4, 3: 6} {
		for i := 0; i < n; i++ {
			ts := noon.Add(-time.Duration(day) * 24 * time.Hour).Add(time.Duration(i) * time.Minute)
			batch = append(batch, historyEvent(fmt.Sprintf("ev-%d", id), "alice", ts))
			id++
		}
	}
	if err := s.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	stats, err := s.DailyActionStats(ctx, "tenant-a", "alice", 14*24*time.Hour)
	if err != nil {
		t.Fatalf("DailyActionStats: %v", err)
	}
	if stats.Days != 3 {
		t.Fatalf("Days = %d, want 3", stats.Days)
	}
	if stats.Mean != 4.0 {
		t.Fatalf("Mean = %v, want 4", stats.Mean)
	}
	// Population stddev of {2,4,6}.
	if stats.StdDev < 1.6 || stats.StdDev > 1.7 {
		t.Fatalf("StdDev = %v, want ~1.633", stats.StdDev)
	}

	// Unknown user has no history.
	empty, err := s.DailyActionStats(ctx, "tenant-a", "nobody", 14*24*time.Hour)
	if err != nil {
		t.Fatalf("DailyActionStats empty: %v", err)
	}
	if empty.Days != 0 || empty.Mean != 0 {
		t.Fatalf("empty stats = %+v", empty)
	}
}

func TestDailyExportStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := historyEvent("exp-1", "mallory", now.Add(-24*time.Hour))
	ev.Action = "EXPORT"
	ev.Details.ExportBytes = 1 << 20
	reads := historyEvent("read-1", "mallory", now.Add(-24*time.Hour))

	if err := s.InsertEvents(ctx, []models.AuditEvent{ev, reads}); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	stats, err := s.DailyExportStats(ctx, "tenant-a", "mallory", 14*24*time.Hour)
	if err != nil {
		t.Fatalf("DailyExportStats: %v", err)
	}
	if stats.Days != 1 {
		t.Fatalf("Days = %d, want 1", stats.Days)
	}
	if stats.Mean != float64(1<<20) {
		t.Fatalf("Mean = %v, want %d (reads must not count)", stats.Mean, 1<<20)
	}
}

func TestActiveUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.AuditEvent{
		historyEvent("ev-1", "alice", now.Add(-time.Hour)),
		historyEvent("ev-2", "bob", now.Add(-time.Hour)),
		historyEvent("ev-3", "", now.Add(-time.Hour)),            // userless: skipped
		historyEvent("ev-4", "carol", now.Add(-40*24*time.Hour)), // outside window
	}
	if err := s.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	users, err := s.ActiveUsers(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("ActiveUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2: %v", len(users), users)
	}
	seen := map[string]bool{}
	for _, u := range users {
		if u[0] != "tenant-a" {
			t.Fatalf("tenant = %s", u[0])
		}
		seen[u[1]] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("users = %v", users)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.AuditEvent{
		historyEvent("old-1", "alice", now.Add(-60*24*time.Hour)),
		historyEvent("old-2", "alice", now.Add(-45*24*time.Hour)),
		historyEvent("new-1", "alice", now.Add(-time.Hour)),
	}
	if err := s.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	pruned, err := s.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned %d, want 2", pruned)
	}

	left, err := s.EventsSince(ctx, now.Add(-90*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(left) != 1 || left[0].ID != "new-1" {
		t.Fatalf("remaining = %v", left)
	}
}
