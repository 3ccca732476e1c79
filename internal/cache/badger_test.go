// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package cache

import (
	"testing"
	"time"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStoreInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerSetGet(t *testing.T) {
	s := newTestBadger(t)

	if err := s.Set("checkpoint", []byte("2026-08-29T12:00:00Z")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := s.Get("checkpoint")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(v) != "2026-08-29T12:00:00Z" {
		t.Fatalf("got %q", v)
	}

	if _, ok, err := s.Get("absent"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v, want false/nil", ok, err)
	}
}

func TestBadgerTTLExpiry(t *testing.T) {
	s := newTestBadger(t)

	if err := s.SetWithTTL("flash", []byte("x"), time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, ok, err := s.Get("flash"); err != nil || ok {
		t.Fatalf("expired key: ok=%v err=%v, want false/nil", ok, err)
	}
}

func TestBadgerDelete(t *testing.T) {
	s := newTestBadger(t)

	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Fatal("deleted key still present")
	}

	// Deleting a missing key is a no-op.
	if err := s.Delete("never-existed"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestTieredPersistentPromotion(t *testing.T) {
	s := newTestBadger(t)
	local := New(time.Minute)
	tc := NewTiered(local, s, time.Minute)

	if err := tc.Set("k", []byte("payload")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Simulate a restart losing the local tier.
	local.Clear()

	b, ok := tc.Get("k")
	if !ok || string(b) != "payload" {
		t.Fatalf("persistent fallback: ok=%v value=%q", ok, b)
	}

	// The hit should have repopulated the local tier.
	if v, ok := local.Get("k"); !ok || string(v.([]byte)) != "payload" {
		t.Fatal("value not promoted to local tier")
	}
}
