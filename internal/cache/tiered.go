// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package cache

import (
	"time"
)

// Tiered combines the in-process TTL cache with an optional persistent
// badger tier behind one get/set/expire surface. Reads check the local tier
// first and fall back to the persistent tier, repopulating the local tier on
// a hit. Writes go to both.
//
// The persistent tier is optional: with a nil BadgerStore, Tiered degrades
// to a plain in-process cache.
type Tiered struct {
	local      *Cache
	persistent *BadgerStore
	defaultTTL time.Duration
}

// NewTiered creates a two-tier cache. persistent may be nil.
func NewTiered(local *Cache, persistent *BadgerStore, defaultTTL time.Duration) *Tiered {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Tiered{
		local:      local,
		persistent: persistent,
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a value, checking the local tier first.
func (t *Tiered) Get(key string) ([]byte, bool) {
	if v, ok := t.local.Get(key); ok {
		if b, ok := v.([]byte); ok {
			return b, true
		}
	}

	if t.persistent == nil {
		return nil, false
	}

	b, ok, err := t.persistent.Get(key)
	if err != nil || !ok {
		return nil, false
	}

	// Promote to the local tier.
	t.local.SetWithTTL(key, b, t.defaultTTL)
	return b, true
}

// Set stores a value in both tiers with the default TTL.
func (t *Tiered) Set(key string, value []byte) error {
	return t.SetWithTTL(key, value, t.defaultTTL)
}

// SetWithTTL stores a value in both tiers with a custom TTL.
func (t *Tiered) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	t.local.SetWithTTL(key, value, ttl)
	if t.persistent == nil {
		return nil
	}
	return t.persistent.SetWithTTL(key, value, ttl)
}

// SetPersistent stores a value in both tiers with no expiration in the
// persistent tier. Used for the fast-path scan checkpoint, which must
// survive restarts indefinitely.
func (t *Tiered) SetPersistent(key string, value []byte) error {
	t.local.SetWithTTL(key, value, t.defaultTTL)
	if t.persistent == nil {
		return nil
	}
	return t.persistent.Set(key, value)
}

// Delete removes a key from both tiers.
func (t *Tiered) Delete(key string) error {
	t.local.Delete(key)
	if t.persistent == nil {
		return nil
	}
	return t.persistent.Delete(key)
}

// LocalStats returns statistics for the in-process tier.
func (t *Tiered) LocalStats() Stats {
	return t.local.GetStats()
}

// Close closes the persistent tier, if any.
func (t *Tiered) Close() error {
	if t.persistent == nil {
		return nil
	}
	return t.persistent.Close()
}
