// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package fastpath runs a latency-bounded subset of threat detection on a
// short polling interval, handing matches directly to the alert engine. It
// trades exhaustiveness for speed: only the cheap detection methods run, and
// already-alerted combinations are suppressed through the two-tier cache.
package fastpath

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/cache"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// checkpointKey stores the last successful scan timestamp in the persistent
// cache tier so a restart resumes where the previous process stopped.
const checkpointKey = "fastpath:last_scan"

// fetchLimit bounds events pulled per tick.
const fetchLimit = 5000

// EventFetcher supplies events newer than a timestamp. Satisfied by the
// history store.
type EventFetcher interface {
	EventsSince(ctx context.Context, since time.Time, limit int) ([]models.AuditEvent, error)
}

// AlertSink receives fast-path threats. Satisfied by the alerting engine.
type AlertSink interface {
	HandleSecurityEvent(ctx context.Context, se *detection.SecurityEvent) error
}

// AuditWriter records threats asynchronously for the compliance trail.
type AuditWriter interface {
	WriteAsync(se *detection.SecurityEvent)
}

// AutoResponder is the external-response capability invoked for HIGH and
// CRITICAL threats (block IP, suspend user). Vigil calls it but does not
// implement it; failures are logged and never stop the scan loop.
type AutoResponder interface {
	Respond(ctx context.Context, se *detection.SecurityEvent) error
}

// seenCapacity bounds the in-process dedup LRU.
const seenCapacity = 10000

// Monitor is the real-time scan loop.
type Monitor struct {
	cfg       config.FastPathConfig
	cache     *cache.Tiered
	seen      *cache.LRUCache
	fetch     EventFetcher
	sink      AlertSink
	audit     AuditWriter
	responder AutoResponder

	signatures []*detection.Signature
	detectors  map[detection.Method]detection.Detector

	mu              sync.Mutex
	scans           int64
	eventsProcessed int64
	threatsDetected int64
	totalDuration   time.Duration
	maxDuration     time.Duration
	lastScan        time.Time
}

// NewMonitor creates a fast-path monitor restricted to the cheap detection
// methods (pattern matching and threshold grouping).
func NewMonitor(cfg config.FastPathConfig, tiered *cache.Tiered, fetch EventFetcher, sink AlertSink, audit AuditWriter, responder AutoResponder) *Monitor {
	var fast []*detection.Signature
	for _, sig := range detection.BuiltinSignatures() {
		switch sig.Method {
		case detection.MethodRuleBased, detection.MethodStatistical:
			fast = append(fast, sig)
		}
	}

	ttl := cfg.AlertTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Monitor{
		cfg:        cfg,
		cache:      tiered,
		seen:       cache.NewLRUCache(seenCapacity, ttl),
		fetch:      fetch,
		sink:       sink,
		audit:      audit,
		responder:  responder,
		signatures: fast,
		detectors: map[detection.Method]detection.Detector{
			detection.MethodRuleBased:   detection.NewRuleBasedDetector(),
			detection.MethodStatistical: detection.NewStatisticalDetector(),
		},
	}
}

// Run drives the scan loop. A tick is skipped, not parallelized, when the
// previous scan is still running: Scan executes on the loop goroutine and
// the ticker drops intermediate ticks.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.cfg.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Scan(ctx); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Msg("fast-path scan failed")
			}
		}
	}
}

// Scan runs one fast-path pass: fetch new events, detect per tenant in
// parallel, suppress already-alerted combinations, dispatch the rest.
func (m *Monitor) Scan(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.FastPathScanDuration.Observe(time.Since(start).Seconds())
	}()

	since := m.loadCheckpoint(start)
	events, err := m.fetch.EventsSince(ctx, since, fetchLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		m.record(start, 0, 0)
		return nil
	}

	byTenant := make(map[string][]models.AuditEvent)
	checkpoint := since
	for _, ev := range events {
		byTenant[ev.TenantID] = append(byTenant[ev.TenantID], ev)
		if ev.Timestamp.After(checkpoint) {
			checkpoint = ev.Timestamp
		}
	}

	var (
		wg       sync.WaitGroup
		resultMu sync.Mutex
		threats  []*detection.SecurityEvent
	)
	for tenant, batch := range byTenant {
		wg.Add(1)
		go func(tenant string, batch []models.AuditEvent) {
			defer wg.Done()
			found := m.detectTenant(ctx, batch)
			if len(found) > 0 {
				resultMu.Lock()
				threats = append(threats, found...)
				resultMu.Unlock()
			}
		}(tenant, batch)
	}
	wg.Wait()

	dispatched := 0
	for _, se := range threats {
		if m.alreadyAlerted(se) {
			continue
		}
		dispatched++
		m.dispatch(ctx, se)
	}

	m.saveCheckpoint(checkpoint)
	m.record(start, len(events), dispatched)

	if dispatched > 0 {
		logging.Info().Int("events", len(events)).Int("threats", dispatched).
			Dur("duration", time.Since(start)).Msg("fast-path scan dispatched threats")
	}
	return nil
}

// detectTenant runs the fast signatures in parallel over one tenant's batch.
func (m *Monitor) detectTenant(ctx context.Context, batch []models.AuditEvent) []*detection.SecurityEvent {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		out []*detection.SecurityEvent
	)
	for _, sig := range m.signatures {
		detector := m.detectors[sig.Method]
		wg.Add(1)
		go func(sig *detection.Signature) {
			defer wg.Done()
			found, err := detector.Detect(ctx, sig, batch)
			if err != nil {
				logging.Warn().Err(err).Str("signature", sig.ID).Msg("fast-path signature failed")
				return
			}
			if len(found) > 0 {
				mu.Lock()
				out = append(out, found...)
				mu.Unlock()
			}
		}(sig)
	}
	wg.Wait()
	return out
}

// alreadyAlerted checks and sets the dedup key for a threat combination.
// The bounded LRU answers repeats within this process; the tiered cache
// backs it so dedup state survives a restart.
func (m *Monitor) alreadyAlerted(se *detection.SecurityEvent) bool {
	key := cache.GenerateKey("fastalert", se.EventType, se.TenantID, se.UserID, se.IPAddress)
	if m.seen.Contains(key) {
		metrics.FastPathCacheHits.Inc()
		return true
	}
	if _, ok := m.cache.Get(key); ok {
		metrics.FastPathCacheHits.Inc()
		m.seen.Add(key, time.Now())
		return true
	}
	metrics.FastPathCacheMisses.Inc()

	ttl := m.cfg.AlertTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	m.seen.Add(key, time.Now())
	if err := m.cache.SetWithTTL(key, []byte("1"), ttl); err != nil {
		logging.Warn().Err(err).Msg("fast-path dedup cache write failed")
	}
	return false
}

// dispatch hands one threat to the alert engine, the audit trail, and the
// auto-responder when applicable.
func (m *Monitor) dispatch(ctx context.Context, se *detection.SecurityEvent) {
	if err := m.sink.HandleSecurityEvent(ctx, se); err != nil {
		logging.Error().Err(err).Str("event_id", se.EventID).Msg("fast-path alert dispatch failed")
	}
	if m.audit != nil {
		m.audit.WriteAsync(se)
	}
	if m.cfg.AutoResponse && m.responder != nil && se.ThreatLevel.AtLeast(detection.LevelHigh) {
		if err := m.responder.Respond(ctx, se); err != nil {
			logging.Error().Err(err).Str("event_id", se.EventID).
				Str("threat_level", string(se.ThreatLevel)).Msg("auto-response failed")
		}
	}
}

// loadCheckpoint reads the persisted last-scan timestamp, falling back to
// one scan interval before now on first run or parse failure.
func (m *Monitor) loadCheckpoint(now time.Time) time.Time {
	if raw, ok := m.cache.Get(checkpointKey); ok {
		if ts, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
			return ts
		}
	}
	interval := m.cfg.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return now.Add(-interval)
}

func (m *Monitor) saveCheckpoint(ts time.Time) {
	if err := m.cache.SetPersistent(checkpointKey, []byte(ts.UTC().Format(time.RFC3339Nano))); err != nil {
		logging.Warn().Err(err).Msg("fast-path checkpoint write failed")
	}
}

func (m *Monitor) record(start time.Time, events, threats int) {
	d := time.Since(start)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	m.eventsProcessed += int64(events)
	m.threatsDetected += int64(threats)
	m.totalDuration += d
	if d > m.maxDuration {
		m.maxDuration = d
	}
	m.lastScan = start
}

// SLAStats reports fast-path performance for health surfaces.
type SLAStats struct {
	Scans             int64         `json:"scans"`
	EventsProcessed   int64         `json:"events_processed"`
	ThreatsDetected   int64         `json:"threats_detected"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	MaxProcessingTime time.Duration `json:"max_processing_time"`
	CacheHitRate      float64       `json:"cache_hit_rate"`
	Grade             string        `json:"grade"`
	LastScan          time.Time     `json:"last_scan"`
}

// Stats returns a snapshot of scan performance with its SLA grade.
func (m *Monitor) Stats() SLAStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if m.scans > 0 {
		avg = m.totalDuration / time.Duration(m.scans)
	}

	cs := m.cache.LocalStats()
	hitRate := 0.0
	if total := cs.Hits + cs.Misses; total > 0 {
		hitRate = float64(cs.Hits) / float64(total)
	}

	return SLAStats{
		Scans:             m.scans,
		EventsProcessed:   m.eventsProcessed,
		ThreatsDetected:   m.threatsDetected,
		AvgProcessingTime: avg,
		MaxProcessingTime: m.maxDuration,
		CacheHitRate:      hitRate,
		Grade:             GradeFor(avg),
		LastScan:          m.lastScan,
	}
}

// GradeFor maps average scan time to an SLA grade.
func GradeFor(avg time.Duration) string {
	switch {
	case avg < time.Second:
		return "A+"
	case avg < 2*time.Second:
		return "A"
	case avg < 5*time.Second:
		return "B"
	case avg <= 10*time.Second:
		return "C"
	default:
		return "D"
	}
}
