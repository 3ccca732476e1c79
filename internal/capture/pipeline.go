// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// entry pairs a capture record with the event payload it tracks. The payload
// is retained until the record reaches a terminal state so retries can
// re-process it.
type entry struct {
	record CaptureRecord
	event  models.AuditEvent
}

// Manager owns the capture pipeline: source listeners feeding a bounded
// queue, processor workers, and the periodic validation and retry sweeps.
type Manager struct {
	cfg        config.CaptureConfig
	queue      *Queue
	sink       Sink
	tracker    *RateTracker
	validators []EventValidator

	mu      sync.Mutex
	records map[string]*entry
	failed  []*CaptureRecord // ring of permanently failed records
	sources []Source

	// listener liveness, keyed by source name
	listenerMu   sync.Mutex
	lastPollOK   map[string]time.Time
	lastPollAt   map[string]time.Time
	liveWorkers  atomic.Int64
	totalWorkers atomic.Int64

	retries            atomic.Int64
	validationFailures atomic.Int64
}

// NewManager creates a capture pipeline. Sources are registered before Run.
func NewManager(cfg config.CaptureConfig, sink Sink) *Manager {
	return &Manager{
		cfg:        cfg,
		queue:      NewQueue(cfg.QueueCapacity),
		sink:       sink,
		tracker:    NewRateTracker(cfg.CaptureAlertThreshold),
		validators: defaultValidators(),
		records:    make(map[string]*entry),
		lastPollOK: make(map[string]time.Time),
		lastPollAt: make(map[string]time.Time),
	}
}

// RegisterSource adds a source to poll. Must be called before Run.
func (m *Manager) RegisterSource(src Source) {
	m.mu.Lock()
	m.sources = append(m.sources, src)
	m.mu.Unlock()
	logging.Info().Str("source", src.Name()).Msg("registered capture source")
}

// Enqueue normalizes an event, creates its PENDING capture record, and pushes
// it onto the bounded queue. Blocks under backpressure; returns ErrShutdown
// if the context is cancelled while waiting.
func (m *Manager) Enqueue(ctx context.Context, ev models.AuditEvent) error {
	normalize(&ev)

	now := time.Now()
	m.mu.Lock()
	m.records[ev.ID] = &entry{
		record: CaptureRecord{
			EventID:   ev.ID,
			Source:    string(ev.Source),
			Timestamp: now,
			Status:    StatusPending,
		},
		event: ev,
	}
	m.mu.Unlock()

	if err := m.queue.Enqueue(ctx, ev); err != nil {
		return err
	}
	metrics.EventsCaptured.WithLabelValues(string(ev.Source), "pending", ev.TenantID).Inc()
	return nil
}

// normalize fills in the canonical defaults a source adaptor may omit.
func normalize(ev *models.AuditEvent) {
	if ev.SchemaVersion == 0 {
		ev.SchemaVersion = models.SchemaVersion
	}
	if ev.Source == "" {
		ev.Source = models.SourceAuditLog
	}
}

// Run starts all workers and blocks until the context is cancelled, then
// drains the queue best-effort before returning.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	m.mu.Lock()
	sources := make([]Source, len(m.sources))
	copy(sources, m.sources)
	m.mu.Unlock()

	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			m.listenLoop(ctx, src)
		}(src)
	}

	procs := m.cfg.Processors
	if procs <= 0 {
		procs = 4
	}
	m.totalWorkers.Store(int64(procs))
	for i := 0; i < procs; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.processLoop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.sweepLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	m.drain()
	return ctx.Err()
}

// listenLoop polls one source on the configured interval.
func (m *Manager) listenLoop(ctx context.Context, src Source) {
	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	since := time.Now().Add(-interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.markPoll(src.Name(), false)
		events, err := src.PollSince(ctx, since)
		if err != nil {
			logging.Error().Err(err).Str("source", src.Name()).Msg("source poll failed")
			continue
		}
		m.markPoll(src.Name(), true)

		for _, ev := range events {
			if ev.Timestamp.After(since) {
				since = ev.Timestamp
			}
			if err := m.Enqueue(ctx, ev); err != nil {
				// Shutdown mid-poll; remaining events stay at the source and
				// will be re-polled on restart.
				return
			}
		}
	}
}

func (m *Manager) markPoll(source string, ok bool) {
	now := time.Now()
	m.listenerMu.Lock()
	m.lastPollAt[source] = now
	if ok {
		m.lastPollOK[source] = now
	}
	m.listenerMu.Unlock()
}

// processLoop consumes the queue until shutdown.
func (m *Manager) processLoop(ctx context.Context, id int) {
	m.liveWorkers.Add(1)
	defer m.liveWorkers.Add(-1)

	logging.Debug().Int("processor", id).Msg("capture processor started")
	for {
		if ctx.Err() != nil {
			return
		}
		ev, ok := m.queue.Dequeue(ctx)
		if !ok {
			continue
		}
		m.process(ev)
	}
}

// process dispatches one event: transitions its record to CAPTURED, or to
// FAILED with the error recorded. Validation happens in the periodic sweep
// so a failing validator chain never blocks the queue.
func (m *Manager) process(ev models.AuditEvent) {
	start := time.Now()
	defer metrics.ObserveCaptureProcessing(string(ev.Source), start)

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[ev.ID]
	if !ok {
		// Record evicted between enqueue and dequeue; re-create so the event
		// is still accounted for.
		e = &entry{event: ev, record: CaptureRecord{
			EventID: ev.ID, Source: string(ev.Source), Timestamp: now,
		}}
		m.records[ev.ID] = e
	}

	e.record.Attempts++
	e.record.LastAttempt = &now

	if err := dispatch(&ev); err != nil {
		e.record.Status = StatusFailed
		e.record.Error = err.Error()
		logging.Warn().Err(err).Str("event_id", ev.ID).Str("source", string(ev.Source)).
			Msg("capture processing failed")
		return
	}

	e.record.Status = StatusCaptured
	e.record.Error = ""
	metrics.EventsCaptured.WithLabelValues(string(ev.Source), "captured", ev.TenantID).Inc()
}

// dispatch runs source-specific handling. All current sources normalize into
// the canonical shape at the adaptor, so this only rejects payloads the
// pipeline cannot track.
func dispatch(ev *models.AuditEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("event without id cannot be tracked")
	}
	return nil
}

// sweepLoop runs the validation and retry sweeps on the configured interval.
func (m *Manager) sweepLoop(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ValidateSweep(ctx)
			m.RetrySweep(ctx)
		}
	}
}

// ValidateSweep validates every CAPTURED record. Passing records become
// VALIDATED, get their integrity hash, are handed to the sink, and are
// archived. Any validator failure marks the record FAILED.
func (m *Manager) ValidateSweep(ctx context.Context) {
	m.mu.Lock()
	var captured []*entry
	for _, e := range m.records {
		if e.record.Status == StatusCaptured {
			captured = append(captured, e)
		}
	}
	m.mu.Unlock()

	for _, e := range captured {
		m.validateOne(ctx, e)
	}
}

func (m *Manager) validateOne(ctx context.Context, e *entry) {
	ev := e.event
	for _, v := range m.validators {
		if err := v(&ev); err != nil {
			m.mu.Lock()
			e.record.Status = StatusFailed
			e.record.Error = err.Error()
			m.mu.Unlock()
			m.validationFailures.Add(1)
			metrics.CaptureValidationFailures.WithLabelValues(string(ev.Source), "schema").Inc()
			logging.Warn().Err(err).Str("event_id", ev.ID).Msg("event failed validation")
			return
		}
	}

	hash := ValidationHash(ev)
	m.mu.Lock()
	e.record.Status = StatusValidated
	e.record.ValidationHash = hash
	m.mu.Unlock()

	metrics.EventsCaptured.WithLabelValues(string(ev.Source), "validated", ev.TenantID).Inc()
	m.tracker.RecordCaptured(string(ev.Source))

	if m.sink != nil {
		if err := m.sink.Publish(ctx, ev); err != nil {
			logging.Error().Err(err).Str("event_id", ev.ID).Msg("failed to publish validated event")
		}
	}

	// Validated records are accounted for; drop the payload.
	m.mu.Lock()
	delete(m.records, ev.ID)
	m.mu.Unlock()
}

// RetrySweep requeues FAILED records that still have retry budget and whose
// retry delay has elapsed. Records out of budget become permanently failed
// and move to the bounded failed list.
func (m *Manager) RetrySweep(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var retries []models.AuditEvent
	for id, e := range m.records {
		if e.record.Status != StatusFailed {
			continue
		}
		if e.record.Attempts >= m.maxAttempts() {
			m.failPermanentlyLocked(id, e)
			continue
		}
		if e.record.LastAttempt != nil && now.Sub(*e.record.LastAttempt) < m.retryDelay() {
			continue
		}
		e.record.Status = StatusRetry
		retries = append(retries, e.event)
	}
	m.mu.Unlock()

	for _, ev := range retries {
		m.retries.Add(1)
		metrics.CaptureRetries.Inc()
		if err := m.queue.Enqueue(ctx, ev); err != nil {
			return
		}
	}
}

func (m *Manager) maxAttempts() int {
	if m.cfg.MaxRetryAttempts <= 0 {
		return 3
	}
	return m.cfg.MaxRetryAttempts
}

func (m *Manager) retryDelay() time.Duration {
	if m.cfg.RetryDelay <= 0 {
		return 30 * time.Second
	}
	return m.cfg.RetryDelay
}

// failPermanentlyLocked moves a record to the failed ring; caller holds mu.
func (m *Manager) failPermanentlyLocked(id string, e *entry) {
	rec := e.record
	delete(m.records, id)

	m.failed = append(m.failed, &rec)
	ringSize := m.cfg.FailedRingSize
	if ringSize <= 0 {
		ringSize = 1000
	}
	if n := len(m.failed); n > ringSize {
		m.failed = m.failed[n-ringSize:]
	}

	metrics.EventsCaptured.WithLabelValues(rec.Source, "failed", e.event.TenantID).Inc()
	m.tracker.RecordFailed(rec.Source)
	logging.Error().Str("event_id", rec.EventID).Str("source", rec.Source).
		Int("attempts", rec.Attempts).Str("error", rec.Error).
		Msg("event permanently failed after retries")
}

// drain empties the queue best-effort on shutdown so queued events are at
// least recorded as pending work, never silently lost.
func (m *Manager) drain() {
	drained := 0
	for {
		ev, ok := m.queue.TryDequeue()
		if !ok {
			break
		}
		m.process(ev)
		drained++
	}
	if drained > 0 {
		logging.Info().Int("drained", drained).Msg("drained capture queue on shutdown")
	}
}

// Record returns the capture record for an event ID.
func (m *Manager) Record(id string) (CaptureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.records[id]; ok {
		return e.record, nil
	}
	for _, rec := range m.failed {
		if rec.EventID == id {
			return *rec, nil
		}
	}
	return CaptureRecord{}, ErrUnknownEvent
}

// FailedEvents returns the permanently failed records, oldest first.
func (m *Manager) FailedEvents() []CaptureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CaptureRecord, len(m.failed))
	for i, rec := range m.failed {
		out[i] = *rec
	}
	return out
}

// Stats summarizes pipeline state for the operator surface.
type Stats struct {
	Total              int64   `json:"total"`
	Captured           int64   `json:"captured"`
	Failed             int64   `json:"failed"`
	Retries            int64   `json:"retries"`
	ValidationFailures int64   `json:"validation_failures"`
	InFlight           int     `json:"in_flight"`
	PermanentlyFailed  int     `json:"permanently_failed"`
	QueueDepth         int     `json:"queue_depth"`
	QueueFillRatio     float64 `json:"queue_fill_ratio"`
	GlobalCaptureRate  float64 `json:"global_capture_rate"`
	LiveProcessorRatio float64 `json:"live_processor_ratio"`
}

// Stats returns a snapshot of pipeline counters.
func (m *Manager) Stats() Stats {
	rs := m.tracker.Stats()

	m.mu.Lock()
	inFlight := len(m.records)
	failed := len(m.failed)
	m.mu.Unlock()

	live := 1.0
	if total := m.totalWorkers.Load(); total > 0 {
		live = float64(m.liveWorkers.Load()) / float64(total)
	}

	return Stats{
		Total:              rs.Total,
		Captured:           rs.Captured,
		Failed:             rs.Failed,
		Retries:            m.retries.Load(),
		ValidationFailures: m.validationFailures.Load(),
		InFlight:           inFlight,
		PermanentlyFailed:  failed,
		QueueDepth:         m.queue.Len(),
		QueueFillRatio:     m.queue.FillRatio(),
		GlobalCaptureRate:  rs.GlobalRate,
		LiveProcessorRatio: live,
	}
}

// RateStats exposes the capture-rate snapshot.
func (m *Manager) RateStats() RateStats {
	return m.tracker.Stats()
}
