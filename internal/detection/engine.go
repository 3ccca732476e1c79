// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/behavior"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// SignatureMetrics tracks one signature's performance inside the engine.
type SignatureMetrics struct {
	BatchesChecked  int64
	EventsGenerated int64
	Errors          int64
	LastTriggeredAt *time.Time
}

// EngineMetrics is a point-in-time snapshot of engine performance.
type EngineMetrics struct {
	EventsProcessed int64                        `json:"events_processed"`
	ThreatsDetected int64                        `json:"threats_detected"`
	DetectionErrors int64                        `json:"detection_errors"`
	LastProcessedAt time.Time                    `json:"last_processed_at"`
	PerSignature    map[string]*SignatureMetrics `json:"per_signature"`
}

// metricsState is the engine's mutable metrics accumulator.
type metricsState struct {
	mu              sync.RWMutex
	eventsProcessed int64
	threatsDetected int64
	detectionErrors int64
	lastProcessedAt time.Time
	perSignature    map[string]*SignatureMetrics
}

// Engine coordinates signature evaluation over event batches.
// One batch fans out to every registered signature in parallel; candidates
// are ranked by confidence and deduplicated before they leave the engine.
type Engine struct {
	detectors  map[Method]Detector
	signatures []*Signature
	profiles   *behavior.Store
	store      *Store

	metricsStore *metricsState
}

// NewEngine creates a detection engine. The profile store feeds behavioral
// detectors and is updated incrementally with every processed batch.
func NewEngine(profiles *behavior.Store, store *Store) *Engine {
	e := &Engine{
		detectors:  make(map[Method]Detector),
		signatures: BuiltinSignatures(),
		profiles:   profiles,
		store:      store,
		metricsStore: &metricsState{
			perSignature: make(map[string]*SignatureMetrics),
		},
	}

	e.RegisterDetector(NewRuleBasedDetector())
	e.RegisterDetector(NewStatisticalDetector())
	e.RegisterDetector(NewBehavioralDetector(profiles))
	e.RegisterDetector(NewHybridDetector(profiles))

	return e
}

// RegisterDetector adds (or replaces) the detector for a method.
func (e *Engine) RegisterDetector(d Detector) {
	e.detectors[d.Method()] = d
	logging.Info().Str("method", string(d.Method())).Msg("registered detector")
}

// SetSignatures replaces the signature set. Intended for startup wiring and
// tests; signatures are immutable once the engine is running.
func (e *Engine) SetSignatures(sigs []*Signature) {
	e.signatures = sigs
	e.metricsStore.mu.Lock()
	e.metricsStore.perSignature = make(map[string]*SignatureMetrics)
	e.metricsStore.mu.Unlock()
}

// signatureResult carries one signature's output across the fan-in.
type signatureResult struct {
	sig    *Signature
	events []*SecurityEvent
	err    error
}

// ProcessBatch runs every signature over the batch in parallel and returns
// the ranked, deduplicated security events. The behavior profiles are
// updated with the batch before detection so the freshest fingerprint is
// available to behavioral checks.
//
// An error inside one signature never aborts the others: it is counted,
// logged, and the remaining results still flow.
func (e *Engine) ProcessBatch(ctx context.Context, events []models.AuditEvent) []*SecurityEvent {
	if len(events) == 0 {
		return nil
	}

	e.profiles.Observe(events)

	results := make(chan signatureResult, len(e.signatures))
	var wg sync.WaitGroup

	for _, sig := range e.signatures {
		detector, ok := e.detectors[sig.Method]
		if !ok {
			logging.Warn().Str("signature", sig.ID).Str("method", string(sig.Method)).
				Msg("no detector registered for method")
			continue
		}

		wg.Add(1)
		go func(sig *Signature, detector Detector) {
			defer wg.Done()
			results <- e.runSignature(ctx, sig, detector, events)
		}(sig, detector)
	}

	wg.Wait()
	close(results)

	var candidates []*SecurityEvent
	for res := range results {
		if res.err != nil {
			e.recordError(res.sig.ID)
			logging.Error().Err(res.err).Str("signature", res.sig.ID).Msg("signature detection failed")
			continue
		}
		candidates = append(candidates, res.events...)
	}

	detected := dedupRank(candidates)

	for _, se := range detected {
		e.store.Add(se)
		metrics.ThreatDetections.WithLabelValues(se.Details.SignatureID, string(se.ThreatLevel), se.TenantID).Inc()
	}

	e.metricsStore.mu.Lock()
	e.metricsStore.eventsProcessed += int64(len(events))
	e.metricsStore.threatsDetected += int64(len(detected))
	e.metricsStore.lastProcessedAt = time.Now()
	e.metricsStore.mu.Unlock()

	return detected
}

// runSignature executes one signature with panic isolation.
func (e *Engine) runSignature(ctx context.Context, sig *Signature, detector Detector, events []models.AuditEvent) (res signatureResult) {
	res.sig = sig
	start := time.Now()
	defer metrics.ObserveDetection(sig.ID, start)

	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("signature %s panicked: %v", sig.ID, r)
			res.events = nil
		}
	}()

	detected, err := detector.Detect(ctx, sig, events)
	if err != nil {
		res.err = fmt.Errorf("signature %s: %w", sig.ID, err)
		return res
	}

	e.metricsStore.mu.Lock()
	sm, ok := e.metricsStore.perSignature[sig.ID]
	if !ok {
		sm = &SignatureMetrics{}
		e.metricsStore.perSignature[sig.ID] = sm
	}
	sm.BatchesChecked++
	sm.EventsGenerated += int64(len(detected))
	if len(detected) > 0 {
		now := time.Now()
		sm.LastTriggeredAt = &now
	}
	e.metricsStore.mu.Unlock()

	res.events = detected
	return res
}

func (e *Engine) recordError(sigID string) {
	metrics.DetectionErrors.WithLabelValues(sigID).Inc()

	e.metricsStore.mu.Lock()
	defer e.metricsStore.mu.Unlock()
	e.metricsStore.detectionErrors++
	sm, ok := e.metricsStore.perSignature[sigID]
	if !ok {
		sm = &SignatureMetrics{}
		e.metricsStore.perSignature[sigID] = sm
	}
	sm.Errors++
}

// dedupRank sorts candidates by confidence descending and drops later
// duplicates sharing (event_type, user_id, ip_address, tenant_id).
func dedupRank(candidates []*SecurityEvent) []*SecurityEvent {
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Details.Confidence > candidates[j].Details.Confidence
	})

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]

	for _, se := range candidates {
		key := se.EventType + "\x00" + se.UserID + "\x00" + se.IPAddress + "\x00" + se.TenantID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, se)
	}

	return out
}

// Metrics returns a copy of the engine metrics.
func (e *Engine) Metrics() EngineMetrics {
	e.metricsStore.mu.RLock()
	defer e.metricsStore.mu.RUnlock()

	perSig := make(map[string]*SignatureMetrics, len(e.metricsStore.perSignature))
	for k, v := range e.metricsStore.perSignature {
		sm := *v
		perSig[k] = &sm
	}

	return EngineMetrics{
		EventsProcessed: e.metricsStore.eventsProcessed,
		ThreatsDetected: e.metricsStore.threatsDetected,
		DetectionErrors: e.metricsStore.detectionErrors,
		LastProcessedAt: e.metricsStore.lastProcessedAt,
		PerSignature:    perSig,
	}
}

// Signatures returns the loaded signature set.
func (e *Engine) Signatures() []*Signature {
	return e.signatures
}
