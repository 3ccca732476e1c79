// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package services wraps Vigil's long-running components as suture services.
// Each wrapper depends on a narrow interface rather than the concrete
// package, so supervision stays free of import cycles.
package services

import (
	"context"
	"time"
)

// Runner is the common shape of components that block until cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// IntervalRunner is the shape of components driven on a fixed interval.
type IntervalRunner interface {
	RunWithContext(ctx context.Context, interval time.Duration) error
}

// CaptureService supervises the capture pipeline (listeners, processors,
// and sweep workers). Satisfied by *capture.Manager.
type CaptureService struct {
	pipeline Runner
}

// NewCaptureService wraps the capture pipeline.
func NewCaptureService(pipeline Runner) *CaptureService {
	return &CaptureService{pipeline: pipeline}
}

func (s *CaptureService) Serve(ctx context.Context) error { return s.pipeline.Run(ctx) }
func (s *CaptureService) String() string                  { return "capture-pipeline" }

// BusService supervises the message router. Satisfied by *eventbus.Bus.
type BusService struct {
	bus Runner
}

// NewBusService wraps the event bus router.
func NewBusService(bus Runner) *BusService {
	return &BusService{bus: bus}
}

func (s *BusService) Serve(ctx context.Context) error { return s.bus.Run(ctx) }
func (s *BusService) String() string                  { return "event-bus" }

// DetectionBatcher matches *detection.Batcher.
type DetectionBatcher interface {
	RunWithContext(ctx context.Context) error
}

// DetectionService supervises the detection batch flush loop.
type DetectionService struct {
	batcher DetectionBatcher
}

// NewDetectionService wraps the detection batcher.
func NewDetectionService(batcher DetectionBatcher) *DetectionService {
	return &DetectionService{batcher: batcher}
}

func (s *DetectionService) Serve(ctx context.Context) error { return s.batcher.RunWithContext(ctx) }
func (s *DetectionService) String() string                  { return "detection-batcher" }

// BaselineService supervises periodic behavior-baseline recomputation.
// Satisfied by *behavior.Store.
type BaselineService struct {
	store    IntervalRunner
	interval time.Duration
}

// NewBaselineService wraps the behavior store's recompute loop.
func NewBaselineService(store IntervalRunner, interval time.Duration) *BaselineService {
	return &BaselineService{store: store, interval: interval}
}

func (s *BaselineService) Serve(ctx context.Context) error {
	return s.store.RunWithContext(ctx, s.interval)
}
func (s *BaselineService) String() string { return "behavior-baselines" }

// ThreatStoreService supervises active security event expiry.
// Satisfied by *detection.Store.
type ThreatStoreService struct {
	store    IntervalRunner
	interval time.Duration
}

// NewThreatStoreService wraps the threat store's expiry sweep.
func NewThreatStoreService(store IntervalRunner, interval time.Duration) *ThreatStoreService {
	return &ThreatStoreService{store: store, interval: interval}
}

func (s *ThreatStoreService) Serve(ctx context.Context) error {
	return s.store.RunWithContext(ctx, s.interval)
}
func (s *ThreatStoreService) String() string { return "threat-store-expiry" }

// AlertingService supervises the notification delivery, retry, and
// escalation loops. Satisfied by *alerting.Engine.
type AlertingService struct {
	engine Runner
}

// NewAlertingService wraps the alert engine.
func NewAlertingService(engine Runner) *AlertingService {
	return &AlertingService{engine: engine}
}

func (s *AlertingService) Serve(ctx context.Context) error { return s.engine.Run(ctx) }
func (s *AlertingService) String() string                  { return "alert-delivery" }

// FastPathService supervises the real-time scan loop.
// Satisfied by *fastpath.Monitor.
type FastPathService struct {
	monitor Runner
}

// NewFastPathService wraps the fast-path monitor.
func NewFastPathService(monitor Runner) *FastPathService {
	return &FastPathService{monitor: monitor}
}

func (s *FastPathService) Serve(ctx context.Context) error { return s.monitor.Run(ctx) }
func (s *FastPathService) String() string                  { return "fastpath-monitor" }

// AuditService supervises the asynchronous audit trail writer.
// Satisfied by *audit.Trail.
type AuditService struct {
	trail Runner
}

// NewAuditService wraps the audit trail writer.
func NewAuditService(trail Runner) *AuditService {
	return &AuditService{trail: trail}
}

func (s *AuditService) Serve(ctx context.Context) error { return s.trail.Run(ctx) }
func (s *AuditService) String() string                  { return "audit-trail" }

// HistoryPruner matches *history.Store's retention pruning.
type HistoryPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// PruneService trims event history past its retention window once an hour.
type PruneService struct {
	store     HistoryPruner
	retention time.Duration
}

// NewPruneService wraps history pruning as a supervised loop.
func NewPruneService(store HistoryPruner, retention time.Duration) *PruneService {
	return &PruneService{store: store, retention: retention}
}

func (s *PruneService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.store.Prune(ctx, s.retention); err != nil {
				return err
			}
		}
	}
}
func (s *PruneService) String() string { return "history-prune" }
