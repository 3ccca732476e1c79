// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package main is the entry point for the Vigil server.
//
// Vigil detects security threats from a stream of audit and activity events
// and turns confirmed threats into deduplicated, multi-channel alerts, while
// tracking that (close to) 100% of source events are captured, validated,
// and accounted for.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file, VIGIL_* env)
//  2. Logging: global zerolog logger
//  3. History: embedded DuckDB event store for baselines and the fast path
//  4. Cache: two-tier cache (in-process TTL + optional BadgerDB)
//  5. Event bus: watermill in-process router connecting the stages
//  6. Capture: source listeners, bounded queue, validation and retry sweeps
//  7. Detection: signature engine, behavior profiles, threat store
//  8. Alerting: rule matching, cooldown, channel delivery with retry
//  9. Fast path: 5-second scan loop with its own alert dedup cache
//  10. Supervision: suture tree running every layer with failure isolation
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest wins):
//   - VIGIL_* environment variables (e.g. VIGIL_ALERTING_SLACK_WEBHOOK_URL)
//   - Config file (VIGIL_CONFIG_PATH, ./config.yaml, or /etc/vigil/config.yaml)
//   - Built-in defaults
//
// Invalid alerting configuration (an enabled channel missing required
// sub-fields, a rule referencing an unknown channel or threat level) fails
// startup with the full error list.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: listeners stop, the capture
// queue drains best-effort, the audit trail flushes, and the ops server
// finishes in-flight requests.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/vigil/internal/alerting"
	"github.com/tomtom215/vigil/internal/api"
	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/behavior"
	"github.com/tomtom215/vigil/internal/cache"
	"github.com/tomtom215/vigil/internal/capture"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/eventbus"
	"github.com/tomtom215/vigil/internal/fastpath"
	"github.com/tomtom215/vigil/internal/history"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/supervisor"
	"github.com/tomtom215/vigil/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("vigil failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Msg("starting vigil")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// History store feeds behavior baselines, the fast path, and the audit
	// trail (shared handle).
	historyStore, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer historyStore.Close()

	// Two-tier cache: in-process TTL tier plus optional persistent tier.
	var persistent *cache.BadgerStore
	if cfg.Cache.BadgerPath != "" {
		persistent, err = cache.NewBadgerStore(cfg.Cache.BadgerPath)
		if err != nil {
			return fmt.Errorf("open cache store: %w", err)
		}
	}
	tiered := cache.NewTiered(cache.New(cfg.Cache.TTL), persistent, cfg.Cache.TTL)
	defer tiered.Close()

	bus, err := eventbus.New(eventbus.DefaultConfig())
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	defer bus.Close()

	// Detection stack.
	profiles := behavior.NewStore(historyStore)
	threatStore := detection.NewStore()
	engine := detection.NewEngine(profiles, threatStore)
	batcher := detection.NewBatcher(engine, historyStore, bus,
		cfg.Detection.BatchSize, cfg.Detection.BatchInterval)
	bus.OnEvents("detection-batcher", batcher.Handle)

	// Alerting stack.
	rules := alerting.NewRuleStore()
	for _, rule := range alerting.DefaultRules() {
		if err := rules.Add(rule); err != nil {
			return fmt.Errorf("register built-in rule: %w", err)
		}
	}
	if err := rules.LoadConfig(cfg.Alerting.CustomRules); err != nil {
		return fmt.Errorf("load custom alert rules: %w", err)
	}
	alertEngine := alerting.NewEngine(cfg.Alerting, rules, threatStore)
	alertEngine.RegisterConfiguredChannels()
	bus.OnThreats("alert-engine", alertEngine.HandleSecurityEvent)

	// Compliance trail, also consuming detected threats off the bus.
	trail, err := audit.New(ctx, historyStore.DB())
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	bus.OnThreats("audit-trail", func(_ context.Context, se *detection.SecurityEvent) error {
		trail.WriteAsync(se)
		return nil
	})

	// Capture pipeline publishing validated events onto the bus. External
	// pull feeds attach through RegisterSource; the live monitor push feed is
	// wired here.
	captureManager := capture.NewManager(cfg.Capture, bus)
	captureManager.RegisterSource(capture.NewChannelSource(models.SourceLiveMonitor))

	var monitor *fastpath.Monitor
	if cfg.FastPath.Enabled {
		monitor = fastpath.NewMonitor(cfg.FastPath, tiered, historyStore, alertEngine, trail, nil)
	}

	// Supervision tree. Suture logs through slog; everything else stays on
	// zerolog.
	tree, err := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	if err != nil {
		return fmt.Errorf("build supervision tree: %w", err)
	}

	tree.AddCaptureService(services.NewCaptureService(captureManager))
	tree.AddDetectionService(services.NewBusService(bus))
	tree.AddDetectionService(services.NewDetectionService(batcher))
	tree.AddDetectionService(services.NewBaselineService(profiles, cfg.Detection.BaselineInterval))
	tree.AddDetectionService(services.NewThreatStoreService(threatStore, cfg.Detection.ResolvedRetention))
	tree.AddDetectionService(services.NewPruneService(historyStore, cfg.History.Retention()))
	tree.AddAlertingService(services.NewAlertingService(alertEngine))
	tree.AddAlertingService(services.NewAuditService(trail))
	if monitor != nil {
		tree.AddAlertingService(services.NewFastPathService(monitor))
	}
	tree.AddOpsService(api.NewServer(cfg.Ops.ListenAddr, api.Deps{
		Capture:  captureManager,
		Threats:  threatStore,
		Engine:   engine,
		Alerts:   alertEngine,
		FastPath: monitor,
	}))

	logging.Info().Str("ops_addr", cfg.Ops.ListenAddr).Msg("vigil running")
	return tree.Serve(ctx)
}
