// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package main is the entry point for the FleetBridge server application.
//
// FleetBridge keeps a fleet of intermittently connected field devices in
// sync with the platform's entity data (devices, geofences, canned messages,
// routing rules) and evaluates incoming position and cargo reports against
// alert rules in real time.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, YAML file, and environment
//     variables (Koanf v2)
//  2. Entity store: SQLite via modernc.org/sqlite with embedded Goose
//     migrations
//  3. Sync ledger: BadgerDB holding per-device change entries and the
//     offline command queue
//  4. Message Handler client: outbound command channel with a gobreaker
//     circuit breaker and persistent retry queue
//  5. Sync engine: watermark coordinator, change projector, and ring
//     initiator fed by the in-process Watermill event bus
//  6. Alert engine: emergency, speed, geofence, cargo, and non-report
//     evaluators with episode state in the entity store
//  7. HTTP server: chi REST API plus WebSocket push for console clients
//
// All long-running components run under a suture v4 supervision tree with
// three layers (data, messaging, api) so a crash in one layer restarts only
// that layer's services.
//
// # Configuration
//
// Settings come from environment variables prefixed with FLEETBRIDGE_,
// an optional config.yaml, and built-in defaults (highest priority first):
//
//	export FLEETBRIDGE_SERVER_PORT=8080
//	export FLEETBRIDGE_DATABASE_PATH=/data/fleetbridge.db
//	export FLEETBRIDGE_LEDGER_PATH=/data/ledger
//	export FLEETBRIDGE_MH_URL=http://mh:9090
//	export FLEETBRIDGE_MH_API_KEY=your-mh-api-key
//	./fleetbridge
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (shutdown timeout)
//   - Flushes supervised services and closes the ledger and entity store
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/alert"
	"github.com/ssrniv42/fleetbridge/internal/api"
	"github.com/ssrniv42/fleetbridge/internal/config"
	"github.com/ssrniv42/fleetbridge/internal/events"
	"github.com/ssrniv42/fleetbridge/internal/ledger"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/mh"
	"github.com/ssrniv42/fleetbridge/internal/store"
	"github.com/ssrniv42/fleetbridge/internal/supervisor"
	"github.com/ssrniv42/fleetbridge/internal/supervisor/services"
	syncpkg "github.com/ssrniv42/fleetbridge/internal/sync"
	ws "github.com/ssrniv42/fleetbridge/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Starting FleetBridge with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open entity store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing entity store")
		}
	}()
	logging.Info().Str("path", cfg.Database.Path).Msg("Entity store ready")

	ldg, err := ledger.Open(cfg.Ledger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open sync ledger")
	}
	defer func() {
		if err := ldg.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing sync ledger")
		}
	}()
	logging.Info().
		Str("path", cfg.Ledger.Path).
		Bool("append_only_history", cfg.Ledger.AppendOnlyHistory).
		Msg("Sync ledger ready")

	// The command queue shares the ledger's Badger instance so queued
	// commands survive restarts alongside the sync entries.
	queue := mh.NewQueue(ldg.DB())
	mhClient := mh.NewClient(cfg.MH, queue)
	logging.Info().Str("url", cfg.MH.URL).Msg("Message Handler client configured")

	wsHub := ws.NewHub()

	coordinator := syncpkg.NewCoordinator(st, ldg, cfg.Sync.MinWatermarkDigits)
	projector := syncpkg.NewProjector(st, ldg)
	initiator := syncpkg.NewInitiator(st, ldg, mhClient, wsHub)

	// Alert evaluators are optional; with alerts disabled the pipeline and
	// API run without them and reports are stored but never evaluated.
	var (
		gpsEvaluators  []api.GPSEvaluator
		cargoEvaluator api.CargoEvaluator
		reportObserver api.ReportObserver
		sweeper        syncpkg.GeofenceSweeper
		janitor        syncpkg.DeviceJanitor
		nonReport      *alert.NonReportEvaluator
	)
	if cfg.Alerts.Enabled {
		engine := alert.NewEngine(st, wsHub)
		geofenceEval := alert.NewGeofenceEvaluator(engine, st)
		nonReport = alert.NewNonReportEvaluator(engine, st, cfg.Alerts.NonReportRecheckDelay)

		// Geofence runs before speed so a fence episode opened by this
		// report is visible to the speed evaluator's per-fence skip.
		gpsEvaluators = []api.GPSEvaluator{
			alert.NewEmergencyEvaluator(engine),
			geofenceEval,
			alert.NewSpeedEvaluator(engine, st),
		}
		cargoEvaluator = alert.NewCargoEvaluator(engine)
		reportObserver = nonReport
		sweeper = geofenceEval
		janitor = nonReport
		logging.Info().Msg("Alert engine enabled")
	} else {
		logging.Warn().Msg("Alert engine disabled (FLEETBRIDGE_ALERTS_ENABLED=false)")
	}

	pipeline := syncpkg.NewPipeline(projector, initiator, ldg, sweeper, janitor, mhClient)

	bus, err := events.NewBus(pipeline)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	handler := api.NewHandler(api.HandlerDeps{
		Config:         cfg,
		Store:          st,
		Sync:           coordinator,
		MH:             mhClient,
		Hub:            wsHub,
		Events:         bus,
		GPSEvaluators:  gpsEvaluators,
		CargoEvaluator: cargoEvaluator,
		ReportObserver: reportObserver,
	})
	router := api.NewRouter(cfg, handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Create structured logger for the supervisor using our slog adapter
	// so supervision events land in the shared zerolog output.
	slogLogger := logging.NewSlogLogger()
	tree := supervisor.NewTree(slogLogger, supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	// Data layer services
	tree.AddDataService(services.NewLedgerGCService(ldg))
	tree.AddDataService(services.NewQueueFlushService(mhClient, cfg.MH.QueueFlushInterval))

	// Messaging layer services
	tree.AddMessagingService(services.NewNamed("event-bus", bus))
	tree.AddMessagingService(services.NewNamed("websocket-hub", wsHub))
	if nonReport != nil {
		tree.AddMessagingService(services.NewNamed("non-report-timers", nonReport))
	}

	// API layer services
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("FleetBridge stopped gracefully")
}
