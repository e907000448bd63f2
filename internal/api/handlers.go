// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package api provides the HTTP surface: the device sync endpoint, report
// ingestion from the Message Handler, the console alert API, and the
// WebSocket upgrade. Routing uses chi.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssrniv42/fleetbridge/internal/config"
	"github.com/ssrniv42/fleetbridge/internal/events"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
	syncpkg "github.com/ssrniv42/fleetbridge/internal/sync"
	ws "github.com/ssrniv42/fleetbridge/internal/websocket"
)

// SyncService answers device sync requests.
type SyncService interface {
	RequestSync(ctx context.Context, commID, watermark int64) (*syncpkg.Payload, error)
}

// CommandChannel is the outbound Message Handler connection as the API
// sees it: ping-triggered queue replay plus health introspection.
type CommandChannel interface {
	Flush(ctx context.Context) error
	BreakerState() string
	QueueDepth() int
}

// GPSEvaluator consumes a stored GPS report.
type GPSEvaluator interface {
	ProcessReport(ctx context.Context, device *models.Device, report *models.Report) error
}

// CargoEvaluator consumes a stored cargo status report.
type CargoEvaluator interface {
	ProcessReport(ctx context.Context, device *models.Device, report *models.CargoReport) error
}

// ReportObserver is told about every accepted GPS report; the non-report
// evaluator uses it to reset silence clocks.
type ReportObserver interface {
	OnReport(ctx context.Context, device *models.Device, report *models.Report) error
}

// EventPublisher accepts entity-change events for the sync pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.EntityChanged) error
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	cfg   *config.Config
	store *store.Store
	sync  SyncService
	mh    CommandChannel
	hub   *ws.Hub

	events EventPublisher

	gpsEvaluators  []GPSEvaluator
	cargoEvaluator CargoEvaluator
	reportObserver ReportObserver
}

// HandlerDeps bundles the constructor arguments; optional fields may be nil.
type HandlerDeps struct {
	Config *config.Config
	Store  *store.Store
	Sync   SyncService
	MH     CommandChannel
	Hub    *ws.Hub

	Events EventPublisher

	GPSEvaluators  []GPSEvaluator
	CargoEvaluator CargoEvaluator
	ReportObserver ReportObserver
}

// NewHandler builds the handler set.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		cfg:            deps.Config,
		store:          deps.Store,
		sync:           deps.Sync,
		mh:             deps.MH,
		hub:            deps.Hub,
		events:         deps.Events,
		gpsEvaluators:  deps.GPSEvaluators,
		cargoEvaluator: deps.CargoEvaluator,
		reportObserver: deps.ReportObserver,
	}
}

// Health reports component status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
	}
	if h.mh != nil {
		status["mh_breaker"] = h.mh.BreakerState()
		status["mh_queue_depth"] = h.mh.QueueDepth()
	}
	if h.hub != nil {
		status["websocket_clients"] = h.hub.ClientCount()
	}
	respondData(w, http.StatusOK, status)
}

// MHPing is called by the Message Handler when its link comes up; any
// spooled commands are replayed immediately.
func (h *Handler) MHPing(w http.ResponseWriter, r *http.Request) {
	if h.mh == nil {
		respondError(w, http.StatusServiceUnavailable, "MH_UNAVAILABLE", "Command channel not configured", nil)
		return
	}
	if err := h.mh.Flush(r.Context()); err != nil {
		// The queue keeps whatever did not make it; report accepted.
		logging.Warn().Err(err).Msg("queue flush incomplete after ping")
	}
	respondData(w, http.StatusOK, map[string]any{
		"queue_depth": h.mh.QueueDepth(),
	})
}

// WebSocket upgrades a console connection and registers it with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "WebSocket hub not available", nil)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// checkWebSocketOrigin validates the Origin header against the configured
// console origins. Browser connections always carry Origin; its absence
// means a non-browser client, which is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket connection rejected: missing Origin header")
		return false
	}
	if h.cfg == nil {
		return true
	}
	for _, allowed := range h.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected: unauthorized origin")
	return false
}
