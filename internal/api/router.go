// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ssrniv42/fleetbridge/internal/config"
)

// NewRouter assembles the HTTP routing tree.
func NewRouter(cfg *config.Config, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-API-Key", "X-Request-ID"},
		MaxAge:         86400,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(PrometheusMetrics)

		r.Get("/health", handler.Health)
		r.Get("/ws", handler.WebSocket)

		// Device-facing sync endpoint, rate limited per comm id so one
		// chatty radio cannot starve the rest of the fleet.
		r.Route("/sync", func(r chi.Router) {
			r.Use(httprate.Limit(
				cfg.Server.RateLimitSync,
				time.Minute,
				httprate.WithKeyFuncs(syncRateKey),
			))
			r.Get("/device", handler.SyncDevice)
		})

		// Message Handler callbacks.
		r.Route("/mh", func(r chi.Router) {
			r.Post("/ping", handler.MHPing)
		})
		r.Route("/reports", func(r chi.Router) {
			r.Post("/gps", handler.ReportGPS)
			r.Post("/cargo", handler.ReportCargo)
		})

		// Entity mutations from the platform's CRUD layer feed the sync
		// pipeline through here.
		r.Route("/events", func(r chi.Router) {
			r.Post("/entity", handler.EntityEvent)
		})

		// Console API.
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", handler.Alerts)
			r.Get("/{id}", handler.AlertByID)
		})
	})

	return r
}

// syncRateKey buckets sync requests by comm id, falling back to client IP
// for requests with no comm id at all.
func syncRateKey(r *http.Request) (string, error) {
	if commID := r.URL.Query().Get("commId"); commID != "" {
		return commID, nil
	}
	return httprate.KeyByIP(r)
}
