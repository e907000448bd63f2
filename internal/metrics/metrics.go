// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package metrics provides Prometheus metrics collection and export.
//
// Metrics are registered with the default registry via promauto and exposed
// at /metrics in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// Sync protocol metrics.
var (
	SyncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_requests_total",
			Help: "Device sync requests by served ledger tier",
		},
		[]string{"tier"}, // pending, backup, history, reset_warning
	)

	SyncEntriesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_entries_served_total",
			Help: "Sync entries delivered to devices",
		},
	)

	LedgerMergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_merges_total",
			Help: "Ledger merge operations by outcome",
		},
		[]string{"outcome"}, // new, merged, replaced, annihilated
	)

	RingsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rings_sent_total",
			Help: "Ring (wake-up) notifications sent to devices",
		},
	)
)

// Alert engine metrics.
var (
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_transitions_total",
			Help: "Alert state transitions by alert type",
		},
		[]string{"alert_type", "transition"}, // start, finish
	)

	OpenAlertsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alerts_open",
			Help: "Currently open alerts by type",
		},
		[]string{"alert_type"},
	)
)

// Device command channel metrics.
var (
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half-open",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	MHRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mh_requests_total",
			Help: "Message Handler requests by result",
		},
		[]string{"path", "result"}, // ok, failure, rejected
	)

	MHQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mh_queue_depth",
			Help: "Outbound retry queue depth",
		},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected WebSocket clients",
		},
	)
)
