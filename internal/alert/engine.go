// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package alert implements the violation-detection state machine and the
// five alert evaluators built on it: emergency, speed, geofence, cargo, and
// non-report.
//
// Each (device, alert type, distinguishing condition) tuple is either
// Closed (no open alert row) or Open. A predicate transition false to true
// opens a new episode; true to false closes it. Reprocessing the same
// report is a no-op because the open-alert lookup already reflects the
// first pass. Alerts are never deleted, only closed.
package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/metrics"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

func nowMilli() int64 { return time.Now().UnixMilli() }

// Transition names the state change ProcessViolation performed.
type Transition string

const (
	TransitionNone   Transition = "none"
	TransitionStart  Transition = "start"
	TransitionFinish Transition = "finish"
)

// Notifier fans an alert transition out to subscribers. Implementations
// must not block; dispatch happens after the transaction commits and
// failures are logged, never retried.
type Notifier interface {
	NotifyAlert(alert *models.Alert, transition string)
}

// ManagerOptions carries the type-specific fields for one evaluation.
//
// Condition distinguishes concurrent episodes of the same type (the
// geofence id, the cargo kind); it is both the open-alert lookup filter and
// part of the manager row written on start. Start and Finish carry
// provenance merged into the manager row on the respective transition.
type ManagerOptions struct {
	Condition map[string]any
	Start     map[string]any
	Finish    map[string]any
}

// Engine is the shared alert state machine.
type Engine struct {
	store    *store.Store
	notifier Notifier

	typesOnce sync.Once
	typesErr  error
	types     map[string]int64
}

// NewEngine wires the engine. notifier may be nil.
func NewEngine(s *store.Store, notifier Notifier) *Engine {
	return &Engine{store: s, notifier: notifier}
}

// alertTypeID resolves an alert type name through the lazily cached
// reference table. Alert types are static seed data, so the cache is never
// invalidated.
func (e *Engine) alertTypeID(ctx context.Context, name string) (int64, error) {
	e.typesOnce.Do(func() {
		e.types, e.typesErr = e.store.AlertTypes(ctx)
	})
	if e.typesErr != nil {
		return 0, fmt.Errorf("load alert types: %w", e.typesErr)
	}
	id, ok := e.types[name]
	if !ok {
		return 0, fmt.Errorf("unknown alert type %q", name)
	}
	return id, nil
}

// ProcessViolation advances the state machine for one predicate evaluation.
// timestamp stamps the episode boundary (report time for report-driven
// evaluators, wall clock for timers).
func (e *Engine) ProcessViolation(ctx context.Context, deviceID int64, alertTypeName string, isViolated bool, timestamp int64, opts ManagerOptions) (Transition, error) {
	typeID, err := e.alertTypeID(ctx, alertTypeName)
	if err != nil {
		return TransitionNone, err
	}

	open, err := e.store.FindOpenAlert(ctx, e.store.DB(), alertTypeName, deviceID, opts.Condition)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return TransitionNone, fmt.Errorf("open alert lookup: %w", err)
	}
	wasViolated := err == nil

	switch {
	case isViolated && !wasViolated:
		return e.start(ctx, deviceID, alertTypeName, typeID, timestamp, opts)
	case !isViolated && wasViolated:
		return e.finish(ctx, open, timestamp, opts)
	default:
		// Already tracked, or nothing to track. Idempotent.
		return TransitionNone, nil
	}
}

func (e *Engine) start(ctx context.Context, deviceID int64, alertTypeName string, typeID, timestamp int64, opts ManagerOptions) (Transition, error) {
	a := &models.Alert{
		AlertTypeID:    typeID,
		AlertTypeName:  alertTypeName,
		DeviceID:       deviceID,
		StartTimestamp: timestamp,
	}

	fields := make(map[string]any, len(opts.Condition)+len(opts.Start))
	for k, v := range opts.Condition {
		fields[k] = v
	}
	for k, v := range opts.Start {
		fields[k] = v
	}

	err := e.store.RunTransaction(ctx, func(tx *sql.Tx) error {
		return e.store.CreateAlert(ctx, tx, a, fields)
	})
	if err != nil {
		return TransitionNone, fmt.Errorf("start alert: %w", err)
	}

	metrics.AlertTransitionsTotal.WithLabelValues(alertTypeName, string(TransitionStart)).Inc()
	metrics.OpenAlertsGauge.WithLabelValues(alertTypeName).Inc()
	logging.Info().
		Int64("alert_id", a.ID).
		Str("alert_type", alertTypeName).
		Int64("device_id", deviceID).
		Msg("alert started")

	e.notify(a, TransitionStart)
	return TransitionStart, nil
}

func (e *Engine) finish(ctx context.Context, a *models.Alert, timestamp int64, opts ManagerOptions) (Transition, error) {
	err := e.store.RunTransaction(ctx, func(tx *sql.Tx) error {
		return e.store.CloseAlert(ctx, tx, a, timestamp, opts.Finish)
	})
	if err != nil {
		return TransitionNone, fmt.Errorf("finish alert: %w", err)
	}

	metrics.AlertTransitionsTotal.WithLabelValues(a.AlertTypeName, string(TransitionFinish)).Inc()
	metrics.OpenAlertsGauge.WithLabelValues(a.AlertTypeName).Dec()
	logging.Info().
		Int64("alert_id", a.ID).
		Str("alert_type", a.AlertTypeName).
		Int64("device_id", a.DeviceID).
		Msg("alert finished")

	e.notify(a, TransitionFinish)
	return TransitionFinish, nil
}

// notify dispatches after commit, fire-and-forget.
func (e *Engine) notify(a *models.Alert, transition Transition) {
	if e.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Int64("alert_id", a.ID).
				Msg("alert notification panicked")
		}
	}()
	e.notifier.NotifyAlert(a, string(transition))
}
