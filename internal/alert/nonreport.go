// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

// NonReportEvaluator opens an alert when a device has been silent longer
// than its configured interval.
//
// It is driven three ways: every report resets the device's clock, a
// settings change re-evaluates against the new threshold, and a per-device
// timer re-checks after threshold plus a fixed delay so silence is noticed
// without any new traffic. Each device has at most one outstanding timer;
// clear-then-set runs under one mutex so overlapping updates cannot leave
// two live timers.
type NonReportEvaluator struct {
	engine *Engine
	store  *store.Store

	// recheckDelay pads the timer past the threshold so a report arriving
	// right at the boundary wins the race.
	recheckDelay time.Duration

	mu     sync.Mutex
	timers map[int64]*time.Timer
	ctx    context.Context
}

// NewNonReportEvaluator wires the evaluator. recheckDelay <= 0 selects one
// minute.
func NewNonReportEvaluator(engine *Engine, s *store.Store, recheckDelay time.Duration) *NonReportEvaluator {
	if recheckDelay <= 0 {
		recheckDelay = time.Minute
	}
	return &NonReportEvaluator{
		engine:       engine,
		store:        s,
		recheckDelay: recheckDelay,
		timers:       make(map[int64]*time.Timer),
		ctx:          context.Background(),
	}
}

// OnReport resets the device's silence clock: closes any open episode and
// re-arms the timer.
func (e *NonReportEvaluator) OnReport(ctx context.Context, device *models.Device, report *models.Report) error {
	if err := e.evaluate(ctx, device, report.Timestamp); err != nil {
		return err
	}
	e.schedule(device)
	return nil
}

// OnSettingsChange re-evaluates against the edited threshold and re-arms
// the timer.
func (e *NonReportEvaluator) OnSettingsChange(ctx context.Context, device *models.Device) error {
	last, err := e.lastReportTime(ctx, device.ID)
	if err != nil {
		return err
	}
	if err := e.evaluate(ctx, device, last); err != nil {
		return err
	}
	e.schedule(device)
	return nil
}

// evaluate runs one predicate pass against the last report time.
//
// A device that has never reported has lastReport == 0, so the silence
// window is measured from the Unix epoch and every fresh device with a
// threshold configured violates immediately. That mirrors the platform's
// historical behavior; see the boundary test before relying on it.
func (e *NonReportEvaluator) evaluate(ctx context.Context, device *models.Device, lastReport int64) error {
	threshold := device.Settings.NonReportIntervalMs
	now := nowMilli()

	violated := threshold > 0 && now-lastReport > threshold
	_, err := e.engine.ProcessViolation(ctx, device.ID, models.AlertTypeNonReport, violated, now, ManagerOptions{
		Condition: map[string]any{},
		Start: map[string]any{
			"threshold_ms":          threshold,
			"last_report_timestamp": lastReport,
		},
		Finish: map[string]any{"last_report_timestamp": lastReport},
	})
	if err != nil {
		return fmt.Errorf("non-report device %d: %w", device.ID, err)
	}
	return nil
}

// schedule arms (or re-arms) the device's single re-check timer. A zero
// threshold disables the check and clears any pending timer.
func (e *NonReportEvaluator) schedule(device *models.Device) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[device.ID]; ok {
		t.Stop()
		delete(e.timers, device.ID)
	}

	threshold := device.Settings.NonReportIntervalMs
	if threshold <= 0 {
		return
	}

	deviceID := device.ID
	delay := time.Duration(threshold)*time.Millisecond + e.recheckDelay
	e.timers[deviceID] = time.AfterFunc(delay, func() {
		e.recheck(deviceID)
	})
}

// recheck is the timer callback: re-resolve the device (it may be gone or
// reconfigured) and run the predicate. Firing after a racing cancel is
// harmless; the evaluation is idempotent.
func (e *NonReportEvaluator) recheck(deviceID int64) {
	e.mu.Lock()
	base := e.ctx
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, 30*time.Second)
	defer cancel()

	device, err := e.store.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		e.CancelDevice(deviceID)
		return
	}
	if err != nil {
		logging.Error().Err(err).Int64("device_id", deviceID).Msg("non-report recheck lookup failed")
		return
	}

	last, err := e.lastReportTime(ctx, deviceID)
	if err != nil {
		logging.Error().Err(err).Int64("device_id", deviceID).Msg("non-report recheck failed")
		return
	}
	if err := e.evaluate(ctx, device, last); err != nil {
		logging.Error().Err(err).Int64("device_id", deviceID).Msg("non-report recheck failed")
	}
	e.schedule(device)
}

func (e *NonReportEvaluator) lastReportTime(ctx context.Context, deviceID int64) (int64, error) {
	report, err := e.store.LatestReport(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest report: %w", err)
	}
	return report.Timestamp, nil
}

// CancelDevice clears the device's timer, for device deletion.
func (e *NonReportEvaluator) CancelDevice(deviceID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[deviceID]; ok {
		t.Stop()
		delete(e.timers, deviceID)
	}
}

// Serve arms timers for every configured device and blocks until the
// context ends, then stops all timers. Runs under the supervision tree.
func (e *NonReportEvaluator) Serve(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	devices, err := e.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap non-report timers: %w", err)
	}
	armed := 0
	for _, device := range devices {
		if device.Settings.NonReportIntervalMs > 0 {
			e.schedule(device)
			armed++
		}
	}
	logging.Info().Int("devices", armed).Msg("non-report timers armed")

	<-ctx.Done()

	e.mu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()
	return ctx.Err()
}
