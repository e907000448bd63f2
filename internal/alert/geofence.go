// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

// GeofenceEvaluator tracks boundary violations per (device, fence) pair.
type GeofenceEvaluator struct {
	engine *Engine
	store  *store.Store
}

// NewGeofenceEvaluator wires the evaluator.
func NewGeofenceEvaluator(engine *Engine, s *store.Store) *GeofenceEvaluator {
	return &GeofenceEvaluator{engine: engine, store: s}
}

// ProcessReport evaluates one GPS report against every fence the device
// triggers.
func (e *GeofenceEvaluator) ProcessReport(ctx context.Context, device *models.Device, report *models.Report) error {
	fences, err := e.store.GetTriggerGeofencesForDevice(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("resolve trigger geofences: %w", err)
	}
	for _, fence := range fences {
		if err := e.evaluate(ctx, device.ID, fence, report); err != nil {
			return err
		}
	}
	return nil
}

func (e *GeofenceEvaluator) evaluate(ctx context.Context, deviceID int64, fence *models.Geofence, report *models.Report) error {
	violated := violatesGeofence(fence, report.Latitude, report.Longitude)
	_, err := e.engine.ProcessViolation(ctx, deviceID, models.AlertTypeGeofence, violated, report.Timestamp, ManagerOptions{
		Condition: map[string]any{"geofence_id": fence.ID},
		Start:     map[string]any{"start_report_id": report.ID},
		Finish:    map[string]any{"end_report_id": report.ID},
	})
	if err != nil {
		return fmt.Errorf("geofence %d: %w", fence.ID, err)
	}
	return nil
}

// ReevaluateGeofence re-runs the predicate after a fence definition change:
// every trigger-eligible device's latest report is re-checked, and open
// episodes held by devices no longer in the trigger set are force-closed.
// A deleted or deactivated fence force-closes everything it had open.
func (e *GeofenceEvaluator) ReevaluateGeofence(ctx context.Context, geofenceID int64) error {
	fence, err := e.store.GetGeofence(ctx, geofenceID)
	if errors.Is(err, store.ErrNotFound) {
		return e.closeAllForFence(ctx, geofenceID, "geofence deleted")
	}
	if err != nil {
		return fmt.Errorf("resolve geofence: %w", err)
	}
	if !fence.Active {
		return e.closeAllForFence(ctx, geofenceID, "geofence deactivated")
	}

	eligible, err := e.store.GetTriggerEligibleDevices(ctx, geofenceID)
	if err != nil {
		return fmt.Errorf("resolve trigger devices: %w", err)
	}

	inTriggerSet := make(map[int64]bool, len(eligible))
	for _, dr := range eligible {
		inTriggerSet[dr.Device.ID] = true
		if dr.Latest == nil {
			continue
		}
		if err := e.evaluate(ctx, dr.Device.ID, fence, dr.Latest); err != nil {
			return err
		}
	}

	// Devices unassigned from the fence keep no open episodes.
	open, err := e.store.OpenAlertsForGeofence(ctx, geofenceID)
	if err != nil {
		return fmt.Errorf("open alerts for geofence: %w", err)
	}
	for _, a := range open {
		if inTriggerSet[a.DeviceID] {
			continue
		}
		if err := e.forceClose(ctx, a, geofenceID, "device removed from trigger set"); err != nil {
			return err
		}
	}
	return nil
}

func (e *GeofenceEvaluator) closeAllForFence(ctx context.Context, geofenceID int64, reason string) error {
	open, err := e.store.OpenAlertsForGeofence(ctx, geofenceID)
	if err != nil {
		return fmt.Errorf("open alerts for geofence: %w", err)
	}
	for _, a := range open {
		if err := e.forceClose(ctx, a, geofenceID, reason); err != nil {
			return err
		}
	}
	return nil
}

func (e *GeofenceEvaluator) forceClose(ctx context.Context, a *models.Alert, geofenceID int64, reason string) error {
	_, err := e.engine.ProcessViolation(ctx, a.DeviceID, models.AlertTypeGeofence, false, nowMilli(), ManagerOptions{
		Condition: map[string]any{"geofence_id": geofenceID},
		Finish:    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("force close alert %d: %w", a.ID, err)
	}
	logging.Info().
		Int64("alert_id", a.ID).
		Int64("geofence_id", geofenceID).
		Str("reason", reason).
		Msg("geofence alert force-closed")
	return nil
}
