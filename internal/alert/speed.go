// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package alert

import (
	"context"
	"fmt"

	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

// SpeedEvaluator checks each report against the device's own speed limits
// and against the limits of every geofence the device triggers. Device
// limits and each fence are independent episodes, distinguished by the
// geofence_id condition (NULL for device limits).
type SpeedEvaluator struct {
	engine *Engine
	store  *store.Store
}

// NewSpeedEvaluator wires the evaluator.
func NewSpeedEvaluator(engine *Engine, s *store.Store) *SpeedEvaluator {
	return &SpeedEvaluator{engine: engine, store: s}
}

// ProcessReport evaluates one GPS report against all applicable limits.
//
// Fences with an open geofence alert for this device are skipped: a fence
// exit already tracked by the geofence evaluator must not also churn a
// speed episode keyed to the same fence in the same pass.
func (e *SpeedEvaluator) ProcessReport(ctx context.Context, device *models.Device, report *models.Report) error {
	violated := outsideLimits(report.SpeedKPH, device.Settings.MinSpeedKPH, device.Settings.MaxSpeedKPH)
	_, err := e.engine.ProcessViolation(ctx, device.ID, models.AlertTypeSpeed, violated, report.Timestamp, ManagerOptions{
		Condition: map[string]any{"geofence_id": nil},
		Start: map[string]any{
			"min_speed_kph":   device.Settings.MinSpeedKPH,
			"max_speed_kph":   device.Settings.MaxSpeedKPH,
			"start_report_id": report.ID,
		},
		Finish: map[string]any{"end_report_id": report.ID},
	})
	if err != nil {
		return fmt.Errorf("device speed limits: %w", err)
	}

	fences, err := e.store.GetTriggerGeofencesForDevice(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("resolve trigger geofences: %w", err)
	}
	if len(fences) == 0 {
		return nil
	}

	openGeofenceAlerts, err := e.store.OpenGeofenceAlertIDs(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("open geofence alerts: %w", err)
	}

	for _, fence := range fences {
		if !fence.Active {
			continue
		}
		if fence.MinSpeedKPH == nil && fence.MaxSpeedKPH == nil {
			continue
		}
		if _, alerted := openGeofenceAlerts[fence.ID]; alerted {
			continue
		}

		violated := outsideLimits(report.SpeedKPH, fence.MinSpeedKPH, fence.MaxSpeedKPH)
		_, err := e.engine.ProcessViolation(ctx, device.ID, models.AlertTypeSpeed, violated, report.Timestamp, ManagerOptions{
			Condition: map[string]any{"geofence_id": fence.ID},
			Start: map[string]any{
				"min_speed_kph":   fence.MinSpeedKPH,
				"max_speed_kph":   fence.MaxSpeedKPH,
				"start_report_id": report.ID,
			},
			Finish: map[string]any{"end_report_id": report.ID},
		})
		if err != nil {
			return fmt.Errorf("geofence %d speed limits: %w", fence.ID, err)
		}
	}
	return nil
}

// outsideLimits reports whether speed breaks either configured bound. Nil
// bounds are unconfigured and never violated.
func outsideLimits(speed float64, min, max *float64) bool {
	if min != nil && speed < *min {
		return true
	}
	if max != nil && speed > *max {
		return true
	}
	return false
}
