// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package alert

import (
	"context"
	"fmt"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

// CargoEvaluator checks the five container sensor conditions independently
// from one status report. Each kind is its own episode, distinguished by
// the cargo_kind condition, so an open door and a hot container coexist as
// two separate alerts.
type CargoEvaluator struct {
	engine *Engine
}

// NewCargoEvaluator wires the evaluator.
func NewCargoEvaluator(engine *Engine) *CargoEvaluator {
	return &CargoEvaluator{engine: engine}
}

// ProcessReport evaluates one cargo status report. Thresholds ride on the
// report itself, so the evaluation is self-contained.
func (e *CargoEvaluator) ProcessReport(ctx context.Context, device *models.Device, report *models.CargoReport) error {
	for _, kind := range models.CargoKinds {
		violated := cargoViolated(kind, report)
		_, err := e.engine.ProcessViolation(ctx, device.ID, models.AlertTypeCargo, violated, report.Timestamp, ManagerOptions{
			Condition: map[string]any{"cargo_kind": string(kind)},
			Start:     map[string]any{"start_report_id": report.ID},
			Finish:    map[string]any{"end_report_id": report.ID},
		})
		if err != nil {
			return fmt.Errorf("cargo %s: %w", kind, err)
		}
	}
	return nil
}

func cargoViolated(kind models.CargoAlertKind, r *models.CargoReport) bool {
	switch kind {
	case models.CargoDoor:
		return r.DoorAlertEnabled && r.DoorOpen
	case models.CargoHumidity:
		return r.MaxHumidity != nil && r.Humidity > *r.MaxHumidity
	case models.CargoTemperature:
		return (r.MinTemperatureC != nil && r.TemperatureC < *r.MinTemperatureC) ||
			(r.MaxTemperatureC != nil && r.TemperatureC > *r.MaxTemperatureC)
	case models.CargoShock:
		return r.MaxShockG != nil && r.ShockG > *r.MaxShockG
	case models.CargoBattery:
		return r.MinBattery != nil && r.BatteryPercent < *r.MinBattery
	default:
		return false
	}
}
