// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package alert

import (
	"context"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

// EmergencyEvaluator opens an alert while a device reports its panic flag.
// The condition is empty: a device has at most one emergency episode open
// at a time.
type EmergencyEvaluator struct {
	engine *Engine
}

// NewEmergencyEvaluator wires the evaluator.
func NewEmergencyEvaluator(engine *Engine) *EmergencyEvaluator {
	return &EmergencyEvaluator{engine: engine}
}

// ProcessReport evaluates one GPS report.
func (e *EmergencyEvaluator) ProcessReport(ctx context.Context, device *models.Device, report *models.Report) error {
	_, err := e.engine.ProcessViolation(ctx, device.ID, models.AlertTypeEmergency, report.Panic, report.Timestamp, ManagerOptions{
		Condition: map[string]any{},
		Start:     map[string]any{"start_report_id": report.ID},
		Finish:    map[string]any{"end_report_id": report.ID},
	})
	return err
}
