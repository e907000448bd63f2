// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package models

// Alert type names, matching the rows in the alert_types reference table.
const (
	AlertTypeEmergency = "emergency"
	AlertTypeSpeed     = "speed"
	AlertTypeGeofence  = "geofence"
	AlertTypeCargo     = "cargo"
	AlertTypeNonReport = "non_report"
)

// Alert is one violation episode. EndTimestamp is nil while the episode is
// open. Alerts are never deleted, only closed; a fresh violation after a
// close opens a brand-new row.
type Alert struct {
	ID             int64  `json:"id"`
	AlertTypeID    int64  `json:"alert_type_id"`
	AlertTypeName  string `json:"alert_type_name,omitempty"`
	DeviceID       int64  `json:"device_id"`
	StartTimestamp int64  `json:"start_timestamp"`
	EndTimestamp   *int64 `json:"end_timestamp,omitempty"`
}

// Open reports whether the episode is still in progress.
func (a *Alert) Open() bool {
	return a.EndTimestamp == nil
}

// AlertManager is the type-specific side record paired with one Alert.
// Condition fields distinguish concurrent episodes of the same type (for
// example the geofence id); Start/Finish fields carry provenance such as
// the report ids that opened and closed the episode.
type AlertManager struct {
	ID      int64          `json:"id"`
	AlertID int64          `json:"alert_id"`
	Fields  map[string]any `json:"fields"`
}
