// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package models

// Report is a single GPS position report from a device.
type Report struct {
	ID        int64   `json:"id"`
	DeviceID  int64   `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	SpeedKPH  float64 `json:"speed_kph"`
	Heading   float64 `json:"heading"`
	Panic     bool    `json:"panic"`

	// Timestamp is epoch milliseconds as reported by the device.
	Timestamp int64 `json:"timestamp"`
}

// CargoAlertKind enumerates the independent cargo sensor checks.
type CargoAlertKind string

const (
	CargoDoor        CargoAlertKind = "door"
	CargoHumidity    CargoAlertKind = "humidity"
	CargoTemperature CargoAlertKind = "temperature"
	CargoShock       CargoAlertKind = "shock"
	CargoBattery     CargoAlertKind = "battery"
)

// CargoKinds lists every cargo sub-type evaluated per status report.
var CargoKinds = []CargoAlertKind{
	CargoDoor, CargoHumidity, CargoTemperature, CargoShock, CargoBattery,
}

// CargoReport carries a cargo container's sensor status together with the
// threshold settings active at report time. Thresholds ride along with the
// status so a single report is self-contained for evaluation.
type CargoReport struct {
	ID       int64 `json:"id"`
	DeviceID int64 `json:"device_id"`

	DoorOpen       bool    `json:"door_open"`
	Humidity       float64 `json:"humidity"`
	TemperatureC   float64 `json:"temperature_c"`
	ShockG         float64 `json:"shock_g"`
	BatteryPercent float64 `json:"battery_percent"`

	DoorAlertEnabled bool     `json:"door_alert_enabled"`
	MaxHumidity      *float64 `json:"max_humidity,omitempty"`
	MinTemperatureC  *float64 `json:"min_temperature_c,omitempty"`
	MaxTemperatureC  *float64 `json:"max_temperature_c,omitempty"`
	MaxShockG        *float64 `json:"max_shock_g,omitempty"`
	MinBattery       *float64 `json:"min_battery,omitempty"`

	Timestamp int64 `json:"timestamp"`
}
