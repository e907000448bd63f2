// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package models defines the core entity, report, and sync types shared
// across the platform.
package models

// DeviceTypeTactical identifies SCCT tactical radios, the only device type
// that participates in the offline sync protocol.
const DeviceTypeTactical = "SCCT"

// Device is a field unit (tactical radio, cellular tracker, IoT container).
type Device struct {
	ID       int64           `json:"id"`
	ClientID int64           `json:"client_id"`
	CommID   int64           `json:"comm_id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Settings DeviceSettings  `json:"settings"`
}

// DeviceSettings holds per-device alerting thresholds. Nil pointers mean
// "not configured" and disable the corresponding check.
type DeviceSettings struct {
	MinSpeedKPH *float64 `json:"min_speed_kph,omitempty"`
	MaxSpeedKPH *float64 `json:"max_speed_kph,omitempty"`

	// NonReportIntervalMs is the silence window after which a non-report
	// alert opens. Zero disables the check.
	NonReportIntervalMs int64 `json:"non_report_interval_ms,omitempty"`
}

// Client is a customer account owning devices, groups, geofences and POIs.
type Client struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	SyncEnabled bool   `json:"sync_enabled"`
}

// Group is a named set of devices.
type Group struct {
	ID        int64   `json:"id"`
	ClientID  int64   `json:"client_id"`
	Name      string  `json:"name"`
	DeviceIDs []int64 `json:"device_ids"`
}

// GeofenceShape enumerates supported fence geometries.
type GeofenceShape string

const (
	ShapeCircle    GeofenceShape = "circle"
	ShapePolygon   GeofenceShape = "polygon"
	ShapeRectangle GeofenceShape = "rectangle"
	ShapePath      GeofenceShape = "path"
)

// Coordinate is a WGS84 point. Radius is meaningful only for circle fences
// (meters), carried on the first coordinate.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius,omitempty"`
}

// Geofence is a geographic boundary with trigger and sync device sets.
//
// Inclusive fences are violated by devices outside the boundary; exclusive
// fences by devices inside it. Inactive fences are never violated and are
// invisible to synced devices.
type Geofence struct {
	ID          int64         `json:"id"`
	ClientID    int64         `json:"client_id"`
	Title       string        `json:"title"`
	Note        string        `json:"note"`
	Shape       GeofenceShape `json:"shape"`
	Width       float64       `json:"width"` // path corridor width, meters
	Coordinates []Coordinate  `json:"coordinates"`
	Active      bool          `json:"active"`
	Inclusive   bool          `json:"inclusive"`
	MinSpeedKPH *float64      `json:"min_speed_kph,omitempty"`
	MaxSpeedKPH *float64      `json:"max_speed_kph,omitempty"`
}

// POI is a point of interest. Tactical devices may submit POIs which remain
// invisible to the fleet until approved on the platform.
type POI struct {
	ID         int64      `json:"id"`
	ClientID   int64      `json:"client_id"`
	Title      string     `json:"title"`
	Note       string     `json:"note"`
	Coordinate Coordinate `json:"coordinate"`
	Approved   bool       `json:"approved"`

	// CreatorCommID is set when the POI originated from a tactical device.
	CreatorCommID int64 `json:"creator_comm_id,omitempty"`
}

// User is a platform operator account.
type User struct {
	ID       int64  `json:"id"`
	ClientID int64  `json:"client_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}
