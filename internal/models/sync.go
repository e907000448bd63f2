// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package models

// SyncAction is the wire action code attached to each sync entry.
type SyncAction int

const (
	ActionInsert SyncAction = 0
	ActionUpdate SyncAction = 1
	ActionDelete SyncAction = 2
	ActionReject SyncAction = 3
)

// String returns the action name for logging.
func (a SyncAction) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// EntityType identifies which entity kind a sync entry describes.
type EntityType string

const (
	EntityDevice   EntityType = "device"
	EntityGroup    EntityType = "group"
	EntityGeofence EntityType = "geofence"
	EntityPOI      EntityType = "poi"
	EntityUser     EntityType = "user"
)

// SyncEntry is one pending change for one (device, entity type, entity id)
// tuple. Payload carries the entity-type-specific normalized fields; for
// updates it holds only the fields that actually changed.
type SyncEntry struct {
	Action           SyncAction     `json:"action"`
	Payload          map[string]any `json:"payload"`
	LastModifiedBy   int64          `json:"last_modified_by"`
	LastModifiedTime int64          `json:"last_modified_time"`
}

// LedgerDocument is one sync ledger document: all buffered changes for one
// device within one tier, keyed per entity type by entity id.
//
// String map keys keep the document stable across JSON round-trips.
type LedgerDocument struct {
	DeviceID  int64 `json:"device_id"`
	ClientID  int64 `json:"client_id"`
	Watermark int64 `json:"watermark"`

	Devices   map[string]SyncEntry `json:"devices,omitempty"`
	Groups    map[string]SyncEntry `json:"groups,omitempty"`
	Geofences map[string]SyncEntry `json:"geofences,omitempty"`
	POIs      map[string]SyncEntry `json:"pois,omitempty"`
	Users     map[string]SyncEntry `json:"users,omitempty"`
}

// Entries returns the entity-type map for t, allocating it if needed.
func (d *LedgerDocument) Entries(t EntityType) map[string]SyncEntry {
	switch t {
	case EntityDevice:
		if d.Devices == nil {
			d.Devices = make(map[string]SyncEntry)
		}
		return d.Devices
	case EntityGroup:
		if d.Groups == nil {
			d.Groups = make(map[string]SyncEntry)
		}
		return d.Groups
	case EntityGeofence:
		if d.Geofences == nil {
			d.Geofences = make(map[string]SyncEntry)
		}
		return d.Geofences
	case EntityPOI:
		if d.POIs == nil {
			d.POIs = make(map[string]SyncEntry)
		}
		return d.POIs
	case EntityUser:
		if d.Users == nil {
			d.Users = make(map[string]SyncEntry)
		}
		return d.Users
	default:
		return nil
	}
}

// Empty reports whether the document holds no entries in any entity map.
func (d *LedgerDocument) Empty() bool {
	return len(d.Devices) == 0 && len(d.Groups) == 0 &&
		len(d.Geofences) == 0 && len(d.POIs) == 0 && len(d.Users) == 0
}

// DeviceSyncInfo tracks the reconciliation state between the platform and
// one device's local copy of the sync data.
//
// The device is considered synced when AckReceived >= RingSent: every ring
// we sent has been answered by a sync request acknowledging prior data.
type DeviceSyncInfo struct {
	DeviceID     int64 `json:"device_id"`
	Watermark    int64 `json:"watermark"`
	AckReceived  int64 `json:"ack_received"`
	RingSent     int64 `json:"ring_sent"`
	SyncReceived int64 `json:"sync_received"`
}

// Synced reports whether the device has acknowledged everything up to the
// last ring.
func (i *DeviceSyncInfo) Synced() bool {
	return i.AckReceived >= i.RingSent
}
