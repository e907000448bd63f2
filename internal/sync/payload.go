// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package sync

import (
	"sort"
	"strconv"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

// EntityChange is one flattened ledger entry in a sync payload.
type EntityChange struct {
	ID     int64          `json:"id"`
	Action int            `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

// Payload is the response body for a device sync request. Tactical devices
// consume geofence and POI changes; the remaining entity types stay in the
// ledger for bookkeeping but are not part of the device wire format.
type Payload struct {
	DeviceCommID int64 `json:"device_comm_id"`
	ClientID     int64 `json:"client_id"`
	Watermark    int64 `json:"watermark"`

	Geofences []EntityChange `json:"geofences"`
	POIs      []EntityChange `json:"pois"`

	// ResetRequired tells the device its watermark is unusable and it must
	// retry from watermark 0. Not a hard failure.
	ResetRequired bool   `json:"reset_required,omitempty"`
	Message       string `json:"message,omitempty"`
}

// buildPayload flattens a ledger document into the wire payload. Entries
// are sorted by entity id so retransmissions are byte-for-byte identical.
func buildPayload(commID int64, doc *models.LedgerDocument) *Payload {
	return &Payload{
		DeviceCommID: commID,
		ClientID:     doc.ClientID,
		Watermark:    doc.Watermark,
		Geofences:    flattenEntries(doc.Geofences),
		POIs:         flattenEntries(doc.POIs),
	}
}

func flattenEntries(entries map[string]models.SyncEntry) []EntityChange {
	changes := make([]EntityChange, 0, len(entries))
	for idKey, entry := range entries {
		id, err := strconv.ParseInt(idKey, 10, 64)
		if err != nil {
			continue
		}
		changes = append(changes, EntityChange{
			ID:     id,
			Action: int(entry.Action),
			Data:   entry.Payload,
		})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes
}

// entryCount is the number of changes carried by the payload, for metrics.
func (p *Payload) entryCount() int {
	return len(p.Geofences) + len(p.POIs)
}
