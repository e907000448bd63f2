// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package events carries entity-change notifications from the write paths
// to the sync pipeline over an in-process Watermill bus.
package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

// TopicEntityChanged is the single topic the sync pipeline consumes.
const TopicEntityChanged = "entity.changed"

// ChangeAction mirrors the HTTP verb that mutated the entity.
type ChangeAction string

const (
	ChangePost   ChangeAction = "post"
	ChangePut    ChangeAction = "put"
	ChangeDelete ChangeAction = "delete"
)

// EntityChanged describes one entity mutation. Before and After are the
// entity snapshots around the write (nil Before for creates, nil After for
// deletes), as generic field maps so one event type covers every entity.
//
// OldSyncDeviceIDs is the entity's sync device set captured before the
// write; the projector needs it to reject entities from devices that were
// just unassigned.
type EntityChanged struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   int64             `json:"entity_id"`
	Action     ChangeAction      `json:"action"`

	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`

	OldSyncDeviceIDs []int64 `json:"old_sync_device_ids,omitempty"`

	// ModifiedBy is the comm id of the originator when the change came from
	// a tactical device, zero for platform-side changes.
	ModifiedBy   int64 `json:"modified_by"`
	ModifiedTime int64 `json:"modified_time"`
}

// NewMessage marshals the event into a Watermill message.
func NewMessage(ev EntityChanged) (*message.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal entity change: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("entity_type", string(ev.EntityType))
	return msg, nil
}

// ParseMessage unmarshals a message produced by NewMessage.
func ParseMessage(msg *message.Message) (EntityChanged, error) {
	var ev EntityChanged
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal entity change: %w", err)
	}
	return ev, nil
}
