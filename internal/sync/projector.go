// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package sync

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ssrniv42/fleetbridge/internal/events"
	"github.com/ssrniv42/fleetbridge/internal/ledger"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/models"
)

// SyncSetResolver is the slice of the entity store the projector needs.
type SyncSetResolver interface {
	GetSyncDeviceIDs(ctx context.Context, entityType models.EntityType, entityID int64) ([]int64, error)
}

// Projector translates entity mutations into per-device ledger entries.
type Projector struct {
	resolver SyncSetResolver
	ledger   *ledger.Ledger
}

// NewProjector wires the projector.
func NewProjector(resolver SyncSetResolver, l *ledger.Ledger) *Projector {
	return &Projector{resolver: resolver, ledger: l}
}

// trackedFields lists, per entity type, the fields whose changes propagate
// to synced devices. Changes outside the list are invisible to the fleet.
var trackedFields = map[models.EntityType][]string{
	models.EntityDevice:   {"name"},
	models.EntityGroup:    {"name"},
	models.EntityGeofence: {"title", "note", "shape", "width", "coordinates", "active", "inclusive"},
	models.EntityPOI:      {"title", "note", "latitude", "longitude", "approved"},
	models.EntityUser:     {"username"},
}

// Project merges one entity change into the ledgers of every interested
// device and returns the ids of the devices touched.
func (p *Projector) Project(ctx context.Context, ev events.EntityChanged) ([]int64, error) {
	switch ev.Action {
	case events.ChangePost:
		return p.projectPost(ctx, ev)
	case events.ChangeDelete:
		return p.projectDelete(ctx, ev)
	case events.ChangePut:
		return p.projectPut(ctx, ev)
	default:
		return nil, fmt.Errorf("unknown change action %q", ev.Action)
	}
}

func (p *Projector) projectPost(ctx context.Context, ev events.EntityChanged) ([]int64, error) {
	// Unapproved POIs and inactive geofences are invisible until they turn
	// on, at which point the put path fans them out as inserts.
	if !visibleToDevices(ev.EntityType, ev.After) {
		return nil, nil
	}
	deviceIDs, err := p.resolver.GetSyncDeviceIDs(ctx, ev.EntityType, ev.EntityID)
	if err != nil {
		return nil, fmt.Errorf("resolve sync set: %w", err)
	}
	return p.fanOut(ctx, ev, deviceIDs, models.ActionInsert, insertPayload(ev.EntityType, ev.After))
}

func (p *Projector) projectDelete(ctx context.Context, ev events.EntityChanged) ([]int64, error) {
	// No device was tracking an inactive fence or unapproved POI, so there
	// is nothing to retract.
	if !visibleToDevices(ev.EntityType, ev.Before) {
		return nil, nil
	}
	// The sync set was snapshotted before the relational delete; the live
	// association rows are already gone.
	return p.fanOut(ctx, ev, ev.OldSyncDeviceIDs, models.ActionDelete, deletePayload(ev.EntityID))
}

func (p *Projector) projectPut(ctx context.Context, ev events.EntityChanged) ([]int64, error) {
	newSet, err := p.resolver.GetSyncDeviceIDs(ctx, ev.EntityType, ev.EntityID)
	if err != nil {
		return nil, fmt.Errorf("resolve sync set: %w", err)
	}

	added, removed, untouched := splitSets(ev.OldSyncDeviceIDs, newSet)
	changes := changedFields(ev.Before, ev.After, trackedFields[ev.EntityType])

	if ev.EntityType == models.EntityPOI {
		if done, touched, err := p.projectPOITransitions(ctx, ev, newSet, added, removed, untouched); done {
			return touched, err
		}
	}

	if ev.EntityType == models.EntityGeofence {
		added, removed, untouched = reclassifyForActivation(ev, changes, added, removed, untouched)
	}

	var touched []int64

	if len(added) > 0 {
		ids, err := p.fanOut(ctx, ev, added, models.ActionInsert, insertPayload(ev.EntityType, ev.After))
		if err != nil {
			return nil, err
		}
		touched = append(touched, ids...)
	}
	if len(changes) > 0 && len(untouched) > 0 {
		ids, err := p.fanOut(ctx, ev, untouched, models.ActionUpdate, changes)
		if err != nil {
			return nil, err
		}
		touched = append(touched, ids...)
	}
	if len(removed) > 0 {
		ids, err := p.fanOut(ctx, ev, removed, models.ActionDelete, deletePayload(ev.EntityID))
		if err != nil {
			return nil, err
		}
		touched = append(touched, ids...)
	}
	return touched, nil
}

// projectPOITransitions handles the approval flag special cases. Returns
// done=true when the transition fully handled the event.
func (p *Projector) projectPOITransitions(ctx context.Context, ev events.EntityChanged, newSet, added, removed, untouched []int64) (bool, []int64, error) {
	wasApproved := boolField(ev.Before, "approved")
	isApproved := boolField(ev.After, "approved")

	switch {
	case !wasApproved && isApproved:
		// Approval makes the POI visible for the first time: every device
		// in the current sync set gets a full insert, membership arithmetic
		// notwithstanding.
		touched, err := p.fanOut(ctx, ev, newSet, models.ActionInsert, insertPayload(ev.EntityType, ev.After))
		return true, touched, err

	case wasApproved && !isApproved:
		// Revocation: devices that knew the POI get a reject, not a delete,
		// so a tactical originator learns its submission was refused.
		recipients := union(untouched, removed)
		touched, err := p.fanOut(ctx, ev, recipients, models.ActionReject, deletePayload(ev.EntityID))
		return true, touched, err
	}

	if !isApproved {
		// Still unapproved: invisible, nothing to send regardless of edits.
		return true, nil, nil
	}
	return false, nil, nil
}

// reclassifyForActivation rewrites the membership sets around the geofence
// active flag. Activation turns untouched members into fresh recipients;
// deactivation wipes the fence from everyone who had it.
func reclassifyForActivation(ev events.EntityChanged, changes map[string]any, added, removed, untouched []int64) (a, r, u []int64) {
	wasActive := boolField(ev.Before, "active")
	isActive := boolField(ev.After, "active")

	switch {
	case !wasActive && isActive:
		return union(added, untouched), removed, nil
	case wasActive && !isActive:
		return nil, union(removed, untouched), nil
	case !wasActive && !isActive && len(changes) == 0:
		return nil, nil, nil
	default:
		return added, removed, untouched
	}
}

// fanOut merges one (action, payload) pair into each device's ledger.
func (p *Projector) fanOut(ctx context.Context, ev events.EntityChanged, deviceIDs []int64, action models.SyncAction, payload map[string]any) ([]int64, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	clientID := int64Field(ev.After, "client_id")
	if clientID == 0 {
		clientID = int64Field(ev.Before, "client_id")
	}

	entry := models.SyncEntry{
		Action:           action,
		Payload:          payload,
		LastModifiedBy:   ev.ModifiedBy,
		LastModifiedTime: ev.ModifiedTime,
	}

	touched := make([]int64, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		if err := p.ledger.ApplyChange(ctx, deviceID, clientID, ev.EntityType, ev.EntityID, entry); err != nil {
			return touched, fmt.Errorf("apply change to device %d: %w", deviceID, err)
		}
		touched = append(touched, deviceID)
	}

	logging.Debug().
		Str("entity_type", string(ev.EntityType)).
		Int64("entity_id", ev.EntityID).
		Str("action", action.String()).
		Int("devices", len(touched)).
		Msg("change projected")
	return touched, nil
}

// insertPayload builds the full tracked-field snapshot plus id.
func insertPayload(entityType models.EntityType, after map[string]any) map[string]any {
	payload := make(map[string]any)
	for _, field := range trackedFields[entityType] {
		if v, ok := after[field]; ok {
			payload[field] = v
		}
	}
	if id, ok := after["id"]; ok {
		payload["id"] = id
	}
	return payload
}

func deletePayload(entityID int64) map[string]any {
	return map[string]any{"id": entityID}
}

// changedFields returns the after values of tracked fields that differ
// between the snapshots.
func changedFields(before, after map[string]any, tracked []string) map[string]any {
	changes := make(map[string]any)
	for _, field := range tracked {
		if !reflect.DeepEqual(before[field], after[field]) {
			changes[field] = after[field]
		}
	}
	return changes
}

// visibleToDevices reports whether the snapshot is something synced devices
// are allowed to know about.
func visibleToDevices(entityType models.EntityType, snapshot map[string]any) bool {
	switch entityType {
	case models.EntityGeofence:
		return boolField(snapshot, "active")
	case models.EntityPOI:
		return boolField(snapshot, "approved")
	default:
		return true
	}
}

// splitSets computes added, removed, and untouched device sets.
func splitSets(oldSet, newSet []int64) (added, removed, untouched []int64) {
	old := make(map[int64]bool, len(oldSet))
	for _, id := range oldSet {
		old[id] = true
	}
	seen := make(map[int64]bool, len(newSet))
	for _, id := range newSet {
		seen[id] = true
		if old[id] {
			untouched = append(untouched, id)
		} else {
			added = append(added, id)
		}
	}
	for _, id := range oldSet {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	return added, removed, untouched
}

func union(a, b []int64) []int64 {
	seen := make(map[int64]bool, len(a)+len(b))
	var out []int64
	for _, set := range [][]int64{a, b} {
		for _, id := range set {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func boolField(m map[string]any, key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

func int64Field(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
