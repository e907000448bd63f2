// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package sync

import (
	"context"
	"fmt"

	"github.com/ssrniv42/fleetbridge/internal/events"
	"github.com/ssrniv42/fleetbridge/internal/ledger"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/mh"
	"github.com/ssrniv42/fleetbridge/internal/models"
)

// GeofenceSweeper re-evaluates alert state after a fence definition change.
type GeofenceSweeper interface {
	ReevaluateGeofence(ctx context.Context, geofenceID int64) error
}

// DeviceJanitor cancels device-scoped background state on deletion.
type DeviceJanitor interface {
	CancelDevice(deviceID int64)
}

// EntityNotifier forwards entity changes to the MH routing tables.
type EntityNotifier interface {
	NotifyEntityChange(ctx context.Context, notice mh.EntityNotice) error
}

// Pipeline consumes entity-change events and drives the projector, the
// initiator, and the housekeeping that rides along with specific changes.
type Pipeline struct {
	projector *Projector
	initiator *Initiator
	ledger    *ledger.Ledger

	sweeper  GeofenceSweeper
	janitor  DeviceJanitor
	notifier EntityNotifier
}

// NewPipeline wires the pipeline. sweeper, janitor, and notifier may each
// be nil when the corresponding subsystem is not attached.
func NewPipeline(projector *Projector, initiator *Initiator, l *ledger.Ledger, sweeper GeofenceSweeper, janitor DeviceJanitor, notifier EntityNotifier) *Pipeline {
	return &Pipeline{
		projector: projector,
		initiator: initiator,
		ledger:    l,
		sweeper:   sweeper,
		janitor:   janitor,
		notifier:  notifier,
	}
}

// HandleEntityChange implements events.Handler.
func (p *Pipeline) HandleEntityChange(ctx context.Context, ev events.EntityChanged) error {
	if ev.EntityType == models.EntityDevice && ev.Action == events.ChangeDelete {
		if err := p.sweepDeletedDevice(ctx, ev.EntityID); err != nil {
			return err
		}
	}

	touched, err := p.projector.Project(ctx, ev)
	if err != nil {
		return fmt.Errorf("project %s %s %d: %w", ev.Action, ev.EntityType, ev.EntityID, err)
	}

	if len(touched) > 0 {
		if _, err := p.initiator.Initiate(ctx, touched); err != nil {
			// The change is already in the ledger; the device picks it up on
			// its next sync even without a ring.
			logging.Error().Err(err).
				Str("entity_type", string(ev.EntityType)).
				Int64("entity_id", ev.EntityID).
				Msg("sync initiation failed")
		}
	}

	p.notifyMH(ctx, ev)

	if p.sweeper != nil && ev.EntityType == models.EntityGeofence && ev.Action != events.ChangePost {
		if err := p.sweeper.ReevaluateGeofence(ctx, ev.EntityID); err != nil {
			logging.Error().Err(err).Int64("geofence_id", ev.EntityID).
				Msg("geofence re-evaluation failed")
		}
	}
	return nil
}

// sweepDeletedDevice wipes the device's ledger state and cancels its
// background timers.
func (p *Pipeline) sweepDeletedDevice(ctx context.Context, deviceID int64) error {
	if err := p.ledger.PurgeDevice(ctx, deviceID); err != nil {
		return fmt.Errorf("purge device %d: %w", deviceID, err)
	}
	if p.janitor != nil {
		p.janitor.CancelDevice(deviceID)
	}
	logging.Info().Int64("device_id", deviceID).Msg("device sync state purged")
	return nil
}

// notifyMH keeps the MH routing tables current for device and group
// changes. Unreachable-gateway failures are spooled by the client; anything
// surfacing here is logged and the next change heals it.
func (p *Pipeline) notifyMH(ctx context.Context, ev events.EntityChanged) {
	if p.notifier == nil {
		return
	}
	if ev.EntityType != models.EntityDevice && ev.EntityType != models.EntityGroup {
		return
	}
	err := p.notifier.NotifyEntityChange(ctx, mh.EntityNotice{
		EntityType: string(ev.EntityType),
		EntityID:   ev.EntityID,
		Action:     string(ev.Action),
	})
	if err != nil {
		logging.Warn().Err(err).
			Str("entity_type", string(ev.EntityType)).
			Int64("entity_id", ev.EntityID).
			Msg("mh entity notification failed")
	}
}
