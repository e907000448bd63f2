// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/ledger"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/metrics"
	"github.com/ssrniv42/fleetbridge/internal/mh"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

// DeviceLookup is the slice of the entity store the initiator needs.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id int64) (*models.Device, error)
}

// Ringer sends sync wake-ups through the device command channel.
type Ringer interface {
	SendRing(ctx context.Context, ring mh.Ring) error
}

// PushNotifier announces platform events to connected viewers.
type PushNotifier interface {
	BroadcastSyncInitiated(clientID int64, deviceIDs []int64)
}

// Initiator decides which devices need a ring after a change batch and
// drives the notification.
type Initiator struct {
	devices  DeviceLookup
	ledger   *ledger.Ledger
	ringer   Ringer
	notifier PushNotifier
	now      func() time.Time
}

// NewInitiator wires the initiator. notifier may be nil when no push layer
// is attached.
func NewInitiator(devices DeviceLookup, l *ledger.Ledger, ringer Ringer, notifier PushNotifier) *Initiator {
	return &Initiator{
		devices:  devices,
		ledger:   l,
		ringer:   ringer,
		notifier: notifier,
		now:      time.Now,
	}
}

// Initiate rings the given devices. Devices deleted since the change was
// produced are skipped silently; the enumeration was a point-in-time
// snapshot. Returns true when at least one ring went out.
func (i *Initiator) Initiate(ctx context.Context, deviceIDs []int64) (bool, error) {
	if len(deviceIDs) == 0 {
		return false, nil
	}

	now := i.now().UnixMilli()
	commIDs := make([]int64, 0, len(deviceIDs))
	ringed := make([]int64, 0, len(deviceIDs))
	var clientID int64

	for _, deviceID := range deviceIDs {
		device, err := i.devices.GetDevice(ctx, deviceID)
		if errors.Is(err, store.ErrNotFound) {
			logging.Debug().Int64("device_id", deviceID).Msg("skipping ring for deleted device")
			continue
		}
		if err != nil {
			return false, fmt.Errorf("resolve device %d: %w", deviceID, err)
		}

		info, err := i.ledger.SyncInfo(ctx, deviceID)
		if errors.Is(err, ledger.ErrSyncInfoNotFound) {
			info = &models.DeviceSyncInfo{DeviceID: deviceID}
		} else if err != nil {
			return false, fmt.Errorf("read sync info: %w", err)
		}
		info.RingSent = now
		if err := i.ledger.PutSyncInfo(ctx, info); err != nil {
			return false, fmt.Errorf("update sync info: %w", err)
		}

		clientID = device.ClientID
		commIDs = append(commIDs, device.CommID)
		ringed = append(ringed, deviceID)
	}

	if len(commIDs) == 0 {
		return false, nil
	}

	if err := i.ringer.SendRing(ctx, mh.Ring{ClientID: clientID, CommIDs: commIDs}); err != nil {
		// The command channel spools undeliverable rings internally; an
		// error here means even spooling failed.
		return false, fmt.Errorf("send ring: %w", err)
	}

	metrics.RingsSentTotal.Add(float64(len(commIDs)))
	if i.notifier != nil {
		i.notifier.BroadcastSyncInitiated(clientID, ringed)
	}

	logging.Info().
		Int64("client_id", clientID).
		Ints64("device_ids", ringed).
		Msg("sync ring sent")
	return true, nil
}
