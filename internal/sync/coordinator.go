// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package sync implements the offline device synchronization protocol: the
// watermark coordinator answering device sync requests, the change projector
// translating entity mutations into per-device ledger entries, and the
// initiator that rings devices when new data is waiting.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/ledger"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/metrics"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

// Coordinator failure modes, distinguished so devices can pick the right
// retry behavior.
var (
	ErrInvalidWatermark = errors.New("watermark must be 0 or an epoch-ms timestamp")
	ErrUnknownDevice    = errors.New("unknown device")
	ErrFeatureDisabled  = errors.New("sync feature not enabled for client")
)

// DeviceResolver is the slice of the entity store the coordinator needs.
type DeviceResolver interface {
	GetDeviceByCommID(ctx context.Context, commID int64) (*models.Device, error)
	GetClient(ctx context.Context, id int64) (*models.Client, error)
}

// Coordinator serializes each device's watermark bookkeeping and decides
// which ledger tier answers a sync request.
type Coordinator struct {
	resolver DeviceResolver
	ledger   *ledger.Ledger

	// minWatermarkDigits guards against devices sending second-resolution
	// timestamps; epoch milliseconds are 13 digits since 2001.
	minWatermarkDigits int

	// locks serializes the watermark-update, tier-selection, ledger-mutation
	// sequence per device. Ledger methods take their own per-device lock
	// internally; this lock is always acquired first and the ledger never
	// calls back up, so the ordering is acyclic.
	locks *keyedMutex

	now func() time.Time
}

// NewCoordinator wires the coordinator. minWatermarkDigits <= 0 selects the
// default of 13.
func NewCoordinator(resolver DeviceResolver, l *ledger.Ledger, minWatermarkDigits int) *Coordinator {
	if minWatermarkDigits <= 0 {
		minWatermarkDigits = 13
	}
	return &Coordinator{
		resolver:           resolver,
		ledger:             l,
		minWatermarkDigits: minWatermarkDigits,
		locks:              newKeyedMutex(),
		now:                time.Now,
	}
}

// RequestSync answers one inbound device sync request.
//
// The watermark the device sends is its claim of "I have everything up to
// here". Against the stored watermark this selects the tier:
//
//	0            full resync: serve History, wipe Pending and Backup
//	> stored     the device acks the in-flight batch: promote Pending to
//	             Backup and serve it
//	== stored    retransmission of the unacknowledged batch: serve Backup
//	             as-is, falling back to promotion when Backup is empty
//	anything else  tell the device to reset to watermark 0
func (c *Coordinator) RequestSync(ctx context.Context, commID, watermark int64) (*Payload, error) {
	if err := c.validateWatermark(watermark); err != nil {
		return nil, err
	}

	device, err := c.resolver.GetDeviceByCommID(ctx, commID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: comm id %d", ErrUnknownDevice, commID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve device: %w", err)
	}
	if device.Type != models.DeviceTypeTactical {
		return nil, fmt.Errorf("%w: comm id %d is not a tactical device", ErrUnknownDevice, commID)
	}

	client, err := c.resolver.GetClient(ctx, device.ClientID)
	if err != nil {
		return nil, fmt.Errorf("resolve client: %w", err)
	}
	if !client.SyncEnabled {
		return nil, fmt.Errorf("%w: client %d", ErrFeatureDisabled, client.ID)
	}

	unlock := c.locks.lock(device.ID)
	defer unlock()

	info, err := c.ledger.SyncInfo(ctx, device.ID)
	if errors.Is(err, ledger.ErrSyncInfoNotFound) {
		info = &models.DeviceSyncInfo{DeviceID: device.ID}
	} else if err != nil {
		return nil, fmt.Errorf("read sync info: %w", err)
	}

	stored := info.Watermark
	now := c.now().UnixMilli()

	// A watermark past the stored one means the device confirms it received
	// everything the stored watermark covered.
	if watermark > stored {
		info.AckReceived = now
	}
	info.Watermark = watermark
	info.SyncReceived = now
	if err := c.ledger.PutSyncInfo(ctx, info); err != nil {
		return nil, fmt.Errorf("update sync info: %w", err)
	}

	payload, tier, err := c.selectTier(ctx, device, client, watermark, stored)
	if err != nil {
		return nil, err
	}

	metrics.SyncRequestsTotal.WithLabelValues(tier).Inc()
	metrics.SyncEntriesServed.Add(float64(payload.entryCount()))
	logging.Info().
		Int64("comm_id", commID).
		Int64("device_id", device.ID).
		Int64("watermark", watermark).
		Int64("stored_watermark", stored).
		Str("tier", tier).
		Int("entries", payload.entryCount()).
		Msg("sync request served")

	return payload, nil
}

func (c *Coordinator) selectTier(ctx context.Context, device *models.Device, client *models.Client, watermark, stored int64) (*Payload, string, error) {
	switch {
	case watermark == 0:
		doc, err := c.ledger.FullResync(ctx, device.ID)
		if err != nil {
			return nil, "", fmt.Errorf("full resync: %w", err)
		}
		return c.payloadFor(device, client, doc), "history", nil

	case watermark > stored:
		doc, err := c.ledger.PromotePending(ctx, device.ID)
		if err != nil {
			return nil, "", fmt.Errorf("promote pending: %w", err)
		}
		return c.payloadFor(device, client, doc), "pending", nil

	case watermark == stored:
		doc, err := c.ledger.Document(ctx, ledger.TierBackup, device.ID)
		if err != nil {
			return nil, "", fmt.Errorf("read backup: %w", err)
		}
		if doc.Empty() {
			// Nothing in flight to retransmit; treat as an ack and pull
			// whatever has accumulated since.
			doc, err = c.ledger.PromotePending(ctx, device.ID)
			if err != nil {
				return nil, "", fmt.Errorf("promote pending: %w", err)
			}
			return c.payloadFor(device, client, doc), "pending", nil
		}
		return c.payloadFor(device, client, doc), "backup", nil

	default:
		// Watermark behind the stored one: the device's clock or state is
		// out of step. Tell it to start over rather than guess.
		logging.Warn().
			Int64("device_id", device.ID).
			Int64("watermark", watermark).
			Int64("stored_watermark", stored).
			Msg("stale watermark, instructing device to reset")
		return &Payload{
			DeviceCommID:  device.CommID,
			ClientID:      client.ID,
			Watermark:     stored,
			Geofences:     []EntityChange{},
			POIs:          []EntityChange{},
			ResetRequired: true,
			Message:       "watermark out of range, resync with watermark 0",
		}, "reset", nil
	}
}

func (c *Coordinator) payloadFor(device *models.Device, client *models.Client, doc *models.LedgerDocument) *Payload {
	payload := buildPayload(device.CommID, doc)
	if payload.ClientID == 0 {
		payload.ClientID = client.ID
	}
	return payload
}

func (c *Coordinator) validateWatermark(watermark int64) error {
	if watermark == 0 {
		return nil
	}
	if watermark < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidWatermark)
	}
	digits := 0
	for v := watermark; v > 0; v /= 10 {
		digits++
	}
	if digits < c.minWatermarkDigits {
		return fmt.Errorf("%w: %d digits, need %d", ErrInvalidWatermark, digits, c.minWatermarkDigits)
	}
	return nil
}
