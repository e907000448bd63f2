// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrniv42/fleetbridge/internal/config"
	"github.com/ssrniv42/fleetbridge/internal/models"
)

func newTestLedger(t *testing.T, appendOnly bool) *Ledger {
	t.Helper()
	l, err := Open(config.LedgerConfig{AppendOnlyHistory: appendOnly})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func applyGeofenceChange(t *testing.T, l *Ledger, deviceID, geofenceID int64, action models.SyncAction, ts int64) {
	t.Helper()
	err := l.ApplyChange(context.Background(), deviceID, 1, models.EntityGeofence, geofenceID, models.SyncEntry{
		Action:           action,
		Payload:          map[string]any{"title": "zone"},
		LastModifiedTime: ts,
	})
	require.NoError(t, err)
}

func TestApplyChangeWritesPendingAndHistory(t *testing.T) {
	l := newTestLedger(t, false)
	ctx := context.Background()

	applyGeofenceChange(t, l, 10, 5, models.ActionInsert, 1700000000000)

	pending, err := l.Document(ctx, TierPending, 10)
	require.NoError(t, err)
	assert.Contains(t, pending.Geofences, "5")
	assert.Equal(t, int64(1700000000000), pending.Watermark)

	history, err := l.Document(ctx, TierHistory, 10)
	require.NoError(t, err)
	assert.Contains(t, history.Geofences, "5")

	backup, err := l.Document(ctx, TierBackup, 10)
	require.NoError(t, err)
	assert.True(t, backup.Empty())
}

func TestDeleteAnnihilatesBufferedInsert(t *testing.T) {
	l := newTestLedger(t, false)
	ctx := context.Background()

	applyGeofenceChange(t, l, 10, 5, models.ActionInsert, 1700000000000)
	applyGeofenceChange(t, l, 10, 5, models.ActionDelete, 1700000001000)

	pending, err := l.Document(ctx, TierPending, 10)
	require.NoError(t, err)
	assert.NotContains(t, pending.Geofences, "5")
}

func TestAppendOnlyHistoryKeepsDelete(t *testing.T) {
	l := newTestLedger(t, true)
	ctx := context.Background()

	applyGeofenceChange(t, l, 10, 5, models.ActionInsert, 1700000000000)
	applyGeofenceChange(t, l, 10, 5, models.ActionDelete, 1700000001000)

	// Pending annihilates either way; History keeps the delete on record.
	pending, err := l.Document(ctx, TierPending, 10)
	require.NoError(t, err)
	assert.NotContains(t, pending.Geofences, "5")

	history, err := l.Document(ctx, TierHistory, 10)
	require.NoError(t, err)
	require.Contains(t, history.Geofences, "5")
	assert.Equal(t, models.ActionDelete, history.Geofences["5"].Action)
}

func TestPromotePendingMovesToBackup(t *testing.T) {
	l := newTestLedger(t, false)
	ctx := context.Background()

	applyGeofenceChange(t, l, 10, 5, models.ActionInsert, 1700000000000)

	promoted, err := l.PromotePending(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, promoted.Geofences, "5")

	pending, err := l.Document(ctx, TierPending, 10)
	require.NoError(t, err)
	assert.True(t, pending.Empty())

	backup, err := l.Document(ctx, TierBackup, 10)
	require.NoError(t, err)
	assert.Contains(t, backup.Geofences, "5")

	// Promoting again with empty Pending leaves Backup as-is.
	again, err := l.PromotePending(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, again.Geofences, "5")
}

func TestPromotePendingOverwritesStaleBackup(t *testing.T) {
	l := newTestLedger(t, false)
	ctx := context.Background()

	applyGeofenceChange(t, l, 10, 5, models.ActionInsert, 1700000000000)
	_, err := l.PromotePending(ctx, 10)
	require.NoError(t, err)

	applyGeofenceChange(t, l, 10, 6, models.ActionInsert, 1700000002000)
	promoted, err := l.PromotePending(ctx, 10)
	require.NoError(t, err)

	// The new batch replaces the old in-flight batch wholesale.
	assert.NotContains(t, promoted.Geofences, "5")
	assert.Contains(t, promoted.Geofences, "6")

	backup, err := l.Document(ctx, TierBackup, 10)
	require.NoError(t, err)
	assert.NotContains(t, backup.Geofences, "5")
	assert.Contains(t, backup.Geofences, "6")
}

func TestFullResyncServesHistoryAndClearsWorkingSets(t *testing.T) {
	l := newTestLedger(t, false)
	ctx := context.Background()

	applyGeofenceChange(t, l, 10, 5, models.ActionInsert, 1700000000000)
	_, err := l.PromotePending(ctx, 10)
	require.NoError(t, err)
	applyGeofenceChange(t, l, 10, 6, models.ActionInsert, 1700000001000)

	history, err := l.FullResync(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, history.Geofences, "5")
	assert.Contains(t, history.Geofences, "6")

	pending, err := l.Document(ctx, TierPending, 10)
	require.NoError(t, err)
	assert.True(t, pending.Empty())
	backup, err := l.Document(ctx, TierBackup, 10)
	require.NoError(t, err)
	assert.True(t, backup.Empty())
}

func TestPurgeDevice(t *testing.T) {
	l := newTestLedger(t, false)
	ctx := context.Background()

	applyGeofenceChange(t, l, 10, 5, models.ActionInsert, 1700000000000)
	require.NoError(t, l.PutSyncInfo(ctx, &models.DeviceSyncInfo{DeviceID: 10, Watermark: 1700000000000}))

	require.NoError(t, l.PurgeDevice(ctx, 10))

	for _, tier := range []Tier{TierPending, TierBackup, TierHistory} {
		doc, err := l.Document(ctx, tier, 10)
		require.NoError(t, err)
		assert.True(t, doc.Empty(), "tier %s should be empty", tier)
	}
	_, err := l.SyncInfo(ctx, 10)
	assert.ErrorIs(t, err, ErrSyncInfoNotFound)
}

func TestSyncInfoRoundTrip(t *testing.T) {
	l := newTestLedger(t, false)
	ctx := context.Background()

	_, err := l.SyncInfo(ctx, 10)
	assert.ErrorIs(t, err, ErrSyncInfoNotFound)

	info := &models.DeviceSyncInfo{
		DeviceID:    10,
		Watermark:   1700000000000,
		AckReceived: 200,
		RingSent:    100,
	}
	require.NoError(t, l.PutSyncInfo(ctx, info))

	got, err := l.SyncInfo(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, info, got)
	assert.True(t, got.Synced())

	got.RingSent = 300
	assert.False(t, got.Synced())
}
