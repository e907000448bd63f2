// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package sync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/config"
	"github.com/ssrniv42/fleetbridge/internal/events"
	"github.com/ssrniv42/fleetbridge/internal/ledger"
	"github.com/ssrniv42/fleetbridge/internal/mh"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
)

// fakeStore implements the store slices the sync package consumes.
type fakeStore struct {
	devices  map[int64]*models.Device
	clients  map[int64]*models.Client
	syncSets map[string][]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:  make(map[int64]*models.Device),
		clients:  make(map[int64]*models.Client),
		syncSets: make(map[string][]int64),
	}
}

func (f *fakeStore) addTacticalDevice(id, commID, clientID int64) {
	f.devices[id] = &models.Device{
		ID: id, ClientID: clientID, CommID: commID,
		Name: "unit", Type: models.DeviceTypeTactical,
	}
}

func (f *fakeStore) GetDevice(_ context.Context, id int64) (*models.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) GetDeviceByCommID(_ context.Context, commID int64) (*models.Device, error) {
	for _, d := range f.devices {
		if d.CommID == commID {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetClient(_ context.Context, id int64) (*models.Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) setSyncSet(entityType models.EntityType, entityID int64, deviceIDs []int64) {
	f.syncSets[fmt.Sprintf("%s:%d", entityType, entityID)] = deviceIDs
}

func (f *fakeStore) GetSyncDeviceIDs(_ context.Context, entityType models.EntityType, entityID int64) ([]int64, error) {
	return f.syncSets[fmt.Sprintf("%s:%d", entityType, entityID)], nil
}

type fakeRinger struct {
	rings []mh.Ring
	fail  bool
}

func (f *fakeRinger) SendRing(_ context.Context, ring mh.Ring) error {
	if f.fail {
		return errors.New("mh down")
	}
	f.rings = append(f.rings, ring)
	return nil
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(config.LedgerConfig{})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

const (
	wmBase = int64(1700000000000)
)

func seedGeofenceInsert(t *testing.T, l *ledger.Ledger, deviceID, geofenceID, ts int64) {
	t.Helper()
	err := l.ApplyChange(context.Background(), deviceID, 1, models.EntityGeofence, geofenceID, models.SyncEntry{
		Action:           models.ActionInsert,
		Payload:          map[string]any{"title": "zone", "id": geofenceID},
		LastModifiedTime: ts,
	})
	if err != nil {
		t.Fatalf("apply change: %v", err)
	}
}

func TestRequestSyncValidation(t *testing.T) {
	fs := newFakeStore()
	fs.addTacticalDevice(10, 7001, 1)
	fs.clients[1] = &models.Client{ID: 1, SyncEnabled: true}
	fs.devices[11] = &models.Device{ID: 11, ClientID: 1, CommID: 7002, Type: "cellular"}
	fs.addTacticalDevice(12, 7003, 2)
	fs.clients[2] = &models.Client{ID: 2, SyncEnabled: false}

	c := NewCoordinator(fs, newTestLedger(t), 13)

	tests := []struct {
		name      string
		commID    int64
		watermark int64
		wantErr   error
	}{
		{"short watermark", 7001, 12345, ErrInvalidWatermark},
		{"negative watermark", 7001, -1, ErrInvalidWatermark},
		{"unknown comm id", 9999, 0, ErrUnknownDevice},
		{"non tactical device", 7002, 0, ErrUnknownDevice},
		{"sync feature disabled", 7003, 0, ErrFeatureDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.RequestSync(context.Background(), tt.commID, tt.watermark)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWatermarkMonotonicityAndIdempotentRetransmission(t *testing.T) {
	fs := newFakeStore()
	fs.addTacticalDevice(10, 7001, 1)
	fs.clients[1] = &models.Client{ID: 1, SyncEnabled: true}

	l := newTestLedger(t)
	c := NewCoordinator(fs, l, 13)
	c.now = fixedClock(wmBase + 500)

	seedGeofenceInsert(t, l, 10, 5, wmBase)

	// Advancing watermark pulls Pending into Backup and records the ack.
	first, err := c.RequestSync(context.Background(), 7001, wmBase+100)
	if err != nil {
		t.Fatalf("RequestSync: %v", err)
	}
	if len(first.Geofences) != 1 || first.Geofences[0].ID != 5 ||
		first.Geofences[0].Action != int(models.ActionInsert) {
		t.Fatalf("unexpected payload: %+v", first.Geofences)
	}

	info, err := l.SyncInfo(context.Background(), 10)
	if err != nil {
		t.Fatalf("SyncInfo: %v", err)
	}
	if info.Watermark != wmBase+100 {
		t.Errorf("stored watermark = %d, want %d", info.Watermark, wmBase+100)
	}
	if info.AckReceived != wmBase+500 {
		t.Errorf("ackReceived = %d, want %d", info.AckReceived, wmBase+500)
	}

	// Same watermark again: identical payload from Backup, no new ack.
	c.now = fixedClock(wmBase + 900)
	second, err := c.RequestSync(context.Background(), 7001, wmBase+100)
	if err != nil {
		t.Fatalf("RequestSync retry: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("retransmission differs:\nfirst  %+v\nsecond %+v", first, second)
	}
	info, _ = l.SyncInfo(context.Background(), 10)
	if info.AckReceived != wmBase+500 {
		t.Errorf("ack updated on retransmission: %d", info.AckReceived)
	}
	if info.SyncReceived != wmBase+900 {
		t.Errorf("syncReceived = %d, want %d", info.SyncReceived, wmBase+900)
	}
}

func TestRequestSyncAdvancePastBackupServesNewPending(t *testing.T) {
	fs := newFakeStore()
	fs.addTacticalDevice(10, 7001, 1)
	fs.clients[1] = &models.Client{ID: 1, SyncEnabled: true}

	l := newTestLedger(t)
	c := NewCoordinator(fs, l, 13)
	c.now = fixedClock(wmBase)

	seedGeofenceInsert(t, l, 10, 5, wmBase)
	if _, err := c.RequestSync(context.Background(), 7001, wmBase+100); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	// Device acks the in-flight batch by advancing; new change waits in
	// Pending and becomes the next batch.
	seedGeofenceInsert(t, l, 10, 6, wmBase+200)
	resp, err := c.RequestSync(context.Background(), 7001, wmBase+300)
	if err != nil {
		t.Fatalf("RequestSync advance: %v", err)
	}
	if len(resp.Geofences) != 1 || resp.Geofences[0].ID != 6 {
		t.Fatalf("expected only the new batch, got %+v", resp.Geofences)
	}
}

func TestFullResyncClearsWorkingSets(t *testing.T) {
	fs := newFakeStore()
	fs.addTacticalDevice(10, 7001, 1)
	fs.clients[1] = &models.Client{ID: 1, SyncEnabled: true}

	l := newTestLedger(t)
	c := NewCoordinator(fs, l, 13)
	c.now = fixedClock(wmBase)

	seedGeofenceInsert(t, l, 10, 5, wmBase)
	if _, err := c.RequestSync(context.Background(), 7001, wmBase+100); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}
	seedGeofenceInsert(t, l, 10, 6, wmBase+200)

	resp, err := c.RequestSync(context.Background(), 7001, 0)
	if err != nil {
		t.Fatalf("RequestSync(0): %v", err)
	}
	if len(resp.Geofences) != 2 {
		t.Fatalf("history payload = %+v, want both geofences", resp.Geofences)
	}

	for _, tier := range []ledger.Tier{ledger.TierPending, ledger.TierBackup} {
		doc, err := l.Document(context.Background(), tier, 10)
		if err != nil {
			t.Fatalf("Document(%s): %v", tier, err)
		}
		if !doc.Empty() {
			t.Errorf("tier %s not empty after full resync", tier)
		}
	}
}

func TestStaleWatermarkRequestsReset(t *testing.T) {
	fs := newFakeStore()
	fs.addTacticalDevice(10, 7001, 1)
	fs.clients[1] = &models.Client{ID: 1, SyncEnabled: true}

	l := newTestLedger(t)
	c := NewCoordinator(fs, l, 13)
	c.now = fixedClock(wmBase)

	if _, err := c.RequestSync(context.Background(), 7001, wmBase+500); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	resp, err := c.RequestSync(context.Background(), 7001, wmBase+100)
	if err != nil {
		t.Fatalf("RequestSync stale: %v", err)
	}
	if !resp.ResetRequired {
		t.Error("expected reset instruction for stale watermark")
	}
	if len(resp.Geofences) != 0 || len(resp.POIs) != 0 {
		t.Errorf("reset payload should carry no entries: %+v", resp)
	}
}

func TestProjectGeofenceActivationReclassification(t *testing.T) {
	fs := newFakeStore()
	l := newTestLedger(t)
	p := NewProjector(fs, l)
	ctx := context.Background()

	fs.setSyncSet(models.EntityGeofence, 5, []int64{10})

	base := map[string]any{
		"id": int64(5), "client_id": int64(1), "title": "zone",
		"note": "old", "active": true,
	}

	// Note edit while active stays true: untouched member gets an Update.
	after := map[string]any{
		"id": int64(5), "client_id": int64(1), "title": "zone",
		"note": "new", "active": true,
	}
	_, err := p.Project(ctx, events.EntityChanged{
		EntityType: models.EntityGeofence, EntityID: 5, Action: events.ChangePut,
		Before: base, After: after,
		OldSyncDeviceIDs: []int64{10}, ModifiedTime: wmBase,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	doc, _ := l.Document(ctx, ledger.TierPending, 10)
	if got := doc.Geofences["5"].Action; got != models.ActionUpdate {
		t.Errorf("action = %v, want update", got)
	}

	// Same edit plus activation: the member must get an Insert instead.
	inactiveBefore := map[string]any{
		"id": int64(5), "client_id": int64(1), "title": "zone",
		"note": "old", "active": false,
	}
	_, err = p.Project(ctx, events.EntityChanged{
		EntityType: models.EntityGeofence, EntityID: 5, Action: events.ChangePut,
		Before: inactiveBefore, After: after,
		OldSyncDeviceIDs: []int64{10}, ModifiedTime: wmBase + 100,
	})
	if err != nil {
		t.Fatalf("Project activation: %v", err)
	}
	doc, _ = l.Document(ctx, ledger.TierPending, 10)
	if got := doc.Geofences["5"].Action; got != models.ActionInsert {
		t.Errorf("action after activation = %v, want insert", got)
	}
}

func TestProjectGeofenceDeactivationWipesMembers(t *testing.T) {
	fs := newFakeStore()
	l := newTestLedger(t)
	p := NewProjector(fs, l)
	ctx := context.Background()

	fs.setSyncSet(models.EntityGeofence, 5, []int64{10, 11})

	before := map[string]any{"id": int64(5), "client_id": int64(1), "active": true}
	after := map[string]any{"id": int64(5), "client_id": int64(1), "active": false}

	touched, err := p.Project(ctx, events.EntityChanged{
		EntityType: models.EntityGeofence, EntityID: 5, Action: events.ChangePut,
		Before: before, After: after,
		OldSyncDeviceIDs: []int64{10, 11}, ModifiedTime: wmBase,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(touched) != 2 {
		t.Fatalf("touched = %v, want both members", touched)
	}
	for _, deviceID := range []int64{10, 11} {
		doc, _ := l.Document(ctx, ledger.TierPending, deviceID)
		if got := doc.Geofences["5"].Action; got != models.ActionDelete {
			t.Errorf("device %d action = %v, want delete", deviceID, got)
		}
	}
}

func TestProjectPOIApprovalFansOutAsInsert(t *testing.T) {
	fs := newFakeStore()
	l := newTestLedger(t)
	p := NewProjector(fs, l)
	ctx := context.Background()

	fs.setSyncSet(models.EntityPOI, 7, []int64{10})

	before := map[string]any{"id": int64(7), "client_id": int64(1), "title": "cache", "approved": false}
	after := map[string]any{"id": int64(7), "client_id": int64(1), "title": "cache", "approved": true}

	touched, err := p.Project(ctx, events.EntityChanged{
		EntityType: models.EntityPOI, EntityID: 7, Action: events.ChangePut,
		Before: before, After: after,
		OldSyncDeviceIDs: []int64{10}, ModifiedTime: wmBase,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(touched) != 1 || touched[0] != 10 {
		t.Fatalf("touched = %v", touched)
	}
	doc, _ := l.Document(ctx, ledger.TierPending, 10)
	if got := doc.POIs["7"].Action; got != models.ActionInsert {
		t.Errorf("action = %v, want insert (approval is not an update)", got)
	}
}

func TestProjectPOIRevocationSendsReject(t *testing.T) {
	fs := newFakeStore()
	l := newTestLedger(t)
	p := NewProjector(fs, l)
	ctx := context.Background()

	fs.setSyncSet(models.EntityPOI, 7, []int64{10})

	before := map[string]any{"id": int64(7), "client_id": int64(1), "approved": true}
	after := map[string]any{"id": int64(7), "client_id": int64(1), "approved": false}

	_, err := p.Project(ctx, events.EntityChanged{
		EntityType: models.EntityPOI, EntityID: 7, Action: events.ChangePut,
		Before: before, After: after,
		OldSyncDeviceIDs: []int64{10}, ModifiedTime: wmBase,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	doc, _ := l.Document(ctx, ledger.TierPending, 10)
	if got := doc.POIs["7"].Action; got != models.ActionReject {
		t.Errorf("action = %v, want reject", got)
	}
}

func TestProjectDeleteSuppressedForInvisibleEntities(t *testing.T) {
	fs := newFakeStore()
	l := newTestLedger(t)
	p := NewProjector(fs, l)
	ctx := context.Background()

	touched, err := p.Project(ctx, events.EntityChanged{
		EntityType: models.EntityGeofence, EntityID: 5, Action: events.ChangeDelete,
		Before:           map[string]any{"id": int64(5), "active": false},
		OldSyncDeviceIDs: []int64{10},
		ModifiedTime:     wmBase,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(touched) != 0 {
		t.Errorf("inactive fence delete should fan out to no one, got %v", touched)
	}
	doc, _ := l.Document(ctx, ledger.TierPending, 10)
	if !doc.Empty() {
		t.Errorf("ledger should be untouched: %+v", doc)
	}
}

func TestInitiateSkipsDeletedDevices(t *testing.T) {
	fs := newFakeStore()
	fs.addTacticalDevice(10, 7001, 1)
	// device 11 does not exist

	l := newTestLedger(t)
	ringer := &fakeRinger{}
	i := NewInitiator(fs, l, ringer, nil)
	i.now = fixedClock(wmBase)

	sent, err := i.Initiate(context.Background(), []int64{10, 11})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if !sent {
		t.Fatal("expected ring to be sent")
	}
	if len(ringer.rings) != 1 {
		t.Fatalf("rings = %d, want 1", len(ringer.rings))
	}
	ring := ringer.rings[0]
	if ring.ClientID != 1 || len(ring.CommIDs) != 1 || ring.CommIDs[0] != 7001 {
		t.Errorf("unexpected ring %+v", ring)
	}

	info, err := l.SyncInfo(context.Background(), 10)
	if err != nil {
		t.Fatalf("SyncInfo: %v", err)
	}
	if info.RingSent != wmBase {
		t.Errorf("ringSent = %d, want %d", info.RingSent, wmBase)
	}
	if info.Synced() {
		t.Error("device should be pending until it acks the ring")
	}
}

func TestInitiateAllDeletedReturnsFalse(t *testing.T) {
	fs := newFakeStore()
	l := newTestLedger(t)
	ringer := &fakeRinger{}
	i := NewInitiator(fs, l, ringer, nil)

	sent, err := i.Initiate(context.Background(), []int64{42})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if sent {
		t.Error("nothing to announce, expected false")
	}
	if len(ringer.rings) != 0 {
		t.Errorf("no ring should go out: %+v", ringer.rings)
	}
}
