// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/models"
)

type capturingHandler struct {
	mu     sync.Mutex
	events []EntityChanged
	done   chan struct{}
}

func (h *capturingHandler) HandleEntityChange(_ context.Context, ev EntityChanged) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	select {
	case h.done <- struct{}{}:
	default:
	}
	return nil
}

func TestBusDeliversEntityChange(t *testing.T) {
	handler := &capturingHandler{done: make(chan struct{}, 1)}
	bus, err := NewBus(handler)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := bus.Serve(ctx); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	<-bus.Running()

	want := EntityChanged{
		EntityType:       models.EntityGeofence,
		EntityID:         42,
		Action:           ChangePut,
		After:            map[string]any{"title": "perimeter"},
		OldSyncDeviceIDs: []int64{1, 2},
		ModifiedTime:     1700000000000,
	}
	if err := bus.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.events) != 1 {
		t.Fatalf("got %d events, want 1", len(handler.events))
	}
	got := handler.events[0]
	if got.EntityType != want.EntityType || got.EntityID != want.EntityID ||
		got.Action != want.Action || got.ModifiedTime != want.ModifiedTime {
		t.Errorf("event mismatch: got %+v", got)
	}
	if got.After["title"] != "perimeter" {
		t.Errorf("After not carried: %+v", got.After)
	}
	if len(got.OldSyncDeviceIDs) != 2 {
		t.Errorf("OldSyncDeviceIDs not carried: %+v", got.OldSyncDeviceIDs)
	}
}

func TestParseMessageRoundTrip(t *testing.T) {
	ev := EntityChanged{
		EntityType: models.EntityPOI,
		EntityID:   7,
		Action:     ChangeDelete,
		Before:     map[string]any{"approved": true},
		ModifiedBy: 9001,
	}
	msg, err := NewMessage(ev)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.Metadata.Get("entity_type") != "poi" {
		t.Errorf("metadata entity_type = %q", msg.Metadata.Get("entity_type"))
	}

	got, err := ParseMessage(msg)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if got.EntityID != 7 || got.Action != ChangeDelete || got.ModifiedBy != 9001 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
