// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package websocket

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/models"
)

//nolint:gochecknoinits // quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub, cancel
}

func testClient(hub *Hub) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, 256),
	}
}

func register(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	select {
	case hub.Register <- client:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsAlertFrames(t *testing.T) {
	hub, _ := startHub(t)
	client := testClient(hub)
	register(t, hub, client)

	hub.NotifyAlert(&models.Alert{
		ID:            42,
		AlertTypeName: models.AlertTypeSpeed,
		DeviceID:      7,
	}, "start")

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeAlert {
			t.Fatalf("frame type = %q, want %q", msg.Type, MessageTypeAlert)
		}
		data, ok := msg.Data.(AlertData)
		if !ok {
			t.Fatalf("frame data type %T", msg.Data)
		}
		if data.AlertID != 42 || data.DeviceID != 7 || data.Transition != "start" {
			t.Fatalf("unexpected frame data %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
}

func TestHubBroadcastsSyncInitiated(t *testing.T) {
	hub, _ := startHub(t)
	client := testClient(hub)
	register(t, hub, client)

	hub.BroadcastSyncInitiated(3, []int64{11, 12})

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeSyncInitiated {
			t.Fatalf("frame type = %q, want %q", msg.Type, MessageTypeSyncInitiated)
		}
		data := msg.Data.(SyncInitiatedData)
		if data.ClientID != 3 || len(data.DeviceIDs) != 2 {
			t.Fatalf("unexpected frame data %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub, _ := startHub(t)
	slow := testClient(hub)
	slow.send = make(chan Message) // unbuffered, nobody reading
	register(t, hub, slow)

	hub.NotifyAlert(&models.Alert{ID: 1, AlertTypeName: models.AlertTypeEmergency}, "start")

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("client count = %d, want 0", got)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, cancel := startHub(t)
	client := testClient(hub)
	register(t, hub, client)

	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		select {
		case _, ok := <-client.send:
			if !ok {
				return
			}
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("send channel not closed on shutdown")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
