// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package websocket pushes live platform events to operator consoles: alert
// transitions and sync-initiated notifications. Consoles subscribe through
// a single hub; broadcast is best effort and a slow console is dropped
// rather than allowed to stall the rest.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/metrics"
	"github.com/ssrniv42/fleetbridge/internal/models"
)

// Frame types pushed to consoles.
const (
	MessageTypeAlert         = "alert"
	MessageTypeSyncInitiated = "sync_initiated"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
)

// Message is one WebSocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of connected consoles and fans frames out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an idle hub; call Serve to start it.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub loop until the context ends, then closes every
// connected console and returns ctx.Err(). Designed to run under the
// supervision tree.
//
// Lifecycle events are drained before broadcasts so client state is
// consistent when a frame fans out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WebSocketClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		AnErr("cause", ctx.Err()).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// broadcastToClients fans one frame out in client-id order. A console whose
// send buffer is full is disconnected; the fleet view is periodic, losing a
// stalled console is cheaper than blocking all the others.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WebSocketClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped slow websocket clients")
	}
}

// AlertData is the payload of an alert frame.
type AlertData struct {
	AlertID    int64  `json:"alert_id"`
	AlertType  string `json:"alert_type"`
	DeviceID   int64  `json:"device_id"`
	Transition string `json:"transition"`
	Timestamp  string `json:"timestamp"`
}

// NotifyAlert pushes an alert transition to all consoles.
func (h *Hub) NotifyAlert(a *models.Alert, transition string) {
	message := Message{
		Type: MessageTypeAlert,
		Data: AlertData{
			AlertID:    a.ID,
			AlertType:  a.AlertTypeName,
			DeviceID:   a.DeviceID,
			Transition: transition,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		},
	}

	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Int64("alert_id", a.ID).Msg("broadcast channel full, dropping alert frame")
	}
}

// SyncInitiatedData is the payload of a sync_initiated frame.
type SyncInitiatedData struct {
	ClientID  int64   `json:"client_id"`
	DeviceIDs []int64 `json:"device_ids"`
	Timestamp string  `json:"timestamp"`
}

// BroadcastSyncInitiated tells consoles which devices were just rung.
func (h *Hub) BroadcastSyncInitiated(clientID int64, deviceIDs []int64) {
	message := Message{
		Type: MessageTypeSyncInitiated,
		Data: SyncInitiatedData{
			ClientID:  clientID,
			DeviceIDs: deviceIDs,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Msg("broadcast channel full, dropping sync_initiated frame")
	}
}

// ClientCount returns the number of connected consoles.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
