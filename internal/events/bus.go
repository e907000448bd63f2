// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ssrniv42/fleetbridge/internal/logging"
)

// Handler processes one entity change. A non-nil error nacks the message
// and lets the retry middleware redeliver it.
type Handler interface {
	HandleEntityChange(ctx context.Context, ev EntityChanged) error
}

// Bus is the in-process entity-change bus: a buffered gochannel pub/sub
// plus a Watermill router delivering to the sync pipeline.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
}

// NewBus creates the bus and wires handler to the entity-change topic.
func NewBus(handler Handler) (*Bus, error) {
	logger := NewLoggerAdapter()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
		Persistent:          false,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 15 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			Logger:          logger,
		}.Middleware,
	)

	router.AddNoPublisherHandler(
		"sync_pipeline",
		TopicEntityChanged,
		pubsub,
		func(msg *message.Message) error {
			ev, err := ParseMessage(msg)
			if err != nil {
				// Malformed payloads never become valid; drop instead of
				// cycling through the retry middleware.
				logging.Error().Err(err).Str("message_id", msg.UUID).
					Msg("dropping malformed entity change")
				return nil
			}
			return handler.HandleEntityChange(msg.Context(), ev)
		},
	)

	return &Bus{pubsub: pubsub, router: router}, nil
}

// Publish emits an entity change onto the bus.
func (b *Bus) Publish(ctx context.Context, ev EntityChanged) error {
	msg, err := NewMessage(ev)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(TopicEntityChanged, msg); err != nil {
		return fmt.Errorf("publish entity change: %w", err)
	}
	logging.Debug().
		Str("entity_type", string(ev.EntityType)).
		Int64("entity_id", ev.EntityID).
		Str("action", string(ev.Action)).
		Msg("entity change published")
	return nil
}

// Serve runs the router until ctx is cancelled. Blocks; intended to run
// under the supervision tree.
func (b *Bus) Serve(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel closed once the router is accepting messages.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close shuts down the router and the underlying pub/sub.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("close router: %w", err)
	}
	return b.pubsub.Close()
}
