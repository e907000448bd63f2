// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package mh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/metrics"
)

const queueKeyPrefix = "mh:queue:"

// queuedCommand is the durable record of one undelivered MH command.
type queuedCommand struct {
	Path     string `json:"path"`
	Payload  []byte `json:"payload"`
	QueuedAt int64  `json:"queued_at"`
	Attempts int    `json:"attempts"`
}

// Queue is the durable MH retry queue, stored in Badger alongside the sync
// ledger. Commands are keyed by path plus payload hash, so re-queueing the
// same command (another ring for the same device and watermark) overwrites
// rather than duplicates.
type Queue struct {
	db *badger.DB

	// drainMu serializes Drain so a ping-triggered flush and the background
	// flusher never double-send.
	drainMu sync.Mutex
}

// NewQueue creates a retry queue on the shared Badger instance.
func NewQueue(db *badger.DB) *Queue {
	q := &Queue{db: db}
	metrics.MHQueueDepth.Set(float64(q.depth()))
	return q
}

func queueKey(path string, payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return []byte(queueKeyPrefix + path + ":" + hex.EncodeToString(sum[:8]))
}

// Enqueue spools one command for later delivery.
func (q *Queue) Enqueue(path string, payload []byte) error {
	cmd := queuedCommand{
		Path:     path,
		Payload:  payload,
		QueuedAt: time.Now().UnixMilli(),
	}
	value, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal queued command: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey(path, payload), value)
	})
	if err != nil {
		return fmt.Errorf("enqueue mh command: %w", err)
	}
	metrics.MHQueueDepth.Set(float64(q.depth()))
	return nil
}

// SendFunc delivers one spooled command.
type SendFunc func(ctx context.Context, path string, payload []byte) error

// Drain attempts to deliver every spooled command. The first delivery
// failure stops the drain: the MH is evidently still down and the remaining
// commands keep their place in the queue.
func (q *Queue) Drain(ctx context.Context, send SendFunc) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	type item struct {
		key []byte
		cmd queuedCommand
	}
	var items []item

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var cmd queuedCommand
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cmd)
			})
			if err != nil {
				return fmt.Errorf("decode queued command: %w", err)
			}
			items = append(items, item{key: it.Item().KeyCopy(nil), cmd: cmd})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan mh queue: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	logging.Info().Int("depth", len(items)).Msg("draining mh retry queue")

	delivered := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := send(ctx, item.cmd.Path, item.cmd.Payload); err != nil {
			logging.Warn().Err(err).
				Str("path", item.cmd.Path).
				Int("delivered", delivered).
				Int("remaining", len(items)-delivered).
				Msg("mh queue drain stopped")
			break
		}
		if err := q.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(item.key)
		}); err != nil {
			return fmt.Errorf("dequeue mh command: %w", err)
		}
		delivered++
		metrics.MHRequestsTotal.WithLabelValues(item.cmd.Path, "replayed").Inc()
	}

	metrics.MHQueueDepth.Set(float64(q.depth()))
	if delivered > 0 {
		logging.Info().Int("delivered", delivered).Msg("mh retry queue drained")
	}
	return nil
}

// Depth returns the number of spooled commands.
func (q *Queue) Depth() int {
	return q.depth()
}

func (q *Queue) depth() int {
	count := 0
	_ = q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}
