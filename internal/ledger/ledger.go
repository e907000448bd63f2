// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package ledger implements the three-tier sync ledger on BadgerDB.
//
// Each device owns up to one document per tier:
//
//	Pending  - changes not yet attached to an in-flight sync response
//	Backup   - the batch sent in the last sync response, unacknowledged
//	History  - durable superset answering full-resync (watermark=0) requests
//
// Pending and Backup are mutually exclusive working sets; History is only
// removed when the device itself is deleted. Every document mutation runs
// under a per-device mutex so the read-modify-write of the nested entry
// maps is atomic per device.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/ssrniv42/fleetbridge/internal/config"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/metrics"
	"github.com/ssrniv42/fleetbridge/internal/models"
)

// Tier identifies one of the three ledger tiers.
type Tier string

const (
	TierPending Tier = "pending"
	TierBackup  Tier = "backup"
	TierHistory Tier = "history"
)

// Key prefixes for BadgerDB storage.
const (
	pendingKeyPrefix  = "sync:pending:"
	backupKeyPrefix   = "sync:backup:"
	historyKeyPrefix  = "sync:history:"
	syncInfoKeyPrefix = "sync:info:"
)

// ErrSyncInfoNotFound is returned when a device has no sync info record yet.
var ErrSyncInfoNotFound = errors.New("device sync info not found")

// Ledger is the badger-backed sync ledger.
type Ledger struct {
	db                *badger.DB
	locks             *keyedMutex
	appendOnlyHistory bool
	gcInterval        time.Duration
}

// Open opens (or creates) the ledger at the configured path. An empty path
// selects Badger's in-memory mode, which is only appropriate for tests.
func Open(cfg config.LedgerConfig) (*Ledger, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // badger's own logger is too chatty; we log around it
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	return &Ledger{
		db:                db,
		locks:             newKeyedMutex(),
		appendOnlyHistory: cfg.AppendOnlyHistory,
		gcInterval:        cfg.GCInterval,
	}, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// DB exposes the underlying Badger handle so other durable state (the MH
// retry queue) can share the instance under its own key prefix.
func (l *Ledger) DB() *badger.DB {
	return l.db
}

func tierKey(tier Tier, deviceID int64) []byte {
	var prefix string
	switch tier {
	case TierPending:
		prefix = pendingKeyPrefix
	case TierBackup:
		prefix = backupKeyPrefix
	case TierHistory:
		prefix = historyKeyPrefix
	}
	return []byte(prefix + strconv.FormatInt(deviceID, 10))
}

func syncInfoKey(deviceID int64) []byte {
	return []byte(syncInfoKeyPrefix + strconv.FormatInt(deviceID, 10))
}

// Document returns the device's document in the given tier. A missing
// document comes back as an empty document, never nil.
func (l *Ledger) Document(ctx context.Context, tier Tier, deviceID int64) (*models.LedgerDocument, error) {
	doc := &models.LedgerDocument{DeviceID: deviceID}

	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tierKey(tier, deviceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get %s document: %w", tier, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ApplyChange merges one change into the device's Pending and History
// documents. Both tiers go through the identical merge rule; History only
// annihilates when append-only mode is off. The document watermark advances
// to the change's modification time.
func (l *Ledger) ApplyChange(
	ctx context.Context,
	deviceID, clientID int64,
	entityType models.EntityType,
	entityID int64,
	entry models.SyncEntry,
) error {
	unlock := l.locks.lock(deviceID)
	defer unlock()

	// Backup is only ever written by PromotePending; a change produced while
	// a batch is in flight waits in Pending for the next promotion.
	return l.db.Update(func(txn *badger.Txn) error {
		if err := l.mergeDocument(txn, TierPending, deviceID, clientID, entityType, entityID, entry, true); err != nil {
			return err
		}
		return l.mergeDocument(txn, TierHistory, deviceID, clientID, entityType, entityID, entry, !l.appendOnlyHistory)
	})
}

// mergeDocument performs the read-merge-write of one tier document.
func (l *Ledger) mergeDocument(
	txn *badger.Txn,
	tier Tier,
	deviceID, clientID int64,
	entityType models.EntityType,
	entityID int64,
	entry models.SyncEntry,
	allowAnnihilate bool,
) error {
	key := tierKey(tier, deviceID)
	doc := &models.LedgerDocument{DeviceID: deviceID, ClientID: clientID}

	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		// fresh document
	case err != nil:
		return fmt.Errorf("get %s document: %w", tier, err)
	default:
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, doc)
		}); err != nil {
			return fmt.Errorf("decode %s document: %w", tier, err)
		}
	}

	entries := doc.Entries(entityType)
	idKey := strconv.FormatInt(entityID, 10)

	var existing *models.SyncEntry
	if cur, ok := entries[idKey]; ok {
		existing = &cur
	}

	merged, outcome := Merge(existing, entry, allowAnnihilate)
	metrics.LedgerMergesTotal.WithLabelValues(string(outcome)).Inc()

	if merged == nil {
		delete(entries, idKey)
	} else {
		entries[idKey] = *merged
	}

	doc.ClientID = clientID
	doc.Watermark = entry.LastModifiedTime

	logging.Debug().
		Int64("device_id", deviceID).
		Str("tier", string(tier)).
		Str("entity_type", string(entityType)).
		Int64("entity_id", entityID).
		Str("outcome", string(outcome)).
		Msg("ledger merge")

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", tier, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s document: %w", tier, err)
	}
	return nil
}

// PromotePending moves the device's Pending document into Backup,
// overwriting any previous Backup, and deletes Pending. When Pending is
// empty the existing Backup is left untouched. Returns the resulting
// Backup document.
func (l *Ledger) PromotePending(ctx context.Context, deviceID int64) (*models.LedgerDocument, error) {
	unlock := l.locks.lock(deviceID)
	defer unlock()

	var result *models.LedgerDocument
	err := l.db.Update(func(txn *badger.Txn) error {
		pending, err := l.readDocument(txn, TierPending, deviceID)
		if err != nil {
			return err
		}

		if pending == nil || pending.Empty() {
			backup, err := l.readDocument(txn, TierBackup, deviceID)
			if err != nil {
				return err
			}
			if backup == nil {
				backup = &models.LedgerDocument{DeviceID: deviceID}
			}
			result = backup
			return nil
		}

		data, err := json.Marshal(pending)
		if err != nil {
			return fmt.Errorf("encode backup document: %w", err)
		}
		if err := txn.Set(tierKey(TierBackup, deviceID), data); err != nil {
			return fmt.Errorf("set backup document: %w", err)
		}
		if err := txn.Delete(tierKey(TierPending, deviceID)); err != nil {
			return fmt.Errorf("delete pending document: %w", err)
		}
		result = pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FullResync reads the device's History document and deletes its Pending
// and Backup documents: the device has declared amnesia and will be handed
// everything it is supposed to know.
func (l *Ledger) FullResync(ctx context.Context, deviceID int64) (*models.LedgerDocument, error) {
	unlock := l.locks.lock(deviceID)
	defer unlock()

	var history *models.LedgerDocument
	err := l.db.Update(func(txn *badger.Txn) error {
		var err error
		history, err = l.readDocument(txn, TierHistory, deviceID)
		if err != nil {
			return err
		}
		if history == nil {
			history = &models.LedgerDocument{DeviceID: deviceID}
		}
		if err := txn.Delete(tierKey(TierBackup, deviceID)); err != nil {
			return fmt.Errorf("delete backup document: %w", err)
		}
		if err := txn.Delete(tierKey(TierPending, deviceID)); err != nil {
			return fmt.Errorf("delete pending document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// PurgeDevice removes all three tier documents and the sync info record.
// Called when the device itself is deleted from the platform.
func (l *Ledger) PurgeDevice(ctx context.Context, deviceID int64) error {
	unlock := l.locks.lock(deviceID)
	defer unlock()

	return l.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{
			tierKey(TierPending, deviceID),
			tierKey(TierBackup, deviceID),
			tierKey(TierHistory, deviceID),
			syncInfoKey(deviceID),
		} {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("purge device %d: %w", deviceID, err)
			}
		}
		return nil
	})
}

// readDocument fetches and decodes one tier document inside txn.
// Returns nil (no error) when the document does not exist.
func (l *Ledger) readDocument(txn *badger.Txn, tier Tier, deviceID int64) (*models.LedgerDocument, error) {
	item, err := txn.Get(tierKey(tier, deviceID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s document: %w", tier, err)
	}
	doc := &models.LedgerDocument{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, doc)
	}); err != nil {
		return nil, fmt.Errorf("decode %s document: %w", tier, err)
	}
	return doc, nil
}

// SyncInfo returns the device's sync info record, or ErrSyncInfoNotFound.
func (l *Ledger) SyncInfo(ctx context.Context, deviceID int64) (*models.DeviceSyncInfo, error) {
	info := &models.DeviceSyncInfo{}
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(syncInfoKey(deviceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSyncInfoNotFound
		}
		if err != nil {
			return fmt.Errorf("get sync info: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, info)
		})
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// PutSyncInfo stores the device's sync info record.
func (l *Ledger) PutSyncInfo(ctx context.Context, info *models.DeviceSyncInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode sync info: %w", err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(syncInfoKey(info.DeviceID), data)
	})
}

// RunGC runs Badger value-log garbage collection until the context is
// canceled. Intended to run as a supervised service.
func (l *Ledger) RunGC(ctx context.Context) error {
	interval := l.gcInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// badger recommends repeating until it reports nothing to collect
			for {
				if err := l.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}
