// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package config provides centralized application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting via FLEETBRIDGE_* vars
//
// Config is immutable after Load() and safe for concurrent read access.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	MH       MHConfig       `koanf:"mh"`
	Sync     SyncConfig     `koanf:"sync"`
	Alerts   AlertsConfig   `koanf:"alerts"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitSync caps device sync requests per comm id per minute.
	RateLimitSync int `koanf:"rate_limit_sync"`

	// CORSOrigins lists allowed browser origins for the console API and
	// WebSocket endpoint. "*" allows any origin.
	CORSOrigins []string `koanf:"cors_origins"`
}

// DatabaseConfig holds relational entity store settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" for tests.
	Path string `koanf:"path"`
}

// LedgerConfig holds sync ledger (BadgerDB) settings.
type LedgerConfig struct {
	// Path is the Badger data directory. Empty selects in-memory mode,
	// which is only appropriate for tests.
	Path string `koanf:"path"`

	// AppendOnlyHistory disables entry annihilation in the History tier,
	// so a delete arriving after a buffered insert leaves a delete record
	// instead of removing the pair. Off by default to match the pending
	// tier merge semantics exactly.
	AppendOnlyHistory bool `koanf:"append_only_history"`

	// GCInterval controls Badger value-log garbage collection frequency.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// MHConfig holds Message Handler (device command channel) settings.
type MHConfig struct {
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`

	// Breaker settings; zero values select the defaults documented on
	// mh.NewClient.
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerInterval    time.Duration `koanf:"breaker_interval"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`

	// QueueFlushInterval is how often the outbound retry queue is flushed
	// in the background, in addition to explicit ping triggers.
	QueueFlushInterval time.Duration `koanf:"queue_flush_interval"`
}

// SyncConfig holds offline sync protocol settings.
type SyncConfig struct {
	// MinWatermarkDigits is the minimum digit count for a non-zero
	// watermark. 13 digits covers epoch milliseconds from 2001 onward.
	MinWatermarkDigits int `koanf:"min_watermark_digits"`
}

// AlertsConfig holds alert engine settings.
type AlertsConfig struct {
	Enabled bool `koanf:"enabled"`

	// NonReportRecheckDelay is added to a device's non-report threshold
	// when scheduling the re-check timer, so the timer fires safely past
	// the threshold boundary.
	NonReportRecheckDelay time.Duration `koanf:"non_report_recheck_delay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for inconsistencies. Called by Load();
// exported so tests can exercise it on hand-built configs.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MH.URL == "" {
		return fmt.Errorf("mh.url is required")
	}
	if c.Sync.MinWatermarkDigits < 10 {
		return fmt.Errorf("sync.min_watermark_digits must be at least 10, got %d", c.Sync.MinWatermarkDigits)
	}
	if c.Alerts.NonReportRecheckDelay < 0 {
		return fmt.Errorf("alerts.non_report_recheck_delay must not be negative")
	}
	return nil
}
