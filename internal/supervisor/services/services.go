// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package services wraps the application's long-running components as
// suture services. Most components already expose a context-aware Serve;
// the wrappers add a stable name for the supervisor's event stream, and
// the HTTP wrapper translates net/http's blocking ListenAndServe into the
// supervised pattern.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ContextService is any component with a context-aware blocking Serve.
type ContextService interface {
	Serve(ctx context.Context) error
}

// Named wraps a ContextService with a name for supervisor logs.
type Named struct {
	name string
	svc  ContextService
}

// NewNamed wraps svc under the given name.
func NewNamed(name string, svc ContextService) *Named {
	return &Named{name: name, svc: svc}
}

// Serve implements suture.Service.
func (n *Named) Serve(ctx context.Context) error {
	return n.svc.Serve(ctx)
}

func (n *Named) String() string { return n.name }

// GCRunner matches the ledger's garbage collection loop.
type GCRunner interface {
	RunGC(ctx context.Context) error
}

// LedgerGCService supervises Badger value-log garbage collection.
type LedgerGCService struct {
	ledger GCRunner
}

// NewLedgerGCService wraps the ledger's GC loop.
func NewLedgerGCService(l GCRunner) *LedgerGCService {
	return &LedgerGCService{ledger: l}
}

// Serve implements suture.Service.
func (s *LedgerGCService) Serve(ctx context.Context) error {
	return s.ledger.RunGC(ctx)
}

func (s *LedgerGCService) String() string { return "ledger-gc" }

// Flusher matches the MH client's queue replay method.
type Flusher interface {
	Flush(ctx context.Context) error
	QueueDepth() int
}

// QueueFlushService periodically replays spooled MH commands, in addition
// to the ping-triggered flush on the API.
type QueueFlushService struct {
	flusher  Flusher
	interval time.Duration
}

// NewQueueFlushService wraps the MH client. interval <= 0 selects five
// minutes.
func NewQueueFlushService(f Flusher, interval time.Duration) *QueueFlushService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &QueueFlushService{flusher: f, interval: interval}
}

// Serve implements suture.Service. Flush failures are expected while the
// MH link is down; the queue keeps its contents and the next tick retries.
func (s *QueueFlushService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.flusher.QueueDepth() == 0 {
				continue
			}
			_ = s.flusher.Flush(ctx)
		}
	}
}

func (s *QueueFlushService) String() string { return "mh-queue-flush" }

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under supervision with graceful
// shutdown on context cancellation.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps server. shutdownTimeout <= 0 selects ten
// seconds.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. http.ErrServerClosed is the expected
// result of a graceful shutdown and is not treated as a failure.
func (s *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPServerService) String() string { return "http-server" }
