// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
	shutdown    atomic.Bool
	release     chan struct{}
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{release: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.release
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error {
	f.shutdown.Store(true)
	close(f.release)
	return f.shutdownErr
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newFakeHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !server.shutdown.Load() {
		t.Fatal("Shutdown was not called")
	}
}

func TestHTTPServerServiceStartupFailure(t *testing.T) {
	server := newFakeHTTPServer()
	server.listenErr = errors.New("listen tcp: address already in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, server.listenErr) {
		t.Fatalf("Serve returned %v, want wrapped listen error", err)
	}
}

type fakeFlusher struct {
	depth   atomic.Int32
	flushes atomic.Int32
}

func (f *fakeFlusher) Flush(ctx context.Context) error {
	f.flushes.Add(1)
	f.depth.Store(0)
	return nil
}

func (f *fakeFlusher) QueueDepth() int { return int(f.depth.Load()) }

func TestQueueFlushServiceFlushesWhenBacklogged(t *testing.T) {
	flusher := &fakeFlusher{}
	flusher.depth.Store(2)
	svc := NewQueueFlushService(flusher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for flusher.flushes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if flusher.flushes.Load() == 0 {
		t.Fatal("no flush happened")
	}
}

func TestQueueFlushServiceSkipsEmptyQueue(t *testing.T) {
	flusher := &fakeFlusher{}
	svc := NewQueueFlushService(flusher, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = svc.Serve(ctx)

	if got := flusher.flushes.Load(); got != 0 {
		t.Fatalf("flushes = %d, want 0", got)
	}
}

func TestNamedDelegates(t *testing.T) {
	called := false
	svc := NewNamed("relay", serveFunc(func(ctx context.Context) error {
		called = true
		return nil
	}))

	if err := svc.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !called {
		t.Fatal("wrapped service not invoked")
	}
	if svc.String() != "relay" {
		t.Fatalf("String() = %q", svc.String())
	}
}

type serveFunc func(ctx context.Context) error

func (f serveFunc) Serve(ctx context.Context) error { return f(ctx) }
