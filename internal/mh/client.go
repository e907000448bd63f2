// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

// Package mh is the client for the Message Handler, the gateway that relays
// commands over satellite and radio links to tactical devices.
//
// The MH is frequently unreachable (link outages, gateway restarts), so the
// client wraps every call in a circuit breaker and, for commands that must
// eventually arrive, spools failures into a durable retry queue that is
// flushed when the MH pings us or on a background interval.
package mh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ssrniv42/fleetbridge/internal/config"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/metrics"
)

const breakerName = "mh-gateway"

// ErrUnavailable wraps failures where the MH could not be reached, including
// circuit-open rejections. Callers decide whether the command is queued.
var ErrUnavailable = errors.New("message handler unavailable")

// Ring is the sync wake-up pushed to a batch of tactical devices. Each
// device answers with a sync request over HTTP.
type Ring struct {
	ClientID int64   `json:"client_id"`
	CommIDs  []int64 `json:"comm_ids"`
}

// EntityNotice tells the MH that a platform entity relevant to its routing
// tables changed.
type EntityNotice struct {
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
	Action     string `json:"action"`

	// NoQueueOnFail skips the retry queue when the MH is unreachable.
	// Set it for notices that are superseded by the next change anyway.
	NoQueueOnFail bool `json:"-"`
}

// Client is the circuit-broken MH HTTP client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[any]
	queue   *Queue
}

// NewClient creates the MH client. queue may be nil, in which case failed
// commands are not spooled. Breaker defaults: 3 half-open requests, 1 minute
// count window, 2 minutes open before probing.
func NewClient(cfg config.MHConfig, queue *Queue) *Client {
	maxRequests := cfg.BreakerMaxRequests
	if maxRequests == 0 {
		maxRequests = 3
	}
	interval := cfg.BreakerInterval
	if interval == 0 {
		interval = time.Minute
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	httpTimeout := cfg.Timeout
	if httpTimeout == 0 {
		httpTimeout = 10 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: httpTimeout},
		cb:      cb,
		queue:   queue,
	}
}

// SendRing notifies a device that new sync data is waiting. Failures are
// spooled to the retry queue so the ring eventually reaches the device.
func (c *Client) SendRing(ctx context.Context, ring Ring) error {
	return c.send(ctx, "/ring", ring, true)
}

// NotifyEntityChange forwards an entity change to the MH routing tables.
// Like rings, notices are spooled to the retry queue on failure unless the
// notice is marked NoQueueOnFail.
func (c *Client) NotifyEntityChange(ctx context.Context, notice EntityNotice) error {
	return c.send(ctx, "/entity", notice, !notice.NoQueueOnFail)
}

func (c *Client) send(ctx context.Context, path string, body any, queueOnFail bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal mh payload: %w", err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, c.post(ctx, path, payload)
	})
	if err == nil {
		metrics.MHRequestsTotal.WithLabelValues(path, "success").Inc()
		return nil
	}

	result := "failure"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		result = "rejected"
	}
	metrics.MHRequestsTotal.WithLabelValues(path, result).Inc()

	if queueOnFail && c.queue != nil {
		if qErr := c.queue.Enqueue(path, payload); qErr != nil {
			logging.Error().Err(qErr).Str("path", path).Msg("failed to queue mh command")
			return fmt.Errorf("%w: %v (queueing also failed: %v)", ErrUnavailable, err, qErr)
		}
		logging.Warn().Err(err).Str("path", path).Msg("mh unreachable, command queued")
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// post performs one HTTP POST against the MH.
func (c *Client) post(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// Flush drains the retry queue through the live connection. Called when the
// MH pings us and on the background flush interval.
func (c *Client) Flush(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}
	return c.queue.Drain(ctx, func(ctx context.Context, path string, payload []byte) error {
		_, err := c.cb.Execute(func() (any, error) {
			return nil, c.post(ctx, path, payload)
		})
		return err
	})
}

// BreakerState reports the current breaker state for the health endpoint.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// QueueDepth reports the number of spooled commands awaiting replay.
func (c *Client) QueueDepth() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Depth()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
