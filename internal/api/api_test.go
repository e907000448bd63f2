// FleetBridge - Fleet Management Synchronization and Alerting Platform
// Copyright 2026 ssrniv42
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ssrniv42/fleetbridge

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/ssrniv42/fleetbridge/internal/config"
	"github.com/ssrniv42/fleetbridge/internal/events"
	"github.com/ssrniv42/fleetbridge/internal/logging"
	"github.com/ssrniv42/fleetbridge/internal/models"
	"github.com/ssrniv42/fleetbridge/internal/store"
	syncpkg "github.com/ssrniv42/fleetbridge/internal/sync"
)

//nolint:gochecknoinits // quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeSync struct {
	payload *syncpkg.Payload
	err     error
}

func (f *fakeSync) RequestSync(ctx context.Context, commID, watermark int64) (*syncpkg.Payload, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type fakeMH struct {
	flushed bool
	depth   int
}

func (f *fakeMH) Flush(ctx context.Context) error { f.flushed = true; return nil }
func (f *fakeMH) BreakerState() string            { return "closed" }
func (f *fakeMH) QueueDepth() int                 { return f.depth }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:          3900,
			RateLimitSync: 1000,
			CORSOrigins:   []string{"*"},
		},
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDevice(t *testing.T, s *store.Store, commID int64) int64 {
	t.Helper()
	res, err := s.DB().Exec(`INSERT INTO clients (name, sync_enabled) VALUES ('acme', 1)`)
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}
	clientID, _ := res.LastInsertId()
	res, err = s.DB().Exec(`
		INSERT INTO devices (client_id, comm_id, name, type) VALUES (?, ?, 'unit', ?)`,
		clientID, commID, models.DeviceTypeTactical)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) *models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &resp
}

func TestSyncDeviceErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		syncErr    error
		wantStatus int
		wantCode   string
	}{
		{"missing comm id", "/api/v1/sync/device?watermark=0", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"malformed watermark", "/api/v1/sync/device?commId=7001&watermark=abc", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"short watermark", "/api/v1/sync/device?commId=7001&watermark=12345", syncpkg.ErrInvalidWatermark, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown device", "/api/v1/sync/device?commId=9999&watermark=0", syncpkg.ErrUnknownDevice, http.StatusNotFound, "UNKNOWN_DEVICE"},
		{"sync disabled", "/api/v1/sync/device?commId=7001&watermark=0", syncpkg.ErrFeatureDisabled, http.StatusForbidden, "SYNC_DISABLED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(HandlerDeps{
				Config: testConfig(),
				Sync:   &fakeSync{err: tt.syncErr},
			})
			router := NewRouter(testConfig(), handler)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			resp := decodeResponse(t, rec)
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Fatalf("error = %+v, want code %q", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestSyncDeviceReturnsPayload(t *testing.T) {
	payload := &syncpkg.Payload{
		DeviceCommID: 7001,
		ClientID:     1,
		Watermark:    1700000000000,
		Geofences: []syncpkg.EntityChange{
			{ID: 5, Action: 0, Data: map[string]any{"title": "perimeter"}},
		},
		POIs: []syncpkg.EntityChange{},
	}
	handler := NewHandler(HandlerDeps{Config: testConfig(), Sync: &fakeSync{payload: payload}})
	router := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/sync/device?commId=7001&watermark=1700000000000", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"device_comm_id":7001`) || !strings.Contains(body, `"perimeter"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestReportGPSIngestion(t *testing.T) {
	s := newTestStore(t)
	deviceID := seedDevice(t, s, 7001)

	handler := NewHandler(HandlerDeps{Config: testConfig(), Store: s})
	router := NewRouter(testConfig(), handler)

	body := `{"comm_id":7001,"latitude":45.5,"longitude":-73.6,"speed_kph":42,"heading":90,"timestamp":1700000000000}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/gps", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	stored, err := s.LatestReport(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("latest report: %v", err)
	}
	if stored.SpeedKPH != 42 || stored.Timestamp != 1700000000000 {
		t.Fatalf("stored report %+v", stored)
	}
}

func TestReportGPSRejectsUnknownDevice(t *testing.T) {
	s := newTestStore(t)
	handler := NewHandler(HandlerDeps{Config: testConfig(), Store: s})
	router := NewRouter(testConfig(), handler)

	body := `{"comm_id":9999,"latitude":45.5,"longitude":-73.6,"timestamp":1700000000000}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/gps", strings.NewReader(body))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != "UNKNOWN_DEVICE" {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestReportGPSRejectsMalformedBody(t *testing.T) {
	s := newTestStore(t)
	handler := NewHandler(HandlerDeps{Config: testConfig(), Store: s})
	router := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/gps", strings.NewReader(`{"comm_id":`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMHPingFlushesQueue(t *testing.T) {
	mh := &fakeMH{depth: 3}
	handler := NewHandler(HandlerDeps{Config: testConfig(), MH: mh})
	router := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/mh/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !mh.flushed {
		t.Fatal("ping did not trigger a queue flush")
	}
}

type fakePublisher struct {
	published []events.EntityChanged
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, ev events.EntityChanged) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, ev)
	return nil
}

func TestEntityEventPublishesToBus(t *testing.T) {
	pub := &fakePublisher{}
	handler := NewHandler(HandlerDeps{Config: testConfig(), Events: pub})
	router := NewRouter(testConfig(), handler)

	body := `{"entity_type":"geofence","entity_id":42,"action":"put","after":{"active":true}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events/entity", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
	ev := pub.published[0]
	if ev.EntityType != models.EntityGeofence || ev.EntityID != 42 || ev.Action != events.ChangePut {
		t.Errorf("event = %+v", ev)
	}
	if ev.ModifiedTime == 0 {
		t.Error("ModifiedTime not defaulted")
	}
}

func TestEntityEventRejectsUnknownEntityType(t *testing.T) {
	pub := &fakePublisher{}
	handler := NewHandler(HandlerDeps{Config: testConfig(), Events: pub})
	router := NewRouter(testConfig(), handler)

	body := `{"entity_type":"starship","entity_id":1,"action":"put"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events/entity", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("error = %+v", resp.Error)
	}
	if len(pub.published) != 0 {
		t.Errorf("published %d events, want 0", len(pub.published))
	}
}

func TestAlertsListEmpty(t *testing.T) {
	s := newTestStore(t)
	handler := NewHandler(HandlerDeps{Config: testConfig(), Store: s})
	router := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?open=true", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Fatalf("body %s", rec.Body.String())
	}
}

func TestHealthReportsComponents(t *testing.T) {
	handler := NewHandler(HandlerDeps{Config: testConfig(), MH: &fakeMH{depth: 1}})
	router := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"mh_breaker":"closed"`) || !strings.Contains(body, `"mh_queue_depth":1`) {
		t.Fatalf("body %s", body)
	}
}
