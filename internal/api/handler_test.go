package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ver-mac/DRM-VerMap/internal/api"
	"github.com/ver-mac/DRM-VerMap/internal/broker"
	"github.com/ver-mac/DRM-VerMap/internal/drm"
	"github.com/ver-mac/DRM-VerMap/internal/poller"
	"github.com/ver-mac/DRM-VerMap/internal/store"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// mockStore serves scripted results; QueryHistory responses are consumed
// front to back so the history fallback's re-read can differ from the
// first read.
type mockStore struct {
	mu        sync.Mutex
	devices   []store.DeviceRow
	histories [][]store.HistoryPoint
	inserted  []store.Sample
	insertErr error
}

func (m *mockStore) ListDevices(_ context.Context, _ int) ([]store.DeviceRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices, nil
}

func (m *mockStore) QueryHistory(_ context.Context, _, _, _ string, _ int, _ bool) ([]store.HistoryPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.histories) == 0 {
		return nil, nil
	}
	res := m.histories[0]
	m.histories = m.histories[1:]
	return res, nil
}

func (m *mockStore) InsertSamples(_ context.Context, samples []store.Sample) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, 0, m.insertErr
	}
	m.inserted = append(m.inserted, samples...)
	return len(samples), 0, nil
}

func (m *mockStore) insertedSamples() []store.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Sample(nil), m.inserted...)
}

type mockSource struct {
	latest       drm.Point
	latestFound  bool
	latestErr    error
	history      []drm.Point
	historyErr   error
	historyCalls atomic.Int64
}

func (m *mockSource) FetchLatest(_ context.Context, _, _ string) (drm.Point, bool, error) {
	return m.latest, m.latestFound, m.latestErr
}

func (m *mockSource) FetchHistory(_ context.Context, _, _, _ string, _ int) ([]drm.Point, error) {
	m.historyCalls.Add(1)
	return m.history, m.historyErr
}

// stubSource and nullPersister feed the supervisor in streaming tests;
// updates are published to the broker directly instead.
type stubSource struct{}

func (stubSource) FetchHistory(context.Context, string, string, string, int) ([]drm.Point, error) {
	return nil, nil
}

type nullPersister struct{}

func (nullPersister) InsertSamples(context.Context, []store.Sample) (int, int, error) {
	return 0, 0, nil
}

func (nullPersister) LatestTimestamp(context.Context, string) (string, bool, error) {
	return "", false, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newSupervisor() *poller.Supervisor {
	cfg := poller.Config{Interval: 5 * time.Millisecond, Backoff: 5 * time.Millisecond, PageSize: 10}
	return poller.NewSupervisor(cfg, stubSource{}, nullPersister{}, broker.NewBroker(10))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Devices
// ---------------------------------------------------------------------------

func TestDevices(t *testing.T) {
	st := &mockStore{devices: []store.DeviceRow{
		{ID: "dev-1", Name: strPtr("gateway-a")},
		{ID: "dev-2"},
	}}
	h := api.NewHandler(st, &mockSource{}, broker.NewBroker(10), newSupervisor(), time.Minute)

	rec := httptest.NewRecorder()
	h.Devices(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeBody[api.DevicesResponse](t, rec)
	if resp.Count != 2 || len(resp.Devices) != 2 {
		t.Errorf("response = %+v, want 2 devices", resp)
	}
}

func TestDevicesInvalidLimit(t *testing.T) {
	h := api.NewHandler(&mockStore{}, &mockSource{}, broker.NewBroker(10), newSupervisor(), time.Minute)

	rec := httptest.NewRecorder()
	h.Devices(rec, httptest.NewRequest(http.MethodGet, "/api/devices?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Latest
// ---------------------------------------------------------------------------

func TestLatest(t *testing.T) {
	st := &mockStore{}
	src := &mockSource{
		latest:      drm.Point{Timestamp: "2026-01-02T10:00:00.000Z", Value: json.RawMessage(`{"lat": 52.1, "lon": 4.9}`)},
		latestFound: true,
	}
	h := api.NewHandler(st, src, broker.NewBroker(10), newSupervisor(), time.Minute)

	rec := httptest.NewRecorder()
	h.Latest(rec, httptest.NewRequest(http.MethodGet, "/api/location/latest?device_id=dev-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[api.LatestResponse](t, rec)
	if resp.DeviceID != "dev-1" || resp.Stream != "location" {
		t.Errorf("identity = (%q, %q)", resp.DeviceID, resp.Stream)
	}
	if resp.Lat != 52.1 || resp.Lon != 4.9 {
		t.Errorf("coordinates = (%v, %v)", resp.Lat, resp.Lon)
	}

	// The fetched point is persisted with its stream source tag.
	inserted := st.insertedSamples()
	if len(inserted) != 1 {
		t.Fatalf("inserted %d samples, want 1", len(inserted))
	}
	if inserted[0].Source != "stream:location" {
		t.Errorf("sample source = %q", inserted[0].Source)
	}
}

func TestLatestErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		source *mockSource
		status int
	}{
		{
			name:   "missing device_id",
			target: "/api/location/latest",
			source: &mockSource{},
			status: http.StatusBadRequest,
		},
		{
			name:   "stream not found",
			target: "/api/location/latest?device_id=dev-1",
			source: &mockSource{},
			status: http.StatusNotFound,
		},
		{
			name:   "datapoint without timestamp",
			target: "/api/location/latest?device_id=dev-1",
			source: &mockSource{latest: drm.Point{Value: json.RawMessage(`{"lat":1,"lon":2}`)}, latestFound: true},
			status: http.StatusNotFound,
		},
		{
			name:   "unparseable value",
			target: "/api/location/latest?device_id=dev-1",
			source: &mockSource{latest: drm.Point{Timestamp: "2026-01-02T10:00:00.000Z", Value: json.RawMessage(`"garbage"`)}, latestFound: true},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "upstream failure",
			target: "/api/location/latest?device_id=dev-1",
			source: &mockSource{latestErr: errors.New("connection refused")},
			status: http.StatusBadGateway,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := api.NewHandler(&mockStore{}, tc.source, broker.NewBroker(10), newSupervisor(), time.Minute)
			rec := httptest.NewRecorder()
			h.Latest(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistoryServesStoredRows(t *testing.T) {
	st := &mockStore{histories: [][]store.HistoryPoint{
		{{Ts: "2026-01-02T10:00:00.000Z", Lat: 1, Lon: 2}},
	}}
	src := &mockSource{}
	h := api.NewHandler(st, src, broker.NewBroker(10), newSupervisor(), time.Minute)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/history?device_id=dev-1&start=2026-01-01T00:00:00.000Z", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeBody[api.HistoryResponse](t, rec)
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
	if got := src.historyCalls.Load(); got != 0 {
		t.Errorf("upstream calls = %d, want 0 when rows are stored", got)
	}
}

func TestHistoryMissingDeviceID(t *testing.T) {
	h := api.NewHandler(&mockStore{}, &mockSource{}, broker.NewBroker(10), newSupervisor(), time.Minute)
	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHistoryColdWindowRefetch(t *testing.T) {
	// First read finds nothing; after the platform fetch is persisted the
	// re-read serves two rows.
	st := &mockStore{histories: [][]store.HistoryPoint{
		nil,
		{
			{Ts: "2026-01-02T10:00:00.000Z", Lat: 1, Lon: 2},
			{Ts: "2026-01-02T10:00:05.000Z", Lat: 1.1, Lon: 2.1},
		},
	}}
	src := &mockSource{history: []drm.Point{
		{Timestamp: "2026-01-02T10:00:00.000Z", Value: json.RawMessage(`{"lat": 1, "lon": 2}`)},
		{Timestamp: "2026-01-02T10:00:05.000Z", Value: json.RawMessage(`{"lat": 1.1, "lon": 2.1}`)},
		{Timestamp: "", Value: json.RawMessage(`{"lat": 9, "lon": 9}`)}, // skipped
	}}
	h := api.NewHandler(st, src, broker.NewBroker(10), newSupervisor(), time.Minute)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/history?device_id=dev-1&start=2026-01-01T00:00:00.000Z", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeBody[api.HistoryResponse](t, rec)
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2 after refetch", resp.Count)
	}
	if got := src.historyCalls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	if got := len(st.insertedSamples()); got != 2 {
		t.Errorf("persisted %d samples, want 2", got)
	}
}

func TestHistoryColdWindowWithoutStart(t *testing.T) {
	st := &mockStore{}
	src := &mockSource{history: []drm.Point{{Timestamp: "2026-01-02T10:00:00.000Z", Value: json.RawMessage(`{"lat":1,"lon":2}`)}}}
	h := api.NewHandler(st, src, broker.NewBroker(10), newSupervisor(), time.Minute)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/history?device_id=dev-1", nil))

	resp := decodeBody[api.HistoryResponse](t, rec)
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0", resp.Count)
	}
	if got := src.historyCalls.Load(); got != 0 {
		t.Errorf("upstream calls = %d, want 0 without a window start", got)
	}
}

func TestHistoryRefetchFailureIsNotFatal(t *testing.T) {
	st := &mockStore{}
	src := &mockSource{historyErr: errors.New("upstream down")}
	h := api.NewHandler(st, src, broker.NewBroker(10), newSupervisor(), time.Minute)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/history?device_id=dev-1&start=2026-01-01T00:00:00.000Z", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite refetch failure", rec.Code)
	}
	if resp := decodeBody[api.HistoryResponse](t, rec); resp.Count != 0 {
		t.Errorf("count = %d, want 0", resp.Count)
	}
}

// ---------------------------------------------------------------------------
// Live streaming
// ---------------------------------------------------------------------------

func streamingServer(t *testing.T, br *broker.Broker, keepAlive time.Duration) (*httptest.Server, *poller.Supervisor) {
	t.Helper()
	sup := poller.NewSupervisor(
		poller.Config{Interval: 5 * time.Millisecond, Backoff: 5 * time.Millisecond, PageSize: 10},
		stubSource{}, nullPersister{}, br,
	)
	h := api.NewHandler(&mockStore{}, &mockSource{}, br, sup, keepAlive)

	r := chi.NewRouter()
	r.Get("/api/stream/location/{deviceID}", h.StreamSSE)
	r.Get("/api/stream/ws/{deviceID}", h.StreamWS)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return srv, sup
}

func TestStreamSSE(t *testing.T) {
	br := broker.NewBroker(10)
	srv, _ := streamingServer(t, br, time.Minute)

	resp, err := http.Get(srv.URL + "/api/stream/location/dev-1")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	ch := broker.Channel{DeviceID: "dev-1", Stream: "location"}
	waitFor(t, 2*time.Second, func() bool { return br.Stats().Subscribers == 1 }, "subscriber registered")

	br.Publish(ch, broker.Update{DeviceID: "dev-1", Ts: "t1", Lat: 1, Lon: 2})
	br.Publish(ch, broker.Update{DeviceID: "dev-1", Ts: "t2", Lat: 1.1, Lon: 2.1})

	var frames []broker.Update
	scanner := bufio.NewScanner(resp.Body)
	for len(frames) < 2 && scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var u broker.Update
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &u); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, u)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (scanner err: %v)", len(frames), scanner.Err())
	}
	if frames[0].Ts != "t1" || frames[1].Ts != "t2" {
		t.Errorf("frame order = %q, %q", frames[0].Ts, frames[1].Ts)
	}

	// Disconnecting tears the subscription down.
	resp.Body.Close()
	waitFor(t, 2*time.Second, func() bool { return br.Stats().Subscribers == 0 }, "subscriber removed")
}

func TestStreamSSEKeepAlive(t *testing.T) {
	br := broker.NewBroker(10)
	srv, _ := streamingServer(t, br, 30*time.Millisecond)

	resp, err := http.Get(srv.URL + "/api/stream/location/dev-1")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	// No updates are published; the first frame must be a comment.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line != ":" {
			t.Fatalf("first frame = %q, want keep-alive comment", line)
		}
		return
	}
	t.Fatalf("stream ended without keep-alive: %v", scanner.Err())
}

func TestStreamWS(t *testing.T) {
	br := broker.NewBroker(10)
	srv, _ := streamingServer(t, br, time.Minute)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream/ws/dev-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ch := broker.Channel{DeviceID: "dev-1", Stream: "location"}
	waitFor(t, 2*time.Second, func() bool { return br.Stats().Subscribers == 1 }, "subscriber registered")

	br.Publish(ch, broker.Update{DeviceID: "dev-1", Ts: "t1", Lat: 1, Lon: 2})
	br.Publish(ch, broker.Update{DeviceID: "dev-1", Ts: "t2", Lat: 1.1, Lon: 2.1})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second broker.Update
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if first.Ts != "t1" || second.Ts != "t2" {
		t.Errorf("frame order = %q, %q", first.Ts, second.Ts)
	}

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return br.Stats().Subscribers == 0 }, "subscriber removed")
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func TestPollersAndMetrics(t *testing.T) {
	br := broker.NewBroker(10)
	sup := poller.NewSupervisor(
		poller.Config{Interval: 5 * time.Millisecond, Backoff: 5 * time.Millisecond, PageSize: 10},
		stubSource{}, nullPersister{}, br,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	h := api.NewHandler(&mockStore{}, &mockSource{}, br, sup, time.Minute)

	sup.EnsurePoller(broker.Channel{DeviceID: "dev-1", Stream: "location"})

	rec := httptest.NewRecorder()
	h.Pollers(rec, httptest.NewRequest(http.MethodGet, "/api/pollers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pollers status = %d", rec.Code)
	}
	resp := decodeBody[api.PollersResponse](t, rec)
	if resp.Count != 1 || len(resp.Pollers) != 1 {
		t.Fatalf("pollers = %+v, want 1 task", resp)
	}
	if resp.Pollers[0].DeviceID != "dev-1" {
		t.Errorf("task device = %q", resp.Pollers[0].DeviceID)
	}

	rec = httptest.NewRecorder()
	h.Metrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{
		"vermap_broker_subscribers 0",
		"vermap_poller_tasks 1",
		"vermap_poller_consecutive_failures{channel=\"dev-1:location\"}",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %q", metric)
		}
	}
}
