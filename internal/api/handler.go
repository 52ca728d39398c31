// Package api implements the HTTP handlers of the map backend: device and
// history reads, a read-through latest endpoint, and the live streaming
// tier over SSE and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ver-mac/DRM-VerMap/internal/broker"
	"github.com/ver-mac/DRM-VerMap/internal/drm"
	"github.com/ver-mac/DRM-VerMap/internal/geo"
	"github.com/ver-mac/DRM-VerMap/internal/poller"
	"github.com/ver-mac/DRM-VerMap/internal/store"
)

// defaultStream is the platform stream queried when a request names none.
const defaultStream = "location"

// Source is the slice of the platform client the read-through endpoints
// call directly; live endpoints go through the poll supervisor instead.
type Source interface {
	FetchLatest(ctx context.Context, deviceID, stream string) (drm.Point, bool, error)
	FetchHistory(ctx context.Context, deviceID, stream, since string, size int) ([]drm.Point, error)
}

// Store is the persistence surface the handlers read and write.
type Store interface {
	ListDevices(ctx context.Context, limit int) ([]store.DeviceRow, error)
	QueryHistory(ctx context.Context, deviceID, start, end string, limit int, asc bool) ([]store.HistoryPoint, error)
	InsertSamples(ctx context.Context, samples []store.Sample) (inserted, duplicates int, err error)
}

// Handler exposes the map backend HTTP endpoints.
type Handler struct {
	store      Store
	source     Source
	broker     *broker.Broker
	supervisor *poller.Supervisor
	keepAlive  time.Duration
}

// NewHandler creates a Handler. keepAlive bounds how long a live connection
// stays silent before a keep-alive frame or ping goes out.
func NewHandler(st Store, source Source, br *broker.Broker, sup *poller.Supervisor, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	return &Handler{
		store:      st,
		source:     source,
		broker:     br,
		supervisor: sup,
		keepAlive:  keepAlive,
	}
}

// ---------------------------------------------------------------------------
// Response types
// ---------------------------------------------------------------------------

// DevicesResponse is the response for GET /api/devices.
type DevicesResponse struct {
	Count   int               `json:"count"`
	Devices []store.DeviceRow `json:"devices"`
}

// HistoryResponse is the response for GET /api/history.
type HistoryResponse struct {
	Count int                  `json:"count"`
	List  []store.HistoryPoint `json:"list"`
}

// LatestResponse is the response for GET /api/location/latest.
type LatestResponse struct {
	DeviceID string  `json:"device_id" example:"00000000-00000000-AB1234-567890"`
	Stream   string  `json:"stream" example:"location"`
	Ts       string  `json:"ts" example:"2026-01-02T10:00:00.000Z"`
	Lat      float64 `json:"lat" example:"52.1"`
	Lon      float64 `json:"lon" example:"4.9"`
}

type errorResponse struct {
	Error string `json:"error" example:"device_id is required"`
}

// ---------------------------------------------------------------------------
// GET /api/devices
// ---------------------------------------------------------------------------

// Devices godoc
//
//	@Summary		List known devices
//	@Description	Returns the device inventory as last synced from the platform.
//	@Tags			devices
//	@Produce		json
//	@Param			limit	query		int	false	"Max devices returned"	default(1000)
//	@Success		200		{object}	DevicesResponse
//	@Failure		400		{object}	errorResponse
//	@Failure		500		{object}	errorResponse
//	@Router			/api/devices [get]
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 1000)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	devices, err := h.store.ListDevices(r.Context(), limit)
	if err != nil {
		slog.Error("list devices", "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []store.DeviceRow{}
	}

	writeJSON(w, http.StatusOK, DevicesResponse{Count: len(devices), Devices: devices})
}

// ---------------------------------------------------------------------------
// GET /api/history
// ---------------------------------------------------------------------------

// History godoc
//
//	@Summary		Get stored location history
//	@Description	Returns stored samples for the device, optionally bounded by an inclusive
//	@Description	start/end timestamp window. When the window yields nothing and a start is
//	@Description	given, a one-shot platform fetch fills the table before re-reading.
//	@Tags			locations
//	@Produce		json
//	@Param			device_id	query		string	true	"Device ID"
//	@Param			start		query		string	false	"Window start (ISO-8601)"
//	@Param			end			query		string	false	"Window end (ISO-8601)"
//	@Param			limit		query		int		false	"Max samples returned"	default(1000)
//	@Param			asc			query		bool	false	"Oldest first"			default(true)
//	@Success		200			{object}	HistoryResponse
//	@Failure		400			{object}	errorResponse
//	@Failure		500			{object}	errorResponse
//	@Router			/api/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeErr(w, http.StatusBadRequest, "device_id is required")
		return
	}

	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	limit, err := parseLimit(r, 1000)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	asc, err := parseAsc(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := h.store.QueryHistory(r.Context(), deviceID, start, end, limit, asc)
	if err != nil {
		slog.Error("query history", "device_id", deviceID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to query history")
		return
	}

	// Cold window: nothing stored yet for this range. Pull it from the
	// platform once, persist, and re-read. Best effort; failures leave the
	// stored answer as is.
	if len(points) == 0 && start != "" && h.source != nil {
		if refreshed, ok := h.refetchHistory(r.Context(), deviceID, start, end, limit, asc); ok {
			points = refreshed
		}
	}
	if points == nil {
		points = []store.HistoryPoint{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Count: len(points), List: points})
}

// refetchHistory performs the one-shot platform fetch backing a cold
// history window. Only the default stream is consulted: stored samples
// carry no stream dimension beyond their source tag.
func (h *Handler) refetchHistory(ctx context.Context, deviceID, start, end string, limit int, asc bool) ([]store.HistoryPoint, bool) {
	fetched, err := h.source.FetchHistory(ctx, deviceID, defaultStream, start, limit)
	if err != nil {
		slog.Warn("history refetch failed", "device_id", deviceID, "error", err)
		return nil, false
	}

	samples := make([]store.Sample, 0, len(fetched))
	for _, p := range fetched {
		coords, ok := geo.ParseValue(p.Value)
		if p.Timestamp == "" || !ok {
			continue
		}
		samples = append(samples, store.Sample{
			DeviceID: deviceID,
			Ts:       p.Timestamp,
			Lat:      coords.Lat,
			Lon:      coords.Lon,
			Source:   "stream:" + defaultStream,
		})
	}
	if len(samples) == 0 {
		return nil, false
	}

	if _, _, err := h.store.InsertSamples(ctx, samples); err != nil {
		slog.Warn("history refetch persist failed", "device_id", deviceID, "error", err)
		return nil, false
	}

	points, err := h.store.QueryHistory(ctx, deviceID, start, end, limit, asc)
	if err != nil {
		slog.Warn("history re-read failed", "device_id", deviceID, "error", err)
		return nil, false
	}
	return points, true
}

// ---------------------------------------------------------------------------
// GET /api/location/latest
// ---------------------------------------------------------------------------

// Latest godoc
//
//	@Summary		Get the latest device position
//	@Description	Reads the newest datapoint of the device stream from the platform,
//	@Description	persists it, and returns the parsed coordinates.
//	@Tags			locations
//	@Produce		json
//	@Param			device_id	query		string	true	"Device ID"
//	@Param			stream		query		string	false	"Stream name"	default(location)
//	@Success		200			{object}	LatestResponse
//	@Failure		400			{object}	errorResponse
//	@Failure		404			{object}	errorResponse
//	@Failure		422			{object}	errorResponse
//	@Failure		502			{object}	errorResponse
//	@Router			/api/location/latest [get]
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeErr(w, http.StatusBadRequest, "device_id is required")
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = defaultStream
	}

	p, found, err := h.source.FetchLatest(r.Context(), deviceID, stream)
	if err != nil {
		slog.Error("fetch latest", "device_id", deviceID, "stream", stream, "error", err)
		writeErr(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	if !found || p.Timestamp == "" {
		writeErr(w, http.StatusNotFound, "stream not found or no datapoints")
		return
	}

	coords, ok := geo.ParseValue(p.Value)
	if !ok {
		writeErr(w, http.StatusUnprocessableEntity, "could not parse lat/lon from latest value")
		return
	}

	sample := store.Sample{
		DeviceID: deviceID,
		Ts:       p.Timestamp,
		Lat:      coords.Lat,
		Lon:      coords.Lon,
		Source:   "stream:" + stream,
	}
	if _, _, err := h.store.InsertSamples(r.Context(), []store.Sample{sample}); err != nil {
		slog.Error("persist latest", "device_id", deviceID, "error", err)
		writeErr(w, http.StatusInternalServerError, "failed to persist sample")
		return
	}

	writeJSON(w, http.StatusOK, LatestResponse{
		DeviceID: deviceID,
		Stream:   stream,
		Ts:       p.Timestamp,
		Lat:      coords.Lat,
		Lon:      coords.Lon,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

func parseAsc(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("asc")
	if raw == "" {
		return true, nil
	}
	asc, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid asc %q", raw)
	}
	return asc, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
