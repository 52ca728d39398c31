package drmsim

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the platform-shaped HTTP endpoints over a Fleet.
type Handler struct {
	fleet *Fleet
}

// NewHandler creates a Handler backed by the given Fleet.
func NewHandler(fleet *Fleet) *Handler {
	return &Handler{fleet: fleet}
}

type inventoryDevice struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	FirmwareVersion  string `json:"firmware_version"`
	ConnectionStatus string `json:"connection_status"`
}

type listEnvelope[T any] struct {
	Count int `json:"count"`
	List  []T `json:"list"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Devices serves GET /ws/v1/devices/inventory. The only query filter the
// platform clients send, connection_status='connected', is honored.
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	size := parseSize(r, 1000)
	onlyConnected := strings.Contains(r.URL.Query().Get("query"), "connection_status='connected'")

	list := make([]inventoryDevice, 0)
	for _, d := range h.fleet.Devices() {
		if onlyConnected && !d.Connected {
			continue
		}
		status := "disconnected"
		if d.Connected {
			status = "connected"
		}
		list = append(list, inventoryDevice{
			ID:               d.ID,
			Name:             d.Name,
			Type:             d.Type,
			FirmwareVersion:  d.Firmware,
			ConnectionStatus: status,
		})
		if len(list) == size {
			break
		}
	}

	writeJSON(w, http.StatusOK, listEnvelope[inventoryDevice]{Count: len(list), List: list})
}

// Latest serves GET /ws/v1/streams/inventory/{deviceID}/{stream}.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	stream := chi.URLParam(r, "stream")

	p, ok := h.fleet.Latest(deviceID, stream)
	if !ok {
		writeErr(w, http.StatusNotFound, "stream not found or no datapoints")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// History serves GET /ws/v1/streams/history/{deviceID}/{stream}. start_time
// bounds the window to strictly newer datapoints; size caps the page.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	stream := chi.URLParam(r, "stream")

	after := r.URL.Query().Get("start_time")
	size := parseSize(r, 1000)

	points, ok := h.fleet.History(deviceID, stream, after, size)
	if !ok {
		writeErr(w, http.StatusNotFound, "stream not found")
		return
	}
	if points == nil {
		points = []Point{}
	}
	writeJSON(w, http.StatusOK, listEnvelope[Point]{Count: len(points), List: points})
}

func parseSize(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("size")
	if raw == "" {
		return fallback
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return fallback
	}
	return size
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
