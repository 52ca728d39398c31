package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ver-mac/DRM-VerMap/internal/broker"
)

// StreamSSE godoc
//
//	@Summary		Live location stream (SSE)
//	@Description	Streams location updates for one device stream as Server-Sent Events.
//	@Description	Requesting the stream starts its background poller if none is running.
//	@Description	A comment frame is sent after the keep-alive interval of silence.
//	@Tags			stream
//	@Produce		text/event-stream
//	@Param			deviceID	path	string	true	"Device ID"
//	@Param			stream		query	string	false	"Stream name"	default(location)
//	@Success		200
//	@Failure		400	{object}	errorResponse
//	@Router			/api/stream/location/{deviceID} [get]
func (h *Handler) StreamSSE(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		writeErr(w, http.StatusBadRequest, "device id is required")
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = defaultStream
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := broker.Channel{DeviceID: deviceID, Stream: stream}
	h.supervisor.EnsurePoller(ch)

	sub := h.broker.Subscribe(ch)
	defer h.broker.Unsubscribe(ch, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Debug("sse subscriber connected", "channel", ch.String())
	defer slog.Debug("sse subscriber disconnected", "channel", ch.String())

	keepAlive := time.NewTimer(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case u := <-sub.Updates():
			data, err := json.Marshal(u)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			resetTimer(keepAlive, h.keepAlive)

		case <-keepAlive.C:
			// Comment frame; keeps idle connections open through proxies.
			if _, err := io.WriteString(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
			keepAlive.Reset(h.keepAlive)
		}
	}
}

// resetTimer stops, drains, and re-arms a timer. Required before Reset when
// the timer may have fired without its channel being read.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
