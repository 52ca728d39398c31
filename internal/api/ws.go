package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ver-mac/DRM-VerMap/internal/broker"
)

const (
	wsWriteWait      = 10 * time.Second // time allowed to write a message to the peer
	wsMaxMessageSize = 512              // inbound frames carry no payload we use
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser map clients connect from configured origins; CORS is enforced
	// at the router level, so the upgrade itself accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamWS godoc
//
//	@Summary		Live location stream (WebSocket)
//	@Description	Streams location updates for one device stream as JSON text frames.
//	@Description	Requesting the stream starts its background poller if none is running.
//	@Tags			stream
//	@Param			deviceID	path	string	true	"Device ID"
//	@Param			stream		query	string	false	"Stream name"	default(location)
//	@Success		101
//	@Failure		400	{object}	errorResponse
//	@Router			/api/stream/ws/{deviceID} [get]
func (h *Handler) StreamWS(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		writeErr(w, http.StatusBadRequest, "device id is required")
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = defaultStream
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := broker.Channel{DeviceID: deviceID, Stream: stream}
	h.supervisor.EnsurePoller(ch)

	sub := h.broker.Subscribe(ch)
	defer h.broker.Unsubscribe(ch, sub)

	slog.Debug("websocket subscriber connected", "channel", ch.String())
	defer slog.Debug("websocket subscriber disconnected", "channel", ch.String())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.wsReadPump(conn, cancel)
	h.wsWritePump(ctx, conn, sub)
}

// wsReadPump drains inbound frames so pong handlers run and disconnects are
// noticed. Inbound payloads are ignored; cancel fires when the peer goes
// away.
func (h *Handler) wsReadPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := h.keepAlive
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}

// wsWritePump forwards updates and periodic pings until the consumer
// context ends. Pings go out well inside the pong deadline so a healthy
// peer never times out.
func (h *Handler) wsWritePump(ctx context.Context, conn *websocket.Conn, sub *broker.Subscriber) {
	pingPeriod := (h.keepAlive * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case u := <-sub.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
