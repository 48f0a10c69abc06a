package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// maxMessageSize caps client-to-server frames. Clients have nothing to
	// send; reads only detect disconnects.
	maxMessageSize = 4 * 1024
)

// Handler upgrades requests to WebSocket connections and streams every
// published record to them until the client disconnects.
type Handler struct {
	bc           *Broadcaster
	logger       *slog.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewHandler creates a Handler backed by bc. A non-positive writeTimeout
// means DefaultWriteTimeout.
func NewHandler(bc *Broadcaster, logger *slog.Logger, writeTimeout time.Duration) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bc:           bc,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket: upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	client := h.bc.Register(clientID)
	defer h.bc.Unregister(clientID)

	h.logger.Info("websocket: client connected",
		slog.String("client_id", clientID),
		slog.String("remote_addr", r.RemoteAddr),
	)
	defer h.logger.Info("websocket: client disconnected", slog.String("client_id", clientID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-client.Send():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(h.writeTimeout))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warn("websocket: write failed",
					slog.String("client_id", clientID),
					slog.Any("error", err),
				)
				return
			}
		}
	}
}
