package connection

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Accept upgrades an HTTP request to a WebSocket connection and returns a
// running Manager over it. On failure the upgrader has already written an
// HTTP error response.
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}

	logger.Debug("websocket accepted", "remote", r.RemoteAddr)

	return New(NewWebSocket(conn, cfg.Socket, logger), cfg.Manager, logger), nil
}
