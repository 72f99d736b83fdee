package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Dial opens a WebSocket connection to url and returns a running Manager
// over it.
func Dial(ctx context.Context, url string, header http.Header, cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	logger.Debug("websocket connected", "url", url)

	return New(NewWebSocket(conn, cfg.Socket, logger), cfg.Manager, logger), nil
}
