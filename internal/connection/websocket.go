package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSocket adapts a gorilla WebSocket connection to Socket. Gorilla allows
// one concurrent reader and one concurrent writer, which maps directly onto
// the two halves. Control frames may be written from any goroutine.
type wsSocket struct {
	conn   *websocket.Conn
	cfg    SocketConfig
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an established WebSocket connection.
func NewWebSocket(conn *websocket.Conn, cfg SocketConfig, logger *slog.Logger) Socket {
	if logger == nil {
		logger = slog.Default()
	}

	return &wsSocket{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Split configures read limits and keepalive, then returns both halves.
func (s *wsSocket) Split() (Inbound, Outbound) {
	if s.cfg.ReadLimit > 0 {
		s.conn.SetReadLimit(s.cfg.ReadLimit)
	}

	if s.cfg.ReadTimeout > 0 {
		s.extendReadDeadline()
	}

	// Any ping or pong from the peer proves liveness
	s.conn.SetPingHandler(func(data string) error {
		s.extendReadDeadline()
		err := s.conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	if s.cfg.PingInterval > 0 {
		go s.pingLoop()
	}

	return wsInbound{s}, wsOutbound{s}
}

func (s *wsSocket) extendReadDeadline() {
	if s.cfg.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

func (s *wsSocket) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// pingLoop keeps idle connections alive and lets ReadTimeout detect dead peers.
func (s *wsSocket) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.writeTimeout())
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

func (s *wsSocket) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return time.Second
}

func (s *wsSocket) close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		// Best effort; the peer may already be gone
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

type wsInbound struct{ s *wsSocket }

func (in wsInbound) ReadFrame() ([]byte, error) {
	_, data, err := in.s.conn.ReadMessage()
	if err != nil {
		if in.s.isClosed() || websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return nil, fmt.Errorf("%w: %w", ErrTransportClosed, err)
		}
		return nil, err
	}

	in.s.extendReadDeadline()
	return data, nil
}

type wsOutbound struct{ s *wsSocket }

func (out wsOutbound) WriteFrame(data []byte) error {
	if out.s.isClosed() {
		return ErrTransportClosed
	}

	if out.s.cfg.WriteTimeout > 0 {
		out.s.conn.SetWriteDeadline(time.Now().Add(out.s.cfg.WriteTimeout))
	}
	return out.s.conn.WriteMessage(websocket.TextMessage, data)
}

func (out wsOutbound) Close() error {
	return out.s.close()
}
