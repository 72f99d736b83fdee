package connection

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rickgao/connmux/internal/model"
	"github.com/rickgao/connmux/internal/router"
)

// Errors
var (
	ErrEncode          = model.ErrEncode
	ErrTransportWrite  = errors.New("transport write failed")
	ErrTransportClosed = errors.New("transport closed")
	ErrClosed          = errors.New("manager closed")
)

// Subscription is the consumer endpoint returned by Manager.Recv.
type Subscription = router.Subscription

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	QueueDepth int             // Per-channel queue capacity
	OnDrop     router.DropFunc // Optional; runs on the reader, must not call Close
	Observer   Observer        // Optional; per-frame counts as they happen

	// Channels are registered before the reader starts, so frames the peer
	// sends right after connecting are not dropped. See Manager.Subscriptions.
	Channels []string
}

// Observer receives frame and send counts as they happen. Frame methods run
// on the reader goroutine and SendDone on the goroutine calling Send. None
// may block, and none may call Manager.Close.
type Observer interface {
	FrameReceived()
	FrameMalformed()
	FrameRouted()
	SendDone(err error)
}

type nopObserver struct{}

func (nopObserver) FrameReceived()  {}
func (nopObserver) FrameMalformed() {}
func (nopObserver) FrameRouted()    {}
func (nopObserver) SendDone(error)  {}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueDepth: router.DefaultQueueDepth,
	}
}

// SocketConfig configures the WebSocket adapter.
type SocketConfig struct {
	WriteTimeout time.Duration // Write deadline per message (0 = none)
	PingInterval time.Duration // Keepalive ping period (0 = no pings)
	ReadTimeout  time.Duration // Max silence before the read fails (0 = none)
	ReadLimit    int64         // Max inbound message size in bytes (0 = unlimited)
}

// DefaultSocketConfig returns sensible defaults.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		ReadLimit:    1 << 20,
	}
}

// Config bundles everything needed to bring up a Manager over WebSocket.
type Config struct {
	HandshakeTimeout time.Duration // Dial only
	Socket           SocketConfig
	Manager          ManagerConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		Socket:           DefaultSocketConfig(),
		Manager:          DefaultManagerConfig(),
	}
}

// ManagerStats provides statistics about a Manager.
type ManagerStats struct {
	Session           uuid.UUID
	Channels          int   // Live registrations
	FramesReceived    int64 // Frames read from the socket
	FramesMalformed   int64 // Frames that failed to decode
	FramesRouted      int64 // Frames enqueued to a consumer
	DroppedNoConsumer int64
	DroppedSaturated  int64
	Sends             int64
	SendErrors        int64
}
