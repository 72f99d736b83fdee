package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rickgao/connmux/internal/model"
	"github.com/rickgao/connmux/internal/router"
)

// Manager multiplexes logical channels over one socket.
//
// Recv registers a consumer for a channel and Send publishes to the peer.
// A single reader goroutine, started by New, decodes inbound frames and
// routes them to consumers. It stops when the socket closes or Close is
// called, and closes every consumer queue on the way out.
type Manager struct {
	id     uuid.UUID
	cfg    ManagerConfig
	logger *slog.Logger

	table    *router.Table
	subs     []*Subscription // Registered from cfg.Channels
	observer Observer
	in       Inbound

	// Write serialization
	writeMu sync.Mutex
	out     Outbound

	// Lifecycle
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error // Why the reader stopped

	// Stats
	received   atomic.Int64
	malformed  atomic.Int64
	sends      atomic.Int64
	sendErrors atomic.Int64
}

// New splits the socket, registers cfg.Channels, starts the reader goroutine
// and returns the Manager. Frames for any other channel that arrive before
// Recv is called for it are dropped.
func New(sock Socket, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = router.DefaultQueueDepth
	}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	in, out := sock.Split()
	id := uuid.New()

	m := &Manager{
		id:     id,
		cfg:    cfg,
		logger: logger.With("session", id.String()),
		table: router.NewTable(router.TableConfig{
			QueueDepth: cfg.QueueDepth,
			OnDrop:     cfg.OnDrop,
		}),
		observer: observer,
		in:       in,
		out:      out,
		done:     make(chan struct{}),
	}

	for _, channel := range cfg.Channels {
		m.subs = append(m.subs, m.table.Register(channel, cfg.QueueDepth))
	}

	go m.readLoop()

	m.logger.Debug("connection manager started", "queue_depth", cfg.QueueDepth)

	return m
}

// ID returns the session ID used to tag this Manager's log lines.
func (m *Manager) ID() uuid.UUID {
	return m.id
}

// Send encodes an envelope for channel and writes it to the socket.
// Concurrent calls are serialized so frames never interleave.
func (m *Manager) Send(channel, data string) error {
	if m.closing.Load() {
		return ErrClosed
	}

	err := m.send(channel, data)
	m.observer.SendDone(err)
	return err
}

func (m *Manager) send(channel, data string) error {
	frame, err := model.Encode(model.Envelope{Channel: channel, Data: data})
	if err != nil {
		m.sendErrors.Add(1)
		return err
	}

	m.writeMu.Lock()
	err = m.out.WriteFrame(frame)
	m.writeMu.Unlock()

	if err != nil {
		m.sendErrors.Add(1)
		return fmt.Errorf("%w: %w", ErrTransportWrite, err)
	}

	m.sends.Add(1)
	return nil
}

// Recv registers interest in channel and returns its consumer endpoint.
// A previous subscription for the same channel is replaced and its queue
// closed. After the reader has stopped the returned queue is already closed.
func (m *Manager) Recv(channel string) *Subscription {
	return m.table.Register(channel, m.cfg.QueueDepth)
}

// Subscriptions returns the subscriptions registered from
// ManagerConfig.Channels, in the same order. A later Recv for one of those
// channels replaces it and closes its queue.
func (m *Manager) Subscriptions() []*Subscription {
	return m.subs
}

// Done returns a channel that is closed once the reader goroutine has
// stopped and every consumer queue has been closed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err reports why the reader stopped. It is nil while running and after an
// explicit Close; otherwise it wraps ErrTransportClosed.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close shuts down the socket and waits for the reader goroutine to exit.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closing.Store(true)
		m.closeErr = m.out.Close()
		<-m.done
	})
	return m.closeErr
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	ts := m.table.Stats()

	return ManagerStats{
		Session:           m.id,
		Channels:          ts.Channels,
		FramesReceived:    m.received.Load(),
		FramesMalformed:   m.malformed.Load(),
		FramesRouted:      ts.Routed,
		DroppedNoConsumer: ts.DroppedNoConsumer,
		DroppedSaturated:  ts.DroppedSaturated,
		Sends:             m.sends.Load(),
		SendErrors:        m.sendErrors.Load(),
	}
}

// readLoop reads frames until the socket fails, routing each to its consumer.
func (m *Manager) readLoop() {
	defer close(m.done)
	defer m.table.CloseAll()

	for {
		data, err := m.in.ReadFrame()
		if err != nil {
			m.stop(err)
			return
		}
		m.received.Add(1)
		m.observer.FrameReceived()

		env, err := model.Decode(data)
		if err != nil {
			m.malformed.Add(1)
			m.observer.FrameMalformed()
			m.logger.Debug("dropping malformed frame", "size", len(data), "error", err)
			continue
		}

		if m.table.Route(env) {
			m.observer.FrameRouted()
		}
	}
}

// stop records why the reader exited.
func (m *Manager) stop(err error) {
	if m.closing.Load() {
		m.logger.Info("connection manager stopped")
		return
	}

	if !errors.Is(err, ErrTransportClosed) {
		m.logger.Warn("connection read failed", "error", err)
		err = fmt.Errorf("%w: %w", ErrTransportClosed, err)
	} else {
		m.logger.Info("connection closed by peer", "error", err)
	}

	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
