package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/connmux/internal/connection"
)

// DefaultSendConcurrency bounds parallel writes during Broadcast.
const DefaultSendConcurrency = 16

// Config configures a Hub.
type Config struct {
	SendConcurrency int
}

// Hub is a set of live Managers keyed by session ID.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID]*connection.Manager
}

// New creates an empty Hub.
func New(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendConcurrency < 1 {
		cfg.SendConcurrency = DefaultSendConcurrency
	}

	return &Hub{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[uuid.UUID]*connection.Manager),
	}
}

// Add tracks m until its reader stops.
func (h *Hub) Add(m *connection.Manager) {
	h.mu.Lock()
	h.conns[m.ID()] = m
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("connection added", "session", m.ID().String(), "connections", n)

	go func() {
		<-m.Done()
		h.Remove(m.ID())
	}()
}

// Remove stops tracking the Manager with the given session ID.
func (h *Hub) Remove(id uuid.UUID) {
	h.mu.Lock()
	_, ok := h.conns[id]
	delete(h.conns, id)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.logger.Info("connection removed", "session", id.String(), "connections", n)
	}
}

// Len returns the number of live Managers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends payload on channel to every live Manager and returns how
// many sends succeeded. Failures are joined into the returned error; one
// failing connection does not stop delivery to the others.
func (h *Hub) Broadcast(ctx context.Context, channel, payload string) (int, error) {
	h.mu.RLock()
	targets := make([]*connection.Manager, 0, len(h.conns))
	for _, m := range h.conns {
		targets = append(targets, m)
	}
	h.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs []error
		sent int
	)

	var g errgroup.Group
	g.SetLimit(h.cfg.SendConcurrency)

	for _, m := range targets {
		m := m
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}

			err := m.Send(channel, payload)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("session %s: %w", m.ID(), err))
				return nil
			}
			sent++
			return nil
		})
	}
	g.Wait()

	return sent, errors.Join(errs...)
}

// Close closes every tracked Manager.
func (h *Hub) Close() {
	h.mu.RLock()
	targets := make([]*connection.Manager, 0, len(h.conns))
	for _, m := range h.conns {
		targets = append(targets, m)
	}
	h.mu.RUnlock()

	for _, m := range targets {
		m.Close()
	}
}
