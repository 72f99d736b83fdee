package router

import (
	"sync"
	"sync/atomic"

	"github.com/rickgao/connmux/internal/model"
)

// Table maps channel keys to consumer queues.
type Table struct {
	cfg TableConfig

	mu     sync.Mutex
	routes map[string]*route
	closed bool

	// Stats
	routed            atomic.Int64
	droppedNoConsumer atomic.Int64
	droppedSaturated  atomic.Int64
}

// route is the producer side of one consumer queue. Its own lock orders
// delivery against close so a send never hits a closed channel.
type route struct {
	mu     sync.Mutex
	ch     chan string
	closed bool
}

type offerResult int

const (
	offerDelivered offerResult = iota
	offerFull
	offerClosed
)

// NewTable creates an empty routing table.
func NewTable(cfg TableConfig) *Table {
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = DefaultQueueDepth
	}

	return &Table{
		cfg:    cfg,
		routes: make(map[string]*route),
	}
}

// Register creates a queue of the given depth for channel and returns its
// consumer side. A depth below 1 uses the configured queue depth.
//
// A previous registration for the same channel is replaced and its queue is
// closed, so the old consumer sees end of stream. Registering on a closed
// table returns an already closed subscription.
func (t *Table) Register(channel string, depth int) *Subscription {
	if depth < 1 {
		depth = t.cfg.QueueDepth
	}

	r := &route{ch: make(chan string, depth)}
	sub := &Subscription{table: t, channel: channel, route: r}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		r.close()
		return sub
	}
	old := t.routes[channel]
	t.routes[channel] = r
	t.mu.Unlock()

	if old != nil {
		old.close()
	}

	return sub
}

// Route delivers env.Data to the consumer registered for env.Channel without
// blocking. It reports whether the payload was enqueued.
func (t *Table) Route(env model.Envelope) bool {
	t.mu.Lock()
	r := t.routes[env.Channel]
	t.mu.Unlock()

	if r == nil {
		t.drop(env.Channel, DropNoConsumer)
		return false
	}

	switch r.offer(env.Data) {
	case offerDelivered:
		t.routed.Add(1)
		return true
	case offerFull:
		t.drop(env.Channel, DropSaturated)
	default:
		// Replaced or removed between lookup and offer
		t.drop(env.Channel, DropNoConsumer)
	}
	return false
}

// CloseAll closes every queue and rejects further registrations.
func (t *Table) CloseAll() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	routes := t.routes
	t.routes = make(map[string]*route)
	t.mu.Unlock()

	for _, r := range routes {
		r.close()
	}
}

// Len returns the number of live registrations.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}

// Stats returns current statistics.
func (t *Table) Stats() TableStats {
	return TableStats{
		Channels:          t.Len(),
		Routed:            t.routed.Load(),
		DroppedNoConsumer: t.droppedNoConsumer.Load(),
		DroppedSaturated:  t.droppedSaturated.Load(),
	}
}

// remove deletes the registration for channel only if it is still r.
func (t *Table) remove(channel string, r *route) {
	t.mu.Lock()
	if t.routes[channel] == r {
		delete(t.routes, channel)
	}
	t.mu.Unlock()

	r.close()
}

func (t *Table) drop(channel string, reason DropReason) {
	switch reason {
	case DropSaturated:
		t.droppedSaturated.Add(1)
	default:
		t.droppedNoConsumer.Add(1)
	}

	if t.cfg.OnDrop != nil {
		t.cfg.OnDrop(channel, reason)
	}
}

func (r *route) offer(data string) offerResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return offerClosed
	}

	select {
	case r.ch <- data:
		return offerDelivered
	default:
		return offerFull
	}
}

func (r *route) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Subscription is the consumer side of one channel registration.
type Subscription struct {
	table   *Table
	channel string
	route   *route
}

// Channel returns the channel key this subscription was registered for.
func (s *Subscription) Channel() string {
	return s.channel
}

// Messages returns the payload queue. It is closed when the subscription is
// closed, replaced by a newer registration, or when the table shuts down.
func (s *Subscription) Messages() <-chan string {
	return s.route.ch
}

// Close deregisters the subscription. A newer registration for the same
// channel is left untouched. Close is idempotent.
func (s *Subscription) Close() {
	s.table.remove(s.channel, s.route)
}
