package router

// DefaultQueueDepth is the capacity of each consumer queue.
const DefaultQueueDepth = 10

// DropReason explains why a frame was not delivered.
type DropReason string

const (
	DropNoConsumer DropReason = "no_consumer"
	DropSaturated  DropReason = "saturated"
)

// DropFunc is notified of every dropped frame. It runs on the reading
// goroutine and must not block. It must not close the Manager that owns the
// table either: Close waits for the reading goroutine, which is still inside
// the hook, so the call never returns.
type DropFunc func(channel string, reason DropReason)

// TableConfig holds configuration for a routing Table.
type TableConfig struct {
	QueueDepth int      // Default: 10
	OnDrop     DropFunc // Optional
}

// DefaultTableConfig returns default configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		QueueDepth: DefaultQueueDepth,
	}
}

// TableStats contains runtime statistics.
type TableStats struct {
	Channels          int   // Live registrations
	Routed            int64 // Frames enqueued to a consumer
	DroppedNoConsumer int64
	DroppedSaturated  int64
}
