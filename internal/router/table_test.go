package router

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/connmux/internal/model"
)

func TestDefaultTableConfig(t *testing.T) {
	cfg := DefaultTableConfig()

	if cfg.QueueDepth != 10 {
		t.Errorf("QueueDepth = %d, want 10", cfg.QueueDepth)
	}
	if cfg.OnDrop != nil {
		t.Error("OnDrop should be nil by default")
	}
}

func TestTable_RouteDelivers(t *testing.T) {
	tbl := NewTable(DefaultTableConfig())
	sub := tbl.Register("logs", 0)

	if !tbl.Route(model.Envelope{Channel: "logs", Data: "hello"}) {
		t.Fatal("Route returned false for registered channel")
	}

	select {
	case got := <-sub.Messages():
		if got != "hello" {
			t.Errorf("received %q, want %q", got, "hello")
		}
	default:
		t.Fatal("expected payload in queue")
	}

	if sub.Channel() != "logs" {
		t.Errorf("Channel() = %q, want %q", sub.Channel(), "logs")
	}
}

func TestTable_PerChannelOrdering(t *testing.T) {
	tbl := NewTable(DefaultTableConfig())
	sub := tbl.Register("logs", 100)

	for i := 0; i < 50; i++ {
		tbl.Route(model.Envelope{Channel: "logs", Data: fmt.Sprintf("msg-%d", i)})
	}

	for i := 0; i < 50; i++ {
		want := fmt.Sprintf("msg-%d", i)
		if got := <-sub.Messages(); got != want {
			t.Fatalf("message %d = %q, want %q", i, got, want)
		}
	}
}

func TestTable_ChannelIsolation(t *testing.T) {
	tbl := NewTable(DefaultTableConfig())
	a := tbl.Register("a", 0)
	b := tbl.Register("b", 0)

	tbl.Route(model.Envelope{Channel: "a", Data: "for-a"})

	select {
	case got := <-b.Messages():
		t.Fatalf("channel b received %q", got)
	default:
	}

	if got := <-a.Messages(); got != "for-a" {
		t.Errorf("channel a received %q, want %q", got, "for-a")
	}
}

func TestTable_NoConsumerDrops(t *testing.T) {
	var drops []DropReason
	tbl := NewTable(TableConfig{
		OnDrop: func(channel string, reason DropReason) {
			if channel != "metrics" {
				t.Errorf("drop channel = %q, want metrics", channel)
			}
			drops = append(drops, reason)
		},
	})

	done := make(chan bool)
	go func() {
		done <- tbl.Route(model.Envelope{Channel: "metrics", Data: "42"})
	}()

	select {
	case ok := <-done:
		if ok {
			t.Error("Route returned true for unregistered channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Route blocked on unregistered channel")
	}

	if len(drops) != 1 || drops[0] != DropNoConsumer {
		t.Errorf("drops = %v, want [%s]", drops, DropNoConsumer)
	}
	if stats := tbl.Stats(); stats.DroppedNoConsumer != 1 {
		t.Errorf("DroppedNoConsumer = %d, want 1", stats.DroppedNoConsumer)
	}
}

func TestTable_SaturatedDropsNewest(t *testing.T) {
	var saturated int
	tbl := NewTable(TableConfig{
		QueueDepth: 3,
		OnDrop: func(channel string, reason DropReason) {
			if reason == DropSaturated {
				saturated++
			}
		},
	})
	sub := tbl.Register("slow", 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			tbl.Route(model.Envelope{Channel: "slow", Data: fmt.Sprintf("%d", i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Route blocked on full queue")
	}

	if saturated != 2 {
		t.Errorf("saturated drops = %d, want 2", saturated)
	}

	// Oldest frames kept, newest dropped
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("%d", i)
		if got := <-sub.Messages(); got != want {
			t.Errorf("message %d = %q, want %q", i, got, want)
		}
	}

	stats := tbl.Stats()
	if stats.Routed != 3 {
		t.Errorf("Routed = %d, want 3", stats.Routed)
	}
	if stats.DroppedSaturated != 2 {
		t.Errorf("DroppedSaturated = %d, want 2", stats.DroppedSaturated)
	}
}

func TestTable_ReRegistrationReplaces(t *testing.T) {
	tbl := NewTable(DefaultTableConfig())
	first := tbl.Register("x", 0)
	second := tbl.Register("x", 0)

	if first == second {
		t.Fatal("expected distinct subscriptions")
	}

	// Old queue is closed, not starved
	if _, ok := <-first.Messages(); ok {
		t.Error("first subscription should be closed after re-registration")
	}

	tbl.Route(model.Envelope{Channel: "x", Data: "after"})

	if got := <-second.Messages(); got != "after" {
		t.Errorf("second received %q, want %q", got, "after")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}

func TestTable_ReRegistrationKeepsBufferedFrames(t *testing.T) {
	tbl := NewTable(DefaultTableConfig())
	first := tbl.Register("x", 0)

	tbl.Route(model.Envelope{Channel: "x", Data: "before"})
	tbl.Register("x", 0)

	got, ok := <-first.Messages()
	if !ok || got != "before" {
		t.Errorf("first received (%q, %v), want (%q, true)", got, ok, "before")
	}
	if _, ok := <-first.Messages(); ok {
		t.Error("first subscription should be closed after draining")
	}
}

func TestSubscription_Close(t *testing.T) {
	tbl := NewTable(DefaultTableConfig())
	sub := tbl.Register("x", 0)

	sub.Close()
	sub.Close()

	if _, ok := <-sub.Messages(); ok {
		t.Error("expected closed queue")
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tbl.Len())
	}
	if tbl.Route(model.Envelope{Channel: "x", Data: "late"}) {
		t.Error("Route delivered to closed subscription")
	}
}

func TestSubscription_CloseStaleLeavesNewer(t *testing.T) {
	tbl := NewTable(DefaultTableConfig())
	old := tbl.Register("x", 0)
	current := tbl.Register("x", 0)

	old.Close()

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
	if !tbl.Route(model.Envelope{Channel: "x", Data: "still here"}) {
		t.Fatal("Route failed after stale Close")
	}
	if got := <-current.Messages(); got != "still here" {
		t.Errorf("received %q, want %q", got, "still here")
	}
}

func TestTable_CloseAll(t *testing.T) {
	tbl := NewTable(DefaultTableConfig())
	a := tbl.Register("a", 0)
	b := tbl.Register("b", 0)

	tbl.CloseAll()
	tbl.CloseAll()

	for _, sub := range []*Subscription{a, b} {
		if _, ok := <-sub.Messages(); ok {
			t.Errorf("subscription %q should be closed", sub.Channel())
		}
	}

	late := tbl.Register("c", 0)
	if _, ok := <-late.Messages(); ok {
		t.Error("registration after CloseAll should be closed")
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tbl.Len())
	}

	// Closing a subscription after CloseAll must not panic
	a.Close()
}

func TestTable_ConcurrentRegisterAndRoute(t *testing.T) {
	tbl := NewTable(TableConfig{QueueDepth: 4})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Reader side
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			tbl.Route(model.Envelope{Channel: fmt.Sprintf("ch-%d", i%8), Data: "x"})
		}
	}()

	// Registering callers, each draining its own subscriptions
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sub := tbl.Register(fmt.Sprintf("ch-%d", (w+i)%8), 0)
				select {
				case <-sub.Messages():
				default:
				}
				if i%3 == 0 {
					sub.Close()
				}
			}
		}(w)
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	tbl.CloseAll()
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tbl.Len())
	}
}
