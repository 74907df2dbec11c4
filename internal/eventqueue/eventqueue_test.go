package eventqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas/equities-core/internal/eventqueue"
)

func TestCommandsForSameSymbolProcessInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	handler := func(ctx context.Context, cmd eventqueue.Command) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, cmd.Payload.(int))
	}

	q := eventqueue.New(eventqueue.Config{ShardCount: 4, QueueDepth: 16}, handler, zap.NewNop())
	for i := 0; i < 20; i++ {
		q.Enqueue(eventqueue.Command{Type: eventqueue.CommandSignal, Symbol: "AAPL", Payload: i})
	}
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 20 {
		t.Fatalf("expected 20 processed commands, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected strict arrival order for same symbol, got %v at position %d: %v", v, i, order)
		}
	}
}

func TestHandlerPanicDoesNotStopShard(t *testing.T) {
	var processed int32
	var mu sync.Mutex
	handler := func(ctx context.Context, cmd eventqueue.Command) {
		if cmd.Payload == "boom" {
			panic("simulated handler failure")
		}
		mu.Lock()
		processed++
		mu.Unlock()
	}
	q := eventqueue.New(eventqueue.Config{ShardCount: 1, QueueDepth: 8}, handler, zap.NewNop())
	q.Enqueue(eventqueue.Command{Symbol: "MSFT", Payload: "boom"})
	q.Enqueue(eventqueue.Command{Symbol: "MSFT", Payload: "ok"})
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	if processed != 1 {
		t.Fatalf("expected the shard to keep processing after a panic, got processed=%d", processed)
	}
}

func TestDifferentSymbolsMayRouteToDifferentShards(t *testing.T) {
	handler := func(ctx context.Context, cmd eventqueue.Command) { time.Sleep(time.Millisecond) }
	q := eventqueue.New(eventqueue.DefaultConfig(), handler, zap.NewNop())
	q.Enqueue(eventqueue.Command{Symbol: "AAPL", Payload: 1})
	q.Enqueue(eventqueue.Command{Symbol: "GOOG", Payload: 2})
	q.Stop()
}
