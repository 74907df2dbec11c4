// Package eventqueue implements the per-symbol hash-partitioned command
// queue described in spec §5: within one symbol, commands are processed
// strictly in arrival order on a single logical worker; across symbols,
// shards run concurrently.
//
// Each shard runs a buffered-channel worker loop with panic recovery around
// handler dispatch, sized and drained like a worker pool (PoolConfig-style
// concurrency, graceful shutdown that drains queued commands). Unlike a broadcast
// pub/sub bus, routing here is single-owner: each symbol's commands land on
// exactly one shard, never fanned out to multiple subscribers.
package eventqueue

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

// CommandType enumerates the inbound event kinds from spec §5.
type CommandType string

const (
	CommandSignal          CommandType = "SIGNAL"
	CommandBrokerFill      CommandType = "BROKER_FILL"
	CommandBrokerStatus    CommandType = "BROKER_ORDER_STATUS"
	CommandReconcileRequest CommandType = "RECONCILE_REQUEST"
	CommandTradeClose      CommandType = "TRADE_CLOSE"
)

// Command is one unit of work routed to a symbol's shard.
type Command struct {
	Type    CommandType
	Symbol  string
	Payload interface{}
}

// Handler processes one Command. Handlers run on the owning shard's single
// goroutine, so a handler may assume exclusivity for its symbol for the
// duration of the call — this is what lets protective-stop placement stay
// contiguous with the triggering fill (spec §5's ordering guarantee).
type Handler func(ctx context.Context, cmd Command)

// Config tunes shard count and per-shard buffering.
type Config struct {
	ShardCount int
	QueueDepth int
}

// DefaultConfig sizes the shard pool, scaled down since each shard here is
// single-threaded rather than a general worker pool.
func DefaultConfig() Config {
	return Config{ShardCount: 8, QueueDepth: 256}
}

type shard struct {
	commands chan Command
	done     chan struct{}
}

// Queue is the hash-partitioned, per-symbol-serial command queue.
type Queue struct {
	cfg     Config
	shards  []*shard
	handler Handler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New constructs a Queue and starts its shard workers. Call Stop to drain
// and shut down.
func New(cfg Config, handler Handler, logger *zap.Logger) *Queue {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	q := &Queue{cfg: cfg, handler: handler, logger: logger}
	q.shards = make([]*shard, cfg.ShardCount)
	for i := range q.shards {
		s := &shard{commands: make(chan Command, cfg.QueueDepth), done: make(chan struct{})}
		q.shards[i] = s
		q.wg.Add(1)
		go q.run(s)
	}
	return q
}

// Enqueue routes cmd to the shard owning cmd.Symbol. Commands for the same
// symbol are delivered to the same shard and processed in send order.
func (q *Queue) Enqueue(cmd Command) {
	q.shards[q.shardFor(cmd.Symbol)].commands <- cmd
}

func (q *Queue) shardFor(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32()) % len(q.shards)
}

func (q *Queue) run(s *shard) {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case cmd, ok := <-s.commands:
			if !ok {
				return
			}
			q.dispatch(ctx, cmd)
		case <-s.done:
			return
		}
	}
}

// dispatch recovers from a handler panic so one bad command cannot take
// down its shard.
func (q *Queue) dispatch(ctx context.Context, cmd Command) {
	defer func() {
		if r := recover(); r != nil && q.logger != nil {
			q.logger.Error("eventqueue: handler panicked",
				zap.String("symbol", cmd.Symbol), zap.String("commandType", string(cmd.Type)), zap.Any("panic", r))
		}
	}()
	q.handler(ctx, cmd)
}

// Stop closes every shard's input and waits for in-flight commands to
// finish; it does not discard queued-but-unprocessed commands early.
func (q *Queue) Stop() {
	for _, s := range q.shards {
		close(s.commands)
	}
	q.wg.Wait()
}
