// Package broker defines the Broker Adapter contract (spec §4.5): the sole
// session to the broker, with connect/disconnect, order submission,
// cancellation, position/order snapshots, and an idempotent event stream.
//
// Per spec §9's "global mutable broker client" re-architecting note, there
// is no process-global handle: a Broker is constructed, owned, and
// disposed of by whoever needs it; tests substitute a fake implementing
// this interface.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is what the Execution Engine submits.
type OrderRequest struct {
	IntentID  string // idempotency key; retrying with the same id yields at most one broker order
	Symbol    string
	Side      Side
	Kind      Kind
	Quantity  int64
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
}

// Side mirrors types.OrderSide without importing pkg/types, keeping this
// package dependency-light for fakes used in tests elsewhere.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kind mirrors types.OrderKind.
type Kind string

const (
	KindEntryMarket Kind = "ENTRY_MARKET"
	KindStopLoss    Kind = "STOP_LOSS"
	KindTakeProfit  Kind = "TAKE_PROFIT"
	KindExitMarket  Kind = "EXIT_MARKET"
)

// SubmitOutcome is a tagged result variant (spec §9 Design Note: replace
// exceptions-as-control-flow with tagged results an Execution Engine
// handler can exhaustively match).
type SubmitOutcome struct {
	Kind          OutcomeKind
	BrokerOrderID string // set when Kind == Accepted
	Reason        string // set when Kind == Rejected
}

// OutcomeKind enumerates the SubmitOutcome variants.
type OutcomeKind int

const (
	Accepted OutcomeKind = iota
	Rejected
	TimedOut
)

// Position is a broker-reported open position.
type Position struct {
	Symbol   string
	Quantity int64
	AvgCost  decimal.Decimal
}

// OpenOrder is a broker-reported resting order.
type OpenOrder struct {
	BrokerOrderID string
	Symbol        string
	Kind          Kind
	Side          Side
	Quantity      int64
	Status        string
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
}

// AccountValue reports total equity and cash.
type AccountValue struct {
	Total decimal.Decimal
	Cash  decimal.Decimal
}

// EventType enumerates broker event-stream message kinds.
type EventType string

const (
	EventConnected    EventType = "CONNECTED"
	EventDisconnected EventType = "DISCONNECTED"
	EventFill         EventType = "FILL"
	EventStatus       EventType = "STATUS"
)

// Event is one delivery on the broker's event stream. Consumers must
// tolerate duplicate deliveries and deduplicate by (BrokerOrderID, Status).
type Event struct {
	Type          EventType
	BrokerOrderID string
	Status        string
	FillQty       int64
	FillPrice     decimal.Decimal
	Timestamp     time.Time
}

// FailureKind is the taxonomy surfaced per spec §4.5.
type FailureKind string

const (
	FailureConnectionLost     FailureKind = "CONNECTION_LOST"
	FailureOrderRejected      FailureKind = "ORDER_REJECTED"
	FailureInsufficientMargin FailureKind = "INSUFFICIENT_MARGIN"
	FailureInvalidSymbol      FailureKind = "INVALID_SYMBOL"
	FailureTimeout            FailureKind = "TIMEOUT"
)

// AckDeadline is the no-ack-within window that surfaces FailureTimeout.
const AckDeadline = 5 * time.Minute

// Broker is the sole access path to a trading session. No raw connection
// handle is ever shared outside an implementation.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Submit(ctx context.Context, req OrderRequest) (SubmitOutcome, error)
	Cancel(ctx context.Context, brokerOrderID string) error
	Positions(ctx context.Context) ([]Position, error)
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	AccountValue(ctx context.Context) (AccountValue, error)
	Events() <-chan Event
}

// Per-call-type deadlines, spec §5.
const (
	SubmitDeadline = 10 * time.Second
	CancelDeadline = 5 * time.Second
	QueryDeadline  = 5 * time.Second
)

// ConnectBackoff is the bounded-retry schedule spec §4.5 requires around
// Connect: start at 1s, double each attempt, cap at 30s, give up after 10
// attempts.
var ConnectBackoff = RetryConfig{
	MaxAttempts:  10,
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
}

// RetryConfig parameterizes ConnectWithBackoff's exponential schedule.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// ConnectWithBackoff calls b.Connect, retrying on failure under cfg's
// exponential schedule (spec §4.5). It gives up early if ctx is cancelled
// during a backoff sleep.
func ConnectWithBackoff(ctx context.Context, b Broker, cfg RetryConfig) error {
	var err error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err = b.Connect(ctx); err == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("broker: connect failed after %d attempts: %w", cfg.MaxAttempts, err)
}
