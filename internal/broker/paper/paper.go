// Package paper implements a deterministic simulated broker against the
// broker.Broker interface, used for backtesting-adjacent dry runs and for
// integration tests that exercise the full execution pipeline without a
// live broker connection.
//
// A fixed commission plus half-spread slippage fill model, built against
// the broker.Broker contract.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas/equities-core/internal/broker"
)

// PriceSource supplies the current reference price for a symbol; in
// production this is backed by the Market Data Source, in tests by a fake.
type PriceSource interface {
	LastPrice(symbol string) (decimal.Decimal, bool)
}

// Config tunes the deterministic fill model.
type Config struct {
	CommissionPerOrder decimal.Decimal
	SlippageBps        int64 // half-spread slippage, expressed in basis points
}

// DefaultConfig sets a flat $1 commission and a basis-point slippage model.
func DefaultConfig() Config {
	return Config{
		CommissionPerOrder: decimal.NewFromFloat(1.00),
		SlippageBps:        5,
	}
}

type restingOrder struct {
	req broker.OrderRequest
	id  string
}

// Broker is a deterministic, in-memory simulated broker.
type Broker struct {
	logger  *zap.Logger
	prices  PriceSource
	cfg     Config
	mu      sync.Mutex
	cash    decimal.Decimal
	connected bool
	positions map[string]broker.Position
	resting   map[string]restingOrder
	events    chan broker.Event
}

// New constructs a paper Broker seeded with starting cash.
func New(logger *zap.Logger, prices PriceSource, cfg Config, startingCash decimal.Decimal) *Broker {
	return &Broker{
		logger:    logger,
		prices:    prices,
		cfg:       cfg,
		cash:      startingCash,
		positions: make(map[string]broker.Position),
		resting:   make(map[string]restingOrder),
		events:    make(chan broker.Event, 256),
	}
}

var _ broker.Broker = (*Broker)(nil)

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.emit(broker.Event{Type: broker.EventConnected, Timestamp: time.Now()})
	return nil
}

func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.emit(broker.Event{Type: broker.EventDisconnected, Timestamp: time.Now()})
	return nil
}

// Submit fills market orders immediately at the last price plus slippage,
// and books limit/stop orders as resting until a later Tick call (driven by
// the backtest/live bar loop feeding prices) crosses them. Submit does not
// deduplicate by IntentID: every accepted call books a new order under a
// fresh broker order id, even when the IntentID repeats an earlier one.
func (b *Broker) Submit(ctx context.Context, req broker.OrderRequest) (broker.SubmitOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return broker.SubmitOutcome{}, fmt.Errorf("paper broker: not connected")
	}
	price, ok := b.prices.LastPrice(req.Symbol)
	if !ok {
		return broker.SubmitOutcome{Kind: broker.Rejected, Reason: string(broker.FailureInvalidSymbol)}, nil
	}

	brokerOrderID := uuid.New().String()

	switch req.Kind {
	case broker.KindEntryMarket, broker.KindExitMarket:
		fillPrice := b.slipped(price, req.Side)
		b.applyFill(req, fillPrice)
		b.emit(broker.Event{
			Type:          broker.EventFill,
			BrokerOrderID: brokerOrderID,
			Status:        "FILLED",
			FillQty:       req.Quantity,
			FillPrice:     fillPrice,
			Timestamp:     time.Now(),
		})
	default:
		b.resting[brokerOrderID] = restingOrder{req: req, id: brokerOrderID}
		b.emit(broker.Event{Type: broker.EventStatus, BrokerOrderID: brokerOrderID, Status: "SUBMITTED", Timestamp: time.Now()})
	}

	return broker.SubmitOutcome{Kind: broker.Accepted, BrokerOrderID: brokerOrderID}, nil
}

// Tick advances the simulated market to a new reference price for symbol,
// triggering fills of any resting stop/limit orders crossed by the move.
// This is the paper broker's analogue of a live price feed tick; backtests
// and dry-run harnesses call it once per bar.
func (b *Broker) Tick(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, r := range b.resting {
		if r.req.Symbol != symbol {
			continue
		}
		if !b.crossed(r.req, price) {
			continue
		}
		fillPrice := b.slipped(price, r.req.Side)
		b.applyFill(r.req, fillPrice)
		delete(b.resting, id)
		b.emit(broker.Event{
			Type:          broker.EventFill,
			BrokerOrderID: id,
			Status:        "FILLED",
			FillQty:       r.req.Quantity,
			FillPrice:     fillPrice,
			Timestamp:     time.Now(),
		})
	}
}

func (b *Broker) crossed(req broker.OrderRequest, price decimal.Decimal) bool {
	switch req.Kind {
	case broker.KindStopLoss:
		if req.Side == broker.SideSell {
			return price.LessThanOrEqual(req.StopPrice)
		}
		return price.GreaterThanOrEqual(req.StopPrice)
	case broker.KindTakeProfit:
		if req.Side == broker.SideSell {
			return price.GreaterThanOrEqual(req.LimitPrice)
		}
		return price.LessThanOrEqual(req.LimitPrice)
	default:
		return false
	}
}

func (b *Broker) slipped(price decimal.Decimal, side broker.Side) decimal.Decimal {
	bps := decimal.NewFromInt(b.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	if side == broker.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(bps))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(bps))
}

func (b *Broker) applyFill(req broker.OrderRequest, fillPrice decimal.Decimal) {
	notional := fillPrice.Mul(decimal.NewFromInt(req.Quantity))
	pos := b.positions[req.Symbol]
	pos.Symbol = req.Symbol
	switch req.Side {
	case broker.SideBuy:
		b.cash = b.cash.Sub(notional).Sub(b.cfg.CommissionPerOrder)
		pos.Quantity += req.Quantity
	case broker.SideSell:
		b.cash = b.cash.Add(notional).Sub(b.cfg.CommissionPerOrder)
		pos.Quantity -= req.Quantity
	}
	if pos.Quantity == 0 {
		delete(b.positions, req.Symbol)
	} else {
		b.positions[req.Symbol] = pos
	}
	if b.logger != nil {
		b.logger.Debug("paper broker filled order",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.Int64("quantity", req.Quantity),
			zap.String("fillPrice", fillPrice.String()),
		)
	}
}

func (b *Broker) Cancel(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.resting[brokerOrderID]; !ok {
		return fmt.Errorf("paper broker: no resting order %s", brokerOrderID)
	}
	delete(b.resting, brokerOrderID)
	b.emit(broker.Event{Type: broker.EventStatus, BrokerOrderID: brokerOrderID, Status: "CANCELLED", Timestamp: time.Now()})
	return nil
}

func (b *Broker) Positions(ctx context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

func (b *Broker) OpenOrders(ctx context.Context) ([]broker.OpenOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.OpenOrder, 0, len(b.resting))
	for id, r := range b.resting {
		out = append(out, broker.OpenOrder{
			BrokerOrderID: id,
			Symbol:        r.req.Symbol,
			Kind:          r.req.Kind,
			Side:          r.req.Side,
			Quantity:      r.req.Quantity,
			Status:        "SUBMITTED",
			LimitPrice:    r.req.LimitPrice,
			StopPrice:     r.req.StopPrice,
		})
	}
	return out, nil
}

func (b *Broker) AccountValue(ctx context.Context) (broker.AccountValue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.cash
	for symbol, pos := range b.positions {
		price, ok := b.prices.LastPrice(symbol)
		if !ok {
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return broker.AccountValue{Total: total, Cash: b.cash}, nil
}

func (b *Broker) Events() <-chan broker.Event {
	return b.events
}

func (b *Broker) emit(ev broker.Event) {
	select {
	case b.events <- ev:
	default:
		if b.logger != nil {
			b.logger.Warn("paper broker event channel full, dropping event", zap.String("type", string(ev.Type)))
		}
	}
}
