// Package execution implements the Execution Engine (spec §4.6): the single
// place a Signal becomes broker orders, including atomic stop/take-profit
// co-placement on entry fill and sibling-cancel semantics on exit.
//
// The overall submit→await-fill→place-protective-orders shape and its
// retry-with-backoff escalation carry over; Kelly sizing and regime
// adjustment are replaced by the Position Sizer (§4.3) and Risk Gate
// (§4.4), and a hard 3-retry/1-2-4s escalation to EXIT_MARKET replaces a
// generic retry loop.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	brk "github.com/atlas/equities-core/internal/broker"
	"github.com/atlas/equities-core/internal/risk"
	"github.com/atlas/equities-core/internal/sizing"
	"github.com/atlas/equities-core/pkg/types"
)

// Error wraps a failure with the §7 error-kind taxonomy so callers can
// exhaustively dispatch on Kind instead of string-matching messages.
type Error struct {
	Kind types.ErrKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Store is the persistence surface the engine needs. A thin slice of
// internal/store's full interface, kept narrow so tests can fake it.
type Store interface {
	CreateTrade(ctx context.Context, t *types.Trade) (int64, error)
	UpdateTrade(ctx context.Context, t *types.Trade) error
	CreateOrder(ctx context.Context, o *types.Order) (int64, error)
	UpdateOrder(ctx context.Context, o *types.Order) error
	GetOrder(ctx context.Context, id int64) (*types.Order, error)
	OpenTradeByStrategySymbol(ctx context.Context, strategyID int64, symbol string) (*types.Trade, error)
}

// Notifier delivers CRITICAL alerts (spec §6, the email collaborator).
type Notifier interface {
	NotifyCritical(ctx context.Context, subject, body string) error
}

// Config carries the parameters the engine needs per strategy invocation.
// Position sizing and stop/TP distance depend on each strategy's own
// Parameters (spec §6), so this is passed per call rather than held fixed.
type Config struct {
	Params              types.Parameters
	PortfolioValue      decimal.Decimal
	AvailableCash       decimal.Decimal
	EstimatedCommission decimal.Decimal
	StopReference       types.StopReferencePrice
}

// Engine is the Execution Engine.
type Engine struct {
	broker   brk.Broker
	gate     *risk.Gate
	store    Store
	notifier Notifier
	logger   *zap.Logger
}

// New constructs an Engine.
func New(broker brk.Broker, gate *risk.Gate, store Store, notifier Notifier, logger *zap.Logger) *Engine {
	return &Engine{broker: broker, gate: gate, store: store, notifier: notifier, logger: logger}
}

// strategyView and portfolioView adapt a single strategy/portfolio snapshot
// into the risk.Gate's interfaces without pulling in the full store.
type strategyView struct {
	status types.StrategyStatus
	cap    decimal.Decimal
}

func (v strategyView) Status(int64) types.StrategyStatus          { return v.status }
func (v strategyView) AllocationCapFraction(int64) decimal.Decimal { return v.cap }

type portfolioView struct {
	hasOpen   bool
	allocated decimal.Decimal
	value     decimal.Decimal
	cash      decimal.Decimal
}

func (v portfolioView) HasOpenTrade(int64, string) bool      { return v.hasOpen }
func (v portfolioView) OpenNotional(int64) decimal.Decimal   { return v.allocated }
func (v portfolioView) PortfolioValue() decimal.Decimal      { return v.value }
func (v portfolioView) AvailableCash() decimal.Decimal       { return v.cash }

type lossView struct{ paused bool }

func (v lossView) IsPaused(int64) bool { return v.paused }

// Execute implements spec §4.6's operation. hasOpenTrade/strategyStatus/
// allocationCap/openNotional/lossPaused are supplied by the caller (the
// event-queue handler) since they come from live strategy/portfolio state
// the engine does not own.
func (e *Engine) Execute(
	ctx context.Context,
	signal types.Signal,
	entryRefPrice decimal.Decimal,
	hasOpenTrade bool,
	strategyStatus types.StrategyStatus,
	allocationCap decimal.Decimal,
	openNotional decimal.Decimal,
	lossPaused bool,
	cfg Config,
) (*types.Trade, error) {
	if signal.Type != types.SignalBuy {
		if e.logger != nil {
			e.logger.Debug("execute: non-BUY signal without matching open trade, skipping",
				zap.String("symbol", signal.Symbol), zap.String("signalType", string(signal.Type)))
		}
		return nil, nil
	}
	if hasOpenTrade {
		return nil, nil
	}

	stopPrice := entryRefPrice.Mul(decimal.NewFromInt(1).Sub(cfg.Params.StopLossPct))
	takeProfitPrice := entryRefPrice.Mul(decimal.NewFromInt(1).Add(cfg.Params.TakeProfitPct))
	if !(stopPrice.LessThan(entryRefPrice) && entryRefPrice.LessThan(takeProfitPrice)) {
		return nil, &Error{Kind: types.ErrSizeZero, Err: fmt.Errorf("long-only constraint violated: stop=%s entry=%s tp=%s", stopPrice, entryRefPrice, takeProfitPrice)}
	}

	// The sizer's max-position fraction is the same 20% per-position cap the
	// Risk Gate enforces; the strategy's allocation cap is checked by the gate.
	maxPositionFraction := decimal.RequireFromString("0.20")
	qty := sizing.Size(cfg.PortfolioValue, entryRefPrice, stopPrice, cfg.Params.RiskFraction, maxPositionFraction, cfg.AvailableCash)

	candidate := risk.Candidate{
		StrategyID:          signal.StrategyID,
		Symbol:              signal.Symbol,
		Quantity:            qty,
		EntryPrice:          entryRefPrice,
		StopPrice:           stopPrice,
		EstimatedCommission: cfg.EstimatedCommission,
	}
	ok, reason := e.gate.Check(
		strategyView{status: strategyStatus, cap: allocationCap},
		portfolioView{hasOpen: hasOpenTrade, allocated: openNotional, value: cfg.PortfolioValue, cash: cfg.AvailableCash},
		lossView{paused: lossPaused},
		candidate,
	)
	if !ok {
		signal.Executed = false
		signal.NonExecutionReason = reason
		return nil, &Error{Kind: reason, Err: fmt.Errorf("risk gate rejected candidate")}
	}

	trade := &types.Trade{
		StrategyID:         signal.StrategyID,
		StockID:            signal.StockID,
		Symbol:             signal.Symbol,
		Quantity:           qty,
		IntendedEntryPrice: entryRefPrice,
		EntryTime:          time.Now(),
		InitialStop:        stopPrice,
		InitialTakeProfit:  takeProfitPrice,
		CurrentStop:        stopPrice,
		CurrentTakeProfit:  takeProfitPrice,
	}
	tradeID, err := e.store.CreateTrade(ctx, trade)
	if err != nil {
		return nil, &Error{Kind: types.ErrConnectionLost, Err: err}
	}
	trade.ID = tradeID

	intentID := uuid.New().String()
	submitCtx, cancel := context.WithTimeout(ctx, brk.SubmitDeadline)
	defer cancel()
	outcome, err := e.broker.Submit(submitCtx, brk.OrderRequest{
		IntentID: intentID, Symbol: signal.Symbol, Side: brk.SideBuy, Kind: brk.KindEntryMarket, Quantity: qty,
	})
	if err != nil || outcome.Kind != brk.Accepted {
		signal.Executed = false
		signal.NonExecutionReason = types.ErrTimeout
		return trade, &Error{Kind: types.ErrTimeout, Err: fmt.Errorf("entry submit failed: %v (outcome=%v)", err, outcome.Kind)}
	}

	order := &types.Order{
		BrokerOrderID: outcome.BrokerOrderID,
		IntentID:      intentID,
		StockID:       signal.StockID,
		Symbol:        signal.Symbol,
		Kind:          types.OrderKindEntryMarket,
		Side:          types.OrderSideBuy,
		Quantity:      qty,
		SubmittedAt:   time.Now(),
		Status:        types.OrderStatusSubmitted,
		ParentTradeID: tradeID,
	}
	if _, err := e.store.CreateOrder(ctx, order); err != nil {
		return trade, &Error{Kind: types.ErrConnectionLost, Err: err}
	}

	signal.Executed = true
	signal.ResultingTradeID = tradeID
	return trade, nil
}

// OnEntryFill implements step 5 of spec §4.6: atomically submit STOP_LOSS
// and TAKE_PROFIT sized to the filled quantity, with escalation to a
// flattening EXIT_MARKET if protective-order placement keeps failing.
func (e *Engine) OnEntryFill(ctx context.Context, trade *types.Trade, fillPrice decimal.Decimal, filledQty int64) error {
	trade.EntryPrice = fillPrice

	stopIntent, tpIntent := uuid.New().String(), uuid.New().String()
	stopID, stopErr := e.submitWithEscalation(ctx, brk.OrderRequest{
		IntentID: stopIntent, Symbol: trade.Symbol, Side: brk.SideSell,
		Kind: brk.KindStopLoss, Quantity: filledQty, StopPrice: trade.CurrentStop,
	})
	tpID, tpErr := e.submitWithEscalation(ctx, brk.OrderRequest{
		IntentID: tpIntent, Symbol: trade.Symbol, Side: brk.SideSell,
		Kind: brk.KindTakeProfit, Quantity: filledQty, LimitPrice: trade.CurrentTakeProfit,
	})

	if stopErr != nil || tpErr != nil {
		e.flatten(ctx, trade, filledQty)
		return &Error{Kind: types.ErrProtectiveStopFailed, Err: fmt.Errorf("stop=%v tp=%v", stopErr, tpErr)}
	}

	trade.StopBrokerOrderID = stopID
	trade.TakeProfitBrokerOrderID = tpID
	// Record both protective orders so their later fills map back to this trade.
	for _, o := range []*types.Order{
		{BrokerOrderID: stopID, IntentID: stopIntent, Kind: types.OrderKindStopLoss, StopPrice: trade.CurrentStop},
		{BrokerOrderID: tpID, IntentID: tpIntent, Kind: types.OrderKindTakeProfit, LimitPrice: trade.CurrentTakeProfit},
	} {
		o.StockID, o.Symbol, o.Side, o.Quantity = trade.StockID, trade.Symbol, types.OrderSideSell, filledQty
		o.SubmittedAt, o.Status, o.ParentTradeID = time.Now(), types.OrderStatusSubmitted, trade.ID
		if _, err := e.store.CreateOrder(ctx, o); err != nil {
			return &Error{Kind: types.ErrConnectionLost, Err: err}
		}
	}
	return e.store.UpdateTrade(ctx, trade)
}

// submitWithEscalation retries a protective-order submission 3 times with
// 1/2/4-second backoff per spec §4.6's failure semantics.
func (e *Engine) submitWithEscalation(ctx context.Context, req brk.OrderRequest) (string, error) {
	delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(delays); attempt++ {
		submitCtx, cancel := context.WithTimeout(ctx, brk.SubmitDeadline)
		outcome, err := e.broker.Submit(submitCtx, req)
		cancel()
		if err == nil && outcome.Kind == brk.Accepted {
			return outcome.BrokerOrderID, nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("submit rejected: %s", outcome.Reason)
		}
		if attempt < len(delays) {
			select {
			case <-time.After(delays[attempt]):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

// flatten issues an immediate EXIT_MARKET and emits a CRITICAL alert, per
// spec §4.6: never leave an entry filled without a protective stop.
func (e *Engine) flatten(ctx context.Context, trade *types.Trade, qty int64) {
	submitCtx, cancel := context.WithTimeout(ctx, brk.SubmitDeadline)
	defer cancel()
	_, err := e.broker.Submit(submitCtx, brk.OrderRequest{
		IntentID: uuid.New().String(), Symbol: trade.Symbol, Side: brk.SideSell,
		Kind: brk.KindExitMarket, Quantity: qty,
	})
	if e.logger != nil {
		e.logger.Error("protective stop/tp placement failed, flattened position",
			zap.Int64("tradeId", trade.ID), zap.String("symbol", trade.Symbol), zap.Error(err))
	}
	if e.notifier != nil {
		_ = e.notifier.NotifyCritical(ctx, "protective stop failed",
			fmt.Sprintf("trade %d on %s flattened after protective order escalation failed", trade.ID, trade.Symbol))
	}
}

// PlaceProtectiveStop implements reconcile.ProtectiveStopPlacer: when the
// Reconciler discovers a position at the broker with no corresponding
// local trade, it has no strategy context to size a stop from, so this
// falls back to the default StopLossPct (spec §6) against the trade's
// recorded entry price.
func (e *Engine) PlaceProtectiveStop(ctx context.Context, trade *types.Trade) error {
	stopPct := types.DefaultParameters().StopLossPct
	stopPrice := trade.EntryPrice.Mul(decimal.NewFromInt(1).Sub(stopPct))

	stopID, err := e.submitWithEscalation(ctx, brk.OrderRequest{
		IntentID: uuid.New().String(), Symbol: trade.Symbol, Side: brk.SideSell,
		Kind: brk.KindStopLoss, Quantity: trade.Quantity, StopPrice: stopPrice,
	})
	if err != nil {
		return &Error{Kind: types.ErrProtectiveStopFailed, Err: err}
	}
	trade.CurrentStop = stopPrice
	trade.StopBrokerOrderID = stopID
	return e.store.UpdateTrade(ctx, trade)
}

// OnExit implements step 6 of spec §4.6: on SELL signal or stop/TP fill,
// cancel the sibling pending exit order before marking the Trade closed.
func (e *Engine) OnExit(ctx context.Context, trade *types.Trade, siblingBrokerOrderID string, exitPrice decimal.Decimal, reason types.ExitReason) error {
	trade.Closing = true
	if siblingBrokerOrderID != "" {
		cancelCtx, cancel := context.WithTimeout(ctx, brk.CancelDeadline)
		err := e.broker.Cancel(cancelCtx, siblingBrokerOrderID)
		cancel()
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("sibling cancel failed, trade remains CLOSING pending reconciliation",
					zap.Int64("tradeId", trade.ID), zap.Error(err))
			}
			_ = e.store.UpdateTrade(ctx, trade)
			return &Error{Kind: types.ErrReconcileDrift, Err: err}
		}
	}

	now := time.Now()
	trade.ExitPrice = exitPrice
	trade.ExitTime = &now
	trade.ExitReason = reason
	trade.Closing = false
	return e.store.UpdateTrade(ctx, trade)
}
