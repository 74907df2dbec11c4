// Package backtest implements the Backtester (spec §4.11): a deterministic,
// event-driven replay over a bar series with a strict no-look-ahead
// discipline (signal at bar i-1's close, execution at bar i's open) and an
// exact exit-priority order within each bar.
//
// The event-queue architecture — iterate bars, evaluate, maybe-fill,
// mark-to-market — plus the cash/position bookkeeping and the
// price·(1±slippage) fill model, now backed by real signal generation and
// position sizing from internal/indicator, internal/strategy, and
// internal/sizing instead of stubs.
package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas/equities-core/internal/indicator"
	"github.com/atlas/equities-core/internal/sizing"
	"github.com/atlas/equities-core/internal/strategy"
	"github.com/atlas/equities-core/pkg/types"
)

// Runner replays one bar series under a fixed parameter set.
type Runner struct {
	cfg types.BacktestConfig
}

// New constructs a Runner.
func New(cfg types.BacktestConfig) *Runner {
	return &Runner{cfg: cfg}
}

type openPosition struct {
	quantity   int64
	entryPrice decimal.Decimal
	stopPrice  decimal.Decimal
	takeProfit decimal.Decimal
	entryBar   int
	// entryBarTimestamp and signalBarTimestamp are captured once at entry
	// (spec §4.11 step 2) and carried through to the closing BacktestTrade
	// unchanged — they describe when the entry was decided and executed,
	// not when the position was closed.
	entryBarTimestamp  time.Time
	signalBarTimestamp time.Time
	maxAdverse         decimal.Decimal // most negative excursion seen, as a fraction
	maxFavorable       decimal.Decimal
}

// Run executes the full replay over bars (ascending timestamp order,
// already warm-up-eligible per WarmupLength).
func (r *Runner) Run(bars []types.Bar) (*types.BacktestResult, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest: empty bar series")
	}
	if err := r.cfg.Parameters.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: invalid parameters: %w", err)
	}

	eval := strategy.NewEvaluator(r.cfg.Parameters)
	warmup := indicator.WarmupLength(r.cfg.Parameters.EMASlowPeriod, r.cfg.Parameters.RSIPeriod)

	closes := make([]float64, len(bars))
	for i, b := range bars {
		f, _ := b.Close.Float64()
		closes[i] = f
	}

	cash := r.cfg.InitialCapital
	var pos *openPosition
	var trades []types.BacktestTrade
	var equity []types.EquityCurvePoint
	slippage := r.cfg.SlippageFraction
	if slippage.IsZero() {
		slippage = decimal.NewFromFloat(0.001)
	}

	for i := range bars {
		if i < warmup {
			equity = append(equity, markToMarket(bars[i], cash, pos))
			continue
		}

		// Step 1: decide using only bars up to and including i-1's close.
		var pendingSignal types.SignalType
		if i >= 1 {
			result := eval.Evaluate(closes[:i], pos != nil)
			pendingSignal = result.Type
		}

		bar := bars[i]

		// Step 3: protective exits take priority over a fresh entry signal
		// within the same bar, per spec §4.11 point 3.
		if pos != nil {
			if exited := r.tryExit(&trades, pos, bar, i, pendingSignal, slippage, &cash); exited {
				pos = nil
			} else {
				updateExcursion(pos, bar)
			}
		} else if pendingSignal == types.SignalBuy {
			pos = r.tryEntry(bar, i, bars[i-1].Timestamp, slippage, cash)
			if pos != nil {
				notional := pos.entryPrice.Mul(decimal.NewFromInt(pos.quantity))
				cash = cash.Sub(notional).Sub(r.cfg.Commission)
			}
		}

		equity = append(equity, markToMarket(bar, cash, pos))
	}

	finalValue := cash
	if pos != nil {
		last := bars[len(bars)-1]
		finalValue = cash.Add(last.Close.Mul(decimal.NewFromInt(pos.quantity)))
	}

	run := types.BacktestRun{
		StrategyID:       r.cfg.StrategyID,
		Symbol:           r.cfg.Symbol,
		Start:            bars[0].Timestamp,
		End:              bars[len(bars)-1].Timestamp,
		InitialCapital:   r.cfg.InitialCapital,
		FinalValue:       finalValue,
		Commission:       r.cfg.Commission,
		SlippageFraction: slippage,
	}

	return &types.BacktestResult{Run: run, EquityCurve: equity, Trades: trades}, nil
}

// tryEntry implements spec §4.11 step 2. signalBarTimestamp is the prior
// bar's timestamp — the bar whose close the entry signal was decided on,
// one full bar before execution at bar's open.
func (r *Runner) tryEntry(bar types.Bar, barIndex int, signalBarTimestamp time.Time, slippage, cash decimal.Decimal) *openPosition {
	buyPrice := bar.Open.Mul(decimal.NewFromInt(1).Add(slippage))
	stopPrice := buyPrice.Mul(decimal.NewFromInt(1).Sub(r.cfg.Parameters.StopLossPct))
	takeProfit := buyPrice.Mul(decimal.NewFromInt(1).Add(r.cfg.Parameters.TakeProfitPct))

	// Max-position fraction is the fixed 20% per-position cap.
	qty := sizing.Size(cash, buyPrice, stopPrice, r.cfg.Parameters.RiskFraction, decimal.RequireFromString("0.20"), cash)
	if qty <= 0 {
		return nil
	}
	return &openPosition{
		quantity: qty, entryPrice: buyPrice, stopPrice: stopPrice, takeProfit: takeProfit, entryBar: barIndex,
		entryBarTimestamp: bar.Timestamp, signalBarTimestamp: signalBarTimestamp,
	}
}

// tryExit implements spec §4.11 step 3's exact priority order: stop,
// then take-profit, then a pending SELL signal.
func (r *Runner) tryExit(trades *[]types.BacktestTrade, pos *openPosition, bar types.Bar, barIndex int, pendingSignal types.SignalType, slippage decimal.Decimal, cash *decimal.Decimal) bool {
	one := decimal.NewFromInt(1)

	switch {
	case bar.Low.LessThanOrEqual(pos.stopPrice):
		fillBase := pos.stopPrice
		if bar.Open.LessThan(fillBase) {
			fillBase = bar.Open
		}
		r.closePosition(trades, pos, fillBase.Mul(one.Sub(slippage)), bar, barIndex, types.ExitStopLoss, cash)
		return true
	case bar.High.GreaterThanOrEqual(pos.takeProfit):
		fillBase := pos.takeProfit
		if bar.Open.GreaterThan(fillBase) {
			fillBase = bar.Open
		}
		r.closePosition(trades, pos, fillBase.Mul(one.Sub(slippage)), bar, barIndex, types.ExitTakeProfit, cash)
		return true
	case pendingSignal == types.SignalSell:
		r.closePosition(trades, pos, bar.Open.Mul(one.Sub(slippage)), bar, barIndex, types.ExitSignal, cash)
		return true
	}
	return false
}

func (r *Runner) closePosition(trades *[]types.BacktestTrade, pos *openPosition, exitPrice decimal.Decimal, bar types.Bar, barIndex int, reason types.ExitReason, cash *decimal.Decimal) {
	updateExcursion(pos, bar)

	proceeds := exitPrice.Mul(decimal.NewFromInt(pos.quantity))
	*cash = cash.Add(proceeds).Sub(r.cfg.Commission)

	gross := exitPrice.Sub(pos.entryPrice).Mul(decimal.NewFromInt(pos.quantity))
	commission := r.cfg.Commission.Mul(decimal.NewFromInt(2))
	net := gross.Sub(commission)
	pnlPct := decimal.Zero
	if !pos.entryPrice.IsZero() {
		pnlPct = exitPrice.Sub(pos.entryPrice).Div(pos.entryPrice)
	}

	trade := types.BacktestTrade{
		Trade: types.Trade{
			Symbol:                r.cfg.Symbol,
			StrategyID:            r.cfg.StrategyID,
			Quantity:              pos.quantity,
			EntryPrice:            pos.entryPrice,
			EntryTime:             pos.entryBarTimestamp,
			InitialStop:           pos.stopPrice,
			InitialTakeProfit:     pos.takeProfit,
			ExitPrice:             exitPrice,
			ExitTime:              &bar.Timestamp,
			ExitReason:            reason,
			Commission:            commission,
			GrossPnL:              gross,
			NetPnL:                net,
			PnLPct:                pnlPct,
			MaxAdverseExcursion:   pos.maxAdverse,
			MaxFavorableExcursion: pos.maxFavorable,
		},
		SignalBarTimestamp:    pos.signalBarTimestamp,
		ExecutionBarTimestamp: pos.entryBarTimestamp,
	}
	*trades = append(*trades, trade)
}

func updateExcursion(pos *openPosition, bar types.Bar) {
	if pos.entryPrice.IsZero() {
		return
	}
	adverse := bar.Low.Sub(pos.entryPrice).Div(pos.entryPrice)
	favorable := bar.High.Sub(pos.entryPrice).Div(pos.entryPrice)
	if adverse.LessThan(pos.maxAdverse) {
		pos.maxAdverse = adverse
	}
	if favorable.GreaterThan(pos.maxFavorable) {
		pos.maxFavorable = favorable
	}
}

func markToMarket(bar types.Bar, cash decimal.Decimal, pos *openPosition) types.EquityCurvePoint {
	equity := cash
	if pos != nil {
		equity = cash.Add(bar.Close.Mul(decimal.NewFromInt(pos.quantity)))
	}
	return types.EquityCurvePoint{Timestamp: bar.Timestamp, Cash: cash, Equity: equity}
}
