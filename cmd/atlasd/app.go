package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	brk "github.com/atlas/equities-core/internal/broker"
	"github.com/atlas/equities-core/internal/broker/paper"
	"github.com/atlas/equities-core/internal/config"
	"github.com/atlas/equities-core/internal/eventqueue"
	"github.com/atlas/equities-core/internal/execution"
	"github.com/atlas/equities-core/internal/lossguard"
	"github.com/atlas/equities-core/internal/reconcile"
	"github.com/atlas/equities-core/internal/risk"
	"github.com/atlas/equities-core/internal/store"
	"github.com/atlas/equities-core/internal/strategy"
	"github.com/atlas/equities-core/internal/telemetry"
	"github.com/atlas/equities-core/pkg/types"
)

// app holds every long-lived collaborator the event-queue handler and the
// four scheduled jobs need. It is the process's one composition root,
// deliberately not its own package: nothing outside cmd/atlasd constructs
// or depends on it.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	store        *store.Store
	broker       *paper.Broker
	gate         *risk.Gate
	losses       *lossguard.Tracker
	engine       *execution.Engine
	prices       *priceCache
	queue        *eventqueue.Queue
	collectors   *telemetry.Collectors
	lookbackDays int
}

// signalJob is the CommandSignal payload: everything the dispatch handler
// needs to evaluate risk and route to the Execution Engine without a second
// round trip to the store.
type signalJob struct {
	strategy *types.Strategy
	sig      types.Signal
	refPrice decimal.Decimal
}

// dispatch implements eventqueue.Handler. It runs on the symbol's shard
// goroutine, so everything it touches for that symbol is single-threaded
// with respect to other commands on the same symbol.
func (a *app) dispatch(ctx context.Context, cmd eventqueue.Command) {
	switch cmd.Type {
	case eventqueue.CommandSignal:
		job, ok := cmd.Payload.(signalJob)
		if !ok {
			return
		}
		a.handleSignal(ctx, job)
	case eventqueue.CommandBrokerFill, eventqueue.CommandBrokerStatus:
		ev, ok := cmd.Payload.(brk.Event)
		if !ok {
			return
		}
		a.handleBrokerEvent(ctx, ev)
	case eventqueue.CommandReconcileRequest:
		a.handleReconcileRequest(ctx)
	case eventqueue.CommandTradeClose:
		// Reserved for an operator-initiated manual close; nothing in this
		// core enqueues it yet.
	}
}

// handleSignal decides whether the signal is actionable and, since a
// Signal row is immutable once written, defers CreateSignal until the
// Executed/NonExecutionReason/ResultingTradeID outcome is known.
func (a *app) handleSignal(ctx context.Context, job signalJob) {
	st := job.strategy
	sig := job.sig

	openTrade, err := a.store.OpenTradeByStrategySymbol(ctx, st.ID, sig.Symbol)
	if err != nil {
		a.logger.Error("load open trade", zap.Error(err))
		return
	}

	switch sig.Type {
	case types.SignalBuy:
		if openTrade != nil {
			sig.Executed = false
			sig.NonExecutionReason = types.ErrDuplicatePosition
			break
		}
		a.handleBuySignal(ctx, job, st, &sig)
	case types.SignalSell:
		if openTrade == nil || openTrade.Closing {
			sig.Executed = false
			break
		}
		a.handleSellSignal(ctx, openTrade, &sig)
	}

	if _, err := a.store.CreateSignal(ctx, &sig); err != nil {
		a.logger.Error("persist signal", zap.Error(err))
		return
	}
	if a.collectors != nil {
		a.collectors.SignalsGenerated.WithLabelValues(sig.Symbol, string(sig.Type)).Inc()
	}
}

func (a *app) handleBuySignal(ctx context.Context, job signalJob, st *types.Strategy, sig *types.Signal) {
	account, err := a.broker.AccountValue(ctx)
	if err != nil {
		a.logger.Error("read account value", zap.Error(err))
		sig.Executed = false
		sig.NonExecutionReason = types.ErrConnectionLost
		return
	}
	openNotional, err := a.strategyOpenNotional(ctx, st.ID)
	if err != nil {
		a.logger.Error("compute open notional", zap.Error(err))
		sig.Executed = false
		sig.NonExecutionReason = types.ErrConnectionLost
		return
	}

	cfg := execution.Config{
		Params:              st.Parameters,
		PortfolioValue:      account.Total,
		AvailableCash:       account.Cash,
		EstimatedCommission: paper.DefaultConfig().CommissionPerOrder.Mul(decimal.NewFromInt(2)),
		StopReference:       types.StopReferenceLastClose,
	}
	trade, err := a.engine.Execute(ctx, *sig, job.refPrice, false, st.Status, st.AllocationCapFraction, openNotional, a.losses.IsPaused(st.ID), cfg)
	if err != nil {
		sig.Executed = false
		var execErr *execution.Error
		if errors.As(err, &execErr) {
			sig.NonExecutionReason = execErr.Kind
			a.logger.Warn("signal not executed", zap.String("symbol", sig.Symbol), zap.String("reason", string(execErr.Kind)))
			return
		}
		sig.NonExecutionReason = types.ErrConnectionLost
		a.logger.Error("execute signal", zap.Error(err))
		return
	}
	sig.Executed = true
	if trade != nil {
		sig.ResultingTradeID = trade.ID
		a.logger.Info("entry submitted", zap.Int64("tradeId", trade.ID), zap.String("symbol", trade.Symbol), zap.Int64("quantity", trade.Quantity))
	}
}

func (a *app) handleSellSignal(ctx context.Context, trade *types.Trade, sig *types.Signal) {
	price, ok := a.prices.LastPrice(trade.Symbol)
	if !ok {
		a.logger.Warn("no reference price for signal exit", zap.String("symbol", trade.Symbol))
		sig.Executed = false
		sig.NonExecutionReason = types.ErrConnectionLost
		return
	}
	a.submitSignalExit(ctx, trade, price)
	sig.Executed = true
	sig.ResultingTradeID = trade.ID
}

// submitSignalExit issues the EXIT_MARKET order a strategy-generated SELL
// triggers (as opposed to a broker-side stop/take-profit fill, which OnExit
// also handles but which arrives via handleBrokerEvent instead).
func (a *app) submitSignalExit(ctx context.Context, trade *types.Trade, price decimal.Decimal) {
	submitCtx, cancel := context.WithTimeout(ctx, brk.SubmitDeadline)
	defer cancel()
	outcome, err := a.broker.Submit(submitCtx, brk.OrderRequest{
		IntentID: fmt.Sprintf("exit-%d-%d", trade.ID, time.Now().UnixNano()),
		Symbol:   trade.Symbol, Side: brk.SideSell, Kind: brk.KindExitMarket, Quantity: trade.Quantity,
	})
	if err != nil || outcome.Kind != brk.Accepted {
		a.logger.Error("exit submit failed", zap.Int64("tradeId", trade.ID), zap.Error(err))
		return
	}
	order := &types.Order{
		BrokerOrderID: outcome.BrokerOrderID,
		IntentID:      outcome.BrokerOrderID,
		StockID:       trade.StockID,
		Symbol:        trade.Symbol,
		Kind:          types.OrderKindExitMarket,
		Side:          types.OrderSideSell,
		Quantity:      trade.Quantity,
		SubmittedAt:   time.Now(),
		Status:        types.OrderStatusSubmitted,
		ParentTradeID: trade.ID,
	}
	if _, err := a.store.CreateOrder(ctx, order); err != nil {
		a.logger.Error("persist exit order", zap.Error(err))
	}
}

// handleBrokerEvent maps one broker.Event back to the local order/trade it
// belongs to and drives the Execution Engine's fill/exit handlers. Events
// are idempotent by (BrokerOrderID, Status): a duplicate delivery finds the
// order already FILLED and no-ops.
func (a *app) handleBrokerEvent(ctx context.Context, ev brk.Event) {
	if ev.Type != brk.EventFill {
		return
	}
	order, err := a.store.GetOrderByBrokerID(ctx, ev.BrokerOrderID)
	if err != nil {
		a.logger.Debug("fill for untracked order", zap.String("brokerOrderId", ev.BrokerOrderID))
		return
	}
	if order.Status == types.OrderStatusFilled {
		return
	}
	order.Status = types.OrderStatusFilled
	order.FilledQty = ev.FillQty
	order.FillPrice = ev.FillPrice
	fillTime := ev.Timestamp
	order.FillTime = &fillTime
	if err := a.store.UpdateOrder(ctx, order); err != nil {
		a.logger.Error("persist order fill", zap.Error(err))
		return
	}
	a.prices.set(order.Symbol, ev.FillPrice)

	trade, err := a.store.GetTrade(ctx, order.ParentTradeID)
	if err != nil {
		a.logger.Error("load trade for fill", zap.Error(err))
		return
	}

	switch order.Kind {
	case types.OrderKindEntryMarket:
		if err := a.engine.OnEntryFill(ctx, trade, ev.FillPrice, ev.FillQty); err != nil {
			a.logger.Error("entry fill handling failed", zap.Int64("tradeId", trade.ID), zap.Error(err))
			return
		}
		if a.collectors != nil {
			a.collectors.OrdersFilled.WithLabelValues(order.Symbol, string(order.Kind)).Inc()
		}
	case types.OrderKindStopLoss, types.OrderKindTakeProfit, types.OrderKindExitMarket:
		a.closeTradeOnFill(ctx, trade, order, ev.FillPrice)
		if a.collectors != nil {
			a.collectors.OrdersFilled.WithLabelValues(order.Symbol, string(order.Kind)).Inc()
		}
	}
}

func (a *app) closeTradeOnFill(ctx context.Context, trade *types.Trade, order *types.Order, exitPrice decimal.Decimal) {
	var reason types.ExitReason
	var sibling string
	switch order.Kind {
	case types.OrderKindStopLoss:
		reason = types.ExitStopLoss
		sibling = trade.TakeProfitBrokerOrderID
	case types.OrderKindTakeProfit:
		reason = types.ExitTakeProfit
		sibling = trade.StopBrokerOrderID
	default:
		reason = types.ExitSignal
		if trade.StopBrokerOrderID != "" {
			sibling = trade.StopBrokerOrderID
		} else {
			sibling = trade.TakeProfitBrokerOrderID
		}
	}

	commission := paper.DefaultConfig().CommissionPerOrder.Mul(decimal.NewFromInt(2))
	gross := exitPrice.Sub(trade.EntryPrice).Mul(decimal.NewFromInt(trade.Quantity))
	net := gross.Sub(commission)
	pnlPct := decimal.Zero
	if !trade.EntryPrice.IsZero() {
		pnlPct = exitPrice.Sub(trade.EntryPrice).Div(trade.EntryPrice)
	}
	trade.Commission = commission
	trade.GrossPnL = gross
	trade.NetPnL = net
	trade.PnLPct = pnlPct

	if err := a.engine.OnExit(ctx, trade, sibling, exitPrice, reason); err != nil {
		a.logger.Error("trade close handling failed", zap.Int64("tradeId", trade.ID), zap.Error(err))
		return
	}

	st, err := a.store.GetStrategy(ctx, trade.StrategyID)
	if err != nil {
		a.logger.Error("load strategy for loss tracking", zap.Error(err))
		return
	}
	justPaused := a.losses.RecordClose(st.ID, !net.IsPositive(), st.Parameters.MaxConsecutiveLosses)
	st.ConsecutiveLossesToday = a.losses.ConsecutiveLosses(st.ID)
	if justPaused {
		st.Status = types.StrategyPaused
		if a.collectors != nil {
			a.collectors.CircuitBreakerTrips.WithLabelValues(fmt.Sprintf("%d", st.ID)).Inc()
		}
		a.logger.Warn("strategy paused on consecutive loss limit", zap.Int64("strategyId", st.ID))
	}
	if err := a.store.UpdateStrategy(ctx, st); err != nil {
		a.logger.Error("persist strategy loss state", zap.Error(err))
	}
}

func (a *app) handleReconcileRequest(ctx context.Context) {
	r := reconcile.New(a.store, a.broker, a.engine, a.logger)
	report, err := r.Run(ctx)
	if err != nil {
		a.logger.Error("ad hoc reconciliation failed", zap.Error(err))
		return
	}
	if a.collectors != nil {
		a.collectors.ReconcileOutcomes.WithLabelValues(string(report.Outcome)).Inc()
	}
}

// strategyOpenNotional sums the notional of a strategy's open trades at
// their current mark, for the allocation-cap step of the Risk Gate.
func (a *app) strategyOpenNotional(ctx context.Context, strategyID int64) (decimal.Decimal, error) {
	trades, err := a.store.OpenTrades(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, t := range trades {
		if t.StrategyID != strategyID {
			continue
		}
		price, ok := a.prices.LastPrice(t.Symbol)
		if !ok {
			price = t.EntryPrice
		}
		total = total.Add(price.Mul(decimal.NewFromInt(t.Quantity)))
	}
	return total, nil
}

// drainBrokerEvents forwards the broker's event stream onto the event
// queue, hashed by symbol so a fill for AAPL never blocks behind one for
// MSFT — the same single-owner-per-symbol guarantee signal dispatch gets.
func (a *app) drainBrokerEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.broker.Events():
			if !ok {
				return
			}
			order, err := a.store.GetOrderByBrokerID(ctx, ev.BrokerOrderID)
			symbol := ""
			if err == nil {
				symbol = order.Symbol
			}
			cmdType := eventqueue.CommandBrokerStatus
			if ev.Type == brk.EventFill {
				cmdType = eventqueue.CommandBrokerFill
			}
			a.queue.Enqueue(eventqueue.Command{Type: cmdType, Symbol: symbol, Payload: ev})
		}
	}
}

// runDailyEvaluation is the JobDailyEvaluation handler: for every active
// (WARMING or ACTIVE) strategy, pull its recent bar history, run the
// Strategy Evaluator, and enqueue the resulting Signal for execution.
func (a *app) runDailyEvaluation(ctx context.Context) {
	strategies, err := a.store.ListActiveStrategies(ctx)
	if err != nil {
		a.logger.Error("list active strategies", zap.Error(err))
		return
	}
	end := time.Now()
	start := end.AddDate(0, 0, -a.lookbackDays)

	for _, st := range strategies {
		if err := a.evaluateStrategy(ctx, st, start, end); err != nil {
			a.logger.Error("evaluate strategy", zap.Int64("strategyId", st.ID), zap.Error(err))
		}
	}
}

func (a *app) evaluateStrategy(ctx context.Context, st *types.Strategy, start, end time.Time) error {
	bars, err := a.store.BarsInRange(ctx, st.StockID, start, end)
	if err != nil {
		return err
	}
	if len(bars) < 2 {
		return nil
	}
	symbol := bars[len(bars)-1].Symbol

	if st.WarmUpBarsRemaining > 0 {
		st.WarmUpBarsRemaining--
		if st.WarmUpBarsRemaining == 0 && st.Status == types.StrategyWarming {
			st.Status = types.StrategyActive
		}
		if err := a.store.UpdateStrategy(ctx, st); err != nil {
			return err
		}
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		f, _ := b.Close.Float64()
		closes[i] = f
	}

	openTrade, err := a.store.OpenTradeByStrategySymbol(ctx, st.ID, symbol)
	if err != nil {
		return err
	}

	eval := strategy.NewEvaluator(st.Parameters)
	result := eval.Evaluate(closes, openTrade != nil)
	if result.Type == types.SignalHold {
		return nil
	}

	last := bars[len(bars)-1]
	prev := bars[len(bars)-2]
	sig := types.Signal{
		StrategyID:        st.ID,
		StockID:           st.StockID,
		Symbol:            symbol,
		GeneratedAt:       time.Now(),
		Type:              result.Type,
		TriggerReason:     result.TriggerReason,
		IndicatorSnapshot: result.Indicators,
		MarketContext:     computeMarketContext(bars, last, prev),
	}
	a.prices.set(symbol, last.Close)

	a.queue.Enqueue(eventqueue.Command{
		Type:   eventqueue.CommandSignal,
		Symbol: symbol,
		Payload: signalJob{
			strategy: st,
			sig:      sig,
			refPrice: last.Close,
		},
	})
	return nil
}

// computeMarketContext derives a lightweight market-condition snapshot from
// the trailing bar window: realized volatility (stdev of daily returns over
// the last 20 bars), volume relative to its 20-bar average, a simple
// close-vs-close trend label, and the most recent session's gap percentage.
func computeMarketContext(bars []types.Bar, last, prev types.Bar) types.MarketContext {
	const window = 20
	n := len(bars)
	from := n - window
	if from < 1 {
		from = 1
	}

	var returns []float64
	var volumeSum int64
	count := 0
	for i := from; i < n; i++ {
		c, _ := bars[i].Close.Float64()
		p, _ := bars[i-1].Close.Float64()
		if p != 0 {
			returns = append(returns, (c-p)/p)
		}
		volumeSum += bars[i].Volume
		count++
	}

	volatility := decimal.NewFromFloat(stdev(returns))
	avgVolume := decimal.Zero
	volumeVsAvg := decimal.Zero
	if count > 0 {
		avgVolume = decimal.NewFromInt(volumeSum).Div(decimal.NewFromInt(int64(count)))
		if !avgVolume.IsZero() {
			volumeVsAvg = decimal.NewFromInt(last.Volume).Div(avgVolume)
		}
	}

	trend := "FLAT"
	switch {
	case last.Close.GreaterThan(prev.Close):
		trend = "UP"
	case last.Close.LessThan(prev.Close):
		trend = "DOWN"
	}

	gapPct := decimal.Zero
	if !prev.Close.IsZero() {
		gapPct = last.Open.Sub(prev.Close).Div(prev.Close)
	}

	return types.MarketContext{
		Volatility:  volatility,
		VolumeVsAvg: volumeVsAvg,
		Trend:       trend,
		GapPct:      gapPct,
	}
}

func stdev(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(returns)-1))
}

// runHeartbeat is the JobHeartbeat handler: refresh the process-singleton
// SystemState so the Reconciler's DetectCrash can tell a clean shutdown
// from a stale process on the next startup.
func (a *app) runHeartbeat(ctx context.Context) {
	if err := a.store.Heartbeat(ctx, time.Now()); err != nil {
		a.logger.Error("heartbeat", zap.Error(err))
	}
}

// runSessionStartReset is the JobSessionStartReset handler, fired at market
// open: clear every strategy's consecutive-loss streak unconditionally
// (spec §4.9). Reactivating a strategy paused by yesterday's circuit
// breaker (spec §4.7 scenario S4) only happens when AutoResumeOnSessionStart
// is configured; otherwise a paused strategy stays PAUSED until an operator
// resumes it manually.
func (a *app) runSessionStartReset(ctx context.Context) {
	a.losses.ResetAll()

	if !a.cfg.AutoResumeOnSessionStart {
		a.logger.Info("session start reset complete", zap.Bool("autoResume", false))
		return
	}

	paused, err := a.store.ListStrategiesByStatus(ctx, types.StrategyPaused)
	if err != nil {
		a.logger.Error("list paused strategies for session reset", zap.Error(err))
		return
	}
	for _, st := range paused {
		a.losses.Unpause(st.ID)
		st.Status = types.StrategyActive
		st.ConsecutiveLossesToday = 0
		if err := a.store.UpdateStrategy(ctx, st); err != nil {
			a.logger.Error("reactivate strategy", zap.Int64("strategyId", st.ID), zap.Error(err))
		}
	}
	a.logger.Info("session start reset complete", zap.Bool("autoResume", true), zap.Int("reactivated", len(paused)))
}

// runDailySummary is the JobDailySummary handler: it logs the persisted
// SystemState (status, active positions, portfolio value). It computes no
// aggregates over the day's closed trades and sends no email.
func (a *app) runDailySummary(ctx context.Context) {
	state, err := a.store.GetSystemState(ctx)
	if err != nil {
		a.logger.Error("read system state for summary", zap.Error(err))
		return
	}
	a.logger.Info("daily summary",
		zap.String("status", string(state.Status)),
		zap.Int("activePositions", state.ActivePositionsCount),
		zap.String("portfolioValue", state.TotalPortfolioValue.String()),
	)
	// SPEC_FULL's Metrics formulas (internal/metrics) operate on a
	// BacktestRun's equity curve, not the live account; the live summary is
	// this process snapshot rather than a recomputed performance report.
}
