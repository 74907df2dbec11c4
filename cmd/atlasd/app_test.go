package main

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	brk "github.com/atlas/equities-core/internal/broker"
	"github.com/atlas/equities-core/internal/broker/paper"
	"github.com/atlas/equities-core/internal/eventqueue"
	"github.com/atlas/equities-core/internal/execution"
	"github.com/atlas/equities-core/internal/lossguard"
	"github.com/atlas/equities-core/internal/risk"
	"github.com/atlas/equities-core/internal/store"
	"github.com/atlas/equities-core/pkg/types"
)

// TestPipelineBuySignalToExit drives one full round trip through the real
// composition root: a BUY signal enters a position, the paper broker's
// synchronous market fill reaches handleBrokerEvent via the broker's own
// event channel, protective STOP_LOSS/TAKE_PROFIT orders get placed, and a
// take-profit crossing closes the trade. It exercises the same dispatch
// path atlasd's event queue uses, without the queue's own goroutines, so a
// failure here points at the wiring in app.go rather than at eventqueue.
func TestPipelineBuySignalToExit(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	st, err := store.Open("file::memory:?cache=shared", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	stock := &types.Stock{Symbol: "AAPL", Exchange: "NASDAQ", Name: "Apple Inc."}
	stockID, err := st.CreateStock(ctx, stock)
	if err != nil {
		t.Fatalf("create stock: %v", err)
	}
	stock.ID = stockID

	params := types.DefaultParameters()
	strategy := &types.Strategy{
		Name:                  "test-strategy",
		StockID:               stockID,
		Parameters:            params,
		Status:                types.StrategyActive,
		AllocationCapFraction: params.AllocationCapFraction,
	}
	strategyID, err := st.CreateStrategy(ctx, strategy)
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	strategy.ID = strategyID

	prices := newPriceCache()
	entryPrice := decimal.NewFromInt(100)
	prices.set("AAPL", entryPrice)

	broker := paper.New(logger, prices, paper.DefaultConfig(), decimal.NewFromInt(100000))
	if err := broker.Connect(ctx); err != nil {
		t.Fatalf("connect broker: %v", err)
	}
	defer broker.Disconnect(ctx)

	gate := risk.New(logger)
	losses := lossguard.New(logger)
	notifier := noopNotifier{logger: logger}
	engine := execution.New(broker, gate, st, notifier, logger)

	a := &app{
		logger: logger,
		store:  st,
		broker: broker,
		gate:   gate,
		losses: losses,
		engine: engine,
		prices: prices,
	}
	queue := eventqueue.New(eventqueue.DefaultConfig(), a.dispatch, logger)
	defer queue.Stop()
	a.queue = queue

	sig := types.Signal{
		StrategyID: strategyID,
		StockID:    stockID,
		Symbol:     "AAPL",
		Type:       types.SignalBuy,
	}
	a.dispatch(ctx, eventqueue.Command{
		Type:   eventqueue.CommandSignal,
		Symbol: "AAPL",
		Payload: signalJob{
			strategy: strategy,
			sig:      sig,
			refPrice: entryPrice,
		},
	})

	drainBrokerEventsOnce(t, ctx, a)

	trade, err := st.OpenTradeByStrategySymbol(ctx, strategyID, "AAPL")
	if err != nil {
		t.Fatalf("load open trade: %v", err)
	}
	if trade == nil {
		t.Fatal("expected an open trade after entry fill, got none")
	}
	if trade.StopBrokerOrderID == "" || trade.TakeProfitBrokerOrderID == "" {
		t.Fatalf("expected both protective orders placed, got stop=%q tp=%q", trade.StopBrokerOrderID, trade.TakeProfitBrokerOrderID)
	}

	takeProfitPrice := trade.CurrentTakeProfit
	prices.set("AAPL", takeProfitPrice)
	broker.Tick("AAPL", takeProfitPrice)

	drainBrokerEventsOnce(t, ctx, a)

	closed, err := st.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("reload trade: %v", err)
	}
	if closed.ExitTime == nil {
		t.Fatal("expected trade to be closed after take-profit crossing")
	}
	if closed.ExitReason != types.ExitTakeProfit {
		t.Fatalf("expected exit reason TAKE_PROFIT, got %q", closed.ExitReason)
	}
	if !closed.NetPnL.GreaterThan(decimal.Zero) {
		t.Fatalf("expected a positive net PnL on a take-profit exit, got %s", closed.NetPnL)
	}
}

// drainBrokerEventsOnce synchronously forwards every event currently queued
// on the broker's channel through dispatch, standing in for the
// app.drainBrokerEvents goroutine so the test stays single-threaded.
func drainBrokerEventsOnce(t *testing.T, ctx context.Context, a *app) {
	t.Helper()
	for {
		select {
		case ev := <-a.broker.Events():
			order, err := a.store.GetOrderByBrokerID(ctx, ev.BrokerOrderID)
			symbol := ""
			if err == nil {
				symbol = order.Symbol
			}
			cmdType := eventqueue.CommandBrokerStatus
			if ev.Type == brk.EventFill {
				cmdType = eventqueue.CommandBrokerFill
			}
			a.dispatch(ctx, eventqueue.Command{Type: cmdType, Symbol: symbol, Payload: ev})
		default:
			return
		}
	}
}
