package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas/equities-core/internal/store"
	"github.com/atlas/equities-core/pkg/types"
)

func open(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateStockRejectsDuplicateSymbol(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	if _, err := s.CreateStock(ctx, &types.Stock{Symbol: "AAPL", Exchange: "NASDAQ", Name: "Apple Inc."}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.CreateStock(ctx, &types.Stock{Symbol: "AAPL", Exchange: "NASDAQ", Name: "Apple Inc. (dup)"}); err == nil {
		t.Fatal("expected unique constraint violation on duplicate symbol")
	}
}

func TestBarRoundTrip(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	id, err := s.CreateStock(ctx, &types.Stock{Symbol: "MSFT", Exchange: "NASDAQ", Name: "Microsoft"})
	if err != nil {
		t.Fatalf("CreateStock: %v", err)
	}

	ts := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	bar := types.Bar{
		StockID: id, Symbol: "MSFT", Timestamp: ts,
		Open: decimal.NewFromFloat(100), High: decimal.NewFromFloat(101), Low: decimal.NewFromFloat(99), Close: decimal.NewFromFloat(100.5), Volume: 12345,
	}
	if err := s.InsertBar(ctx, &bar); err != nil {
		t.Fatalf("InsertBar: %v", err)
	}
	// Duplicate (stock, timestamp) must be rejected.
	if err := s.InsertBar(ctx, &bar); err == nil {
		t.Fatal("expected unique constraint violation on duplicate bar timestamp")
	}

	bars, err := s.BarsInRange(ctx, id, ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("BarsInRange: %v", err)
	}
	if len(bars) != 1 || !bars[0].Close.Equal(bar.Close) {
		t.Fatalf("expected 1 bar with close %s, got %+v", bar.Close, bars)
	}
}

func TestTradeLifecycleRoundTrip(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	stockID, _ := s.CreateStock(ctx, &types.Stock{Symbol: "NVDA", Exchange: "NASDAQ", Name: "NVIDIA"})

	trade := &types.Trade{
		StrategyID: 1, StockID: stockID, Symbol: "NVDA", Quantity: 10,
		IntendedEntryPrice: decimal.NewFromFloat(50), EntryTime: time.Now(),
		InitialStop: decimal.NewFromFloat(48), InitialTakeProfit: decimal.NewFromFloat(56),
		CurrentStop: decimal.NewFromFloat(48), CurrentTakeProfit: decimal.NewFromFloat(56),
		Commission: decimal.NewFromFloat(1),
	}
	id, err := s.CreateTrade(ctx, trade)
	if err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}
	trade.ID = id

	open, err := s.OpenTradeByStrategySymbol(ctx, 1, "NVDA")
	if err != nil {
		t.Fatalf("OpenTradeByStrategySymbol: %v", err)
	}
	if open == nil || open.ID != id {
		t.Fatalf("expected to find open trade %d, got %+v", id, open)
	}

	trade.EntryPrice = decimal.NewFromFloat(50.05)
	trade.StopBrokerOrderID = "stop-1"
	trade.TakeProfitBrokerOrderID = "tp-1"
	if err := s.UpdateTrade(ctx, trade); err != nil {
		t.Fatalf("UpdateTrade: %v", err)
	}

	now := time.Now()
	trade.ExitTime = &now
	trade.ExitPrice = decimal.NewFromFloat(55)
	trade.ExitReason = types.ExitTakeProfit
	trade.NetPnL = decimal.NewFromFloat(48.95)
	if err := s.UpdateTrade(ctx, trade); err != nil {
		t.Fatalf("UpdateTrade (close): %v", err)
	}

	stillOpen, err := s.OpenTradeByStrategySymbol(ctx, 1, "NVDA")
	if err != nil {
		t.Fatalf("OpenTradeByStrategySymbol after close: %v", err)
	}
	if stillOpen != nil {
		t.Fatalf("expected no open trade after close, got %+v", stillOpen)
	}
}

func TestOrderBrokerIDUniqueness(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	o1 := &types.Order{BrokerOrderID: "bx-1", IntentID: "i1", Symbol: "TSLA", Kind: types.OrderKindEntryMarket, Side: types.OrderSideBuy, Quantity: 5, SubmittedAt: time.Now(), Status: types.OrderStatusSubmitted}
	if _, err := s.CreateOrder(ctx, o1); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	o2 := &types.Order{BrokerOrderID: "bx-1", IntentID: "i2", Symbol: "TSLA", Kind: types.OrderKindEntryMarket, Side: types.OrderSideBuy, Quantity: 5, SubmittedAt: time.Now(), Status: types.OrderStatusSubmitted}
	if _, err := s.CreateOrder(ctx, o2); err == nil {
		t.Fatal("expected unique constraint violation on duplicate broker_order_id")
	}
}

func TestOpenOrdersExcludesTerminalStatuses(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	live := &types.Order{IntentID: "i1", Symbol: "AMD", Kind: types.OrderKindEntryMarket, Side: types.OrderSideBuy, Quantity: 1, SubmittedAt: time.Now(), Status: types.OrderStatusSubmitted}
	done := &types.Order{IntentID: "i2", Symbol: "AMD", Kind: types.OrderKindEntryMarket, Side: types.OrderSideBuy, Quantity: 1, SubmittedAt: time.Now(), Status: types.OrderStatusFilled}
	if _, err := s.CreateOrder(ctx, live); err != nil {
		t.Fatalf("CreateOrder live: %v", err)
	}
	if _, err := s.CreateOrder(ctx, done); err != nil {
		t.Fatalf("CreateOrder done: %v", err)
	}

	open, err := s.OpenOrders(ctx)
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(open) != 1 || open[0].Symbol != "AMD" || open[0].Status != types.OrderStatusSubmitted {
		t.Fatalf("expected exactly 1 open order, got %+v", open)
	}
}

func TestSystemStateHeartbeatAndStatus(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	if err := s.Heartbeat(ctx, time.Now()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := s.SetSystemStatus(ctx, types.SystemRecoveryMode); err != nil {
		t.Fatalf("SetSystemStatus: %v", err)
	}

	st, err := s.GetSystemState(ctx)
	if err != nil {
		t.Fatalf("GetSystemState: %v", err)
	}
	if st.Status != types.SystemRecoveryMode {
		t.Fatalf("expected status RECOVERY_MODE, got %s", st.Status)
	}
}

func TestBacktestRunUniqueConstraint(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	params := types.DefaultParameters()
	run := &types.BacktestRun{
		StrategyID: 1, Symbol: "SPY",
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: decimal.NewFromInt(100000), FinalValue: decimal.NewFromInt(105000),
		Commission: decimal.NewFromFloat(1), SlippageFraction: decimal.NewFromFloat(0.0005),
	}
	if _, err := s.CreateBacktestRun(ctx, run, params); err != nil {
		t.Fatalf("first CreateBacktestRun: %v", err)
	}
	if _, err := s.CreateBacktestRun(ctx, run, params); err == nil {
		t.Fatal("expected unique constraint violation on identical backtest run parameters")
	}
}
