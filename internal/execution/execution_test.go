package execution_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	brk "github.com/atlas/equities-core/internal/broker"
	"github.com/atlas/equities-core/internal/execution"
	"github.com/atlas/equities-core/internal/risk"
	"github.com/atlas/equities-core/pkg/types"
)

type fakeBroker struct {
	submitted []brk.OrderRequest
	outcome   brk.SubmitOutcome
	err       error
	cancelled []string
}

func (f *fakeBroker) Connect(ctx context.Context) error    { return nil }
func (f *fakeBroker) Disconnect(ctx context.Context) error { return nil }
func (f *fakeBroker) Submit(ctx context.Context, req brk.OrderRequest) (brk.SubmitOutcome, error) {
	f.submitted = append(f.submitted, req)
	return f.outcome, f.err
}
func (f *fakeBroker) Cancel(ctx context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}
func (f *fakeBroker) Positions(ctx context.Context) ([]brk.Position, error)     { return nil, nil }
func (f *fakeBroker) OpenOrders(ctx context.Context) ([]brk.OpenOrder, error)   { return nil, nil }
func (f *fakeBroker) AccountValue(ctx context.Context) (brk.AccountValue, error) {
	return brk.AccountValue{}, nil
}
func (f *fakeBroker) Events() <-chan brk.Event { return nil }

type fakeStore struct {
	trades map[int64]*types.Trade
	nextID int64
}

func newFakeStore() *fakeStore { return &fakeStore{trades: map[int64]*types.Trade{}} }

func (s *fakeStore) CreateTrade(ctx context.Context, t *types.Trade) (int64, error) {
	s.nextID++
	cp := *t
	cp.ID = s.nextID
	s.trades[s.nextID] = &cp
	return s.nextID, nil
}
func (s *fakeStore) UpdateTrade(ctx context.Context, t *types.Trade) error {
	s.trades[t.ID] = t
	return nil
}
func (s *fakeStore) CreateOrder(ctx context.Context, o *types.Order) (int64, error) { return 1, nil }
func (s *fakeStore) UpdateOrder(ctx context.Context, o *types.Order) error          { return nil }
func (s *fakeStore) GetOrder(ctx context.Context, id int64) (*types.Order, error)   { return nil, nil }
func (s *fakeStore) OpenTradeByStrategySymbol(ctx context.Context, strategyID int64, symbol string) (*types.Trade, error) {
	return nil, nil
}

func baseConfig() execution.Config {
	return execution.Config{
		Params: types.Parameters{
			StopLossPct:           decimal.NewFromFloat(0.05),
			TakeProfitPct:         decimal.NewFromFloat(0.10),
			RiskFraction:          decimal.NewFromFloat(0.02),
			AllocationCapFraction: decimal.NewFromFloat(0.20),
		},
		PortfolioValue:      decimal.NewFromInt(10000),
		AvailableCash:       decimal.NewFromInt(10000),
		EstimatedCommission: decimal.Zero,
	}
}

func TestExecuteSubmitsEntryOnAcceptedSignal(t *testing.T) {
	b := &fakeBroker{outcome: brk.SubmitOutcome{Kind: brk.Accepted, BrokerOrderID: "bo-1"}}
	store := newFakeStore()
	eng := execution.New(b, risk.New(zap.NewNop()), store, nil, zap.NewNop())

	signal := types.Signal{StrategyID: 1, Symbol: "AAPL", Type: types.SignalBuy}
	trade, err := eng.Execute(context.Background(), signal, decimal.NewFromInt(100),
		false, types.StrategyActive, decimal.NewFromFloat(0.5), decimal.Zero, false, baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a trade to be created")
	}
	if len(b.submitted) != 1 || b.submitted[0].Kind != brk.KindEntryMarket {
		t.Fatalf("expected one ENTRY_MARKET submission, got %+v", b.submitted)
	}
}

func TestExecuteSkipsWhenAlreadyOpen(t *testing.T) {
	b := &fakeBroker{}
	eng := execution.New(b, risk.New(zap.NewNop()), newFakeStore(), nil, zap.NewNop())
	signal := types.Signal{StrategyID: 1, Symbol: "AAPL", Type: types.SignalBuy}
	trade, err := eng.Execute(context.Background(), signal, decimal.NewFromInt(100),
		true, types.StrategyActive, decimal.NewFromFloat(0.5), decimal.Zero, false, baseConfig())
	if err != nil || trade != nil {
		t.Fatalf("expected no-op on existing open trade, got trade=%v err=%v", trade, err)
	}
	if len(b.submitted) != 0 {
		t.Fatalf("expected no broker submission, got %+v", b.submitted)
	}
}

func TestExecuteRejectedByRiskGateReturnsNonExecutionReason(t *testing.T) {
	b := &fakeBroker{outcome: brk.SubmitOutcome{Kind: brk.Accepted}}
	eng := execution.New(b, risk.New(zap.NewNop()), newFakeStore(), nil, zap.NewNop())
	signal := types.Signal{StrategyID: 1, Symbol: "AAPL", Type: types.SignalBuy}
	_, err := eng.Execute(context.Background(), signal, decimal.NewFromInt(100),
		false, types.StrategyPaused, decimal.NewFromFloat(0.5), decimal.Zero, false, baseConfig())
	execErr, ok := err.(*execution.Error)
	if !ok || execErr.Kind != types.ErrStrategyInactive {
		t.Fatalf("expected STRATEGY_INACTIVE execution.Error, got %v", err)
	}
}

func TestOnExitCancelsSiblingBeforeClosing(t *testing.T) {
	b := &fakeBroker{}
	store := newFakeStore()
	eng := execution.New(b, risk.New(zap.NewNop()), store, nil, zap.NewNop())
	trade := &types.Trade{ID: 1, Symbol: "AAPL", Quantity: 10}

	err := eng.OnExit(context.Background(), trade, "sibling-tp-order", decimal.NewFromInt(90), types.ExitStopLoss)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.cancelled) != 1 || b.cancelled[0] != "sibling-tp-order" {
		t.Fatalf("expected sibling cancel, got %+v", b.cancelled)
	}
	if trade.IsOpen() {
		t.Fatal("expected trade to be closed after exit")
	}
	if trade.ExitReason != types.ExitStopLoss {
		t.Fatalf("expected exit reason STOP_LOSS, got %v", trade.ExitReason)
	}
}
