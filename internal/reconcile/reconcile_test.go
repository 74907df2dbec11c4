package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	brk "github.com/atlas/equities-core/internal/broker"
	"github.com/atlas/equities-core/internal/reconcile"
	"github.com/atlas/equities-core/pkg/types"
)

type fakeStore struct {
	openTrades []*types.Trade
	openOrders []*types.Order
	status     types.SystemStatus
	events     []*types.RecoveryEvent
	created    []*types.Trade
	updated    []*types.Trade
}

func (s *fakeStore) OpenTrades(ctx context.Context) ([]*types.Trade, error) { return s.openTrades, nil }
func (s *fakeStore) OpenOrders(ctx context.Context) ([]*types.Order, error) { return s.openOrders, nil }
func (s *fakeStore) CreateTrade(ctx context.Context, t *types.Trade) (int64, error) {
	s.created = append(s.created, t)
	return int64(len(s.created)), nil
}
func (s *fakeStore) UpdateTrade(ctx context.Context, t *types.Trade) error {
	s.updated = append(s.updated, t)
	return nil
}
func (s *fakeStore) UpdateOrder(ctx context.Context, o *types.Order) error { return nil }
func (s *fakeStore) CreateRecoveryEvent(ctx context.Context, e *types.RecoveryEvent) (int64, error) {
	s.events = append(s.events, e)
	return int64(len(s.events)), nil
}
func (s *fakeStore) SetSystemStatus(ctx context.Context, status types.SystemStatus) error {
	s.status = status
	return nil
}

type fakeBroker struct {
	positions []brk.Position
	orders    []brk.OpenOrder
}

func (f *fakeBroker) Connect(ctx context.Context) error    { return nil }
func (f *fakeBroker) Disconnect(ctx context.Context) error { return nil }
func (f *fakeBroker) Submit(ctx context.Context, req brk.OrderRequest) (brk.SubmitOutcome, error) {
	return brk.SubmitOutcome{}, nil
}
func (f *fakeBroker) Cancel(ctx context.Context, id string) error { return nil }
func (f *fakeBroker) Positions(ctx context.Context) ([]brk.Position, error) { return f.positions, nil }
func (f *fakeBroker) OpenOrders(ctx context.Context) ([]brk.OpenOrder, error) { return f.orders, nil }
func (f *fakeBroker) AccountValue(ctx context.Context) (brk.AccountValue, error) {
	return brk.AccountValue{}, nil
}
func (f *fakeBroker) Events() <-chan brk.Event { return nil }

type fakeStopPlacer struct {
	placedFor []string
}

func (f *fakeStopPlacer) PlaceProtectiveStop(ctx context.Context, trade *types.Trade) error {
	f.placedFor = append(f.placedFor, trade.Symbol)
	return nil
}

func TestRunCleanWhenNothingDiffers(t *testing.T) {
	store := &fakeStore{}
	b := &fakeBroker{}
	r := reconcile.New(store, b, nil, zap.NewNop())

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Outcome != types.RecoveryClean {
		t.Fatalf("expected CLEAN, got %v", report.Outcome)
	}
	if store.status != types.SystemRunning {
		t.Fatalf("expected system status RUNNING after clean recovery, got %v", store.status)
	}
}

func TestRunCreatesPlaceholderForExtraAtBrokerPosition(t *testing.T) {
	store := &fakeStore{}
	b := &fakeBroker{positions: []brk.Position{{Symbol: "AAPL", Quantity: 10, AvgCost: decimal.NewFromInt(100)}}}
	r := reconcile.New(store, b, nil, zap.NewNop())

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created) != 1 || store.created[0].Symbol != "AAPL" {
		t.Fatalf("expected a placeholder trade created for AAPL, got %+v", store.created)
	}
	if report.Outcome != types.RecoveryAutoFixed {
		t.Fatalf("expected AUTO_FIXED, got %v", report.Outcome)
	}
}

func TestRunClosesOrphanedLocalTrade(t *testing.T) {
	store := &fakeStore{openTrades: []*types.Trade{
		{ID: 1, Symbol: "MSFT", Quantity: 5, EntryPrice: decimal.NewFromInt(50)},
	}}
	b := &fakeBroker{}
	r := reconcile.New(store, b, nil, zap.NewNop())

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updated) != 1 || store.updated[0].ExitReason != types.ExitManual {
		t.Fatalf("expected orphaned trade closed with MANUAL exit, got %+v", store.updated)
	}
	if report.Outcome != types.RecoveryAutoFixed {
		t.Fatalf("expected small notional diff to be AUTO_FIXED, got %v", report.Outcome)
	}
}

func TestRunPlacesProtectiveStopForMatchedPositionMissingOne(t *testing.T) {
	store := &fakeStore{openTrades: []*types.Trade{
		{ID: 1, Symbol: "AAPL", Quantity: 10, EntryPrice: decimal.NewFromInt(100)},
	}}
	b := &fakeBroker{positions: []brk.Position{{Symbol: "AAPL", Quantity: 10, AvgCost: decimal.NewFromInt(100)}}}
	stops := &fakeStopPlacer{}
	r := reconcile.New(store, b, stops, zap.NewNop())

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stops.placedFor) != 1 || stops.placedFor[0] != "AAPL" {
		t.Fatalf("expected a protective stop placed for AAPL, got %+v", stops.placedFor)
	}
	if len(store.updated) != 0 {
		t.Fatalf("matched position should not be treated as orphaned, got updates %+v", store.updated)
	}
	if report.Outcome != types.RecoveryAutoFixed {
		t.Fatalf("expected AUTO_FIXED, got %v", report.Outcome)
	}
}

func TestRunLeavesMatchedPositionAloneWhenStopAlreadyResting(t *testing.T) {
	store := &fakeStore{openTrades: []*types.Trade{
		{ID: 1, Symbol: "AAPL", Quantity: 10, EntryPrice: decimal.NewFromInt(100)},
	}}
	b := &fakeBroker{
		positions: []brk.Position{{Symbol: "AAPL", Quantity: 10, AvgCost: decimal.NewFromInt(100)}},
		orders:    []brk.OpenOrder{{BrokerOrderID: "o1", Symbol: "AAPL", Kind: brk.KindStopLoss, Status: "PENDING"}},
	}
	stops := &fakeStopPlacer{}
	r := reconcile.New(store, b, stops, zap.NewNop())

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stops.placedFor) != 0 {
		t.Fatalf("expected no protective stop placed when one already rests at the broker, got %+v", stops.placedFor)
	}
	if report.Outcome != types.RecoveryClean {
		t.Fatalf("expected CLEAN, got %v", report.Outcome)
	}
}

func TestDetectCrashStaleHeartbeat(t *testing.T) {
	state := types.SystemState{Status: types.SystemRunning, LastHeartbeat: time.Now().Add(-10 * time.Minute)}
	if !reconcile.DetectCrash(state, time.Now(), 5*time.Minute) {
		t.Fatal("expected stale heartbeat to be detected as a crash")
	}
}

func TestDetectCrashFreshHeartbeat(t *testing.T) {
	state := types.SystemState{Status: types.SystemRunning, LastHeartbeat: time.Now()}
	if reconcile.DetectCrash(state, time.Now(), 5*time.Minute) {
		t.Fatal("expected fresh heartbeat to not be flagged as a crash")
	}
}
