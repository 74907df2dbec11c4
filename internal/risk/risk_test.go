package risk_test

import (
	"testing"

	"github.com/atlas/equities-core/internal/risk"
	"github.com/atlas/equities-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeStrategies struct {
	status types.StrategyStatus
	cap    decimal.Decimal
}

func (f fakeStrategies) Status(int64) types.StrategyStatus            { return f.status }
func (f fakeStrategies) AllocationCapFraction(int64) decimal.Decimal   { return f.cap }

type fakePortfolio struct {
	hasOpen   bool
	allocated decimal.Decimal
	value     decimal.Decimal
	cash      decimal.Decimal
}

func (f fakePortfolio) HasOpenTrade(int64, string) bool          { return f.hasOpen }
func (f fakePortfolio) OpenNotional(int64) decimal.Decimal       { return f.allocated }
func (f fakePortfolio) PortfolioValue() decimal.Decimal          { return f.value }
func (f fakePortfolio) AvailableCash() decimal.Decimal           { return f.cash }

type fakeLosses struct{ paused bool }

func (f fakeLosses) IsPaused(int64) bool { return f.paused }

func baseCandidate() risk.Candidate {
	return risk.Candidate{
		StrategyID: 1,
		Symbol:     "AAPL",
		Quantity:   20,
		EntryPrice: decimal.NewFromInt(100),
		StopPrice:  decimal.NewFromInt(95),
	}
}

func TestGateOrderStrategyInactiveFirst(t *testing.T) {
	g := risk.New(zap.NewNop())
	ok, reason := g.Check(
		fakeStrategies{status: types.StrategyPaused, cap: decimal.NewFromFloat(0.5)},
		fakePortfolio{hasOpen: true, value: decimal.NewFromInt(10000), cash: decimal.NewFromInt(10000)},
		fakeLosses{paused: true},
		baseCandidate(),
	)
	if ok || reason != types.ErrStrategyInactive {
		t.Fatalf("expected STRATEGY_INACTIVE to win over later failures, got ok=%v reason=%v", ok, reason)
	}
}

func TestGateAcceptsWithinAllLimits(t *testing.T) {
	g := risk.New(zap.NewNop())
	ok, reason := g.Check(
		fakeStrategies{status: types.StrategyActive, cap: decimal.NewFromFloat(0.5)},
		fakePortfolio{value: decimal.NewFromInt(10000), cash: decimal.NewFromInt(10000)},
		fakeLosses{},
		baseCandidate(),
	)
	if !ok {
		t.Fatalf("expected acceptance, got reason=%v", reason)
	}
}

func TestGatePositionCapExceeded(t *testing.T) {
	g := risk.New(zap.NewNop())
	c := baseCandidate()
	c.Quantity = 25 // 25*100=2500 > 20% of 10000=2000
	ok, reason := g.Check(
		fakeStrategies{status: types.StrategyActive, cap: decimal.NewFromFloat(1)},
		fakePortfolio{value: decimal.NewFromInt(10000), cash: decimal.NewFromInt(10000)},
		fakeLosses{},
		c,
	)
	if ok || reason != types.ErrPositionCapExceeded {
		t.Fatalf("expected POSITION_CAP_EXCEEDED, got ok=%v reason=%v", ok, reason)
	}
}

func TestGateInsufficientCash(t *testing.T) {
	g := risk.New(zap.NewNop())
	ok, reason := g.Check(
		fakeStrategies{status: types.StrategyActive, cap: decimal.NewFromFloat(0.5)},
		fakePortfolio{value: decimal.NewFromInt(10000), cash: decimal.NewFromInt(500)},
		fakeLosses{},
		baseCandidate(),
	)
	if ok || reason != types.ErrInsufficientCash {
		t.Fatalf("expected INSUFFICIENT_CASH, got ok=%v reason=%v", ok, reason)
	}
}
