package metrics_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas/equities-core/internal/metrics"
	"github.com/atlas/equities-core/pkg/types"
)

func point(day int, equity float64) types.EquityCurvePoint {
	return types.EquityCurvePoint{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Equity:    decimal.NewFromFloat(equity),
	}
}

func TestTotalReturn(t *testing.T) {
	curve := []types.EquityCurvePoint{point(0, 10000), point(1, 11000)}
	m := metrics.Compute(curve, nil)
	want := decimal.NewFromFloat(0.1)
	if !m.TotalReturn.Sub(want).Abs().LessThan(decimal.NewFromFloat(0.0001)) {
		t.Fatalf("expected total return ~0.10, got %s", m.TotalReturn)
	}
}

func TestSharpeZeroWhenNoVariance(t *testing.T) {
	curve := []types.EquityCurvePoint{point(0, 10000), point(1, 10000), point(2, 10000)}
	m := metrics.Compute(curve, nil)
	if !m.SharpeRatio.IsZero() {
		t.Fatalf("expected Sharpe 0 for constant equity, got %s", m.SharpeRatio)
	}
}

func TestProfitFactorInfWhenNoLosses(t *testing.T) {
	trades := []types.BacktestTrade{
		{Trade: types.Trade{NetPnL: decimal.NewFromInt(100)}},
		{Trade: types.Trade{NetPnL: decimal.NewFromInt(50)}},
	}
	m := metrics.Compute([]types.EquityCurvePoint{point(0, 10000), point(1, 10150)}, trades)
	if !m.ProfitFactorInf {
		t.Fatal("expected ProfitFactorInf true when there are wins and no losses")
	}
}

func TestProfitFactorComputedWhenBothSidesPresent(t *testing.T) {
	trades := []types.BacktestTrade{
		{Trade: types.Trade{NetPnL: decimal.NewFromInt(200)}},
		{Trade: types.Trade{NetPnL: decimal.NewFromInt(-100)}},
	}
	m := metrics.Compute([]types.EquityCurvePoint{point(0, 10000), point(1, 10100)}, trades)
	if m.ProfitFactorInf {
		t.Fatal("expected ProfitFactorInf false when losses exist")
	}
	if !m.ProfitFactor.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected profit factor 2, got %s", m.ProfitFactor)
	}
}

func TestWinRateZeroWithNoTrades(t *testing.T) {
	m := metrics.Compute([]types.EquityCurvePoint{point(0, 10000)}, nil)
	if !m.WinRate.IsZero() {
		t.Fatalf("expected win rate 0 with no trades, got %s", m.WinRate)
	}
}

func TestMaxDrawdownIsNonPositive(t *testing.T) {
	curve := []types.EquityCurvePoint{point(0, 10000), point(1, 12000), point(2, 9000), point(3, 9500)}
	m := metrics.Compute(curve, nil)
	if m.MaxDrawdown.IsPositive() {
		t.Fatalf("expected non-positive max drawdown, got %s", m.MaxDrawdown)
	}
	want := decimal.NewFromFloat(9000.0/12000.0 - 1)
	if !m.MaxDrawdown.Sub(want).Abs().LessThan(decimal.NewFromFloat(0.0001)) {
		t.Fatalf("expected max drawdown ~%s, got %s", want, m.MaxDrawdown)
	}
}
