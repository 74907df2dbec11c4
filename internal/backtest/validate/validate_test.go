package validate_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas/equities-core/internal/backtest/validate"
	"github.com/atlas/equities-core/pkg/types"
)

func TestMonteCarloIsDeterministicForFixedSeed(t *testing.T) {
	trades := []types.BacktestTrade{
		{Trade: types.Trade{NetPnL: decimal.NewFromInt(100)}},
		{Trade: types.Trade{NetPnL: decimal.NewFromInt(-50)}},
		{Trade: types.Trade{NetPnL: decimal.NewFromInt(30)}},
	}
	r1 := validate.MonteCarlo(trades, decimal.NewFromInt(10000), 500, 42)
	r2 := validate.MonteCarlo(trades, decimal.NewFromInt(10000), 500, 42)
	if !r1.MedianReturn.Equal(r2.MedianReturn) || !r1.ProbabilityRuin.Equal(r2.ProbabilityRuin) {
		t.Fatalf("expected identical seed to produce identical result, got %+v vs %+v", r1, r2)
	}
}

func TestMonteCarloEmptyTradesReturnsZeroIterations(t *testing.T) {
	r := validate.MonteCarlo(nil, decimal.NewFromInt(10000), 100, 1)
	if r.Iterations != 0 {
		t.Fatalf("expected 0 iterations for empty trade set, got %d", r.Iterations)
	}
}

func TestWalkForwardProducesOneWindowPerStep(t *testing.T) {
	bars := make([]types.Bar, 40)
	price := 100.0
	for i := range bars {
		price += 0.1
		bars[i] = types.Bar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:      decimal.NewFromFloat(price - 0.1), High: decimal.NewFromFloat(price + 0.2),
			Low: decimal.NewFromFloat(price - 0.2), Close: decimal.NewFromFloat(price), Volume: 1000,
		}
	}
	params := types.DefaultParameters()
	params.EMAFastPeriod, params.EMASlowPeriod, params.RSIPeriod, params.WarmupBars = 3, 5, 3, 10
	cfg := types.BacktestConfig{
		Symbol: "TEST", Parameters: params, InitialCapital: decimal.NewFromInt(10000),
		Commission: decimal.NewFromFloat(1), SlippageFraction: decimal.NewFromFloat(0.001),
	}

	result := validate.WalkForward(bars, cfg, 20, 10)
	if len(result.Windows) == 0 {
		t.Fatal("expected at least one walk-forward window")
	}
	if result.Robustness.IsNegative() || result.Robustness.GreaterThan(decimal.NewFromInt(1)) {
		t.Fatalf("expected robustness in [0,1], got %s", result.Robustness)
	}
}
