// Package validate supplements the core Backtester with two
// statistical-robustness checks (SPEC_FULL §4.11.1): Monte Carlo bootstrap
// resampling of a realized trade sequence, and Walk-Forward rolling-window
// replay. Neither fits a model or searches a parameter space — both run the
// already-fixed, deterministic strategy rules over resampled or
// re-windowed data — so this stays outside spec.md's "no machine learning"
// Non-goal.
//
// Grounded on internal/backtester/montecarlo.go and walkforward.go.
package validate

import (
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atlas/equities-core/internal/backtest"
	"github.com/atlas/equities-core/internal/metrics"
	"github.com/atlas/equities-core/pkg/types"
)

// MonteCarlo resamples trades.NetPnL with replacement `iterations` times,
// simulating a fresh equity path for each resample, and reports a
// confidence band over the resulting total-return distribution plus a
// probability-of-ruin estimate (equity <= 0 at any point on the path).
func MonteCarlo(trades []types.BacktestTrade, initialCapital decimal.Decimal, iterations int, seed int64) types.MonteCarloResult {
	if len(trades) == 0 || iterations <= 0 {
		return types.MonteCarloResult{Iterations: 0}
	}

	pnls := make([]decimal.Decimal, len(trades))
	for i, tr := range trades {
		pnls[i] = tr.NetPnL
	}

	rng := rand.New(rand.NewSource(seed))
	returns := make([]float64, iterations)
	ruins := 0

	for i := 0; i < iterations; i++ {
		equity := initialCapital
		ruined := false
		for j := 0; j < len(pnls); j++ {
			draw := pnls[rng.Intn(len(pnls))]
			equity = equity.Add(draw)
			if equity.LessThanOrEqual(decimal.Zero) {
				ruined = true
			}
		}
		if ruined {
			ruins++
		}
		if initialCapital.IsPositive() {
			r, _ := equity.Div(initialCapital).Sub(decimal.NewFromInt(1)).Float64()
			returns[i] = r
		}
	}

	sort.Float64s(returns)
	return types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    decimal.NewFromFloat(metrics.Percentile(returns, 0.50)),
		P5Return:        decimal.NewFromFloat(metrics.Percentile(returns, 0.05)),
		P95Return:       decimal.NewFromFloat(metrics.Percentile(returns, 0.95)),
		ProbabilityRuin: decimal.NewFromFloat(float64(ruins) / float64(iterations)),
	}
}

// WalkForward replays the same fixed cfg.Parameters across rolling
// windowDays-wide slices of bars, advancing stepDays at a time, and reports
// each window's out-of-sample metrics plus an overall robustness score
// (the fraction of windows with a non-negative total return).
func WalkForward(bars []types.Bar, cfg types.BacktestConfig, windowDays, stepDays int) types.WalkForwardResult {
	if windowDays <= 0 || stepDays <= 0 || len(bars) == 0 {
		return types.WalkForwardResult{}
	}

	var windows []types.WalkForwardWindow
	profitable := 0

	for start := 0; start+windowDays <= len(bars); start += stepDays {
		slice := bars[start : start+windowDays]
		result, err := backtest.New(cfg).Run(slice)
		if err != nil {
			continue
		}
		m := metrics.Compute(result.EquityCurve, result.Trades)
		windows = append(windows, types.WalkForwardWindow{
			Start:            slice[0].Timestamp,
			End:              slice[len(slice)-1].Timestamp,
			OutSampleMetrics: &m,
		})
		if !m.TotalReturn.IsNegative() {
			profitable++
		}
	}

	robustness := decimal.Zero
	if len(windows) > 0 {
		robustness = decimal.NewFromInt(int64(profitable)).Div(decimal.NewFromInt(int64(len(windows))))
	}
	return types.WalkForwardResult{Windows: windows, Robustness: robustness}
}
