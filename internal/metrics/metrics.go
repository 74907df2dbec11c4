// Package metrics computes the performance statistics defined in spec
// §4.12 over an equity curve and a set of closed trades.
//
// Trade-statistics accumulation and running-peak drawdown, with annualized
// return computed geometrically, (v_N/v_0)^(252/N)-1, rather than a linear
// avgDailyReturn*252 approximation, and profit factor carrying an explicit
// ProfitFactorInf sentinel instead of a zero-value decimal.Decimal when
// losses=0 — indistinguishable from an actual zero profit factor.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas/equities-core/pkg/types"
)

const tradingDaysPerYear = 252

// Compute derives PerformanceMetrics from an equity curve and closed trades.
func Compute(curve []types.EquityCurvePoint, trades []types.BacktestTrade) types.PerformanceMetrics {
	var m types.PerformanceMetrics
	if len(curve) == 0 {
		return m
	}

	v0 := curve[0].Equity
	vN := curve[len(curve)-1].Equity
	if !v0.IsZero() {
		m.TotalReturn = vN.Div(v0).Sub(decimal.NewFromInt(1))
	}

	n := len(curve)
	if !v0.IsZero() && v0.IsPositive() && vN.IsPositive() && n > 1 {
		ratio, _ := vN.Div(v0).Float64()
		exp := float64(tradingDaysPerYear) / float64(n)
		annualized := math.Pow(ratio, exp) - 1
		m.AnnualizedReturn = decimal.NewFromFloat(annualized)
	}

	dailyReturns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := curve[i].Equity.Div(prev).Sub(decimal.NewFromInt(1)).Float64()
		dailyReturns = append(dailyReturns, r)
	}
	m.SharpeRatio = decimal.NewFromFloat(sharpe(dailyReturns))

	ddFraction, ddDollar, ddAt := maxDrawdown(curve)
	m.MaxDrawdown = decimal.NewFromFloat(ddFraction)
	m.MaxDrawdownDollar = ddDollar
	m.MaxDrawdownAt = ddAt

	computeTradeStats(&m, trades)

	return m
}

func sharpe(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return (mean / stdev) * math.Sqrt(float64(tradingDaysPerYear))
}

func maxDrawdown(curve []types.EquityCurvePoint) (fraction float64, dollar decimal.Decimal, at time.Time) {
	runningMax := curve[0].Equity
	worstFraction := 0.0
	worstDollar := decimal.Zero
	var worstAt time.Time

	for _, p := range curve {
		if p.Equity.GreaterThan(runningMax) {
			runningMax = p.Equity
		}
		if runningMax.IsZero() {
			continue
		}
		f, _ := p.Equity.Div(runningMax).Sub(decimal.NewFromInt(1)).Float64()
		if f < worstFraction {
			worstFraction = f
			worstDollar = p.Equity.Sub(runningMax)
			worstAt = p.Timestamp
		}
	}
	return worstFraction, worstDollar, worstAt
}

func computeTradeStats(m *types.PerformanceMetrics, trades []types.BacktestTrade) {
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	sumWins := decimal.Zero
	sumLosses := decimal.Zero // stored as a non-negative magnitude
	var wins, losses []decimal.Decimal

	for _, tr := range trades {
		if tr.NetPnL.IsPositive() {
			m.WinningTrades++
			sumWins = sumWins.Add(tr.NetPnL)
			wins = append(wins, tr.NetPnL)
		} else if tr.NetPnL.IsNegative() {
			m.LosingTrades++
			sumLosses = sumLosses.Add(tr.NetPnL.Abs())
			losses = append(losses, tr.NetPnL.Abs())
		}
	}

	m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).Div(decimal.NewFromInt(int64(m.TotalTrades)))

	switch {
	case sumLosses.IsZero() && sumWins.IsPositive():
		m.ProfitFactorInf = true
	case sumLosses.IsZero():
		m.ProfitFactor = decimal.Zero
	default:
		m.ProfitFactor = sumWins.Div(sumLosses)
	}

	m.AvgWin = average(wins)
	m.AvgLoss = average(losses)
}

func average(vs []decimal.Decimal) decimal.Decimal {
	if len(vs) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range vs {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(vs))))
}

// percentile is exposed for the Monte Carlo validator's confidence-band
// computation over a sorted distribution of simulated returns.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// SortFloats is a thin wrapper kept alongside Percentile so callers doing
// resampling don't need a second stdlib import just for this one call.
func SortFloats(vs []float64) { sort.Float64s(vs) }
