// Package strategy implements the MA-Crossover-with-RSI Strategy Evaluator
// (spec §4.2): a pure function over an indicator-augmented bar series that
// returns a Signal for the last closed bar.
package strategy

import (
	"math"

	"github.com/atlas/equities-core/internal/indicator"
	"github.com/atlas/equities-core/pkg/types"
)

// Evaluator evaluates one strategy's rule against a bar series.
type Evaluator struct {
	params types.Parameters
}

// NewEvaluator builds an Evaluator for the given, already-validated params.
func NewEvaluator(params types.Parameters) *Evaluator {
	return &Evaluator{params: params}
}

// Result is the pure output of Evaluate: everything the Execution Engine
// needs to build a Signal record, without any persistence concern.
type Result struct {
	Type          types.SignalType
	TriggerReason types.TriggerReason
	Indicators    map[string]float64
}

// Evaluate returns a Signal for the last closed bar (index len(closes)-1)
// using only values available at that bar and earlier. positionOpen
// reflects whether (strategy, stock) currently has an open Trade.
func (e *Evaluator) Evaluate(closes []float64, positionOpen bool) Result {
	fast := indicator.EMA(closes, e.params.EMAFastPeriod)
	slow := indicator.EMA(closes, e.params.EMASlowPeriod)
	rsi := indicator.RSI(closes, e.params.RSIPeriod)

	t := len(closes) - 1
	if t < 1 {
		return Result{Type: types.SignalHold, TriggerReason: types.TriggerNone}
	}

	fastT, fastPrev := fast.At(t), fast.At(t-1)
	slowT, slowPrev := slow.At(t), slow.At(t-1)
	rsiT := rsi.At(t)

	snapshot := map[string]float64{
		"ema_fast": fastT,
		"ema_slow": slowT,
		"rsi":      rsiT,
	}

	if anyNaN(fastT, fastPrev, slowT, slowPrev, rsiT) {
		return Result{Type: types.SignalHold, TriggerReason: types.TriggerNone, Indicators: snapshot}
	}

	overbought := mustFloat(e.params.RSIOverbought)

	// True crossover: prior bar same-or-below, current bar strictly above.
	bullCross := fastPrev <= slowPrev && fastT > slowT
	// Tie-break: current-bar equality counts as bullish only if the prior
	// bar was strictly below; equality in both bars is HOLD.
	if fastPrev < slowPrev && fastT == slowT {
		bullCross = true
	}
	bearCross := fastPrev >= slowPrev && fastT < slowT

	switch {
	case bullCross && rsiT < overbought && !positionOpen:
		return Result{Type: types.SignalBuy, TriggerReason: types.TriggerEMABullCross, Indicators: snapshot}
	case positionOpen && (bearCross || rsiT > overbought):
		reason := types.TriggerEMABearCross
		if rsiT > overbought {
			reason = types.TriggerRSIOverbought
		}
		return Result{Type: types.SignalSell, TriggerReason: reason, Indicators: snapshot}
	default:
		return Result{Type: types.SignalHold, TriggerReason: types.TriggerNone, Indicators: snapshot}
	}
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// mustFloat converts a decimal.Decimal-backed parameter to float64 for
// comparison against the float-valued indicator series; used only for
// threshold comparisons, never for monetary arithmetic.
func mustFloat(d interface{ Float64() (float64, bool) }) float64 {
	f, _ := d.Float64()
	return f
}
