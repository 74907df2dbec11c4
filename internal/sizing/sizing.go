// Package sizing implements the Position Sizer (spec §4.3): a deterministic
// mapping from (portfolio value, entry price, stop price) to an integer
// share count honoring the risk-fraction and max-position-fraction rules.
//
// Kelly-criterion/regime/correlation adjustments are deliberately absent —
// those estimate an optimal bet size from historical win/loss statistics,
// a statistical-learning technique spec.md's Non-goals exclude ("no
// machine learning"). This sizer takes no historical input at all: it is a
// pure function of the four arguments below.
package sizing

import "github.com/shopspring/decimal"

// Size computes q = max(0, min(raw, cap_by_value, cap_by_cash)) per spec
// §4.3's exact algorithm. All arithmetic is decimal; the final comparisons
// never drop to a floating intermediate.
func Size(portfolioValue, entryPrice, stopPrice, riskFraction, maxPositionFraction, availableCash decimal.Decimal) int64 {
	if portfolioValue.LessThanOrEqual(decimal.Zero) || entryPrice.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	riskPerShare := entryPrice.Sub(stopPrice)
	if riskPerShare.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	raw := floorDiv(portfolioValue.Mul(riskFraction), riskPerShare)
	capByValue := floorDiv(portfolioValue.Mul(maxPositionFraction), entryPrice)
	capByCash := floorDiv(availableCash, entryPrice)

	q := raw
	if capByValue.LessThan(q) {
		q = capByValue
	}
	if capByCash.LessThan(q) {
		q = capByCash
	}
	if q.IsNegative() {
		return 0
	}
	return q.IntPart()
}

// floorDiv returns floor(numerator/denominator) as a whole-share decimal,
// guarding against a zero or negative denominator.
func floorDiv(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return numerator.Div(denominator).Floor()
}
