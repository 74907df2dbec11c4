// Package risk implements the Risk Gate (spec §4.4): sequential validation
// of a candidate trade in an exact order, first failure wins.
//
// Unlike a validator that accumulates every violation before deciding, this
// gate runs a strict seven-step sequence and returns on the first failure.
package risk

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas/equities-core/pkg/types"
)

// Candidate is a proposed trade awaiting risk validation.
type Candidate struct {
	StrategyID          int64
	Symbol              string
	Quantity            int64
	EntryPrice          decimal.Decimal
	StopPrice           decimal.Decimal
	EstimatedCommission decimal.Decimal
}

// Notional returns quantity * entry price.
func (c Candidate) Notional() decimal.Decimal {
	return decimal.NewFromInt(c.Quantity).Mul(c.EntryPrice)
}

// StrategyView answers questions about strategy state the Gate needs.
type StrategyView interface {
	Status(strategyID int64) types.StrategyStatus
	AllocationCapFraction(strategyID int64) decimal.Decimal
}

// PortfolioView answers questions about portfolio/position state.
type PortfolioView interface {
	HasOpenTrade(strategyID int64, symbol string) bool
	OpenNotional(strategyID int64) decimal.Decimal
	PortfolioValue() decimal.Decimal
	AvailableCash() decimal.Decimal
}

// LossLimiter reports whether a strategy is currently loss-limit paused.
type LossLimiter interface {
	IsPaused(strategyID int64) bool
}

const positionCapFraction = "0.20"

// Gate validates candidates against every active invariant.
type Gate struct {
	logger *zap.Logger
}

// New constructs a Gate.
func New(logger *zap.Logger) *Gate {
	return &Gate{logger: logger}
}

// Check runs the exact seven-step sequence from spec §4.4. On the first
// failure it returns (false, reason); on success (true, "").
func (g *Gate) Check(strategies StrategyView, portfolio PortfolioView, losses LossLimiter, c Candidate) (bool, types.ErrKind) {
	// 1. Strategy status is ACTIVE.
	if strategies.Status(c.StrategyID) != types.StrategyActive {
		return g.reject(c, types.ErrStrategyInactive)
	}
	// 2. No existing open Trade for (strategy, stock).
	if portfolio.HasOpenTrade(c.StrategyID, c.Symbol) {
		return g.reject(c, types.ErrDuplicatePosition)
	}
	// 3. Loss-Limit Tracker does not indicate paused.
	if losses.IsPaused(c.StrategyID) {
		return g.reject(c, types.ErrDailyLossLimit)
	}
	// 4. Quantity > 0.
	if c.Quantity <= 0 {
		return g.reject(c, types.ErrSizeZero)
	}

	portfolioValue := portfolio.PortfolioValue()
	notional := c.Notional()

	// 5. Per-strategy allocation cap.
	cap := strategies.AllocationCapFraction(c.StrategyID)
	allocated := portfolio.OpenNotional(c.StrategyID).Add(notional)
	if allocated.GreaterThan(cap.Mul(portfolioValue)) {
		return g.reject(c, types.ErrAllocationExceeded)
	}
	// 6. Per-position 20% cap.
	positionCap := decimal.RequireFromString(positionCapFraction).Mul(portfolioValue)
	if notional.GreaterThan(positionCap) {
		return g.reject(c, types.ErrPositionCapExceeded)
	}
	// 7. Available cash check.
	required := notional.Add(c.EstimatedCommission)
	if portfolio.AvailableCash().LessThan(required) {
		return g.reject(c, types.ErrInsufficientCash)
	}

	return true, ""
}

func (g *Gate) reject(c Candidate, reason types.ErrKind) (bool, types.ErrKind) {
	if g.logger != nil {
		g.logger.Info("risk gate rejected candidate",
			zap.Int64("strategyId", c.StrategyID),
			zap.String("symbol", c.Symbol),
			zap.String("reason", string(reason)),
		)
	}
	return false, reason
}
