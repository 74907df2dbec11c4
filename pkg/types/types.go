// Package types provides the shared entity definitions for the equities
// trading core: stocks, bars, strategies, signals, orders, trades and the
// process-singleton system state.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order. This core is long-only; SELL
// closes a long position, it never opens a short.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderKind distinguishes the role an order plays in a Trade's lifecycle.
type OrderKind string

const (
	OrderKindEntryMarket OrderKind = "ENTRY_MARKET"
	OrderKindStopLoss    OrderKind = "STOP_LOSS"
	OrderKindTakeProfit  OrderKind = "TAKE_PROFIT"
	OrderKindExitMarket  OrderKind = "EXIT_MARKET"
)

// OrderStatus is the monotonic lifecycle state of an Order:
// PENDING -> SUBMITTED -> {FILLED | PARTIALLY_FILLED -> FILLED | CANCELLED | REJECTED | EXPIRED}.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// SignalType is the output of the Strategy Evaluator.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// TriggerReason names why a Signal fired.
type TriggerReason string

const (
	TriggerEMABullCross   TriggerReason = "EMA_BULL_CROSS"
	TriggerEMABearCross   TriggerReason = "EMA_BEAR_CROSS"
	TriggerRSIOverbought  TriggerReason = "RSI_OVERBOUGHT"
	TriggerNone           TriggerReason = "NONE"
)

// StrategyStatus is the lifecycle state of a Strategy (spec §4.7).
type StrategyStatus string

const (
	StrategyWarming StrategyStatus = "WARMING"
	StrategyActive  StrategyStatus = "ACTIVE"
	StrategyPaused  StrategyStatus = "PAUSED"
	StrategyError   StrategyStatus = "ERROR"
)

// ExitReason classifies how a Trade was closed.
type ExitReason string

const (
	ExitSignal     ExitReason = "SIGNAL"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitManual     ExitReason = "MANUAL"
	ExitEOD        ExitReason = "EOD"
)

// SystemStatus is the process-singleton SystemState's status.
type SystemStatus string

const (
	SystemRunning      SystemStatus = "RUNNING"
	SystemCrashed      SystemStatus = "CRASHED"
	SystemRecovering   SystemStatus = "RECOVERING"
	SystemRecoveryMode SystemStatus = "RECOVERY_MODE"
)

// RecoveryOutcome is the Reconciler's decision, §4.8 step 7.
type RecoveryOutcome string

const (
	RecoveryClean          RecoveryOutcome = "CLEAN"
	RecoveryAutoFixed      RecoveryOutcome = "AUTO_FIXED"
	RecoveryManualRequired RecoveryOutcome = "MANUAL_REQUIRED"
	RecoveryFailed         RecoveryOutcome = "FAILED"
)

// Strategy is one watchlist-stock trading strategy instance. Exclusively
// owns its Signals, Trades, open Orders, and consecutive-loss counter.
type Strategy struct {
	ID                     int64          `json:"id"`
	Name                   string         `json:"name"`
	StockID                int64          `json:"stockId"`
	Parameters             Parameters     `json:"parameters"`
	Status                 StrategyStatus `json:"status"`
	ConsecutiveLossesToday int            `json:"consecutiveLossesToday"`
	WarmUpBarsRemaining    int            `json:"warmUpBarsRemaining"`
	AllocationCapFraction  decimal.Decimal `json:"allocationCapFraction"`
}

// Stock is a watchlist entry. Created once; immutable identity.
type Stock struct {
	ID       int64  `json:"id"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Name     string `json:"name"`
}

// Bar is one OHLCV record, unique by (stock, timestamp). Immutable once
// recorded; timestamps are strictly monotonic per stock.
type Bar struct {
	StockID   int64           `json:"stockId"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// MarketContext is the snapshot of market conditions attached to a Signal.
type MarketContext struct {
	Volatility    decimal.Decimal `json:"volatility"`
	VolumeVsAvg   decimal.Decimal `json:"volumeVsAvg"`
	Trend         string          `json:"trend"`
	GapPct        decimal.Decimal `json:"gapPct"`
}

// Signal is immutable after creation.
type Signal struct {
	ID                 int64             `json:"id"`
	StrategyID         int64             `json:"strategyId"`
	StockID            int64             `json:"stockId"`
	Symbol             string            `json:"symbol"`
	GeneratedAt        time.Time         `json:"generatedAt"`
	Type               SignalType        `json:"type"`
	TriggerReason      TriggerReason     `json:"triggerReason"`
	IndicatorSnapshot  map[string]float64 `json:"indicatorSnapshot"`
	MarketContext      MarketContext     `json:"marketContext"`
	Executed           bool              `json:"executed"`
	NonExecutionReason ErrKind           `json:"nonExecutionReason,omitempty"`
	ResultingTradeID   int64             `json:"resultingTradeId,omitempty"`
}

// Order tracks one order through its broker lifecycle.
type Order struct {
	ID            int64           `json:"id"`
	BrokerOrderID string          `json:"brokerOrderId,omitempty"`
	IntentID      string          `json:"intentId"`
	StockID       int64           `json:"stockId"`
	Symbol        string          `json:"symbol"`
	Kind          OrderKind       `json:"kind"`
	Side          OrderSide       `json:"side"`
	Quantity      int64           `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice     decimal.Decimal `json:"stopPrice,omitempty"`
	SubmittedAt   time.Time       `json:"submittedAt"`
	Status        OrderStatus     `json:"status"`
	FilledQty     int64           `json:"filledQty"`
	FillPrice     decimal.Decimal `json:"fillPrice,omitempty"`
	FillTime      *time.Time      `json:"fillTime,omitempty"`
	ParentTradeID int64           `json:"parentTradeId,omitempty"`
}

// Trade is a round-trip long position. Open iff ExitTime is nil.
type Trade struct {
	ID                  int64             `json:"id"`
	StrategyID          int64             `json:"strategyId"`
	StockID             int64             `json:"stockId"`
	Symbol              string            `json:"symbol"`
	Quantity            int64             `json:"quantity"`
	IntendedEntryPrice  decimal.Decimal   `json:"intendedEntryPrice"`
	EntryPrice          decimal.Decimal   `json:"entryPrice"`
	EntryTime           time.Time         `json:"entryTime"`
	InitialStop         decimal.Decimal   `json:"initialStop"`
	InitialTakeProfit   decimal.Decimal   `json:"initialTakeProfit"`
	CurrentStop         decimal.Decimal   `json:"currentStop"`
	CurrentTakeProfit   decimal.Decimal   `json:"currentTakeProfit"`
	ExitPrice           decimal.Decimal   `json:"exitPrice,omitempty"`
	ExitTime            *time.Time        `json:"exitTime,omitempty"`
	ExitReason          ExitReason        `json:"exitReason,omitempty"`
	Commission          decimal.Decimal   `json:"commission"`
	GrossPnL            decimal.Decimal   `json:"grossPnl,omitempty"`
	NetPnL              decimal.Decimal   `json:"netPnl,omitempty"`
	PnLPct              decimal.Decimal   `json:"pnlPct,omitempty"`
	MaxAdverseExcursion decimal.Decimal   `json:"maxAdverseExcursion"`
	MaxFavorableExcursion decimal.Decimal `json:"maxFavorableExcursion"`
	EntryOrderID        int64             `json:"entryOrderId"`
	ExitOrderID         int64             `json:"exitOrderId,omitempty"`
	StopBrokerOrderID   string            `json:"stopBrokerOrderId,omitempty"`
	TakeProfitBrokerOrderID string        `json:"takeProfitBrokerOrderId,omitempty"`
	IndicatorSnapshot   map[string]float64 `json:"indicatorSnapshot"`
	MarketContext       MarketContext     `json:"marketContext"`
	// Closing is true between the sibling-cancel request and its broker
	// confirmation (spec §4.6 ordering guarantee): the trade is not yet
	// marked closed but must not accept a new entry.
	Closing bool `json:"closing"`
}

// IsOpen reports whether the trade has not yet been closed.
func (t *Trade) IsOpen() bool { return t.ExitTime == nil }

// SystemState is the process singleton. Written only by the heartbeat
// worker and the Reconciler; all other readers take snapshots.
type SystemState struct {
	LastHeartbeat       time.Time    `json:"lastHeartbeat"`
	Status              SystemStatus `json:"status"`
	ActivePositionsCount int         `json:"activePositionsCount"`
	TotalPortfolioValue decimal.Decimal `json:"totalPortfolioValue"`
}

// RecoveryEvent is an append-only audit record of one Reconciler pass.
type RecoveryEvent struct {
	ID            int64           `json:"id"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	Outcome       RecoveryOutcome `json:"outcome"`
	Discrepancies []Discrepancy   `json:"discrepancies"`
	Actions       []string        `json:"actions"`
}

// DiscrepancyClass names a category from the Reconciler's §4.8 step 4.
type DiscrepancyClass string

const (
	DiscrepancyExtraAtBroker   DiscrepancyClass = "EXTRA_AT_BROKER"
	DiscrepancyMissingAtBroker DiscrepancyClass = "MISSING_AT_BROKER"
	DiscrepancyOrderDrift      DiscrepancyClass = "ORDER_STATUS_DRIFT"
)

// Severity is attached to a Discrepancy per §4.8.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Discrepancy is one classified difference between broker and local state.
type Discrepancy struct {
	Class    DiscrepancyClass `json:"class"`
	Symbol   string           `json:"symbol"`
	Severity Severity         `json:"severity"`
	Detail   string           `json:"detail"`
}

// BacktestRun is one historical replay, unique on (strategy, symbol, start,
// end, parameters).
type BacktestRun struct {
	ID               int64           `json:"id"`
	StrategyID       int64           `json:"strategyId"`
	Symbol           string          `json:"symbol"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	InitialCapital   decimal.Decimal `json:"initialCapital"`
	FinalValue       decimal.Decimal `json:"finalValue"`
	Commission       decimal.Decimal `json:"commission"`
	SlippageFraction decimal.Decimal `json:"slippageFraction"`
	Metrics          *PerformanceMetrics `json:"metrics,omitempty"`
}

// BacktestTrade is a Trade scoped to a BacktestRun, carrying the
// signal/execution bar timestamps the no-look-ahead invariant is checked
// against (spec §8 property 5).
type BacktestTrade struct {
	Trade
	RunID               int64     `json:"runId"`
	SignalBarTimestamp  time.Time `json:"signalBarTimestamp"`
	ExecutionBarTimestamp time.Time `json:"executionBarTimestamp"`
}

// EquityCurvePoint is one equity snapshot, in backtest or live context.
type EquityCurvePoint struct {
	RunID     int64           `json:"runId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Cash      decimal.Decimal `json:"cash"`
	Equity    decimal.Decimal `json:"equity"`
}

// PerformanceMetrics are the outputs of internal/metrics, §4.12.
type PerformanceMetrics struct {
	TotalReturn      decimal.Decimal `json:"totalReturn"`
	AnnualizedReturn decimal.Decimal `json:"annualizedReturn"`
	SharpeRatio      decimal.Decimal `json:"sharpeRatio"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownDollar decimal.Decimal `json:"maxDrawdownDollar"`
	MaxDrawdownAt    time.Time       `json:"maxDrawdownAt"`
	WinRate          decimal.Decimal `json:"winRate"`
	// ProfitFactor is zero when trades=0; otherwise set. ProfitFactorInf is
	// true when losses=0 and wins>0 (spec: report as "inf").
	ProfitFactor   decimal.Decimal `json:"profitFactor"`
	ProfitFactorInf bool           `json:"profitFactorInf"`
	AvgWin         decimal.Decimal `json:"avgWin"`
	AvgLoss        decimal.Decimal `json:"avgLoss"`
	TotalTrades    int             `json:"totalTrades"`
	WinningTrades  int             `json:"winningTrades"`
	LosingTrades   int             `json:"losingTrades"`
}
