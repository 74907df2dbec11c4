package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Parameters is the strategy parameter typed record, spec §6/§9 — a closed
// set of fields, never a schemaless map. Validate enforces every named
// range; unknown keys cannot exist because this is a struct, not a map.
type Parameters struct {
	EMAFastPeriod         int             `json:"emaFastPeriod"`
	EMASlowPeriod         int             `json:"emaSlowPeriod"`
	RSIPeriod             int             `json:"rsiPeriod"`
	RSIOverbought         decimal.Decimal `json:"rsiOverbought"`
	StopLossPct           decimal.Decimal `json:"stopLossPct"`
	TakeProfitPct         decimal.Decimal `json:"takeProfitPct"`
	TakeProfitEnabled     bool            `json:"takeProfitEnabled"`
	MaxConsecutiveLosses  int             `json:"maxConsecutiveLosses"`
	WarmupBars            int             `json:"warmupBars"`
	AllocationCapFraction decimal.Decimal `json:"allocationCapFraction"`
	RiskFraction          decimal.Decimal `json:"riskFraction"`
}

// DefaultParameters returns the §6 default values.
func DefaultParameters() Parameters {
	return Parameters{
		EMAFastPeriod:         20,
		EMASlowPeriod:         50,
		RSIPeriod:             14,
		RSIOverbought:         decimal.NewFromInt(70),
		StopLossPct:           decimal.NewFromFloat(0.05),
		TakeProfitPct:         decimal.NewFromFloat(0.15),
		TakeProfitEnabled:     true,
		MaxConsecutiveLosses:  3,
		WarmupBars:            100,
		AllocationCapFraction: decimal.NewFromFloat(0.5),
		RiskFraction:          decimal.NewFromFloat(0.02),
	}
}

// Validate enforces every range named in spec §6. It also rejects a
// WarmupBars value below its floor (max(slow, 2*rsi)).
func (p Parameters) Validate() error {
	switch {
	case p.EMAFastPeriod < 2 || p.EMAFastPeriod > 200:
		return fmt.Errorf("ema_fast_period out of range [2,200]: %d", p.EMAFastPeriod)
	case p.EMASlowPeriod < 2 || p.EMASlowPeriod > 200:
		return fmt.Errorf("ema_slow_period out of range [2,200]: %d", p.EMASlowPeriod)
	case p.EMASlowPeriod <= p.EMAFastPeriod:
		return fmt.Errorf("ema_slow_period (%d) must be > ema_fast_period (%d)", p.EMASlowPeriod, p.EMAFastPeriod)
	case p.RSIPeriod < 2 || p.RSIPeriod > 50:
		return fmt.Errorf("rsi_period out of range [2,50]: %d", p.RSIPeriod)
	case p.RSIOverbought.LessThan(decimal.NewFromInt(50)) || p.RSIOverbought.GreaterThan(decimal.NewFromInt(95)):
		return fmt.Errorf("rsi_overbought out of range [50,95]: %s", p.RSIOverbought)
	case p.StopLossPct.LessThan(decimal.NewFromFloat(0.001)) || p.StopLossPct.GreaterThan(decimal.NewFromFloat(0.25)):
		return fmt.Errorf("stop_loss_pct out of range [0.001,0.25]: %s", p.StopLossPct)
	case p.TakeProfitPct.LessThan(decimal.NewFromFloat(0.001)) || p.TakeProfitPct.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("take_profit_pct out of range [0.001,1.0]: %s", p.TakeProfitPct)
	case p.MaxConsecutiveLosses < 1 || p.MaxConsecutiveLosses > 10:
		return fmt.Errorf("max_consecutive_losses out of range [1,10]: %d", p.MaxConsecutiveLosses)
	case p.AllocationCapFraction.LessThan(decimal.Zero) || p.AllocationCapFraction.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("allocation_cap_fraction out of range [0,1]: %s", p.AllocationCapFraction)
	case p.RiskFraction.LessThan(decimal.Zero) || p.RiskFraction.GreaterThan(decimal.NewFromFloat(0.1)):
		return fmt.Errorf("risk_fraction out of range [0,0.1]: %s", p.RiskFraction)
	}
	minWarmup := p.EMASlowPeriod
	if 2*p.RSIPeriod > minWarmup {
		minWarmup = 2 * p.RSIPeriod
	}
	if p.WarmupBars < minWarmup {
		return fmt.Errorf("warmup_bars (%d) must be >= max(ema_slow_period, 2*rsi_period) (%d)", p.WarmupBars, minWarmup)
	}
	return nil
}

// StopReferencePrice resolves spec §9's open question on which price stop
// and take-profit distances are computed from at signal time.
type StopReferencePrice string

const (
	StopReferenceLastClose StopReferencePrice = "LAST_CLOSE"
	StopReferenceNextOpen  StopReferencePrice = "NEXT_OPEN"
)

// BacktestConfig configures one Backtester run, §4.11.
type BacktestConfig struct {
	StrategyID       int64               `json:"strategyId"`
	Symbol           string              `json:"symbol"`
	Parameters       Parameters          `json:"parameters"`
	Start            time.Time           `json:"start"`
	End              time.Time           `json:"end"`
	InitialCapital   decimal.Decimal     `json:"initialCapital"`
	Commission       decimal.Decimal     `json:"commission"`
	SlippageFraction decimal.Decimal     `json:"slippageFraction"`
	Validation       ValidationConfig    `json:"validation"`
}

// DefaultBacktestConfig fills in spec-named defaults (commission left at
// caller's discretion, slippage default 0.001 per §4.11).
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		Parameters:       DefaultParameters(),
		InitialCapital:   decimal.NewFromInt(10000),
		SlippageFraction: decimal.NewFromFloat(0.001),
	}
}

// ValidationConfig configures the supplemented backtest-robustness checks
// (SPEC_FULL §4.11.1) — resampling/perturbation, not parameter fitting.
type ValidationConfig struct {
	WalkForward WalkForwardConfig `json:"walkForward"`
	MonteCarlo  MonteCarloConfig  `json:"monteCarlo"`
}

// WalkForwardConfig configures rolling train/test window validation.
type WalkForwardConfig struct {
	Enabled    bool `json:"enabled"`
	WindowDays int  `json:"windowDays"`
	StepDays   int  `json:"stepDays"`
}

// MonteCarloConfig configures bootstrap resampling of realized trades.
type MonteCarloConfig struct {
	Enabled    bool `json:"enabled"`
	Iterations int  `json:"iterations"`
	Seed       int64 `json:"seed"`
}

// BacktestResult is the full output of one Backtester.Run.
type BacktestResult struct {
	Run         BacktestRun
	EquityCurve []EquityCurvePoint
	Trades      []BacktestTrade
	MonteCarlo  *MonteCarloResult  `json:"monteCarlo,omitempty"`
	WalkForward *WalkForwardResult `json:"walkForward,omitempty"`
}

// MonteCarloResult is the bootstrap-resampling validation output.
type MonteCarloResult struct {
	Iterations      int             `json:"iterations"`
	MedianReturn    decimal.Decimal `json:"medianReturn"`
	P5Return        decimal.Decimal `json:"p5Return"`
	P95Return       decimal.Decimal `json:"p95Return"`
	ProbabilityRuin decimal.Decimal `json:"probabilityRuin"`
}

// WalkForwardResult is the rolling-window validation output.
type WalkForwardResult struct {
	Windows    []WalkForwardWindow `json:"windows"`
	Robustness decimal.Decimal     `json:"robustness"`
}

// WalkForwardWindow is one out-of-sample slice.
type WalkForwardWindow struct {
	Start          time.Time           `json:"start"`
	End            time.Time           `json:"end"`
	OutSampleMetrics *PerformanceMetrics `json:"outSampleMetrics"`
}

// ServerConfig configures the ambient ops HTTP surface (health/metrics),
// SPEC_FULL §2.1 — not the dashboard/REST trading API spec.md excludes.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}
