// Package lossguard implements the Loss-Limit Tracker (spec §4.9): a
// per-(strategy, exchange-calendar-date) consecutive-loss counter that
// pauses a strategy once it reaches its configured threshold.
//
// A simple count threshold with an explicit per-strategy max and
// session-start reset, rather than a dollar-drawdown kill switch, since
// spec.md defines the limit purely in trade-count terms.
package lossguard

import (
	"sync"

	"go.uber.org/zap"
)

// Tracker holds one consecutive-loss counter per strategy. Safe for
// concurrent use; callers invoke RecordClose from the symbol shard that
// closed the trade (spec §5: "called from the Execution Engine's
// trade-close handler on the same symbol shard").
type Tracker struct {
	mu      sync.Mutex
	counts  map[int64]int
	paused  map[int64]bool
	logger  *zap.Logger
}

// New constructs an empty Tracker.
func New(logger *zap.Logger) *Tracker {
	return &Tracker{counts: make(map[int64]int), paused: make(map[int64]bool), logger: logger}
}

// RecordClose updates the counter for strategyID given a trade's net P&L
// and reports whether this close just reached maxConsecutiveLosses.
func (t *Tracker) RecordClose(strategyID int64, netPnLNonPositive bool, maxConsecutiveLosses int) (justPaused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !netPnLNonPositive {
		t.counts[strategyID] = 0
		return false
	}
	t.counts[strategyID]++
	if t.counts[strategyID] >= maxConsecutiveLosses && !t.paused[strategyID] {
		t.paused[strategyID] = true
		if t.logger != nil {
			t.logger.Warn("lossguard: strategy paused on consecutive loss limit",
				zap.Int64("strategyId", strategyID), zap.Int("consecutiveLosses", t.counts[strategyID]))
		}
		return true
	}
	return false
}

// IsPaused reports whether a strategy is currently loss-limit paused.
// Satisfies internal/risk.LossLimiter.
func (t *Tracker) IsPaused(strategyID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused[strategyID]
}

// ConsecutiveLosses returns the current streak for a strategy.
func (t *Tracker) ConsecutiveLosses(strategyID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[strategyID]
}

// ResetAll clears every consecutive-loss counter. Invoked by the
// Scheduler's session_start_reset job at 09:30 exchange time (spec §4.9:
// "reset all counters"). It deliberately leaves pause flags untouched —
// per spec §4.7/scenario S4, a strategy paused by the loss-limit breaker
// stays PAUSED across a session boundary until an explicit resume; only
// Unpause (or auto-resume, where configured) clears it.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.counts {
		t.counts[id] = 0
	}
}

// Unpause clears a single strategy's pause flag for manual or
// auto-resume-configured session-start resume (spec §4.7: PAUSED -> ACTIVE
// on session start only if auto-resume is configured, or on manual
// resume). It leaves the streak counter untouched so a resumed strategy
// does not get a fresh three-loss budget mid-session.
func (t *Tracker) Unpause(strategyID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused[strategyID] = false
}
