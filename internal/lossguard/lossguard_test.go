package lossguard_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/atlas/equities-core/internal/lossguard"
)

func TestPausesAtThreshold(t *testing.T) {
	tr := lossguard.New(zap.NewNop())
	if tr.RecordClose(1, true, 3) {
		t.Fatal("should not pause on first loss")
	}
	if tr.RecordClose(1, true, 3) {
		t.Fatal("should not pause on second loss")
	}
	if !tr.RecordClose(1, true, 3) {
		t.Fatal("expected pause on third consecutive loss")
	}
	if !tr.IsPaused(1) {
		t.Fatal("expected strategy to be paused")
	}
}

func TestWinResetsStreak(t *testing.T) {
	tr := lossguard.New(zap.NewNop())
	tr.RecordClose(1, true, 3)
	tr.RecordClose(1, true, 3)
	tr.RecordClose(1, false, 3)
	if tr.ConsecutiveLosses(1) != 0 {
		t.Fatalf("expected streak reset to 0 after a win, got %d", tr.ConsecutiveLosses(1))
	}
}

func TestResetAllClearsCountersOnlyNotPause(t *testing.T) {
	tr := lossguard.New(zap.NewNop())
	tr.RecordClose(1, true, 1)
	if !tr.IsPaused(1) {
		t.Fatal("expected pause at threshold 1")
	}
	tr.ResetAll()
	if tr.ConsecutiveLosses(1) != 0 {
		t.Fatal("expected ResetAll to clear the counter")
	}
	if !tr.IsPaused(1) {
		t.Fatal("expected ResetAll to leave the pause flag set until an explicit resume")
	}
	tr.Unpause(1)
	if tr.IsPaused(1) {
		t.Fatal("expected Unpause to clear the pause flag")
	}
}

func TestIndependentStrategiesDoNotShareCounters(t *testing.T) {
	tr := lossguard.New(zap.NewNop())
	tr.RecordClose(1, true, 2)
	tr.RecordClose(1, true, 2)
	if !tr.IsPaused(1) {
		t.Fatal("expected strategy 1 paused")
	}
	if tr.IsPaused(2) {
		t.Fatal("expected strategy 2 unaffected")
	}
}
