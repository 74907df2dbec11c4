package indicator_test

import (
	"math"
	"testing"

	"github.com/atlas/equities-core/internal/indicator"
)

func closes(n int, seed float64, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = seed + float64(i)*step
	}
	return out
}

func TestEMAUnavailableBeforeWindow(t *testing.T) {
	series := indicator.EMA(closes(10, 100, 1), 20)
	for i := 0; i < 10; i++ {
		if series.Available(i) {
			t.Fatalf("EMA(20) should be unavailable at index %d with only 10 bars", i)
		}
	}
}

func TestEMAAvailableFromNMinus1(t *testing.T) {
	series := indicator.EMA(closes(5, 1, 1), 3)
	if !series.Available(2) {
		t.Fatal("EMA(3) should be available from index 2 onward")
	}
	if series.Available(1) {
		t.Fatal("EMA(3) should be unavailable at index 1")
	}
}

func TestEMAPrefixStability(t *testing.T) {
	base := closes(30, 50, 0.5)
	appended := append(append([]float64{}, base...), 65.25)

	full := indicator.EMA(base, 10)
	extended := indicator.EMA(appended, 10)

	for i := range full {
		if full.Available(i) != extended.Available(i) {
			t.Fatalf("availability mismatch at %d", i)
		}
		if full.Available(i) && math.Abs(full[i]-extended[i]) > 1e-9 {
			t.Fatalf("prefix value changed at %d: %v vs %v", i, full[i], extended[i])
		}
	}
}

func TestRSIStrictlyAboveOverbought(t *testing.T) {
	// A monotonically rising series drives RSI to 100 (avgLoss == 0), which
	// is strictly greater than any overbought threshold up to 95.
	series := indicator.RSI(closes(40, 100, 1), 14)
	last := series[len(series)-1]
	if !(last > 70) {
		t.Fatalf("expected RSI > 70 for a monotonically rising series, got %v", last)
	}
}

func TestRSIUnavailableBeforeStability(t *testing.T) {
	series := indicator.RSI(closes(27, 100, 1), 14)
	if series.Available(27) {
		t.Fatal("index out of range must be unavailable")
	}
	for i := 0; i < 2*14; i++ {
		if series.Available(i) {
			t.Fatalf("RSI(14) should be unavailable before index 2n=28, got available at %d", i)
		}
	}
}

func TestWarmupLength(t *testing.T) {
	if got := indicator.WarmupLength(50, 14); got != 50 {
		t.Fatalf("expected warmup 50, got %d", got)
	}
	if got := indicator.WarmupLength(20, 30); got != 60 {
		t.Fatalf("expected warmup 60 (2*rsi), got %d", got)
	}
}
