package policy

import (
	"math/big"
	"testing"
	"time"
)

func TestWindowRolloverAtUTCDayBoundary(t *testing.T) {
	// 23:59:59 UTC and 00:00:01 UTC the next day are different windows.
	lateNight := time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)
	window := NewTimeWindowAccumulator(lateNight)
	window.Accrue(big.NewInt(700))

	window.Rollover(lateNight)
	if window.Spent.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("same-day rollover must keep the accumulator, got %s", window.Spent)
	}

	window.Rollover(lateNight.Add(2 * time.Second))
	if window.Spent.Sign() != 0 {
		t.Fatalf("crossing the day boundary must reset, got %s", window.Spent)
	}
	if window.Day != DayIndex(lateNight.Add(2*time.Second)) {
		t.Fatalf("window day must track the new day index")
	}
}

func TestWindowProjectedDoesNotMutate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	window := NewTimeWindowAccumulator(now)
	window.Accrue(big.NewInt(300))

	projected := window.Projected(big.NewInt(200))
	if projected.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected projection 500, got %s", projected)
	}
	if window.Spent.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("projection must not accrue, got %s", window.Spent)
	}
}
