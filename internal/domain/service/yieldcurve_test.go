package service

import "testing"

func TestIdealHedgerShareBps(t *testing.T) {
	// at target ratio the split sits at base
	if got := IdealHedgerShareBps(1.0, 1.0, 5000, 1000, 9000); got != 5000 {
		t.Errorf("at target: expected 5000, got %d", got)
	}
	// user-heavy pool pays hedgers more
	if got := IdealHedgerShareBps(1.5, 1.0, 5000, 1000, 9000); got != 7500 {
		t.Errorf("user heavy: expected 7500, got %d", got)
	}
	// clamps
	if got := IdealHedgerShareBps(5.0, 1.0, 5000, 1000, 9000); got != 9000 {
		t.Errorf("clamp high: expected 9000, got %d", got)
	}
	if got := IdealHedgerShareBps(0.05, 1.0, 5000, 1000, 9000); got != 1000 {
		t.Errorf("clamp low: expected 1000, got %d", got)
	}
	// no hedgers at all -> everything goes to attracting them
	if got := IdealHedgerShareBps(0, 1.0, 5000, 1000, 9000); got != 9000 {
		t.Errorf("empty hedger pool: expected 9000, got %d", got)
	}
}

func TestStepShiftBps(t *testing.T) {
	if got := StepShiftBps(5000, 9000, 500); got != 5500 {
		t.Errorf("step up: expected 5500, got %d", got)
	}
	if got := StepShiftBps(5000, 1000, 500); got != 4500 {
		t.Errorf("step down: expected 4500, got %d", got)
	}
	if got := StepShiftBps(5000, 5200, 500); got != 5200 {
		t.Errorf("within speed: expected 5200, got %d", got)
	}
}

func TestTWAPUpdate(t *testing.T) {
	// halfway through the window moves halfway to spot
	if got := TWAPUpdate(100, 200, 43200, 86400); !almostEqual(got, 150, 1e-9) {
		t.Errorf("half window: expected 150, got %v", got)
	}
	// full window snaps
	if got := TWAPUpdate(100, 200, 86400, 86400); got != 200 {
		t.Errorf("full window: expected 200, got %v", got)
	}
	// no elapsed time leaves the average alone
	if got := TWAPUpdate(100, 200, 0, 86400); got != 100 {
		t.Errorf("zero elapsed: expected 100, got %v", got)
	}
}
