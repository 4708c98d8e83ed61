package aave

import (
	"context"
	"math"
	"testing"
	"time"
)

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func newTestMarket(apyBps int64) (*Market, *time.Time) {
	m := NewMarket(apyBps)
	at := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return at }
	return m, &at
}

func yearLater(at time.Time) time.Time {
	return at.Add(time.Duration(secondsPerYear) * time.Second)
}

func TestSupplyAccruesInterest(t *testing.T) {
	m, clock := newTestMarket(500) // 5% APY
	ctx := context.Background()

	if err := m.Supply(ctx, 10_000); err != nil {
		t.Fatalf("Supply: %v", err)
	}

	*clock = yearLater(*clock)
	bal, err := m.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !almostEqual(bal, 10_500, 1e-6) {
		t.Errorf("balance after one year = %.6f, want 10500", bal)
	}
}

func TestInterestCompoundsAcrossAccruals(t *testing.T) {
	m, clock := newTestMarket(500)
	ctx := context.Background()

	if err := m.Supply(ctx, 10_000); err != nil {
		t.Fatalf("Supply: %v", err)
	}
	*clock = yearLater(*clock)

	// second tranche lands at the higher index
	if err := m.Supply(ctx, 10_000); err != nil {
		t.Fatalf("Supply: %v", err)
	}
	*clock = yearLater(*clock)

	bal, err := m.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	// 10000*1.05^2 + 10000*1.05
	if !almostEqual(bal, 21_525, 1e-6) {
		t.Errorf("balance = %.6f, want 21525", bal)
	}
}

func TestWithdrawCapsAtBalance(t *testing.T) {
	m, clock := newTestMarket(500)
	ctx := context.Background()

	if err := m.Supply(ctx, 10_000); err != nil {
		t.Fatalf("Supply: %v", err)
	}
	*clock = yearLater(*clock)

	got, err := m.Withdraw(ctx, 5_000)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !almostEqual(got, 5_000, 1e-6) {
		t.Errorf("partial withdraw = %.6f, want 5000", got)
	}

	got, err = m.Withdraw(ctx, 99_999)
	if err != nil {
		t.Fatalf("Withdraw all: %v", err)
	}
	if !almostEqual(got, 5_500, 1e-6) {
		t.Errorf("drain withdraw = %.6f, want 5500", got)
	}

	got, err = m.Withdraw(ctx, 1)
	if err != nil || got != 0 {
		t.Errorf("withdraw from empty = %.6f, %v, want 0, nil", got, err)
	}
}

func TestZeroApyHoldsPrincipal(t *testing.T) {
	m, clock := newTestMarket(0)
	ctx := context.Background()

	if err := m.Supply(ctx, 1_000); err != nil {
		t.Fatalf("Supply: %v", err)
	}
	*clock = yearLater(*clock)

	bal, err := m.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 1_000 {
		t.Errorf("balance = %.6f, want exactly 1000", bal)
	}
}

func TestSupplyWithdrawValidation(t *testing.T) {
	m, _ := newTestMarket(500)
	ctx := context.Background()

	if err := m.Supply(ctx, 0); err == nil {
		t.Error("Supply(0) accepted")
	}
	if _, err := m.Withdraw(ctx, -1); err == nil {
		t.Error("Withdraw(-1) accepted")
	}
}
