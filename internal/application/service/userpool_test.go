package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantillon/internal/domain"
	domainservice "quantillon/internal/domain/service"
)

func TestUserDepositMintsQeuro(t *testing.T) {
	r := newRig(t)

	out, err := r.users.Deposit(context.Background(), "alice", 11_000, 0)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	// 10 bps mint fee, then conversion at 1.10
	if !almostEqualTo(out, 9_990, 0.01) {
		t.Errorf("expected 9990 QEURO, got %.4f", out)
	}
	if got := r.qeuro.BalanceOf("alice"); !almostEqualTo(got, out, 1e-9) {
		t.Errorf("QEURO not credited: %.4f", got)
	}
	if got := r.users.PoolSize(); !almostEqualTo(got, 11_000, 0.01) {
		t.Errorf("expected pool size 11000, got %.4f", got)
	}

	st, err := r.users.StakeOf("alice")
	if err != nil {
		t.Fatalf("StakeOf failed: %v", err)
	}
	if !almostEqualTo(st.Deposited, 11_000, 0.01) {
		t.Errorf("expected deposited 11000, got %.4f", st.Deposited)
	}
}

func TestUserStakeAndClaimFlow(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.users.Deposit(ctx, "alice", 11_000, 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.users.Stake(ctx, "alice", 5_000); err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if got := r.qeuro.BalanceOf(AccountUserPool); !almostEqualTo(got, 5_000, 1e-9) {
		t.Errorf("expected 5000 QEURO in pool, got %.4f", got)
	}

	// yield staged in the yield account, then allocated to stakers
	r.usdc.Mint(AccountYieldPool, 100)
	r.users.AddRewards(100)
	if got := r.users.PendingRewards("alice"); !almostEqualTo(got, 100, 0.01) {
		t.Errorf("expected pending 100, got %.4f", got)
	}

	// claims are gated for a day after the last deposit
	if _, err := r.users.ClaimStakingRewards(ctx, "alice"); !errors.Is(err, domain.ErrHoldingPeriod) {
		t.Fatalf("expected ErrHoldingPeriod, got %v", err)
	}
	r.advance(25 * time.Hour)

	before := r.usdc.BalanceOf("alice")
	claimed, err := r.users.ClaimStakingRewards(ctx, "alice")
	if err != nil {
		t.Fatalf("ClaimStakingRewards failed: %v", err)
	}
	if !almostEqualTo(claimed, 100, 0.01) {
		t.Errorf("expected claim 100, got %.4f", claimed)
	}
	if delta := r.usdc.BalanceOf("alice") - before; !almostEqualTo(delta, claimed, 1e-9) {
		t.Errorf("claim not paid out: %.6f != %.6f", delta, claimed)
	}

	st, _ := r.users.StakeOf("alice")
	if !almostEqualTo(st.Claimed, 100, 0.01) {
		t.Errorf("expected claimed 100 on record, got %.4f", st.Claimed)
	}
	if got := r.users.PendingRewards("alice"); !almostEqualTo(got, 0, 1e-9) {
		t.Errorf("expected zero pending after claim, got %.9f", got)
	}
}

func TestUserDepositResetsHoldingPeriod(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.users.Deposit(ctx, "alice", 11_000, 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.users.Stake(ctx, "alice", 5_000); err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	r.usdc.Mint(AccountYieldPool, 100)
	r.users.AddRewards(100)
	r.advance(25 * time.Hour)

	// a fresh stake re-anchors the gate
	if err := r.users.Stake(ctx, "alice", 1_000); err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if _, err := r.users.ClaimStakingRewards(ctx, "alice"); !errors.Is(err, domain.ErrHoldingPeriod) {
		t.Errorf("expected ErrHoldingPeriod after restake, got %v", err)
	}
}

func TestUserUnstakeAndWithdraw(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	out, err := r.users.Deposit(ctx, "alice", 11_000, 0)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.users.Stake(ctx, "alice", out); err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if err := r.users.Unstake(ctx, "alice", out); err != nil {
		t.Fatalf("Unstake failed: %v", err)
	}
	if err := r.users.Unstake(ctx, "alice", 1); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance on empty stake, got %v", err)
	}

	usdcOut, err := r.users.Withdraw(ctx, "alice", out, 0)
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	// 9990 QEURO back through the vault at 1.10, 10 bps redeem fee
	want := 9_990 * 1.10 * (1 - 0.001)
	if !almostEqualTo(usdcOut, want, 0.01) {
		t.Errorf("expected %.4f USDC out, got %.4f", want, usdcOut)
	}

	st, _ := r.users.StakeOf("alice")
	if !almostEqualTo(st.Deposited, 11_000-usdcOut, 0.01) {
		t.Errorf("expected remaining principal %.4f, got %.4f", 11_000-usdcOut, st.Deposited)
	}
	if got := r.qeuro.BalanceOf("alice"); !almostEqualTo(got, 0, 1e-9) {
		t.Errorf("expected QEURO spent, got %.6f", got)
	}
}

func TestUserRewardsSplitProRata(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.users.Deposit(ctx, "alice", 11_000, 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := r.users.Deposit(ctx, "bob", 11_000, 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.users.Stake(ctx, "alice", 6_000); err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if err := r.users.Stake(ctx, "bob", 3_000); err != nil {
		t.Fatalf("Stake failed: %v", err)
	}

	r.usdc.Mint(AccountYieldPool, 90)
	r.users.AddRewards(90)

	if got := r.users.PendingRewards("alice"); !almostEqualTo(got, 60, 0.01) {
		t.Errorf("expected alice pending 60, got %.4f", got)
	}
	if got := r.users.PendingRewards("bob"); !almostEqualTo(got, 30, 0.01) {
		t.Errorf("expected bob pending 30, got %.4f", got)
	}

	stats := r.users.Stats()
	if stats.Stakers != 2 {
		t.Errorf("expected 2 stakers, got %d", stats.Stakers)
	}
	if !almostEqualTo(stats.PendingRewards, 90, 0.01) {
		t.Errorf("expected 90 pending total, got %.4f", stats.PendingRewards)
	}
	if !almostEqualTo(stats.TotalStaked, 9_000, 1e-9) {
		t.Errorf("expected 9000 staked, got %.4f", stats.TotalStaked)
	}
}

func TestUserRewardsParkWhileUnstaked(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// yield arriving before anyone stakes is carried, not lost
	r.usdc.Mint(AccountYieldPool, 50)
	r.users.AddRewards(50)

	if _, err := r.users.Deposit(ctx, "alice", 11_000, 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.users.Stake(ctx, "alice", 5_000); err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if got := r.users.PendingRewards("alice"); !almostEqualTo(got, 50, 0.01) {
		t.Errorf("expected parked 50 to flush to first staker, got %.4f", got)
	}
}

func TestUserStakeValidation(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if err := r.users.Stake(ctx, "alice", 100); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance without QEURO, got %v", err)
	}
	if err := r.users.Stake(ctx, "alice", 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if err := r.users.Stake(ctx, AccountVault, 100); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress for protocol account, got %v", err)
	}
}

func TestUserPoolPausedBlocksDeposits(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.access.SetPaused(domainservice.ComponentUserPool, true)
	if _, err := r.users.Deposit(ctx, "alice", 1_000, 0); !errors.Is(err, domain.ErrPaused) {
		t.Errorf("expected ErrPaused, got %v", err)
	}
	if err := r.users.Stake(ctx, "alice", 100); !errors.Is(err, domain.ErrPaused) {
		t.Errorf("expected ErrPaused on stake, got %v", err)
	}

	r.access.SetPaused(domainservice.ComponentUserPool, false)
	if _, err := r.users.Deposit(ctx, "alice", 1_000, 0); err != nil {
		t.Errorf("expected deposit after unpause, got %v", err)
	}
}
