package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantillon/internal/domain"
	"quantillon/internal/domain/model"
)

func TestOpenPositionSizesNotionalNetOfFee(t *testing.T) {
	r := newRig(t)

	pos, err := r.hedger.OpenPosition(context.Background(), "hector", 10_000, 5)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	// 20 bps entry fee on 10,000 leaves 9,980 margin
	if !almostEqualTo(pos.Margin, 9_980, 0.01) {
		t.Errorf("expected margin 9980, got %.4f", pos.Margin)
	}
	if !almostEqualTo(pos.Notional, 49_900, 0.01) {
		t.Errorf("expected notional 49900, got %.4f", pos.Notional)
	}
	if pos.EntryPrice != 1.10 {
		t.Errorf("expected entry 1.10, got %v", pos.EntryPrice)
	}
	if got := r.hedger.PoolSize(); !almostEqualTo(got, 9_980, 0.01) {
		t.Errorf("expected pool size 9980, got %.4f", got)
	}
	// entry fee landed in the yield pool
	if got := r.usdc.BalanceOf(AccountYieldPool); !almostEqualTo(got, 20, 0.01) {
		t.Errorf("expected 20 in yield pool, got %.4f", got)
	}
}

func TestOpenPositionValidation(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 11); !errors.Is(err, domain.ErrLeverageTooHigh) {
		t.Errorf("expected ErrLeverageTooHigh, got %v", err)
	}
	if _, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 0.5); !errors.Is(err, domain.ErrLeverageTooHigh) {
		t.Errorf("expected ErrLeverageTooHigh below 1x, got %v", err)
	}
	if _, err := r.hedger.OpenPosition(ctx, "hector", 50, 2); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount below min margin, got %v", err)
	}
}

func TestAddAndRemoveMargin(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 5)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}

	if err := r.hedger.AddMargin(ctx, "hector", pos.ID, 2_000); err != nil {
		t.Fatalf("AddMargin failed: %v", err)
	}
	got, err := r.hedger.Position(pos.ID)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if !almostEqualTo(got.Margin, 11_980, 0.01) {
		t.Errorf("expected margin 11980, got %.4f", got.Margin)
	}

	// margin ratio floor is 1000 bps of 49,900 notional = 4,990
	if err := r.hedger.RemoveMargin(ctx, "hector", pos.ID, 10_000); !errors.Is(err, domain.ErrInsufficientMargin) {
		t.Errorf("expected ErrInsufficientMargin, got %v", err)
	}
	if err := r.hedger.RemoveMargin(ctx, "hector", pos.ID, 2_000); err != nil {
		t.Errorf("RemoveMargin within ratio failed: %v", err)
	}

	if err := r.hedger.AddMargin(ctx, "bob", pos.ID, 100); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized for non-owner, got %v", err)
	}
}

func TestClosePositionSettlesPnL(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	// vault buffer backs hedger profits
	r.usdc.Mint(AccountVault, 100_000)

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 5)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	before := r.usdc.BalanceOf("hector")

	// +5% EUR move on 49,900 notional is +2,495
	r.forceEurUsd(1.155)
	payout, err := r.hedger.ClosePosition(ctx, "hector", pos.ID)
	if err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}
	gross := 9_980 + 2_495.0
	want := gross - gross*0.002
	if !almostEqualTo(payout, want, 0.5) {
		t.Errorf("expected payout %.2f, got %.2f", want, payout)
	}
	if delta := r.usdc.BalanceOf("hector") - before; !almostEqualTo(delta, want, 0.5) {
		t.Errorf("expected hector credited %.2f, got %.2f", want, delta)
	}

	got, _ := r.hedger.Position(pos.ID)
	if got.Status != model.PositionClosed {
		t.Errorf("expected closed, got %s", got.Status)
	}
	if r.hedger.PoolSize() != 0 {
		t.Errorf("expected empty pool, got %.4f", r.hedger.PoolSize())
	}
}

func TestLiquidationCommitReveal(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 10)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}

	salt := "nonce-42"
	hash := CommitmentHash("liquidator", pos.ID, salt)

	// healthy position: commit is allowed, reveal is not
	if _, err := r.hedger.CommitLiquidation(ctx, "liquidator", pos.ID, hash); err != nil {
		t.Fatalf("CommitLiquidation failed: %v", err)
	}
	r.advance(3 * time.Second)
	if _, err := r.hedger.Liquidate(ctx, "liquidator", pos.ID, salt); !errors.Is(err, domain.ErrPositionHealthy) {
		t.Fatalf("expected ErrPositionHealthy, got %v", err)
	}

	// 10x leverage opens at 1000 bps margin ratio; 1.04 puts it under the
	// 500 bps liquidation threshold
	r.forceEurUsd(1.04)

	// reveal with the wrong salt fails
	if _, err := r.hedger.Liquidate(ctx, "liquidator", pos.ID, "wrong"); !errors.Is(err, domain.ErrCommitmentInvalid) {
		t.Fatalf("expected ErrCommitmentInvalid for bad salt, got %v", err)
	}

	hectorBefore := r.usdc.BalanceOf("hector")
	reward, err := r.hedger.Liquidate(ctx, "liquidator", pos.ID, salt)
	if err != nil {
		t.Fatalf("Liquidate failed: %v", err)
	}
	// penalty is 200 bps of remaining equity, not of posted margin
	pnl := 99_800 * (1.04 - 1.10) / 1.10
	equity := 9_980 + pnl
	wantReward := equity * 0.02
	if !almostEqualTo(reward, wantReward, 0.01) {
		t.Errorf("expected reward %.4f, got %.4f", wantReward, reward)
	}
	// equity net of the penalty went back to the hedger
	if delta := r.usdc.BalanceOf("hector") - hectorBefore; !almostEqualTo(delta, equity-wantReward, 0.5) {
		t.Errorf("expected remainder %.2f to hedger, got %.2f", equity-wantReward, delta)
	}

	got, _ := r.hedger.Position(pos.ID)
	if got.Status != model.PositionLiquidated {
		t.Errorf("expected liquidated, got %s", got.Status)
	}
}

func TestLiquidationDelayAndWindow(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 10)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	r.forceEurUsd(1.04)

	salt := "n"
	if _, err := r.hedger.CommitLiquidation(ctx, "liquidator", pos.ID, CommitmentHash("liquidator", pos.ID, salt)); err != nil {
		t.Fatalf("CommitLiquidation failed: %v", err)
	}
	// commit delay is 2s
	if _, err := r.hedger.Liquidate(ctx, "liquidator", pos.ID, salt); !errors.Is(err, domain.ErrCommitmentInvalid) {
		t.Errorf("expected ErrCommitmentInvalid before delay, got %v", err)
	}
	// window is 300s
	r.advance(10 * time.Minute)
	if _, err := r.hedger.Liquidate(ctx, "liquidator", pos.ID, salt); !errors.Is(err, domain.ErrCommitmentInvalid) {
		t.Errorf("expected ErrCommitmentInvalid after window, got %v", err)
	}

	// duplicate commitment blocked while one is live
	if _, err := r.hedger.CommitLiquidation(ctx, "liquidator", pos.ID, CommitmentHash("liquidator", pos.ID, "other")); err != nil {
		t.Errorf("expected recommit after expiry, got %v", err)
	}
	if _, err := r.hedger.CommitLiquidation(ctx, "liquidator", pos.ID, "deadbeef"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for live commitment, got %v", err)
	}
}

func TestCommitmentBlocksMarginOps(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 5)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	if _, err := r.hedger.CommitLiquidation(ctx, "liquidator", pos.ID, "aa"); err != nil {
		t.Fatalf("CommitLiquidation failed: %v", err)
	}

	if err := r.hedger.AddMargin(ctx, "hector", pos.ID, 100); !errors.Is(err, domain.ErrTimelockPending) {
		t.Errorf("expected ErrTimelockPending with live commitment, got %v", err)
	}
	if _, err := r.hedger.ClosePosition(ctx, "hector", pos.ID); !errors.Is(err, domain.ErrTimelockPending) {
		t.Errorf("expected ErrTimelockPending on close, got %v", err)
	}

	if err := r.hedger.CancelCommitment(ctx, "liquidator", pos.ID); err != nil {
		t.Fatalf("CancelCommitment failed: %v", err)
	}
	if err := r.hedger.AddMargin(ctx, "hector", pos.ID, 100); err != nil {
		t.Errorf("expected AddMargin after cancel, got %v", err)
	}
}

func TestHedgerRewardsAccrueAndClaim(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 2); err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	// allocate yield directly to the pool, funds staged in the yield account
	r.usdc.Mint(AccountYieldPool, 150)
	r.hedger.AddRewards(150)

	if got := r.hedger.PendingRewards("hector"); !almostEqualTo(got, 150, 0.01) {
		t.Errorf("expected pending 150, got %.4f", got)
	}
	before := r.usdc.BalanceOf("hector")
	claimed, err := r.hedger.ClaimRewards(ctx, "hector")
	if err != nil {
		t.Fatalf("ClaimRewards failed: %v", err)
	}
	if !almostEqualTo(claimed, 150, 0.01) {
		t.Errorf("expected claim 150, got %.4f", claimed)
	}
	if delta := r.usdc.BalanceOf("hector") - before; !almostEqualTo(delta, claimed, 1e-9) {
		t.Errorf("claim not paid out: %.6f != %.6f", delta, claimed)
	}
	if got := r.hedger.PendingRewards("hector"); !almostEqualTo(got, 0, 1e-9) {
		t.Errorf("expected zero pending after claim, got %.9f", got)
	}
}

func TestSweepCommitments(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 5)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	if _, err := r.hedger.CommitLiquidation(ctx, "liquidator", pos.ID, "aa"); err != nil {
		t.Fatalf("CommitLiquidation failed: %v", err)
	}

	if n := r.hedger.SweepCommitments(ctx); n != 0 {
		t.Errorf("expected nothing swept while live, got %d", n)
	}
	r.advance(10 * time.Minute)
	if n := r.hedger.SweepCommitments(ctx); n != 1 {
		t.Errorf("expected 1 swept after expiry, got %d", n)
	}
}

func TestCommitmentsViewHidesExpired(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 5)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	if _, err := r.hedger.CommitLiquidation(ctx, "liquidator", pos.ID, "aa"); err != nil {
		t.Fatalf("CommitLiquidation failed: %v", err)
	}

	live := r.hedger.Commitments()
	if len(live) != 1 || live[0].PositionID != pos.ID {
		t.Fatalf("expected 1 live commitment, got %+v", live)
	}
	r.advance(10 * time.Minute)
	if got := r.hedger.Commitments(); len(got) != 0 {
		t.Errorf("expected expired commitment hidden, got %d", len(got))
	}
}

func TestMarginRatioView(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 10)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}

	// 10x leverage nets 1000 bps at entry; the 2 bps entry fee shaves a little
	ratio, err := r.hedger.MarginRatio(pos.ID)
	if err != nil {
		t.Fatalf("MarginRatio failed: %v", err)
	}
	if ratio < 990 || ratio > 1000 {
		t.Errorf("expected ratio near 1000 bps at entry, got %d", ratio)
	}

	r.forceEurUsd(1.04)
	ratio, err = r.hedger.MarginRatio(pos.ID)
	if err != nil {
		t.Fatalf("MarginRatio failed: %v", err)
	}
	if ratio >= 500 {
		t.Errorf("expected ratio under liquidation threshold at 1.04, got %d", ratio)
	}

	if _, err := r.hedger.MarginRatio("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown position, got %v", err)
	}
}

func TestHasPendingLiquidation(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	pos, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 5)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	if r.hedger.HasPendingLiquidation(pos.ID) {
		t.Fatal("expected no pending liquidation before commit")
	}
	if _, err := r.hedger.CommitLiquidation(ctx, "liquidator", pos.ID, "aa"); err != nil {
		t.Fatalf("CommitLiquidation failed: %v", err)
	}
	if !r.hedger.HasPendingLiquidation(pos.ID) {
		t.Fatal("expected pending liquidation after commit")
	}
	if err := r.hedger.CancelCommitment(ctx, "liquidator", pos.ID); err != nil {
		t.Fatalf("CancelCommitment failed: %v", err)
	}
	if r.hedger.HasPendingLiquidation(pos.ID) {
		t.Fatal("expected no pending liquidation after cancel")
	}
}

func TestLiquidatableScan(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	safe, err := r.hedger.OpenPosition(ctx, "hector", 10_000, 2)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	risky, err := r.hedger.OpenPosition(ctx, "bob", 10_000, 10)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}

	r.forceEurUsd(1.04)
	hits := r.hedger.Liquidatable()
	if len(hits) != 1 {
		t.Fatalf("expected 1 liquidatable position, got %d", len(hits))
	}
	if hits[0].ID != risky.ID {
		t.Errorf("expected %s flagged, got %s", risky.ID, hits[0].ID)
	}
	_ = safe
}
