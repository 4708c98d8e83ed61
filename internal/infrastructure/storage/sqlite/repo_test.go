package sqlite

import (
	"context"
	"os"
	"testing"

	"quantillon/internal/domain/model"
)

func TestSQLiteRepoUpsertPrice(t *testing.T) {
	dbPath := "test_price.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.UpsertLatestPrice(ctx, "BINANCE", "EURUSD", 1.0850, 1234567890); err != nil {
		t.Fatalf("UpsertLatestPrice failed: %v", err)
	}
	// second write for the same source+pair must update, not duplicate
	if err := repo.UpsertLatestPrice(ctx, "BINANCE", "EURUSD", 1.0862, 1234567999); err != nil {
		t.Fatalf("UpsertLatestPrice update failed: %v", err)
	}

	var n int
	var price float64
	if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(price) FROM prices`).Scan(&n, &price); err != nil {
		t.Fatalf("count prices: %v", err)
	}
	if n != 1 || price != 1.0862 {
		t.Errorf("prices rows=%d price=%v, want 1 row at 1.0862", n, price)
	}
}

func TestSQLiteRepoHedgePositionRoundtrip(t *testing.T) {
	dbPath := "test_hedge.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	pos := &model.HedgePosition{
		ID:         "pos-1",
		Hedger:     "hector",
		Margin:     9980,
		Leverage:   5,
		Notional:   49900,
		EntryPrice: 1.10,
		Status:     model.PositionOpen,
		OpenedAt:   1234567890,
	}
	if err := repo.UpsertHedgePosition(ctx, pos); err != nil {
		t.Fatalf("UpsertHedgePosition failed: %v", err)
	}

	closed := *pos
	closed.ID = "pos-2"
	closed.Status = model.PositionClosed
	closed.ClosePrice = 1.15
	if err := repo.UpsertHedgePosition(ctx, &closed); err != nil {
		t.Fatalf("UpsertHedgePosition closed failed: %v", err)
	}

	open, err := repo.ListOpenHedgePositions(ctx)
	if err != nil {
		t.Fatalf("ListOpenHedgePositions failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	got := open[0]
	if got.ID != "pos-1" || got.Hedger != "hector" || got.Margin != 9980 || got.EntryPrice != 1.10 {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
}

func TestSQLiteRepoCommitments(t *testing.T) {
	dbPath := "test_commit.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	c := &model.LiquidationCommitment{
		ID:          "c-1",
		PositionID:  "pos-1",
		Liquidator:  "liq",
		Hash:        "deadbeef",
		CommittedAt: 100,
		ExpiresAt:   200,
	}
	if err := repo.UpsertCommitment(ctx, c); err != nil {
		t.Fatalf("UpsertCommitment failed: %v", err)
	}

	list, err := repo.ListCommitments(ctx)
	if err != nil {
		t.Fatalf("ListCommitments failed: %v", err)
	}
	if len(list) != 1 || list[0].Hash != "deadbeef" {
		t.Fatalf("commitments = %+v", list)
	}

	if err := repo.DeleteCommitment(ctx, "pos-1"); err != nil {
		t.Fatalf("DeleteCommitment failed: %v", err)
	}
	list, _ = repo.ListCommitments(ctx)
	if len(list) != 0 {
		t.Errorf("commitments after delete = %d, want 0", len(list))
	}
}

func TestSQLiteRepoGovernanceRoundtrip(t *testing.T) {
	dbPath := "test_gov.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	lock := &model.Lock{Account: "alice", Amount: 30_000, Start: 100, End: 200, InitialPower: 120_000}
	if err := repo.UpsertLock(ctx, lock); err != nil {
		t.Fatalf("UpsertLock failed: %v", err)
	}

	prop := &model.Proposal{
		ID:          "prop-1",
		Proposer:    "alice",
		Description: "raise mint fee",
		Action:      &model.ParamChange{Key: "mint_fee_bps", Value: 25},
		StartTime:   100,
		EndTime:     200,
		Quorum:      12_000,
		Status:      model.ProposalActive,
	}
	if err := repo.UpsertProposal(ctx, prop); err != nil {
		t.Fatalf("UpsertProposal failed: %v", err)
	}

	// tallies update in place
	prop.ForVotes = 120_000
	prop.Status = model.ProposalSucceeded
	if err := repo.UpsertProposal(ctx, prop); err != nil {
		t.Fatalf("UpsertProposal update failed: %v", err)
	}

	vote := &model.VoteReceipt{ProposalID: "prop-1", Voter: "alice", Support: true, Weight: 120_000, CastAt: 150}
	if err := repo.UpsertVote(ctx, vote); err != nil {
		t.Fatalf("UpsertVote failed: %v", err)
	}
	// duplicate vote rows are ignored, not duplicated
	if err := repo.UpsertVote(ctx, vote); err != nil {
		t.Fatalf("UpsertVote repeat failed: %v", err)
	}

	locks, err := repo.ListLocks(ctx)
	if err != nil || len(locks) != 1 || locks[0].InitialPower != 120_000 {
		t.Fatalf("ListLocks = %+v, %v", locks, err)
	}
	props, err := repo.ListProposals(ctx)
	if err != nil || len(props) != 1 {
		t.Fatalf("ListProposals = %+v, %v", props, err)
	}
	got := props[0]
	if got.Status != model.ProposalSucceeded || got.ForVotes != 120_000 {
		t.Errorf("proposal update lost: %+v", got)
	}
	if got.Action == nil || got.Action.Key != "mint_fee_bps" || got.Action.Value != 25 {
		t.Errorf("action roundtrip: %+v", got.Action)
	}
	votes, err := repo.ListVotes(ctx, "prop-1")
	if err != nil || len(votes) != 1 || !votes[0].Support {
		t.Fatalf("ListVotes = %+v, %v", votes, err)
	}

	if err := repo.DeleteLock(ctx, "alice"); err != nil {
		t.Fatalf("DeleteLock failed: %v", err)
	}
	locks, _ = repo.ListLocks(ctx)
	if len(locks) != 0 {
		t.Errorf("locks after delete = %d, want 0", len(locks))
	}
}

func TestSQLiteRepoProposalWithoutAction(t *testing.T) {
	dbPath := "test_prop_noaction.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	prop := &model.Proposal{ID: "prop-2", Proposer: "bob", Description: "signal only", StartTime: 1, EndTime: 2, Status: model.ProposalActive}
	if err := repo.UpsertProposal(ctx, prop); err != nil {
		t.Fatalf("UpsertProposal failed: %v", err)
	}

	props, err := repo.ListProposals(ctx)
	if err != nil || len(props) != 1 {
		t.Fatalf("ListProposals = %+v, %v", props, err)
	}
	if props[0].Action != nil {
		t.Errorf("action = %+v, want nil", props[0].Action)
	}
}

func TestSQLiteRepoUpgradeApprovalsRoundtrip(t *testing.T) {
	dbPath := "test_upgrade.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	u := &model.Upgrade{
		ID:         "up-1",
		Component:  "vault",
		NewVersion: "v2",
		Proposer:   "m1",
		ProposedAt: 100,
		ETA:        200,
		ExpiresAt:  300,
		Approvals:  map[string]bool{"m1": true, "m2": true},
		Status:     model.UpgradePending,
	}
	if err := repo.UpsertUpgrade(ctx, u); err != nil {
		t.Fatalf("UpsertUpgrade failed: %v", err)
	}

	list, err := repo.ListUpgrades(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListUpgrades = %+v, %v", list, err)
	}
	got := list[0]
	if got.ApprovalCount() != 2 || !got.Approvals["m2"] {
		t.Errorf("approvals roundtrip: %+v", got.Approvals)
	}
}

func TestSQLiteRepoBalancesAndStakes(t *testing.T) {
	dbPath := "test_bal.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.UpsertBalance(ctx, "USDC", "alice", 1000); err != nil {
		t.Fatalf("UpsertBalance failed: %v", err)
	}
	if err := repo.UpsertBalance(ctx, "USDC", "alice", 900); err != nil {
		t.Fatalf("UpsertBalance update failed: %v", err)
	}
	if err := repo.UpsertBalance(ctx, "QEURO", "alice", 50); err != nil {
		t.Fatalf("UpsertBalance other token failed: %v", err)
	}

	bals, err := repo.ListBalances(ctx, "USDC")
	if err != nil {
		t.Fatalf("ListBalances failed: %v", err)
	}
	if len(bals) != 1 || bals["alice"] != 900 {
		t.Errorf("usdc balances = %v", bals)
	}

	stake := &model.StakePosition{Account: "alice", Deposited: 1000, Staked: 500, RewardDebt: 1.5, Claimed: 10, LastDeposit: 123}
	if err := repo.UpsertStake(ctx, stake); err != nil {
		t.Fatalf("UpsertStake failed: %v", err)
	}
	stakes, err := repo.ListStakes(ctx)
	if err != nil || len(stakes) != 1 {
		t.Fatalf("ListStakes = %+v, %v", stakes, err)
	}
	if stakes[0].Staked != 500 || stakes[0].RewardDebt != 1.5 {
		t.Errorf("stake roundtrip: %+v", stakes[0])
	}
}

func TestSQLiteRepoAppendOnlyWrites(t *testing.T) {
	dbPath := "test_append.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	ev := model.Event{ID: "ev-1", Type: model.EventMint, Actor: "alice", Payload: `{"amount":100}`, Timestamp: 123}
	if err := repo.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	y := &model.YieldEntry{ID: "y-1", Source: model.YieldSourceAave, Amount: 100, UserShare: 50, HedgerShare: 50, ShiftBps: 5000, Timestamp: 123}
	if err := repo.InsertYieldEntry(ctx, y); err != nil {
		t.Fatalf("InsertYieldEntry failed: %v", err)
	}
	if err := repo.InsertSnapshot(ctx, 123, `{"vault":{"qeuro_supply":0}}`); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}
}
