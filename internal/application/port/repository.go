package port

import (
	"context"

	"quantillon/internal/domain/model"
)

type Repository interface {
	// Price operations
	UpsertLatestPrice(ctx context.Context, source, pair string, price float64, ts int64) error

	// Protocol event log
	InsertEvent(ctx context.Context, ev model.Event) error

	// Token balance operations
	UpsertBalance(ctx context.Context, token, account string, amount float64) error
	ListBalances(ctx context.Context, token string) (map[string]float64, error)

	// Hedge position operations
	UpsertHedgePosition(ctx context.Context, pos *model.HedgePosition) error
	ListOpenHedgePositions(ctx context.Context) ([]*model.HedgePosition, error)

	// Liquidation commitment operations
	UpsertCommitment(ctx context.Context, c *model.LiquidationCommitment) error
	DeleteCommitment(ctx context.Context, positionID string) error
	ListCommitments(ctx context.Context) ([]*model.LiquidationCommitment, error)

	// Governance operations
	UpsertLock(ctx context.Context, l *model.Lock) error
	DeleteLock(ctx context.Context, account string) error
	ListLocks(ctx context.Context) ([]*model.Lock, error)
	UpsertProposal(ctx context.Context, p *model.Proposal) error
	ListProposals(ctx context.Context) ([]*model.Proposal, error)
	UpsertVote(ctx context.Context, v *model.VoteReceipt) error
	ListVotes(ctx context.Context, proposalID string) ([]*model.VoteReceipt, error)

	// Upgrade operations
	UpsertUpgrade(ctx context.Context, u *model.Upgrade) error
	ListUpgrades(ctx context.Context) ([]*model.Upgrade, error)

	// User pool stake operations
	UpsertStake(ctx context.Context, s *model.StakePosition) error
	ListStakes(ctx context.Context) ([]*model.StakePosition, error)

	// Yield ledger operations
	InsertYieldEntry(ctx context.Context, y *model.YieldEntry) error

	// Snapshot operations
	InsertSnapshot(ctx context.Context, ts int64, payload string) error

	// Connection management
	Close() error
}
