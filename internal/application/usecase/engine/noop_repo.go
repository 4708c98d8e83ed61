package engine

import (
	"context"

	"quantillon/internal/application/port"
	"quantillon/internal/domain/model"
)

// noopRepo satisfies port.Repository when persistence is disabled.
// Writes vanish and every list comes back empty.
type noopRepo struct{}

func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) UpsertLatestPrice(ctx context.Context, source, pair string, price float64, ts int64) error {
	return nil
}

func (n *noopRepo) InsertEvent(ctx context.Context, ev model.Event) error {
	return nil
}

func (n *noopRepo) UpsertBalance(ctx context.Context, token, account string, amount float64) error {
	return nil
}

func (n *noopRepo) ListBalances(ctx context.Context, token string) (map[string]float64, error) {
	return nil, nil
}

func (n *noopRepo) UpsertHedgePosition(ctx context.Context, pos *model.HedgePosition) error {
	return nil
}

func (n *noopRepo) ListOpenHedgePositions(ctx context.Context) ([]*model.HedgePosition, error) {
	return nil, nil
}

func (n *noopRepo) UpsertCommitment(ctx context.Context, c *model.LiquidationCommitment) error {
	return nil
}

func (n *noopRepo) DeleteCommitment(ctx context.Context, positionID string) error {
	return nil
}

func (n *noopRepo) ListCommitments(ctx context.Context) ([]*model.LiquidationCommitment, error) {
	return nil, nil
}

func (n *noopRepo) UpsertLock(ctx context.Context, l *model.Lock) error {
	return nil
}

func (n *noopRepo) DeleteLock(ctx context.Context, account string) error {
	return nil
}

func (n *noopRepo) ListLocks(ctx context.Context) ([]*model.Lock, error) {
	return nil, nil
}

func (n *noopRepo) UpsertProposal(ctx context.Context, p *model.Proposal) error {
	return nil
}

func (n *noopRepo) ListProposals(ctx context.Context) ([]*model.Proposal, error) {
	return nil, nil
}

func (n *noopRepo) UpsertVote(ctx context.Context, v *model.VoteReceipt) error {
	return nil
}

func (n *noopRepo) ListVotes(ctx context.Context, proposalID string) ([]*model.VoteReceipt, error) {
	return nil, nil
}

func (n *noopRepo) UpsertUpgrade(ctx context.Context, u *model.Upgrade) error {
	return nil
}

func (n *noopRepo) ListUpgrades(ctx context.Context) ([]*model.Upgrade, error) {
	return nil, nil
}

func (n *noopRepo) UpsertStake(ctx context.Context, s *model.StakePosition) error {
	return nil
}

func (n *noopRepo) ListStakes(ctx context.Context) ([]*model.StakePosition, error) {
	return nil, nil
}

func (n *noopRepo) InsertYieldEntry(ctx context.Context, y *model.YieldEntry) error {
	return nil
}

func (n *noopRepo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	return nil
}

func (n *noopRepo) Close() error {
	return nil
}
