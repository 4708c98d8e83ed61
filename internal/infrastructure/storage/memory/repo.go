package memory

import (
	"context"
	"sync"

	"quantillon/internal/application/port"
	"quantillon/internal/domain/model"
)

type balanceKey struct {
	token   string
	account string
}

type voteKey struct {
	proposalID string
	voter      string
}

// Repo keeps all protocol state in process memory. Useful for tests and
// for runs where durability does not matter.
type Repo struct {
	mu          sync.RWMutex
	prices      map[string]float64
	events      map[string]model.Event
	balances    map[balanceKey]float64
	positions   map[string]model.HedgePosition
	commitments map[string]model.LiquidationCommitment
	locks       map[string]model.Lock
	proposals   map[string]model.Proposal
	votes       map[voteKey]model.VoteReceipt
	upgrades    map[string]model.Upgrade
	stakes      map[string]model.StakePosition
	yields      []model.YieldEntry
	snapshots   []string
}

func New() *Repo {
	return &Repo{
		prices:      map[string]float64{},
		events:      map[string]model.Event{},
		balances:    map[balanceKey]float64{},
		positions:   map[string]model.HedgePosition{},
		commitments: map[string]model.LiquidationCommitment{},
		locks:       map[string]model.Lock{},
		proposals:   map[string]model.Proposal{},
		votes:       map[voteKey]model.VoteReceipt{},
		upgrades:    map[string]model.Upgrade{},
		stakes:      map[string]model.StakePosition{},
	}
}

func (r *Repo) Close() error { return nil }

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, pair string, price float64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[source+":"+pair] = price
	return nil
}

func (r *Repo) InsertEvent(ctx context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[ev.ID]; !ok {
		r.events[ev.ID] = ev
	}
	return nil
}

func (r *Repo) UpsertBalance(ctx context.Context, token, account string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[balanceKey{token, account}] = amount
	return nil
}

func (r *Repo) ListBalances(ctx context.Context, token string) (map[string]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]float64{}
	for k, v := range r.balances {
		if k.token == token {
			out[k.account] = v
		}
	}
	return out, nil
}

func (r *Repo) UpsertHedgePosition(ctx context.Context, pos *model.HedgePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[pos.ID] = *pos
	return nil
}

func (r *Repo) ListOpenHedgePositions(ctx context.Context) ([]*model.HedgePosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.HedgePosition
	for _, p := range r.positions {
		if p.Status == model.PositionOpen {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *Repo) UpsertCommitment(ctx context.Context, c *model.LiquidationCommitment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitments[c.PositionID] = *c
	return nil
}

func (r *Repo) DeleteCommitment(ctx context.Context, positionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commitments, positionID)
	return nil
}

func (r *Repo) ListCommitments(ctx context.Context) ([]*model.LiquidationCommitment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.LiquidationCommitment
	for _, c := range r.commitments {
		cp := c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Repo) UpsertLock(ctx context.Context, l *model.Lock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks[l.Account] = *l
	return nil
}

func (r *Repo) DeleteLock(ctx context.Context, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, account)
	return nil
}

func (r *Repo) ListLocks(ctx context.Context) ([]*model.Lock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Lock
	for _, l := range r.locks {
		cp := l
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Repo) UpsertProposal(ctx context.Context, p *model.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals[p.ID] = *p
	return nil
}

func (r *Repo) ListProposals(ctx context.Context) ([]*model.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Proposal
	for _, p := range r.proposals {
		cp := p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Repo) UpsertVote(ctx context.Context, v *model.VoteReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := voteKey{v.ProposalID, v.Voter}
	if _, ok := r.votes[k]; !ok {
		r.votes[k] = *v
	}
	return nil
}

func (r *Repo) ListVotes(ctx context.Context, proposalID string) ([]*model.VoteReceipt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.VoteReceipt
	for k, v := range r.votes {
		if k.proposalID == proposalID {
			cp := v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *Repo) UpsertUpgrade(ctx context.Context, u *model.Upgrade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upgrades[u.ID] = *u
	return nil
}

func (r *Repo) ListUpgrades(ctx context.Context) ([]*model.Upgrade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Upgrade
	for _, u := range r.upgrades {
		cp := u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Repo) UpsertStake(ctx context.Context, s *model.StakePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stakes[s.Account] = *s
	return nil
}

func (r *Repo) ListStakes(ctx context.Context) ([]*model.StakePosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.StakePosition
	for _, s := range r.stakes {
		cp := s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Repo) InsertYieldEntry(ctx context.Context, y *model.YieldEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.yields = append(r.yields, *y)
	return nil
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, payload)
	return nil
}

var _ port.Repository = (*Repo)(nil)
