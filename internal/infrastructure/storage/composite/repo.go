package composite

import (
	"context"

	"quantillon/internal/application/port"
	"quantillon/internal/domain/model"
)

// Repo fans writes out to every backend and serves reads from the first
// one. Order matters: New(primary, caches...).
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) each(fn func(port.Repository) error) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := fn(repo); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) primary() port.Repository {
	if len(r.repos) == 0 {
		return nil
	}
	return r.repos[0]
}

func (r *Repo) Close() error {
	return r.each(func(repo port.Repository) error {
		return repo.Close()
	})
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, pair string, price float64, ts int64) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertLatestPrice(ctx, source, pair, price, ts)
	})
}

func (r *Repo) InsertEvent(ctx context.Context, ev model.Event) error {
	return r.each(func(repo port.Repository) error {
		return repo.InsertEvent(ctx, ev)
	})
}

func (r *Repo) UpsertBalance(ctx context.Context, token, account string, amount float64) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertBalance(ctx, token, account, amount)
	})
}

func (r *Repo) ListBalances(ctx context.Context, token string) (map[string]float64, error) {
	p := r.primary()
	if p == nil {
		return nil, nil
	}
	return p.ListBalances(ctx, token)
}

func (r *Repo) UpsertHedgePosition(ctx context.Context, pos *model.HedgePosition) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertHedgePosition(ctx, pos)
	})
}

func (r *Repo) ListOpenHedgePositions(ctx context.Context) ([]*model.HedgePosition, error) {
	p := r.primary()
	if p == nil {
		return nil, nil
	}
	return p.ListOpenHedgePositions(ctx)
}

func (r *Repo) UpsertCommitment(ctx context.Context, c *model.LiquidationCommitment) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertCommitment(ctx, c)
	})
}

func (r *Repo) DeleteCommitment(ctx context.Context, positionID string) error {
	return r.each(func(repo port.Repository) error {
		return repo.DeleteCommitment(ctx, positionID)
	})
}

func (r *Repo) ListCommitments(ctx context.Context) ([]*model.LiquidationCommitment, error) {
	p := r.primary()
	if p == nil {
		return nil, nil
	}
	return p.ListCommitments(ctx)
}

func (r *Repo) UpsertLock(ctx context.Context, l *model.Lock) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertLock(ctx, l)
	})
}

func (r *Repo) DeleteLock(ctx context.Context, account string) error {
	return r.each(func(repo port.Repository) error {
		return repo.DeleteLock(ctx, account)
	})
}

func (r *Repo) ListLocks(ctx context.Context) ([]*model.Lock, error) {
	p := r.primary()
	if p == nil {
		return nil, nil
	}
	return p.ListLocks(ctx)
}

func (r *Repo) UpsertProposal(ctx context.Context, p *model.Proposal) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertProposal(ctx, p)
	})
}

func (r *Repo) ListProposals(ctx context.Context) ([]*model.Proposal, error) {
	p := r.primary()
	if p == nil {
		return nil, nil
	}
	return p.ListProposals(ctx)
}

func (r *Repo) UpsertVote(ctx context.Context, v *model.VoteReceipt) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertVote(ctx, v)
	})
}

func (r *Repo) ListVotes(ctx context.Context, proposalID string) ([]*model.VoteReceipt, error) {
	p := r.primary()
	if p == nil {
		return nil, nil
	}
	return p.ListVotes(ctx, proposalID)
}

func (r *Repo) UpsertUpgrade(ctx context.Context, u *model.Upgrade) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertUpgrade(ctx, u)
	})
}

func (r *Repo) ListUpgrades(ctx context.Context) ([]*model.Upgrade, error) {
	p := r.primary()
	if p == nil {
		return nil, nil
	}
	return p.ListUpgrades(ctx)
}

func (r *Repo) UpsertStake(ctx context.Context, s *model.StakePosition) error {
	return r.each(func(repo port.Repository) error {
		return repo.UpsertStake(ctx, s)
	})
}

func (r *Repo) ListStakes(ctx context.Context) ([]*model.StakePosition, error) {
	p := r.primary()
	if p == nil {
		return nil, nil
	}
	return p.ListStakes(ctx)
}

func (r *Repo) InsertYieldEntry(ctx context.Context, y *model.YieldEntry) error {
	return r.each(func(repo port.Repository) error {
		return repo.InsertYieldEntry(ctx, y)
	})
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	return r.each(func(repo port.Repository) error {
		return repo.InsertSnapshot(ctx, ts, payload)
	})
}

var _ port.Repository = (*Repo)(nil)
