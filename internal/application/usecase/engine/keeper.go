package engine

import (
	"context"

	"quantillon/internal/application/service"
	domainservice "quantillon/internal/domain/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// KeeperDeps wires the scheduled protocol duties. Actor is the account the
// jobs run as and must hold the keeper role.
type KeeperDeps struct {
	Actor  string
	Vault  *service.Vault
	Hedger *service.HedgerPool
	Users  *service.UserPool
	Stq    *service.StQEURO
	Yield  *service.YieldShift
	Gov    *service.Governance
	Locks  *service.Timelock
	Qeuro  *domainservice.Ledger
}

// Keeper runs the recurring jobs the protocol needs to stay current:
// yield rebalancing, proposal finalization, upgrade expiry, stale
// liquidation commitment sweeps, vault harvests, treasury yield routing
// and reward persistence.
type Keeper struct {
	deps KeeperDeps
	cron *cron.Cron
}

func NewKeeper(deps KeeperDeps) *Keeper {
	return &Keeper{deps: deps, cron: cron.New()}
}

func (k *Keeper) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		run  func()
	}{
		{"@every 1m", func() { k.rebalance(ctx) }},
		{"@every 30s", func() { k.sweep(ctx) }},
		{"@every 1h", func() { k.harvest(ctx); k.routeTreasury(ctx) }},
		{"@every 5m", func() { k.persist(ctx) }},
	}
	for _, j := range jobs {
		if _, err := k.cron.AddFunc(j.spec, j.run); err != nil {
			return err
		}
	}
	k.cron.Start()
	log.Info().Msg("keeper started")
	return nil
}

// Stop halts scheduling and waits for in-flight jobs.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	log.Info().Msg("keeper stopped")
}

func (k *Keeper) rebalance(ctx context.Context) {
	d := k.deps.Yield.Update(ctx)
	log.Debug().
		Int64("user_bps", d.UserBps).
		Int64("hedger_bps", d.HedgerBps).
		Float64("pool_ratio", d.PoolRatio).
		Msg("yield distribution updated")

	if n := k.deps.Gov.SweepFinalize(ctx); n > 0 {
		log.Info().Int("proposals", n).Msg("keeper finalized proposals")
	}
	if n := k.deps.Locks.SweepExpired(ctx); n > 0 {
		log.Info().Int("upgrades", n).Msg("keeper expired upgrades")
	}
}

func (k *Keeper) sweep(ctx context.Context) {
	if n := k.deps.Hedger.SweepCommitments(ctx); n > 0 {
		log.Info().Int("commitments", n).Msg("keeper swept stale commitments")
	}
}

func (k *Keeper) harvest(ctx context.Context) {
	got, err := k.deps.Vault.Harvest(ctx, k.deps.Actor)
	if err != nil {
		log.Warn().Err(err).Msg("keeper harvest failed")
		return
	}
	if got > 0 {
		log.Info().Float64("usdc", got).Msg("keeper harvested yield")
	}
}

// routeTreasury pushes any QEURO sitting in the keeper account to stQEURO
// holders, raising the exchange rate.
func (k *Keeper) routeTreasury(ctx context.Context) {
	bal := k.deps.Qeuro.BalanceOf(k.deps.Actor)
	if bal <= 0 {
		return
	}
	if err := k.deps.Stq.DistributeYield(ctx, k.deps.Actor, bal); err != nil {
		log.Debug().Err(err).Float64("qeuro", bal).Msg("treasury yield not routed")
		return
	}
	log.Info().Float64("qeuro", bal).Msg("keeper routed treasury yield to stqeuro")
}

func (k *Keeper) persist(ctx context.Context) {
	k.deps.Hedger.PersistRewards(ctx)
	k.deps.Users.PersistRewards(ctx)
}
