package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RewardPool is the receiving side of a yield allocation. The user pool and
// the hedger pool both implement it.
type RewardPool interface {
	// PoolSize is the pool's USD-equivalent size, used for the shift ratio.
	PoolSize() float64
	// AddRewards credits allocated USDC yield to the pool's reward index.
	AddRewards(amount float64)
}

type YieldShiftDeps struct {
	Params *domainservice.ParamStore
	Usdc   *domainservice.Ledger
	Repo   port.Repository
}

// YieldShift splits incoming yield between the user pool and the hedger pool.
// The split follows the time-weighted pool size ratio: a user-heavy protocol
// pays hedgers a larger share to attract hedging capacity, and vice versa.
// Each update step is rate limited so the split cannot swing abruptly.
type YieldShift struct {
	mu sync.Mutex

	params *domainservice.ParamStore
	usdc   *domainservice.Ledger
	repo   port.Repository

	user   RewardPool
	hedger RewardPool

	dist     model.YieldDistribution
	bySource map[model.YieldSource]float64

	// yield credited before pools were bound, flushed on BindPools
	carryUser   float64
	carryHedger float64

	now func() time.Time // test hook
}

func NewYieldShift(deps YieldShiftDeps) *YieldShift {
	base := deps.Params.GetBps(domainservice.ParamBaseShiftBps)
	return &YieldShift{
		params: deps.Params,
		usdc:   deps.Usdc,
		repo:   deps.Repo,
		dist: model.YieldDistribution{
			UserBps:   10_000 - base,
			HedgerBps: base,
		},
		bySource: make(map[model.YieldSource]float64),
		now:      time.Now,
	}
}

// BindPools wires the two reward pools. Construction order puts the shift
// before the pools, so binding happens during context assembly.
func (y *YieldShift) BindPools(user, hedger RewardPool) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.user = user
	y.hedger = hedger
	if y.carryUser > 0 {
		user.AddRewards(y.carryUser)
		y.carryUser = 0
	}
	if y.carryHedger > 0 {
		hedger.AddRewards(y.carryHedger)
		y.carryHedger = 0
	}
}

// AddYield moves `amount` USDC from the originating account into the yield
// pool and splits it at the current distribution.
func (y *YieldShift) AddYield(ctx context.Context, source model.YieldSource, amount float64, from string) {
	if amount <= 0 {
		return
	}
	if err := y.usdc.Transfer(from, AccountYieldPool, amount); err != nil {
		log.Error().Err(err).Str("source", string(source)).
			Float64("amount", amount).Msg("yield transfer failed")
		return
	}

	y.mu.Lock()
	hedgerShare := domainservice.BpsOf(amount, y.dist.HedgerBps)
	userShare := amount - hedgerShare
	shiftBps := y.dist.HedgerBps
	y.dist.TotalYield += amount
	y.bySource[source] += amount

	if y.user != nil {
		y.user.AddRewards(userShare)
	} else {
		y.carryUser += userShare
	}
	if y.hedger != nil {
		y.hedger.AddRewards(hedgerShare)
	} else {
		y.carryHedger += hedgerShare
	}
	ts := y.now().UnixMilli()
	y.mu.Unlock()

	entry := &model.YieldEntry{
		ID:          uuid.NewString(),
		Source:      source,
		Amount:      amount,
		UserShare:   userShare,
		HedgerShare: hedgerShare,
		ShiftBps:    shiftBps,
		Timestamp:   ts,
	}
	_ = y.repo.InsertYieldEntry(ctx, entry)
	_ = y.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventYieldAdded,
		Payload:   fmt.Sprintf(`{"source":%q,"amount":%.6f,"user":%.6f,"hedger":%.6f}`, source, amount, userShare, hedgerShare),
		Timestamp: ts,
	})
	log.Debug().Str("source", string(source)).Float64("amount", amount).
		Float64("user_share", userShare).Float64("hedger_share", hedgerShare).Msg("yield added")
}

// Update advances the pool TWAPs and steps the distribution toward the ideal
// split for the current ratio. Called on the keeper cadence.
func (y *YieldShift) Update(ctx context.Context) model.YieldDistribution {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.user == nil || y.hedger == nil {
		return y.dist
	}

	nowMs := y.now().UnixMilli()
	windowSec := int64(y.params.Get(domainservice.ParamTwapWindowSec))
	elapsedSec := int64(0)
	if y.dist.LastUpdate > 0 {
		elapsedSec = (nowMs - y.dist.LastUpdate) / 1000
	}

	userSpot := y.user.PoolSize()
	hedgerSpot := y.hedger.PoolSize()
	if y.dist.LastUpdate == 0 {
		y.dist.UserTWAP = userSpot
		y.dist.HedgerTWAP = hedgerSpot
	} else {
		y.dist.UserTWAP = domainservice.TWAPUpdate(y.dist.UserTWAP, userSpot, elapsedSec, windowSec)
		y.dist.HedgerTWAP = domainservice.TWAPUpdate(y.dist.HedgerTWAP, hedgerSpot, elapsedSec, windowSec)
	}

	ratio := 0.0
	if y.dist.HedgerTWAP > 0 {
		ratio = y.dist.UserTWAP / y.dist.HedgerTWAP
	}
	ideal := domainservice.IdealHedgerShareBps(
		ratio,
		y.params.Get(domainservice.ParamTargetPoolRatio),
		y.params.GetBps(domainservice.ParamBaseShiftBps),
		y.params.GetBps(domainservice.ParamMinShiftBps),
		y.params.GetBps(domainservice.ParamMaxShiftBps),
	)
	next := domainservice.StepShiftBps(y.dist.HedgerBps, ideal, y.params.GetBps(domainservice.ParamAdjustmentSpeedBps))

	changed := next != y.dist.HedgerBps
	y.dist.HedgerBps = next
	y.dist.UserBps = 10_000 - next
	y.dist.PoolRatio = ratio
	y.dist.LastUpdate = nowMs

	if changed {
		_ = y.repo.InsertEvent(ctx, model.Event{
			ID: uuid.NewString(), Type: model.EventShiftUpdated,
			Payload:   fmt.Sprintf(`{"hedger_bps":%d,"user_bps":%d,"ratio":%.4f}`, next, 10_000-next, ratio),
			Timestamp: nowMs,
		})
		log.Info().Int64("hedger_bps", next).Int64("ideal_bps", ideal).
			Float64("pool_ratio", ratio).Msg("yield shift updated")
	}
	return y.dist
}

// Distribution returns the current split.
func (y *YieldShift) Distribution() model.YieldDistribution {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.dist
}

// Sources returns yield received per source since boot.
func (y *YieldShift) Sources() map[model.YieldSource]float64 {
	y.mu.Lock()
	defer y.mu.Unlock()
	out := make(map[model.YieldSource]float64, len(y.bySource))
	for src, amt := range y.bySource {
		out[src] = amt
	}
	return out
}

// YieldMetrics is the read-model for the status API.
type YieldMetrics struct {
	Distribution   model.YieldDistribution `json:"distribution"`
	UserPoolSize   float64                 `json:"user_pool_size"`
	HedgerPoolSize float64                 `json:"hedger_pool_size"`
	Unclaimed      float64                 `json:"unclaimed"` // USDC still in the yield pool account
}

func (y *YieldShift) Metrics() YieldMetrics {
	y.mu.Lock()
	defer y.mu.Unlock()
	m := YieldMetrics{
		Distribution: y.dist,
		Unclaimed:    y.usdc.BalanceOf(AccountYieldPool),
	}
	if y.user != nil {
		m.UserPoolSize = y.user.PoolSize()
	}
	if y.hedger != nil {
		m.HedgerPoolSize = y.hedger.PoolSize()
	}
	return m
}
