package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain"
	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const userRewardsBook = "USER_REWARDS"

type UserPoolDeps struct {
	Vault  *Vault
	Qeuro  *domainservice.Ledger
	Usdc   *domainservice.Ledger
	Params *domainservice.ParamStore
	Access *domainservice.AccessControl
	Repo   port.Repository
}

// UserPool is the deposit side of the protocol. Deposits mint QEURO through
// the vault; staked QEURO earns the user share of shifted yield, paid in
// USDC. Claims are gated by a holding period measured from the last deposit
// so yield cannot be farmed with flash capital.
type UserPool struct {
	mu sync.Mutex

	vault  *Vault
	qeuro  *domainservice.Ledger
	usdc   *domainservice.Ledger
	params *domainservice.ParamStore
	access *domainservice.AccessControl
	repo   port.Repository

	stakes        map[string]*model.StakePosition
	totalStaked   float64 // QEURO
	totalDeposits float64 // USDC principal
	rewardIndex   float64
	accrued       map[string]float64
	pendingYield  float64

	now func() time.Time // test hook
}

func NewUserPool(deps UserPoolDeps) *UserPool {
	return &UserPool{
		vault:   deps.Vault,
		qeuro:   deps.Qeuro,
		usdc:    deps.Usdc,
		params:  deps.Params,
		access:  deps.Access,
		repo:    deps.Repo,
		stakes:  make(map[string]*model.StakePosition),
		accrued: make(map[string]float64),
		now:     time.Now,
	}
}

// ========== RewardPool ==========

// PoolSize is total USDC principal, the pool's USD size for the yield shift.
func (u *UserPool) PoolSize() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.totalDeposits
}

// AddRewards folds allocated yield into the stakers' reward index.
func (u *UserPool) AddRewards(amount float64) {
	if amount <= 0 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.totalStaked <= 0 {
		u.pendingYield += amount
		return
	}
	u.rewardIndex += amount / u.totalStaked
}

// ========== Deposits ==========

// Deposit mints QEURO for the account through the vault and records the
// USDC principal.
func (u *UserPool) Deposit(ctx context.Context, account string, usdcIn, minQeuroOut float64) (float64, error) {
	if err := u.access.CheckNotPaused(domainservice.ComponentUserPool); err != nil {
		return 0, err
	}
	out, err := u.vault.Mint(ctx, account, usdcIn, minQeuroOut)
	if err != nil {
		return 0, err
	}

	u.mu.Lock()
	st := u.stakeLocked(account)
	st.Deposited += usdcIn
	st.LastDeposit = u.now().UnixMilli()
	st.UpdatedAt = st.LastDeposit
	u.totalDeposits += usdcIn
	snapshot := *st
	u.mu.Unlock()

	_ = u.repo.UpsertStake(ctx, &snapshot)
	_ = u.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUserDeposit, Actor: account,
		Payload:   fmt.Sprintf(`{"usdc_in":%.6f,"qeuro_out":%.6f,"deposited":%.6f}`, usdcIn, out, snapshot.Deposited),
		Timestamp: snapshot.UpdatedAt,
	})
	log.Info().Str("account", account).Float64("usdc_in", usdcIn).
		Float64("qeuro_out", out).Msg("user deposited")
	return out, nil
}

// Withdraw redeems the account's QEURO through the vault and releases the
// matching principal. Staked QEURO must be unstaked first.
func (u *UserPool) Withdraw(ctx context.Context, account string, qeuroIn, minUsdcOut float64) (float64, error) {
	if err := u.access.CheckNotPaused(domainservice.ComponentUserPool); err != nil {
		return 0, err
	}
	out, err := u.vault.Redeem(ctx, account, qeuroIn, minUsdcOut)
	if err != nil {
		return 0, err
	}

	u.mu.Lock()
	st := u.stakeLocked(account)
	released := math.Min(st.Deposited, out)
	st.Deposited -= released
	st.UpdatedAt = u.now().UnixMilli()
	u.totalDeposits -= released
	snapshot := *st
	u.mu.Unlock()

	_ = u.repo.UpsertStake(ctx, &snapshot)
	_ = u.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUserWithdraw, Actor: account,
		Payload:   fmt.Sprintf(`{"qeuro_in":%.6f,"usdc_out":%.6f,"deposited":%.6f}`, qeuroIn, out, snapshot.Deposited),
		Timestamp: snapshot.UpdatedAt,
	})
	log.Info().Str("account", account).Float64("qeuro_in", qeuroIn).
		Float64("usdc_out", out).Msg("user withdrew")
	return out, nil
}

// ========== Staking ==========

// Stake moves the account's QEURO into the pool to earn the user share of
// shifted yield.
func (u *UserPool) Stake(ctx context.Context, account string, amount float64) error {
	if err := u.access.CheckNotPaused(domainservice.ComponentUserPool); err != nil {
		return err
	}
	if account == "" || IsProtocolAccount(account) {
		return domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := u.qeuro.Transfer(account, AccountUserPool, amount); err != nil {
		return fmt.Errorf("stake: %w", err)
	}

	u.mu.Lock()
	st := u.stakeLocked(account)
	u.settleLocked(st)
	st.Staked += amount
	u.totalStaked += amount
	if u.pendingYield > 0 {
		u.rewardIndex += u.pendingYield / u.totalStaked
		u.pendingYield = 0
	}
	st.RewardDebt = st.Staked * u.rewardIndex
	st.LastDeposit = u.now().UnixMilli()
	st.UpdatedAt = st.LastDeposit
	snapshot := *st
	u.mu.Unlock()

	_ = u.repo.UpsertStake(ctx, &snapshot)
	_ = u.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUserStaked, Actor: account,
		Payload:   fmt.Sprintf(`{"amount":%.6f,"staked":%.6f}`, amount, snapshot.Staked),
		Timestamp: snapshot.UpdatedAt,
	})
	persistBalances(ctx, u.repo, u.qeuro, account, AccountUserPool)

	log.Info().Str("account", account).Float64("amount", amount).Msg("qeuro staked")
	return nil
}

// Unstake returns staked QEURO to the account.
func (u *UserPool) Unstake(ctx context.Context, account string, amount float64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	u.mu.Lock()
	st := u.stakes[account]
	if st == nil || st.Staked < amount {
		u.mu.Unlock()
		return fmt.Errorf("unstake %.6f: %w", amount, domain.ErrInsufficientBalance)
	}
	if err := u.qeuro.Transfer(AccountUserPool, account, amount); err != nil {
		u.mu.Unlock()
		return fmt.Errorf("unstake: %w", err)
	}
	u.settleLocked(st)
	st.Staked -= amount
	u.totalStaked -= amount
	st.RewardDebt = st.Staked * u.rewardIndex
	st.UpdatedAt = u.now().UnixMilli()
	snapshot := *st
	u.mu.Unlock()

	_ = u.repo.UpsertStake(ctx, &snapshot)
	_ = u.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUserUnstaked, Actor: account,
		Payload:   fmt.Sprintf(`{"amount":%.6f,"staked":%.6f}`, amount, snapshot.Staked),
		Timestamp: snapshot.UpdatedAt,
	})
	persistBalances(ctx, u.repo, u.qeuro, account, AccountUserPool)

	log.Info().Str("account", account).Float64("amount", amount).Msg("qeuro unstaked")
	return nil
}

// ClaimStakingRewards pays out the account's accumulated yield share in USDC.
func (u *UserPool) ClaimStakingRewards(ctx context.Context, account string) (float64, error) {
	u.mu.Lock()
	st := u.stakes[account]
	if st == nil {
		u.mu.Unlock()
		return 0, nil
	}
	holdMs := int64(u.params.Get(domainservice.ParamHoldingPeriodSec)) * 1000
	if st.LastDeposit > 0 && u.now().UnixMilli()-st.LastDeposit < holdMs {
		u.mu.Unlock()
		return 0, fmt.Errorf("claim requires %ds since last deposit: %w",
			int64(u.params.Get(domainservice.ParamHoldingPeriodSec)), domain.ErrHoldingPeriod)
	}
	u.settleLocked(st)
	st.RewardDebt = st.Staked * u.rewardIndex
	amount := u.accrued[account]
	if amount <= 0 {
		u.mu.Unlock()
		return 0, nil
	}
	// float dust can leave the pool a hair short of the sum of claims
	if bal := u.usdc.BalanceOf(AccountYieldPool); amount > bal {
		amount = bal
	}
	if err := u.usdc.Transfer(AccountYieldPool, account, amount); err != nil {
		u.mu.Unlock()
		return 0, fmt.Errorf("claim rewards: %w", err)
	}
	delete(u.accrued, account)
	st.Claimed += amount
	st.UpdatedAt = u.now().UnixMilli()
	snapshot := *st
	u.mu.Unlock()

	_ = u.repo.UpsertStake(ctx, &snapshot)
	_ = u.repo.UpsertBalance(ctx, userRewardsBook, account, 0)
	_ = u.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventYieldClaimed, Actor: account,
		Payload:   fmt.Sprintf(`{"pool":"user","amount":%.6f}`, amount),
		Timestamp: snapshot.UpdatedAt,
	})
	persistBalances(ctx, u.repo, u.usdc, account, AccountYieldPool)

	log.Info().Str("account", account).Float64("amount", amount).Msg("staking rewards claimed")
	return amount, nil
}

// PendingRewards is the account's claimable yield, settled plus unsettled.
func (u *UserPool) PendingRewards(account string) float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	total := u.accrued[account]
	if st := u.stakes[account]; st != nil {
		total += st.Staked*u.rewardIndex - st.RewardDebt
	}
	return total
}

// ========== Views ==========

// StakeOf returns a copy of the account's pool record.
func (u *UserPool) StakeOf(account string) (*model.StakePosition, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	st := u.stakes[account]
	if st == nil {
		return nil, fmt.Errorf("stake %s: %w", account, domain.ErrNotFound)
	}
	snapshot := *st
	return &snapshot, nil
}

// Stats summarizes the pool.
func (u *UserPool) Stats() model.UserPoolStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	st := model.UserPoolStats{
		TotalDeposits: u.totalDeposits,
		TotalStaked:   u.totalStaked,
		RewardIndex:   u.rewardIndex,
	}
	for _, s := range u.stakes {
		if s.Staked > 0 {
			st.Stakers++
			st.PendingRewards += s.Staked*u.rewardIndex - s.RewardDebt
		}
	}
	for _, amt := range u.accrued {
		st.PendingRewards += amt
	}
	return st
}

// Restore reloads pool state from storage at boot.
func (u *UserPool) Restore(stakes []*model.StakePosition, rewards map[string]float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stakes = make(map[string]*model.StakePosition, len(stakes))
	u.totalStaked = 0
	u.totalDeposits = 0
	for _, s := range stakes {
		cp := *s
		u.stakes[cp.Account] = &cp
		u.totalStaked += cp.Staked
		u.totalDeposits += cp.Deposited
	}
	u.accrued = make(map[string]float64)
	for account, amt := range rewards {
		if account == rewardIndexKey {
			u.rewardIndex = amt
			continue
		}
		if amt > 0 {
			u.accrued[account] = amt
		}
	}
}

// PersistRewards writes the reward book so claims survive a restart.
func (u *UserPool) PersistRewards(ctx context.Context) {
	u.mu.Lock()
	index := u.rewardIndex
	accrued := make(map[string]float64, len(u.accrued))
	for k, v := range u.accrued {
		accrued[k] = v
	}
	u.mu.Unlock()

	_ = u.repo.UpsertBalance(ctx, userRewardsBook, rewardIndexKey, index)
	for account, amt := range accrued {
		_ = u.repo.UpsertBalance(ctx, userRewardsBook, account, amt)
	}
}

// ========== internals ==========

func (u *UserPool) stakeLocked(account string) *model.StakePosition {
	st := u.stakes[account]
	if st == nil {
		st = &model.StakePosition{Account: account}
		u.stakes[account] = st
	}
	return st
}

// settleLocked moves unsettled rewards into the accrued bucket. Callers hold
// u.mu and update RewardDebt afterwards.
func (u *UserPool) settleLocked(st *model.StakePosition) {
	pending := st.Staked*u.rewardIndex - st.RewardDebt
	if pending > 0 {
		u.accrued[st.Account] += pending
	}
	st.RewardDebt = st.Staked * u.rewardIndex
}
