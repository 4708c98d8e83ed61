package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain"
	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Rate-limited hedger operations.
const OpHedgeOpen = "hedge_open"

// Pseudo-token book used to persist reward accounting across restarts.
const (
	hedgerRewardsBook = "HEDGER_REWARDS"
	rewardIndexKey    = "@index"
)

// CommitmentHash is the commit-reveal binding: a liquidator commits
// hex(sha256(liquidator|position|salt)) and later reveals the salt.
func CommitmentHash(liquidator, positionID, salt string) string {
	sum := sha256.Sum256([]byte(liquidator + "|" + positionID + "|" + salt))
	return hex.EncodeToString(sum[:])
}

type HedgerPoolDeps struct {
	Oracle *Oracle
	Usdc   *domainservice.Ledger
	Params *domainservice.ParamStore
	Limits *domainservice.RateLimiter
	Access *domainservice.AccessControl
	Yield  *YieldShift
	Repo   port.Repository
}

// HedgerPool carries the protocol's EUR/USD exposure. Hedgers post USDC
// margin for leveraged long EUR/USD positions; their PnL offsets the vault's
// liability moves. Undercollateralized positions are liquidated through a
// two-phase commit-reveal so competing liquidators cannot snipe each other's
// pending executions. Yield allocated to the pool accrues per unit of margin.
type HedgerPool struct {
	mu sync.Mutex

	oracle *Oracle
	usdc   *domainservice.Ledger
	params *domainservice.ParamStore
	limits *domainservice.RateLimiter
	access *domainservice.AccessControl
	yield  *YieldShift
	repo   port.Repository

	positions   map[string]*model.HedgePosition
	commitments map[string]*model.LiquidationCommitment // position id -> live commitment

	totalMargin  float64
	rewardIndex  float64            // rewards per unit margin, monotonic
	accrued      map[string]float64 // hedger -> settled unclaimed rewards
	pendingYield float64            // rewards received while the pool was empty

	now func() time.Time // test hook
}

func NewHedgerPool(deps HedgerPoolDeps) *HedgerPool {
	return &HedgerPool{
		oracle:      deps.Oracle,
		usdc:        deps.Usdc,
		params:      deps.Params,
		limits:      deps.Limits,
		access:      deps.Access,
		yield:       deps.Yield,
		repo:        deps.Repo,
		positions:   make(map[string]*model.HedgePosition),
		commitments: make(map[string]*model.LiquidationCommitment),
		accrued:     make(map[string]float64),
		now:         time.Now,
	}
}

// ========== RewardPool ==========

// PoolSize is total open margin, the pool's USD size for the yield shift.
func (h *HedgerPool) PoolSize() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalMargin
}

// AddRewards folds allocated yield into the reward index. Yield arriving
// while no margin is open is parked and folded in with the next position.
func (h *HedgerPool) AddRewards(amount float64) {
	if amount <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.totalMargin <= 0 {
		h.pendingYield += amount
		return
	}
	h.rewardIndex += amount / h.totalMargin
}

// ========== Position lifecycle ==========

// OpenPosition posts margin and opens a leveraged long EUR/USD position.
// The entry fee is taken from the margin before sizing the notional.
func (h *HedgerPool) OpenPosition(ctx context.Context, hedger string, margin, leverage float64) (*model.HedgePosition, error) {
	if err := h.access.CheckNotPaused(domainservice.ComponentHedger); err != nil {
		return nil, err
	}
	if hedger == "" || IsProtocolAccount(hedger) {
		return nil, domain.ErrInvalidAddress
	}
	if margin < h.params.Get(domainservice.ParamMinMargin) {
		return nil, fmt.Errorf("margin %.2f below minimum %.2f: %w",
			margin, h.params.Get(domainservice.ParamMinMargin), domain.ErrInvalidAmount)
	}
	if leverage < 1 || leverage > h.params.Get(domainservice.ParamMaxLeverage) {
		return nil, fmt.Errorf("leverage %.1f outside [1, %.1f]: %w",
			leverage, h.params.Get(domainservice.ParamMaxLeverage), domain.ErrLeverageTooHigh)
	}
	if err := h.limits.Allow(OpHedgeOpen, margin); err != nil {
		return nil, fmt.Errorf("open position: %w", err)
	}

	price, err := h.oracle.EurUsd()
	if err != nil {
		return nil, err
	}

	fee := domainservice.BpsOf(margin, h.params.GetBps(domainservice.ParamEntryFeeBps))
	net := margin - fee
	notional := net * leverage

	h.mu.Lock()
	maxPositions := int(h.params.Get(domainservice.ParamMaxPositionsPerUser))
	if open := h.openCountLocked(hedger); open >= maxPositions {
		h.mu.Unlock()
		return nil, fmt.Errorf("%d open positions, max %d: %w", open, maxPositions, domain.ErrWouldExceedLimit)
	}
	if err := h.usdc.Transfer(hedger, AccountHedgerPool, margin); err != nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("open position: %w", err)
	}

	h.totalMargin += net
	if h.pendingYield > 0 {
		h.rewardIndex += h.pendingYield / h.totalMargin
		h.pendingYield = 0
	}
	pos := &model.HedgePosition{
		ID:         uuid.NewString(),
		Hedger:     hedger,
		Margin:     net,
		Leverage:   leverage,
		Notional:   notional,
		EntryPrice: price,
		RewardDebt: net * h.rewardIndex,
		Status:     model.PositionOpen,
		OpenedAt:   h.now().UnixMilli(),
	}
	h.positions[pos.ID] = pos
	snapshot := *pos
	h.mu.Unlock()

	if h.yield != nil && fee > 0 {
		h.yield.AddYield(ctx, model.YieldSourceHedgerFees, fee, AccountHedgerPool)
	}
	_ = h.repo.UpsertHedgePosition(ctx, &snapshot)
	_ = h.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventPositionOpened, Actor: hedger,
		Payload: fmt.Sprintf(`{"position":%q,"margin":%.6f,"leverage":%.1f,"notional":%.6f,"entry":%.6f}`,
			snapshot.ID, net, leverage, notional, price),
		Timestamp: snapshot.OpenedAt,
	})
	persistBalances(ctx, h.repo, h.usdc, hedger, AccountHedgerPool)

	log.Info().Str("hedger", hedger).Str("position", snapshot.ID).
		Float64("margin", net).Float64("leverage", leverage).
		Float64("entry", price).Msg("hedge position opened")
	return &snapshot, nil
}

// AddMargin tops up an open position. Blocked while a liquidation commitment
// is pending so margin cannot be injected between commit and reveal.
func (h *HedgerPool) AddMargin(ctx context.Context, hedger, positionID string, amount float64) error {
	if err := h.access.CheckNotPaused(domainservice.ComponentHedger); err != nil {
		return err
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	h.mu.Lock()
	pos, err := h.ownedOpenLocked(hedger, positionID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if h.hasLiveCommitmentLocked(positionID) {
		h.mu.Unlock()
		return fmt.Errorf("liquidation pending on %s: %w", positionID, domain.ErrTimelockPending)
	}
	if err := h.usdc.Transfer(hedger, AccountHedgerPool, amount); err != nil {
		h.mu.Unlock()
		return fmt.Errorf("add margin: %w", err)
	}
	h.settleLocked(pos)
	pos.Margin += amount
	h.totalMargin += amount
	pos.RewardDebt = pos.Margin * h.rewardIndex
	snapshot := *pos
	h.mu.Unlock()

	_ = h.repo.UpsertHedgePosition(ctx, &snapshot)
	_ = h.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventMarginAdded, Actor: hedger,
		Payload:   fmt.Sprintf(`{"position":%q,"amount":%.6f,"margin":%.6f}`, positionID, amount, snapshot.Margin),
		Timestamp: h.now().UnixMilli(),
	})
	persistBalances(ctx, h.repo, h.usdc, hedger, AccountHedgerPool)

	log.Info().Str("hedger", hedger).Str("position", positionID).
		Float64("amount", amount).Msg("margin added")
	return nil
}

// RemoveMargin withdraws free margin. The position must stay above the
// minimum margin ratio at the current price.
func (h *HedgerPool) RemoveMargin(ctx context.Context, hedger, positionID string, amount float64) error {
	if err := h.access.CheckNotPaused(domainservice.ComponentHedger); err != nil {
		return err
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	price, err := h.oracle.EurUsd()
	if err != nil {
		return err
	}

	h.mu.Lock()
	pos, err := h.ownedOpenLocked(hedger, positionID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if h.hasLiveCommitmentLocked(positionID) {
		h.mu.Unlock()
		return fmt.Errorf("liquidation pending on %s: %w", positionID, domain.ErrTimelockPending)
	}
	newMargin := pos.Margin - amount
	minRatio := h.params.GetBps(domainservice.ParamMinMarginRatioBps)
	if newMargin <= 0 || domainservice.MarginRatioBps(newMargin, pos.Notional, pos.EntryPrice, price) < minRatio {
		h.mu.Unlock()
		return fmt.Errorf("remove %.2f would drop margin ratio below %d bps: %w",
			amount, minRatio, domain.ErrInsufficientMargin)
	}
	if err := h.usdc.Transfer(AccountHedgerPool, hedger, amount); err != nil {
		h.mu.Unlock()
		return fmt.Errorf("remove margin: %w", err)
	}
	h.settleLocked(pos)
	pos.Margin = newMargin
	h.totalMargin -= amount
	pos.RewardDebt = pos.Margin * h.rewardIndex
	snapshot := *pos
	h.mu.Unlock()

	_ = h.repo.UpsertHedgePosition(ctx, &snapshot)
	_ = h.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventMarginRemoved, Actor: hedger,
		Payload:   fmt.Sprintf(`{"position":%q,"amount":%.6f,"margin":%.6f}`, positionID, amount, snapshot.Margin),
		Timestamp: h.now().UnixMilli(),
	})
	persistBalances(ctx, h.repo, h.usdc, hedger, AccountHedgerPool)

	log.Info().Str("hedger", hedger).Str("position", positionID).
		Float64("amount", amount).Msg("margin removed")
	return nil
}

// ClosePosition settles an open position at the oracle price and pays the
// hedger margin plus PnL, net of the exit fee. Closing works while paused so
// hedgers can always exit.
func (h *HedgerPool) ClosePosition(ctx context.Context, hedger, positionID string) (float64, error) {
	price, err := h.oracle.EurUsd()
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	pos, err := h.ownedOpenLocked(hedger, positionID)
	if err != nil {
		h.mu.Unlock()
		return 0, err
	}
	if h.hasLiveCommitmentLocked(positionID) {
		h.mu.Unlock()
		return 0, fmt.Errorf("liquidation pending on %s: %w", positionID, domain.ErrTimelockPending)
	}

	pnl := domainservice.UnrealizedPnL(pos.Notional, pos.EntryPrice, price)
	gross := pos.Margin + pnl
	if gross < 0 {
		gross = 0
	}
	fee := domainservice.BpsOf(gross, h.params.GetBps(domainservice.ParamExitFeeBps))
	payout := gross - fee

	// profitable exits can exceed posted margin; the vault buffer covers the gap
	if shortfall := gross - h.usdc.BalanceOf(AccountHedgerPool); shortfall > 0 {
		if err := h.usdc.Transfer(AccountVault, AccountHedgerPool, shortfall); err != nil {
			h.mu.Unlock()
			return 0, fmt.Errorf("close position: cover pnl: %w", err)
		}
	}
	if payout > 0 {
		if err := h.usdc.Transfer(AccountHedgerPool, hedger, payout); err != nil {
			h.mu.Unlock()
			return 0, fmt.Errorf("close position: %w", err)
		}
	}

	h.settleLocked(pos)
	h.totalMargin -= pos.Margin
	pos.Status = model.PositionClosed
	pos.ClosePrice = price
	pos.RealizedPnL = gross - pos.Margin
	pos.ClosedAt = h.now().UnixMilli()
	pos.ClosingReason = "manual"
	snapshot := *pos
	h.mu.Unlock()

	if h.yield != nil && fee > 0 {
		h.yield.AddYield(ctx, model.YieldSourceHedgerFees, fee, AccountHedgerPool)
	}
	_ = h.repo.UpsertHedgePosition(ctx, &snapshot)
	_ = h.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventPositionClosed, Actor: hedger,
		Payload: fmt.Sprintf(`{"position":%q,"payout":%.6f,"pnl":%.6f,"close":%.6f}`,
			positionID, payout, snapshot.RealizedPnL, price),
		Timestamp: snapshot.ClosedAt,
	})
	persistBalances(ctx, h.repo, h.usdc, hedger, AccountHedgerPool, AccountVault)

	log.Info().Str("hedger", hedger).Str("position", positionID).
		Float64("payout", payout).Float64("pnl", snapshot.RealizedPnL).Msg("hedge position closed")
	return payout, nil
}

// ========== Two-phase liquidation ==========

// CommitLiquidation records the salted hash that must be revealed to execute
// a liquidation. One live commitment per position.
func (h *HedgerPool) CommitLiquidation(ctx context.Context, liquidator, positionID, hash string) (*model.LiquidationCommitment, error) {
	if err := h.access.Require(domainservice.RoleLiquidator, liquidator); err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, domain.ErrCommitmentInvalid
	}

	h.mu.Lock()
	pos := h.positions[positionID]
	if pos == nil || pos.Status != model.PositionOpen {
		h.mu.Unlock()
		return nil, fmt.Errorf("position %s: %w", positionID, domain.ErrNotFound)
	}
	if h.hasLiveCommitmentLocked(positionID) {
		h.mu.Unlock()
		return nil, fmt.Errorf("commitment on %s: %w", positionID, domain.ErrAlreadyExists)
	}
	nowMs := h.now().UnixMilli()
	c := &model.LiquidationCommitment{
		ID:          uuid.NewString(),
		PositionID:  positionID,
		Liquidator:  liquidator,
		Hash:        hash,
		CommittedAt: nowMs,
		ExpiresAt:   nowMs + int64(h.params.Get(domainservice.ParamCommitWindowSec))*1000,
	}
	h.commitments[positionID] = c
	snapshot := *c
	h.mu.Unlock()

	_ = h.repo.UpsertCommitment(ctx, &snapshot)
	_ = h.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventLiquidationCommit, Actor: liquidator,
		Payload:   fmt.Sprintf(`{"position":%q,"expires_at":%d}`, positionID, snapshot.ExpiresAt),
		Timestamp: nowMs,
	})
	log.Info().Str("liquidator", liquidator).Str("position", positionID).Msg("liquidation committed")
	return &snapshot, nil
}

// Liquidate reveals the salt and executes the liquidation. The commitment
// must be past its delay, inside its window, and the position below the
// liquidation threshold at the oracle price. The liquidator earns the penalty
// slice of remaining equity; the rest goes back to the hedger.
func (h *HedgerPool) Liquidate(ctx context.Context, liquidator, positionID, salt string) (float64, error) {
	if err := h.access.Require(domainservice.RoleLiquidator, liquidator); err != nil {
		return 0, err
	}
	price, err := h.oracle.EurUsd()
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	c := h.commitments[positionID]
	nowMs := h.now().UnixMilli()
	switch {
	case c == nil || c.Liquidator != liquidator:
		h.mu.Unlock()
		return 0, fmt.Errorf("no commitment by %s on %s: %w", liquidator, positionID, domain.ErrCommitmentInvalid)
	case c.Hash != CommitmentHash(liquidator, positionID, salt):
		h.mu.Unlock()
		return 0, fmt.Errorf("salt does not match commitment: %w", domain.ErrCommitmentInvalid)
	case nowMs < c.CommittedAt+int64(h.params.Get(domainservice.ParamCommitDelaySec))*1000:
		h.mu.Unlock()
		return 0, fmt.Errorf("commitment delay not elapsed: %w", domain.ErrCommitmentInvalid)
	case nowMs > c.ExpiresAt:
		delete(h.commitments, positionID)
		h.mu.Unlock()
		_ = h.repo.DeleteCommitment(ctx, positionID)
		return 0, fmt.Errorf("commitment expired: %w", domain.ErrCommitmentInvalid)
	}

	pos := h.positions[positionID]
	if pos == nil || pos.Status != model.PositionOpen {
		h.mu.Unlock()
		return 0, fmt.Errorf("position %s: %w", positionID, domain.ErrNotFound)
	}
	threshold := h.params.GetBps(domainservice.ParamLiquidationBps)
	if ratio := domainservice.MarginRatioBps(pos.Margin, pos.Notional, pos.EntryPrice, price); ratio >= threshold {
		h.mu.Unlock()
		return 0, fmt.Errorf("margin ratio %d bps >= threshold %d: %w", ratio, threshold, domain.ErrPositionHealthy)
	}

	pnl := domainservice.UnrealizedPnL(pos.Notional, pos.EntryPrice, price)
	equity := pos.Margin + pnl
	if equity < 0 {
		equity = 0
	}
	reward := domainservice.BpsOf(equity, h.params.GetBps(domainservice.ParamLiquidationPenalty))
	if reward > equity {
		reward = equity
	}
	remainder := equity - reward

	if reward > 0 {
		if err := h.usdc.Transfer(AccountHedgerPool, liquidator, reward); err != nil {
			h.mu.Unlock()
			return 0, fmt.Errorf("liquidate: %w", err)
		}
	}
	if remainder > 0 {
		if err := h.usdc.Transfer(AccountHedgerPool, pos.Hedger, remainder); err != nil {
			h.mu.Unlock()
			return 0, fmt.Errorf("liquidate: %w", err)
		}
	}

	h.settleLocked(pos)
	h.totalMargin -= pos.Margin
	pos.Status = model.PositionLiquidated
	pos.ClosePrice = price
	pos.RealizedPnL = equity - pos.Margin
	pos.ClosedAt = nowMs
	pos.ClosingReason = "liquidation"
	delete(h.commitments, positionID)
	snapshot := *pos
	h.mu.Unlock()

	_ = h.repo.UpsertHedgePosition(ctx, &snapshot)
	_ = h.repo.DeleteCommitment(ctx, positionID)
	_ = h.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventLiquidated, Actor: liquidator,
		Payload: fmt.Sprintf(`{"position":%q,"hedger":%q,"reward":%.6f,"remainder":%.6f,"price":%.6f}`,
			positionID, snapshot.Hedger, reward, remainder, price),
		Timestamp: nowMs,
	})
	persistBalances(ctx, h.repo, h.usdc, liquidator, snapshot.Hedger, AccountHedgerPool)

	log.Warn().Str("liquidator", liquidator).Str("position", positionID).
		Str("hedger", snapshot.Hedger).Float64("reward", reward).
		Float64("price", price).Msg("position liquidated")
	return reward, nil
}

// CancelCommitment withdraws a liquidator's own pending commitment, which
// unblocks margin operations on the position.
func (h *HedgerPool) CancelCommitment(ctx context.Context, liquidator, positionID string) error {
	h.mu.Lock()
	c := h.commitments[positionID]
	if c == nil || c.Liquidator != liquidator {
		h.mu.Unlock()
		return fmt.Errorf("no commitment by %s on %s: %w", liquidator, positionID, domain.ErrNotFound)
	}
	delete(h.commitments, positionID)
	h.mu.Unlock()

	_ = h.repo.DeleteCommitment(ctx, positionID)
	log.Info().Str("liquidator", liquidator).Str("position", positionID).Msg("liquidation commitment canceled")
	return nil
}

// SweepCommitments drops expired commitments. Called on the keeper cadence.
func (h *HedgerPool) SweepCommitments(ctx context.Context) int {
	nowMs := h.now().UnixMilli()

	h.mu.Lock()
	var expired []string
	for id, c := range h.commitments {
		if nowMs > c.ExpiresAt {
			expired = append(expired, id)
			delete(h.commitments, id)
		}
	}
	h.mu.Unlock()

	for _, id := range expired {
		_ = h.repo.DeleteCommitment(ctx, id)
	}
	if len(expired) > 0 {
		log.Debug().Int("count", len(expired)).Msg("expired liquidation commitments swept")
	}
	return len(expired)
}

// ========== Rewards ==========

// ClaimRewards settles and pays out the hedger's accumulated yield share.
func (h *HedgerPool) ClaimRewards(ctx context.Context, hedger string) (float64, error) {
	h.mu.Lock()
	for _, pos := range h.positions {
		if pos.Hedger == hedger && pos.Status == model.PositionOpen {
			h.settleLocked(pos)
			pos.RewardDebt = pos.Margin * h.rewardIndex
		}
	}
	amount := h.accrued[hedger]
	if amount <= 0 {
		h.mu.Unlock()
		return 0, nil
	}
	// float dust can leave the pool a hair short of the sum of claims
	if bal := h.usdc.BalanceOf(AccountYieldPool); amount > bal {
		amount = bal
	}
	if err := h.usdc.Transfer(AccountYieldPool, hedger, amount); err != nil {
		h.mu.Unlock()
		return 0, fmt.Errorf("claim rewards: %w", err)
	}
	delete(h.accrued, hedger)
	h.mu.Unlock()

	_ = h.repo.UpsertBalance(ctx, hedgerRewardsBook, hedger, 0)
	_ = h.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventYieldClaimed, Actor: hedger,
		Payload:   fmt.Sprintf(`{"pool":"hedger","amount":%.6f}`, amount),
		Timestamp: h.now().UnixMilli(),
	})
	persistBalances(ctx, h.repo, h.usdc, hedger, AccountYieldPool)

	log.Info().Str("hedger", hedger).Float64("amount", amount).Msg("hedger rewards claimed")
	return amount, nil
}

// PendingRewards is the hedger's claimable yield, settled plus unsettled.
func (h *HedgerPool) PendingRewards(hedger string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := h.accrued[hedger]
	for _, pos := range h.positions {
		if pos.Hedger == hedger && pos.Status == model.PositionOpen {
			total += pos.Margin*h.rewardIndex - pos.RewardDebt
		}
	}
	return total
}

// ========== Views ==========

// Position returns a copy of one position.
func (h *HedgerPool) Position(id string) (*model.HedgePosition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos := h.positions[id]
	if pos == nil {
		return nil, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	snapshot := *pos
	return &snapshot, nil
}

// Positions lists positions, newest first. hedger == "" lists every hedger.
func (h *HedgerPool) Positions(hedger string) []*model.HedgePosition {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*model.HedgePosition, 0, len(h.positions))
	for _, pos := range h.positions {
		if hedger != "" && pos.Hedger != hedger {
			continue
		}
		snapshot := *pos
		out = append(out, &snapshot)
	}
	sortPositionsByOpenedDesc(out)
	return out
}

// Liquidatable lists open positions below the liquidation threshold at the
// current oracle price.
func (h *HedgerPool) Liquidatable() []*model.HedgePosition {
	price, err := h.oracle.EurUsd()
	if err != nil {
		return nil
	}
	threshold := h.params.GetBps(domainservice.ParamLiquidationBps)

	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*model.HedgePosition
	for _, pos := range h.positions {
		if pos.Status != model.PositionOpen {
			continue
		}
		if domainservice.MarginRatioBps(pos.Margin, pos.Notional, pos.EntryPrice, price) < threshold {
			snapshot := *pos
			out = append(out, &snapshot)
		}
	}
	sortPositionsByOpenedDesc(out)
	return out
}

// MarginRatio reports an open position's margin ratio in bps at the current
// oracle price.
func (h *HedgerPool) MarginRatio(positionID string) (int64, error) {
	price, err := h.oracle.EurUsd()
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	pos := h.positions[positionID]
	if pos == nil || pos.Status != model.PositionOpen {
		return 0, fmt.Errorf("position %s: %w", positionID, domain.ErrNotFound)
	}
	return domainservice.MarginRatioBps(pos.Margin, pos.Notional, pos.EntryPrice, price), nil
}

// HasPendingLiquidation reports whether a live commitment blocks the
// position's margin operations.
func (h *HedgerPool) HasPendingLiquidation(positionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hasLiveCommitmentLocked(positionID)
}

// Commitments lists liquidation commitments that have not expired yet.
func (h *HedgerPool) Commitments() []*model.LiquidationCommitment {
	nowMs := h.now().UnixMilli()

	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*model.LiquidationCommitment, 0, len(h.commitments))
	for _, c := range h.commitments {
		if c.ExpiresAt <= nowMs {
			continue
		}
		snapshot := *c
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedAt > out[j].CommittedAt })
	return out
}

// Stats summarizes the pool.
func (h *HedgerPool) Stats() model.HedgerPoolStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := model.HedgerPoolStats{
		TotalMargin: h.totalMargin,
		RewardIndex: h.rewardIndex,
	}
	hedgers := make(map[string]bool)
	for _, pos := range h.positions {
		if pos.Status != model.PositionOpen {
			continue
		}
		st.OpenPositions++
		st.TotalNotional += pos.Notional
		hedgers[pos.Hedger] = true
		st.PendingRewards += pos.Margin*h.rewardIndex - pos.RewardDebt
	}
	for _, amt := range h.accrued {
		st.PendingRewards += amt
	}
	st.Hedgers = len(hedgers)
	return st
}

// Restore reloads pool state from storage at boot. rewards carries each
// hedger's settled entitlement plus the pool reward index under the "@index"
// key, persisted in the same pseudo-token book.
func (h *HedgerPool) Restore(positions []*model.HedgePosition, commitments []*model.LiquidationCommitment, rewards map[string]float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.positions = make(map[string]*model.HedgePosition, len(positions))
	h.totalMargin = 0
	for _, pos := range positions {
		p := *pos
		h.positions[p.ID] = &p
		if p.Status == model.PositionOpen {
			h.totalMargin += p.Margin
		}
	}
	h.commitments = make(map[string]*model.LiquidationCommitment, len(commitments))
	for _, c := range commitments {
		cc := *c
		h.commitments[cc.PositionID] = &cc
	}
	h.accrued = make(map[string]float64)
	for account, amt := range rewards {
		if account == rewardIndexKey {
			h.rewardIndex = amt
			continue
		}
		if amt > 0 {
			h.accrued[account] = amt
		}
	}
}

// PersistRewards writes the reward book so ClaimRewards survives a restart.
func (h *HedgerPool) PersistRewards(ctx context.Context) {
	h.mu.Lock()
	index := h.rewardIndex
	accrued := make(map[string]float64, len(h.accrued))
	for k, v := range h.accrued {
		accrued[k] = v
	}
	h.mu.Unlock()

	_ = h.repo.UpsertBalance(ctx, hedgerRewardsBook, rewardIndexKey, index)
	for account, amt := range accrued {
		_ = h.repo.UpsertBalance(ctx, hedgerRewardsBook, account, amt)
	}
}

// ========== internals ==========

// settleLocked moves a position's unsettled rewards into the hedger's
// accrued bucket. Callers hold h.mu and update RewardDebt afterwards.
func (h *HedgerPool) settleLocked(pos *model.HedgePosition) {
	pending := pos.Margin*h.rewardIndex - pos.RewardDebt
	if pending > 0 {
		h.accrued[pos.Hedger] += pending
	}
	pos.RewardDebt = pos.Margin * h.rewardIndex
}

func (h *HedgerPool) ownedOpenLocked(hedger, positionID string) (*model.HedgePosition, error) {
	pos := h.positions[positionID]
	if pos == nil {
		return nil, fmt.Errorf("position %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Hedger != hedger {
		return nil, fmt.Errorf("position %s not owned by %s: %w", positionID, hedger, domain.ErrNotAuthorized)
	}
	if pos.Status != model.PositionOpen {
		return nil, fmt.Errorf("position %s is %s: %w", positionID, pos.Status, domain.ErrNotFound)
	}
	return pos, nil
}

func (h *HedgerPool) hasLiveCommitmentLocked(positionID string) bool {
	c := h.commitments[positionID]
	return c != nil && h.now().UnixMilli() <= c.ExpiresAt
}

func (h *HedgerPool) openCountLocked(hedger string) int {
	n := 0
	for _, pos := range h.positions {
		if pos.Hedger == hedger && pos.Status == model.PositionOpen {
			n++
		}
	}
	return n
}

func sortPositionsByOpenedDesc(positions []*model.HedgePosition) {
	sort.Slice(positions, func(i, j int) bool { return positions[i].OpenedAt > positions[j].OpenedAt })
}
