package service

import (
	"fmt"
	"sync"

	"quantillon/internal/domain"
)

// Parameter keys. Rates and thresholds are bps stored as float64 values;
// durations are seconds; amounts are token units.
const (
	ParamMintFeeBps          = "vault.mint_fee_bps"
	ParamRedeemFeeBps        = "vault.redemption_fee_bps"
	ParamQeuroCap            = "vault.qeuro_supply_cap"
	ParamMintHourlyCap       = "vault.max_mint_per_hour"
	ParamRedeemHourlyCap     = "vault.max_redeem_per_hour"
	ParamMaxLeverage         = "hedger.max_leverage"
	ParamMinMargin           = "hedger.min_margin"
	ParamMinMarginRatioBps   = "hedger.min_margin_ratio_bps"
	ParamLiquidationBps      = "hedger.liquidation_threshold_bps"
	ParamLiquidationPenalty  = "hedger.liquidation_penalty_bps"
	ParamEntryFeeBps         = "hedger.entry_fee_bps"
	ParamExitFeeBps          = "hedger.exit_fee_bps"
	ParamMaxPositionsPerUser = "hedger.max_positions_per_hedger"
	ParamCommitDelaySec      = "hedger.liquidation_commit_delay_sec"
	ParamCommitWindowSec     = "hedger.liquidation_commit_window_sec"
	ParamBaseShiftBps        = "yieldshift.base_shift_bps"
	ParamMinShiftBps         = "yieldshift.min_shift_bps"
	ParamMaxShiftBps         = "yieldshift.max_shift_bps"
	ParamTargetPoolRatio     = "yieldshift.target_pool_ratio"
	ParamAdjustmentSpeedBps  = "yieldshift.adjustment_speed_bps"
	ParamTwapWindowSec       = "yieldshift.twap_window_sec"
	ParamHoldingPeriodSec    = "yieldshift.holding_period_sec"
	ParamAaveMaxExposureBps  = "aave.max_exposure_bps"
	ParamProposalThreshold   = "governance.proposal_threshold"
	ParamVotingPeriodSec     = "governance.voting_period_sec"
	ParamQuorumBps           = "governance.quorum_bps"
	ParamExecutionDelaySec   = "governance.execution_delay_sec"
	ParamUpgradeDelaySec     = "timelock.upgrade_delay_sec"
	ParamUpgradeGraceSec     = "timelock.upgrade_grace_sec"
	ParamRequiredApprovals   = "timelock.required_approvals"
	ParamOracleStalenessSec  = "oracle.staleness_sec"
	ParamOracleMaxDevBps     = "oracle.max_deviation_bps"
)

// ParamStore holds governance-settable protocol parameters. Writes go through
// governance execution or the timelock; reads are everywhere.
type ParamStore struct {
	mu     sync.RWMutex
	values map[string]float64

	onChange func(key string, value float64) // event hook, may be nil
}

func NewParamStore() *ParamStore {
	p := &ParamStore{values: make(map[string]float64)}
	p.applyDefaults()
	return p
}

func (p *ParamStore) applyDefaults() {
	p.values[ParamMintFeeBps] = 10
	p.values[ParamRedeemFeeBps] = 10
	p.values[ParamQeuroCap] = 100_000_000
	p.values[ParamMintHourlyCap] = 1_000_000
	p.values[ParamRedeemHourlyCap] = 1_000_000
	p.values[ParamMaxLeverage] = 10
	p.values[ParamMinMargin] = 100
	p.values[ParamMinMarginRatioBps] = 1000
	p.values[ParamLiquidationBps] = 500
	p.values[ParamLiquidationPenalty] = 200
	p.values[ParamEntryFeeBps] = 20
	p.values[ParamExitFeeBps] = 20
	p.values[ParamMaxPositionsPerUser] = 50
	p.values[ParamCommitDelaySec] = 2
	p.values[ParamCommitWindowSec] = 300
	p.values[ParamBaseShiftBps] = 5000
	p.values[ParamMinShiftBps] = 1000
	p.values[ParamMaxShiftBps] = 9000
	p.values[ParamTargetPoolRatio] = 1.0
	p.values[ParamAdjustmentSpeedBps] = 500
	p.values[ParamTwapWindowSec] = 86_400
	p.values[ParamHoldingPeriodSec] = 86_400
	p.values[ParamAaveMaxExposureBps] = 5000
	p.values[ParamProposalThreshold] = 100_000
	p.values[ParamVotingPeriodSec] = 3 * 86_400
	p.values[ParamQuorumBps] = 1000
	p.values[ParamExecutionDelaySec] = 2 * 86_400
	p.values[ParamUpgradeDelaySec] = 48 * 3600
	p.values[ParamUpgradeGraceSec] = 7 * 86_400
	p.values[ParamRequiredApprovals] = 2
	p.values[ParamOracleStalenessSec] = 3600
	p.values[ParamOracleMaxDevBps] = 500
}

func (p *ParamStore) OnChange(fn func(key string, value float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *ParamStore) Get(key string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[key]
}

func (p *ParamStore) GetBps(key string) int64 { return int64(p.Get(key)) }

// Set updates a known parameter. Unknown keys are rejected so a typoed
// governance action cannot silently create dead parameters.
func (p *ParamStore) Set(key string, value float64) error {
	p.mu.Lock()
	if _, ok := p.values[key]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("param %q: %w", key, domain.ErrNotFound)
	}
	if value < 0 {
		p.mu.Unlock()
		return fmt.Errorf("param %q: %w", key, domain.ErrInvalidAmount)
	}
	p.values[key] = value
	hook := p.onChange
	p.mu.Unlock()

	if hook != nil {
		hook(key, value)
	}
	return nil
}

// All returns a copy of every parameter, for the status API.
func (p *ParamStore) All() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
