package model

// ========== Yield Models ==========

// YieldSource identifies where a yield amount came from.
type YieldSource string

const (
	YieldSourceAave       YieldSource = "aave"
	YieldSourceVaultFees  YieldSource = "vault_fees"
	YieldSourceHedgerFees YieldSource = "hedger_fees"
	YieldSourceOther      YieldSource = "other"
)

// YieldEntry is one credited yield amount and how it was split.
type YieldEntry struct {
	ID          string      `json:"id"`
	Source      YieldSource `json:"source"`
	Amount      float64     `json:"amount"`
	UserShare   float64     `json:"user_share"`
	HedgerShare float64     `json:"hedger_share"`
	ShiftBps    int64       `json:"shift_bps"` // hedger share in bps at credit time
	Timestamp   int64       `json:"ts_ms"`
}

// YieldDistribution is the current split between the user and hedger pools.
// UserBps + HedgerBps == 10000 always.
type YieldDistribution struct {
	UserBps    int64   `json:"user_bps"`
	HedgerBps  int64   `json:"hedger_bps"`
	PoolRatio  float64 `json:"pool_ratio"` // user TWAP / hedger TWAP
	UserTWAP   float64 `json:"user_twap"`
	HedgerTWAP float64 `json:"hedger_twap"`
	LastUpdate int64   `json:"last_update"`
	TotalYield float64 `json:"total_yield"`
}

// VaultMetrics summarizes the stablecoin vault.
type VaultMetrics struct {
	LiquidReserves   float64 `json:"liquid_reserves"`   // USDC held directly
	DeployedReserves float64 `json:"deployed_reserves"` // USDC in the yield source
	TotalReserves    float64 `json:"total_reserves"`
	QeuroSupply      float64 `json:"qeuro_supply"`
	EurUsd           float64 `json:"eur_usd"`
	CollateralRatio  float64 `json:"collateral_ratio"` // reserves USD / liability USD
	IsCollateralized bool    `json:"is_collateralized"`
	FeesAccrued      float64 `json:"fees_accrued"`
	Timestamp        int64   `json:"ts_ms"`
}

// StakePosition tracks one user in the user pool: deposited principal plus
// staked QEURO earning the user share of shifted yield. LastDeposit anchors
// the claim holding period and resets whenever principal or stake grows.
type StakePosition struct {
	Account     string  `json:"account"`
	Deposited   float64 `json:"deposited"` // USDC principal
	Staked      float64 `json:"staked"`    // QEURO staked
	RewardDebt  float64 `json:"reward_debt"`
	Claimed     float64 `json:"claimed"`
	LastDeposit int64   `json:"last_deposit,omitempty"`
	UpdatedAt   int64   `json:"updated_at"`
}

// UserPoolStats is a point-in-time summary of the user pool.
type UserPoolStats struct {
	TotalDeposits  float64 `json:"total_deposits"` // USDC principal
	TotalStaked    float64 `json:"total_staked"`   // QEURO
	Stakers        int     `json:"stakers"`
	PendingRewards float64 `json:"pending_rewards"`
	RewardIndex    float64 `json:"reward_index"`
}
