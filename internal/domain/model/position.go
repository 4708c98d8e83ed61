package model

// ========== Hedger Pool Models ==========

// PositionStatus lifecycle: open -> closed | liquidated.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
)

// HedgePosition is a leveraged long EUR/USD position backed by USDC margin.
// Notional is the USD exposure taken at entry; PnL is marked against the
// oracle EUR/USD price.
type HedgePosition struct {
	ID            string         `json:"id"`
	Hedger        string         `json:"hedger"`
	Margin        float64        `json:"margin"`   // USDC posted, net of entry fee
	Leverage      float64        `json:"leverage"` // 1..max_leverage
	Notional      float64        `json:"notional"` // USD exposure = margin * leverage at entry
	EntryPrice    float64        `json:"entry_price"`
	ClosePrice    float64        `json:"close_price,omitempty"`
	RealizedPnL   float64        `json:"realized_pnl,omitempty"`
	RewardDebt    float64        `json:"reward_debt"` // reward index checkpoint (index units)
	Status        PositionStatus `json:"status"`
	OpenedAt      int64          `json:"opened_at"` // unix ms
	ClosedAt      int64          `json:"closed_at,omitempty"`
	ClosingReason string         `json:"closing_reason,omitempty"` // manual, liquidation
}

// LiquidationCommitment is phase one of the two-phase liquidation: a keeper
// commits a salted hash before it may execute, which keeps competing keepers
// from sniping each other's reveals.
type LiquidationCommitment struct {
	ID          string `json:"id"`
	PositionID  string `json:"position_id"`
	Liquidator  string `json:"liquidator"`
	Hash        string `json:"hash"` // hex sha256(liquidator|position|salt)
	CommittedAt int64  `json:"committed_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// HedgerPoolStats is a point-in-time summary of the pool.
type HedgerPoolStats struct {
	TotalMargin    float64 `json:"total_margin"`
	TotalNotional  float64 `json:"total_notional"`
	OpenPositions  int     `json:"open_positions"`
	Hedgers        int     `json:"hedgers"`
	PendingRewards float64 `json:"pending_rewards"`
	RewardIndex    float64 `json:"reward_index"`
}
