package model

// ========== Protocol Events ==========

// EventType mirrors the protocol's emitted event surface. Events are appended
// to storage and published on the redis stream for off-engine consumers.
type EventType string

const (
	EventMint              EventType = "qeuro_minted"
	EventRedeem            EventType = "qeuro_redeemed"
	EventPositionOpened    EventType = "hedge_position_opened"
	EventPositionClosed    EventType = "hedge_position_closed"
	EventMarginAdded       EventType = "margin_added"
	EventMarginRemoved     EventType = "margin_removed"
	EventLiquidationCommit EventType = "liquidation_committed"
	EventLiquidated        EventType = "hedger_liquidated"
	EventYieldAdded        EventType = "yield_added"
	EventYieldClaimed      EventType = "yield_claimed"
	EventShiftUpdated      EventType = "yield_shift_updated"
	EventUserDeposit       EventType = "user_deposited"
	EventUserWithdraw      EventType = "user_withdrawn"
	EventUserStaked        EventType = "qeuro_staked"
	EventUserUnstaked      EventType = "qeuro_unstaked"
	EventStake             EventType = "stqeuro_staked"
	EventUnstake           EventType = "stqeuro_unstaked"
	EventExchangeRate      EventType = "exchange_rate_updated"
	EventLockCreated       EventType = "qti_locked"
	EventUnlocked          EventType = "qti_unlocked"
	EventProposalCreated   EventType = "proposal_created"
	EventVoteCast          EventType = "vote_cast"
	EventProposalExecuted  EventType = "proposal_executed"
	EventUpgradeProposed   EventType = "upgrade_proposed"
	EventUpgradeApproved   EventType = "upgrade_approved"
	EventUpgradeExecuted   EventType = "upgrade_executed"
	EventParamChanged      EventType = "param_changed"
	EventPauseToggled      EventType = "pause_toggled"
	EventBreakerTripped    EventType = "circuit_breaker_tripped"
	EventAaveDeployed      EventType = "aave_deployed"
	EventAaveRecalled      EventType = "aave_recalled"
	EventAaveHarvested     EventType = "aave_harvested"
)

// Event is a protocol event with a small JSON payload.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Actor     string    `json:"actor,omitempty"`
	Payload   string    `json:"payload,omitempty"` // JSON blob
	Timestamp int64     `json:"ts_ms"`
}
