package model

// ========== Governance Models ==========

// Lock is a vote-escrowed QTI position. Voting power starts at
// Amount * multiplier(duration) and decays linearly to zero at End.
type Lock struct {
	Account      string  `json:"account"`
	Amount       float64 `json:"amount"`
	Start        int64   `json:"start"` // unix ms
	End          int64   `json:"end"`
	InitialPower float64 `json:"initial_power"`
}

// ProposalStatus lifecycle: active -> succeeded | defeated -> executed.
// Canceled can happen any time before execution.
type ProposalStatus string

const (
	ProposalActive    ProposalStatus = "active"
	ProposalSucceeded ProposalStatus = "succeeded"
	ProposalDefeated  ProposalStatus = "defeated"
	ProposalExecuted  ProposalStatus = "executed"
	ProposalCanceled  ProposalStatus = "canceled"
)

// ParamChange is the executable payload of a proposal: set one protocol
// parameter to a new value through the params store.
type ParamChange struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Proposal is a governance vote over an optional parameter change.
type Proposal struct {
	ID           string         `json:"id"`
	Proposer     string         `json:"proposer"`
	Description  string         `json:"description"`
	Action       *ParamChange   `json:"action,omitempty"`
	StartTime    int64          `json:"start_time"`
	EndTime      int64          `json:"end_time"`
	ForVotes     float64        `json:"for_votes"`
	AgainstVotes float64        `json:"against_votes"`
	Quorum       float64        `json:"quorum"` // absolute voting power required, fixed at creation
	Status       ProposalStatus `json:"status"`
	ExecutableAt int64          `json:"executable_at,omitempty"` // end + execution delay
	ExecutedAt   int64          `json:"executed_at,omitempty"`
}

// VoteReceipt records one account's vote on one proposal.
type VoteReceipt struct {
	ProposalID string  `json:"proposal_id"`
	Voter      string  `json:"voter"`
	Support    bool    `json:"support"`
	Weight     float64 `json:"weight"`
	CastAt     int64   `json:"cast_at"`
}
