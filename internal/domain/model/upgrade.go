package model

// ========== Timelock Upgrade Models ==========

// UpgradeStatus lifecycle: pending -> executed | canceled | expired.
type UpgradeStatus string

const (
	UpgradePending  UpgradeStatus = "pending"
	UpgradeExecuted UpgradeStatus = "executed"
	UpgradeCanceled UpgradeStatus = "canceled"
	UpgradeExpired  UpgradeStatus = "expired"
)

// Upgrade is a timelocked, multi-approver component version switch. It may be
// executed once ETA has passed, enough multisig members approved, and the
// grace period has not lapsed.
type Upgrade struct {
	ID          string          `json:"id"`
	Component   string          `json:"component"`
	NewVersion  string          `json:"new_version"`
	Description string          `json:"description"`
	Proposer    string          `json:"proposer"`
	ProposedAt  int64           `json:"proposed_at"`
	ETA         int64           `json:"eta"`        // earliest execution, unix ms
	ExpiresAt   int64           `json:"expires_at"` // ETA + grace period
	Approvals   map[string]bool `json:"approvals"`  // multisig member -> approved
	Status      UpgradeStatus   `json:"status"`
	ExecutedAt  int64           `json:"executed_at,omitempty"`
}

// ApprovalCount returns how many members have approved.
func (u *Upgrade) ApprovalCount() int {
	n := 0
	for _, ok := range u.Approvals {
		if ok {
			n++
		}
	}
	return n
}
