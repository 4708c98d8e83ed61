package service

import (
	"context"

	"quantillon/internal/application/port"
	domainservice "quantillon/internal/domain/service"
)

// Internal ledger accounts the protocol itself owns. User accounts are opaque
// address strings supplied by callers; these reserved names never collide
// because callers are rejected when they try to act as one.
const (
	AccountVault      = "@vault"       // USDC reserves backing QEURO
	AccountHedgerPool = "@hedger_pool" // USDC margin posted by hedgers
	AccountUserPool   = "@user_pool"   // QEURO staked by users
	AccountYieldPool  = "@yield_pool"  // USDC yield awaiting claims
	AccountStQEURO    = "@stqeuro"     // QEURO backing the staked wrapper
	AccountGovernance = "@governance"  // QTI held in vote-escrow locks
	AccountTreasury   = "@treasury"    // protocol-owned funds
	AccountAave       = "@aave"        // USDC principal deployed to the yield venue
)

// IsProtocolAccount reports whether the address is one of the reserved
// internal accounts.
func IsProtocolAccount(account string) bool {
	switch account {
	case AccountVault, AccountHedgerPool, AccountUserPool, AccountYieldPool,
		AccountStQEURO, AccountGovernance, AccountTreasury, AccountAave:
		return true
	}
	return false
}

// persistBalances writes current ledger balances for the touched accounts.
// Storage is best-effort; the in-memory ledgers stay authoritative.
func persistBalances(ctx context.Context, repo port.Repository, l *domainservice.Ledger, accounts ...string) {
	for _, a := range accounts {
		_ = repo.UpsertBalance(ctx, l.Symbol(), a, l.BalanceOf(a))
	}
}
