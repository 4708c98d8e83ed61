package service

import (
	"fmt"
	"sync"

	"quantillon/internal/domain"
)

// Protocol roles. Multisig membership for upgrades is held separately in the
// timelock service.
const (
	RoleGovernance = "governance"
	RoleEmergency  = "emergency"
	RoleLiquidator = "liquidator"
	RoleKeeper     = "keeper"
	RoleUpgrader   = "upgrader"
)

// Components that can be paused independently.
const (
	ComponentVault      = "vault"
	ComponentHedger     = "hedger"
	ComponentUserPool   = "userpool"
	ComponentStQEURO    = "stqeuro"
	ComponentYieldShift = "yieldshift"
)

// AccessControl tracks role grants and component pause flags.
type AccessControl struct {
	mu     sync.RWMutex
	roles  map[string]map[string]bool // role -> account set
	paused map[string]bool
}

func NewAccessControl() *AccessControl {
	return &AccessControl{
		roles:  make(map[string]map[string]bool),
		paused: make(map[string]bool),
	}
}

func (a *AccessControl) Grant(role, account string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.roles[role] == nil {
		a.roles[role] = make(map[string]bool)
	}
	a.roles[role][account] = true
}

func (a *AccessControl) Revoke(role, account string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.roles[role], account)
}

func (a *AccessControl) Has(role, account string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles[role][account]
}

// Require returns ErrNotAuthorized unless the account holds the role.
func (a *AccessControl) Require(role, account string) error {
	if !a.Has(role, account) {
		return fmt.Errorf("account %s lacks role %s: %w", account, role, domain.ErrNotAuthorized)
	}
	return nil
}

func (a *AccessControl) SetPaused(component string, paused bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused[component] = paused
}

func (a *AccessControl) Paused(component string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.paused[component]
}

// CheckNotPaused is the guard services place in front of user operations.
func (a *AccessControl) CheckNotPaused(component string) error {
	if a.Paused(component) {
		return fmt.Errorf("%s: %w", component, domain.ErrPaused)
	}
	return nil
}
