package service

import (
	"fmt"
	"sync"

	"quantillon/internal/domain"
)

// Ledger is an account -> balance book for one token. The engine keeps one
// per token (QEURO, QTI, stQEURO and the USDC settlement ledger).
type Ledger struct {
	mu sync.RWMutex

	symbol   string
	cap      float64 // 0 = uncapped
	supply   float64
	balances map[string]float64
}

func NewLedger(symbol string, cap float64) *Ledger {
	return &Ledger{
		symbol:   symbol,
		cap:      cap,
		balances: make(map[string]float64),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) Cap() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cap
}

// SetCap adjusts the supply cap. 0 removes it. A cap below current supply is
// allowed and only blocks further minting.
func (l *Ledger) SetCap(cap float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cap = cap
}

func (l *Ledger) Mint(account string, amount float64) error {
	if account == "" {
		return domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return fmt.Errorf("mint %s: %w", l.symbol, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cap > 0 && l.supply+amount > l.cap {
		return fmt.Errorf("mint %s: supply %.6f + %.6f over cap %.6f: %w",
			l.symbol, l.supply, amount, l.cap, domain.ErrWouldExceedLimit)
	}
	l.balances[account] += amount
	l.supply += amount
	return nil
}

func (l *Ledger) Burn(account string, amount float64) error {
	if account == "" {
		return domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return fmt.Errorf("burn %s: %w", l.symbol, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[account]
	if bal < amount {
		return fmt.Errorf("burn %s: balance %.6f < %.6f: %w",
			l.symbol, bal, amount, domain.ErrInsufficientBalance)
	}
	l.balances[account] = bal - amount
	if l.balances[account] == 0 {
		delete(l.balances, account)
	}
	l.supply -= amount
	return nil
}

func (l *Ledger) Transfer(from, to string, amount float64) error {
	if from == "" || to == "" {
		return domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return fmt.Errorf("transfer %s: %w", l.symbol, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal < amount {
		return fmt.Errorf("transfer %s: balance %.6f < %.6f: %w",
			l.symbol, bal, amount, domain.ErrInsufficientBalance)
	}
	l.balances[from] = bal - amount
	if l.balances[from] == 0 {
		delete(l.balances, from)
	}
	l.balances[to] += amount
	return nil
}

func (l *Ledger) BalanceOf(account string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

func (l *Ledger) TotalSupply() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

func (l *Ledger) Holders() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.balances)
}

// Balances returns a copy of the book, for persistence and boot reload.
func (l *Ledger) Balances() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]float64, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// Restore replaces the book wholesale (boot reload from storage).
func (l *Ledger) Restore(balances map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[string]float64, len(balances))
	l.supply = 0
	for k, v := range balances {
		if v <= 0 {
			continue
		}
		l.balances[k] = v
		l.supply += v
	}
}
