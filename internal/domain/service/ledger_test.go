package service

import (
	"errors"
	"math"
	"testing"

	"quantillon/internal/domain"
)

func TestLedgerMintBurnTransfer(t *testing.T) {
	l := NewLedger("QEURO", 0)

	if err := l.Mint("alice", 100); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Transfer("alice", "bob", 40); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if err := l.Burn("bob", 15); err != nil {
		t.Fatalf("burn failed: %v", err)
	}

	if got := l.BalanceOf("alice"); got != 60 {
		t.Errorf("alice balance: expected 60, got %v", got)
	}
	if got := l.BalanceOf("bob"); got != 25 {
		t.Errorf("bob balance: expected 25, got %v", got)
	}
	if got := l.TotalSupply(); got != 85 {
		t.Errorf("supply: expected 85, got %v", got)
	}
}

func TestLedgerSupplyMatchesBalances(t *testing.T) {
	l := NewLedger("QEURO", 0)
	l.Mint("a", 10.5)
	l.Mint("b", 31.25)
	l.Transfer("b", "c", 11.125)
	l.Burn("a", 3.5)

	sum := 0.0
	for _, v := range l.Balances() {
		sum += v
	}
	if math.Abs(sum-l.TotalSupply()) > 1e-6 {
		t.Errorf("sum of balances %v != supply %v", sum, l.TotalSupply())
	}
}

func TestLedgerCap(t *testing.T) {
	l := NewLedger("QEURO", 100)
	if err := l.Mint("alice", 80); err != nil {
		t.Fatalf("mint under cap failed: %v", err)
	}
	err := l.Mint("bob", 21)
	if !errors.Is(err, domain.ErrWouldExceedLimit) {
		t.Fatalf("expected ErrWouldExceedLimit, got %v", err)
	}
	if err := l.Mint("bob", 20); err != nil {
		t.Fatalf("mint to exactly cap failed: %v", err)
	}
}

func TestLedgerRejectsBadInput(t *testing.T) {
	l := NewLedger("QTI", 0)
	if err := l.Mint("", 1); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("empty account: expected ErrInvalidAddress, got %v", err)
	}
	if err := l.Mint("a", -5); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount: expected ErrInvalidAmount, got %v", err)
	}
	if err := l.Burn("a", 1); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("burn from empty: expected ErrInsufficientBalance, got %v", err)
	}
	if err := l.Transfer("a", "b", 1); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("transfer from empty: expected ErrInsufficientBalance, got %v", err)
	}
}

func TestLedgerRestore(t *testing.T) {
	l := NewLedger("stQEURO", 0)
	l.Restore(map[string]float64{"a": 5, "b": 7, "dust": 0})

	if got := l.TotalSupply(); got != 12 {
		t.Errorf("restored supply: expected 12, got %v", got)
	}
	if got := l.Holders(); got != 2 {
		t.Errorf("restored holders: expected 2, got %d", got)
	}
}
