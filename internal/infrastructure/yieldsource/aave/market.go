package aave

import (
	"context"
	"errors"
	"sync"
	"time"

	"quantillon/internal/application/port"
)

const secondsPerYear = 365.25 * 24 * 3600

// Market simulates an Aave style money market: supplied funds earn the
// configured APY through a continuously accruing liquidity index. Positions
// are tracked as scaled balances so interest compounds across accruals the
// way the real pool does.
type Market struct {
	mu     sync.Mutex
	apyBps int64
	index  float64 // liquidity index, starts at 1.0
	scaled float64 // balance / index at supply time
	at     time.Time

	now func() time.Time // test hook
}

var _ port.YieldSource = (*Market)(nil)

func NewMarket(apyBps int64) *Market {
	if apyBps < 0 {
		apyBps = 0
	}
	return &Market{
		apyBps: apyBps,
		index:  1.0,
		now:    time.Now,
	}
}

func (m *Market) Name() string { return "aave-sim" }

func (m *Market) APY() int64 { return m.apyBps }

func (m *Market) Supply(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return errors.New("supply amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accrueLocked()
	m.scaled += amount / m.index
	return nil
}

func (m *Market) Withdraw(ctx context.Context, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, errors.New("withdraw amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accrueLocked()

	bal := m.scaled * m.index
	if bal <= 0 {
		return 0, nil
	}
	if amount >= bal {
		m.scaled = 0
		return bal, nil
	}
	m.scaled -= amount / m.index
	return amount, nil
}

func (m *Market) Balance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accrueLocked()
	return m.scaled * m.index, nil
}

// accrueLocked advances the liquidity index for the time elapsed since the
// last touch. Linear within an interval, compounding across intervals.
func (m *Market) accrueLocked() {
	now := m.now()
	if m.at.IsZero() {
		m.at = now
		return
	}
	dt := now.Sub(m.at).Seconds()
	if dt <= 0 {
		return
	}
	m.index *= 1 + float64(m.apyBps)/10000*(dt/secondsPerYear)
	m.at = now
}
