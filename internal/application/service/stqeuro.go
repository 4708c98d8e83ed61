package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain"
	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type StQEURODeps struct {
	Qeuro  *domainservice.Ledger
	Stq    *domainservice.Ledger
	Access *domainservice.AccessControl
	Repo   port.Repository
}

// StQEURO is the yield-bearing QEURO wrapper. Balances never rebase; instead
// the exchange rate (QEURO backing per stQEURO) rises every time yield is
// distributed into the backing account.
type StQEURO struct {
	mu sync.Mutex

	qeuro  *domainservice.Ledger
	stq    *domainservice.Ledger
	access *domainservice.AccessControl
	repo   port.Repository

	now func() time.Time // test hook
}

func NewStQEURO(deps StQEURODeps) *StQEURO {
	return &StQEURO{
		qeuro:  deps.Qeuro,
		stq:    deps.Stq,
		access: deps.Access,
		repo:   deps.Repo,
		now:    time.Now,
	}
}

// ExchangeRate is QEURO backing per stQEURO. 1.0 before the first stake.
func (s *StQEURO) ExchangeRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLocked()
}

func (s *StQEURO) rateLocked() float64 {
	supply := s.stq.TotalSupply()
	if supply <= 0 {
		return 1.0
	}
	return s.qeuro.BalanceOf(AccountStQEURO) / supply
}

// Stake wraps QEURO into stQEURO at the current exchange rate.
func (s *StQEURO) Stake(ctx context.Context, account string, qeuroIn float64) (float64, error) {
	if err := s.access.CheckNotPaused(domainservice.ComponentStQEURO); err != nil {
		return 0, err
	}
	if account == "" || IsProtocolAccount(account) {
		return 0, domain.ErrInvalidAddress
	}
	if qeuroIn <= 0 {
		return 0, domain.ErrInvalidAmount
	}

	s.mu.Lock()
	rate := s.rateLocked()
	if err := s.qeuro.Transfer(account, AccountStQEURO, qeuroIn); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("stake: %w", err)
	}
	out := qeuroIn / rate
	if err := s.stq.Mint(account, out); err != nil {
		_ = s.qeuro.Transfer(AccountStQEURO, account, qeuroIn)
		s.mu.Unlock()
		return 0, fmt.Errorf("stake: %w", err)
	}
	s.mu.Unlock()

	_ = s.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventStake, Actor: account,
		Payload:   fmt.Sprintf(`{"qeuro_in":%.6f,"stqeuro_out":%.6f,"rate":%.8f}`, qeuroIn, out, rate),
		Timestamp: s.now().UnixMilli(),
	})
	persistBalances(ctx, s.repo, s.qeuro, account, AccountStQEURO)
	persistBalances(ctx, s.repo, s.stq, account)

	log.Info().Str("account", account).Float64("qeuro_in", qeuroIn).
		Float64("stqeuro_out", out).Float64("rate", rate).Msg("stqeuro staked")
	return out, nil
}

// Unstake burns stQEURO and returns QEURO at the current exchange rate.
// Unstaking works while paused so holders can always exit.
func (s *StQEURO) Unstake(ctx context.Context, account string, stqIn float64) (float64, error) {
	if account == "" || IsProtocolAccount(account) {
		return 0, domain.ErrInvalidAddress
	}
	if stqIn <= 0 {
		return 0, domain.ErrInvalidAmount
	}

	s.mu.Lock()
	rate := s.rateLocked()
	out := stqIn * rate
	// float dust can leave the backing a hair short on the last exit
	if backing := s.qeuro.BalanceOf(AccountStQEURO); out > backing {
		out = backing
	}
	if err := s.stq.Burn(account, stqIn); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("unstake: %w", err)
	}
	if err := s.qeuro.Transfer(AccountStQEURO, account, out); err != nil {
		_ = s.stq.Mint(account, stqIn)
		s.mu.Unlock()
		return 0, fmt.Errorf("unstake: %w", err)
	}
	s.mu.Unlock()

	_ = s.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUnstake, Actor: account,
		Payload:   fmt.Sprintf(`{"stqeuro_in":%.6f,"qeuro_out":%.6f,"rate":%.8f}`, stqIn, out, rate),
		Timestamp: s.now().UnixMilli(),
	})
	persistBalances(ctx, s.repo, s.qeuro, account, AccountStQEURO)
	persistBalances(ctx, s.repo, s.stq, account)

	log.Info().Str("account", account).Float64("stqeuro_in", stqIn).
		Float64("qeuro_out", out).Float64("rate", rate).Msg("stqeuro unstaked")
	return out, nil
}

// DistributeYield moves QEURO from the actor into the backing account,
// raising the exchange rate for every holder. Requires stakers to exist so
// the first depositor cannot capture a pre-seeded rate.
func (s *StQEURO) DistributeYield(ctx context.Context, actor string, qeuroAmount float64) error {
	if !s.access.Has(domainservice.RoleKeeper, actor) && !s.access.Has(domainservice.RoleGovernance, actor) {
		return fmt.Errorf("distribute yield: %w", domain.ErrNotAuthorized)
	}
	if qeuroAmount <= 0 {
		return domain.ErrInvalidAmount
	}

	s.mu.Lock()
	if s.stq.TotalSupply() <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("no stakers: %w", domain.ErrInvalidAmount)
	}
	if err := s.qeuro.Transfer(actor, AccountStQEURO, qeuroAmount); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("distribute yield: %w", err)
	}
	rate := s.rateLocked()
	s.mu.Unlock()

	_ = s.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventExchangeRate, Actor: actor,
		Payload:   fmt.Sprintf(`{"yield":%.6f,"rate":%.8f}`, qeuroAmount, rate),
		Timestamp: s.now().UnixMilli(),
	})
	persistBalances(ctx, s.repo, s.qeuro, actor, AccountStQEURO)

	log.Info().Str("actor", actor).Float64("yield", qeuroAmount).
		Float64("rate", rate).Msg("stqeuro yield distributed")
	return nil
}

// StQEUROMetrics is the read-model for the status API.
type StQEUROMetrics struct {
	ExchangeRate float64 `json:"exchange_rate"`
	TotalStaked  float64 `json:"total_staked"` // stQEURO supply
	Backing      float64 `json:"backing"`      // QEURO in the backing account
	Holders      int     `json:"holders"`
}

func (s *StQEURO) Metrics() StQEUROMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StQEUROMetrics{
		ExchangeRate: s.rateLocked(),
		TotalStaked:  s.stq.TotalSupply(),
		Backing:      s.qeuro.BalanceOf(AccountStQEURO),
		Holders:      s.stq.Holders(),
	}
}
