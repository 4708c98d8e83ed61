package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain"
	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Rate-limited vault operations.
const (
	OpMint   = "mint"
	OpRedeem = "redeem"
)

type VaultDeps struct {
	Oracle *Oracle
	Qeuro  *domainservice.Ledger
	Usdc   *domainservice.Ledger
	Params *domainservice.ParamStore
	Limits *domainservice.RateLimiter
	Access *domainservice.AccessControl
	Yield  *YieldShift
	Source port.YieldSource // optional, nil disables reserve deployment
	Repo   port.Repository
}

// Vault mints QEURO against USDC reserves and redeems it back. Reserves sit
// in the vault account; a capped slice can be deployed to the yield source,
// and redemptions recall from it automatically when liquid reserves run
// short. Mint and redeem fees are credited to the yield pool.
type Vault struct {
	mu sync.Mutex

	oracle *Oracle
	qeuro  *domainservice.Ledger
	usdc   *domainservice.Ledger
	params *domainservice.ParamStore
	limits *domainservice.RateLimiter
	access *domainservice.AccessControl
	yield  *YieldShift
	source port.YieldSource
	repo   port.Repository

	totalFees float64

	now func() time.Time // test hook
}

func NewVault(deps VaultDeps) *Vault {
	return &Vault{
		oracle: deps.Oracle,
		qeuro:  deps.Qeuro,
		usdc:   deps.Usdc,
		params: deps.Params,
		limits: deps.Limits,
		access: deps.Access,
		yield:  deps.Yield,
		source: deps.Source,
		repo:   deps.Repo,
		now:    time.Now,
	}
}

// Mint swaps usdcIn into freshly minted QEURO at the oracle EUR/USD price,
// net of the mint fee. minQeuroOut > 0 enables the slippage guard.
func (v *Vault) Mint(ctx context.Context, account string, usdcIn, minQeuroOut float64) (float64, error) {
	if err := v.access.CheckNotPaused(domainservice.ComponentVault); err != nil {
		return 0, err
	}
	if account == "" || IsProtocolAccount(account) {
		return 0, domain.ErrInvalidAddress
	}
	if usdcIn <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if err := v.limits.Allow(OpMint, usdcIn); err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}

	eur, err := v.oracle.EurUsd()
	if err != nil {
		return 0, err
	}
	usdcPx, err := v.oracle.UsdcUsd()
	if err != nil {
		return 0, err
	}

	fee := domainservice.BpsOf(usdcIn, v.params.GetBps(domainservice.ParamMintFeeBps))
	out := (usdcIn - fee) * usdcPx / eur
	if minQeuroOut > 0 && out < minQeuroOut {
		return 0, fmt.Errorf("mint: out %.6f < min %.6f: %w", out, minQeuroOut, domain.ErrSlippageExceeded)
	}

	if err := v.usdc.Transfer(account, AccountVault, usdcIn); err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}
	if err := v.qeuro.Mint(account, out); err != nil {
		// unwind the collateral transfer
		_ = v.usdc.Transfer(AccountVault, account, usdcIn)
		return 0, fmt.Errorf("mint: %w", err)
	}

	v.mu.Lock()
	v.totalFees += fee
	v.mu.Unlock()

	if v.yield != nil && fee > 0 {
		v.yield.AddYield(ctx, model.YieldSourceVaultFees, fee, AccountVault)
	}

	_ = v.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventMint, Actor: account,
		Payload:   fmt.Sprintf(`{"usdc_in":%.6f,"qeuro_out":%.6f,"fee":%.6f,"eur_usd":%.6f}`, usdcIn, out, fee, eur),
		Timestamp: v.now().UnixMilli(),
	})
	persistBalances(ctx, v.repo, v.usdc, account, AccountVault)
	persistBalances(ctx, v.repo, v.qeuro, account)

	log.Info().Str("account", account).Float64("usdc_in", usdcIn).
		Float64("qeuro_out", out).Float64("eur_usd", eur).Msg("qeuro minted")
	return out, nil
}

// Redeem burns qeuroIn and pays out USDC from reserves at the oracle price,
// net of the redemption fee. Recalls from the yield source when liquid
// reserves cannot cover the payout.
func (v *Vault) Redeem(ctx context.Context, account string, qeuroIn, minUsdcOut float64) (float64, error) {
	if err := v.access.CheckNotPaused(domainservice.ComponentVault); err != nil {
		return 0, err
	}
	if account == "" || IsProtocolAccount(account) {
		return 0, domain.ErrInvalidAddress
	}
	if qeuroIn <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if err := v.limits.Allow(OpRedeem, qeuroIn); err != nil {
		return 0, fmt.Errorf("redeem: %w", err)
	}

	eur, err := v.oracle.EurUsd()
	if err != nil {
		return 0, err
	}
	usdcPx, err := v.oracle.UsdcUsd()
	if err != nil {
		return 0, err
	}

	gross := qeuroIn * eur / usdcPx
	fee := domainservice.BpsOf(gross, v.params.GetBps(domainservice.ParamRedeemFeeBps))
	out := gross - fee
	if minUsdcOut > 0 && out < minUsdcOut {
		return 0, fmt.Errorf("redeem: out %.6f < min %.6f: %w", out, minUsdcOut, domain.ErrSlippageExceeded)
	}

	v.mu.Lock()
	if liquid := v.usdc.BalanceOf(AccountVault); liquid < gross {
		if err := v.recallLocked(ctx, gross-liquid); err != nil {
			v.mu.Unlock()
			return 0, fmt.Errorf("redeem: recall reserves: %w", err)
		}
	}
	v.mu.Unlock()

	if err := v.qeuro.Burn(account, qeuroIn); err != nil {
		return 0, fmt.Errorf("redeem: %w", err)
	}
	if err := v.usdc.Transfer(AccountVault, account, out); err != nil {
		// put the burned tokens back rather than leave the caller short
		_ = v.qeuro.Mint(account, qeuroIn)
		return 0, fmt.Errorf("redeem: %w", err)
	}

	v.mu.Lock()
	v.totalFees += fee
	v.mu.Unlock()

	if v.yield != nil && fee > 0 {
		v.yield.AddYield(ctx, model.YieldSourceVaultFees, fee, AccountVault)
	}

	_ = v.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventRedeem, Actor: account,
		Payload:   fmt.Sprintf(`{"qeuro_in":%.6f,"usdc_out":%.6f,"fee":%.6f,"eur_usd":%.6f}`, qeuroIn, out, fee, eur),
		Timestamp: v.now().UnixMilli(),
	})
	persistBalances(ctx, v.repo, v.usdc, account, AccountVault)
	persistBalances(ctx, v.repo, v.qeuro, account)

	log.Info().Str("account", account).Float64("qeuro_in", qeuroIn).
		Float64("usdc_out", out).Float64("eur_usd", eur).Msg("qeuro redeemed")
	return out, nil
}

// DeployReserves pushes liquid USDC into the yield source, bounded by the
// max exposure parameter.
func (v *Vault) DeployReserves(ctx context.Context, actor string, amount float64) error {
	if err := v.access.Require(domainservice.RoleKeeper, actor); err != nil {
		return err
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if v.source == nil {
		return fmt.Errorf("deploy reserves: no yield source configured")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	liquid := v.usdc.BalanceOf(AccountVault)
	deployed := v.usdc.BalanceOf(AccountAave)
	maxDeployed := domainservice.BpsOf(liquid+deployed, v.params.GetBps(domainservice.ParamAaveMaxExposureBps))
	if deployed+amount > maxDeployed {
		return fmt.Errorf("deploy reserves: %.2f + %.2f over exposure cap %.2f: %w",
			deployed, amount, maxDeployed, domain.ErrWouldExceedLimit)
	}

	if err := v.source.Supply(ctx, amount); err != nil {
		return fmt.Errorf("deploy reserves: %w", err)
	}
	if err := v.usdc.Transfer(AccountVault, AccountAave, amount); err != nil {
		_, _ = v.source.Withdraw(ctx, amount)
		return fmt.Errorf("deploy reserves: %w", err)
	}

	_ = v.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventAaveDeployed, Actor: actor,
		Payload:   fmt.Sprintf(`{"amount":%.6f,"deployed":%.6f}`, amount, deployed+amount),
		Timestamp: v.now().UnixMilli(),
	})
	log.Info().Float64("amount", amount).Float64("deployed", deployed+amount).Msg("reserves deployed")
	return nil
}

// RecallReserves pulls USDC back out of the yield source into the vault.
func (v *Vault) RecallReserves(ctx context.Context, actor string, amount float64) error {
	if err := v.access.Require(domainservice.RoleKeeper, actor); err != nil {
		return err
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recallLocked(ctx, amount)
}

// recallLocked withdraws from the yield source and reconciles the ledger.
// Anything withdrawn beyond tracked principal is accrued interest entering
// the books. Callers hold v.mu.
func (v *Vault) recallLocked(ctx context.Context, amount float64) error {
	if v.source == nil {
		return fmt.Errorf("no yield source configured: %w", domain.ErrInsufficientBalance)
	}
	got, err := v.source.Withdraw(ctx, amount)
	if err != nil {
		return err
	}
	principal := v.usdc.BalanceOf(AccountAave)
	fromPrincipal := math.Min(got, principal)
	if fromPrincipal > 0 {
		if err := v.usdc.Transfer(AccountAave, AccountVault, fromPrincipal); err != nil {
			return err
		}
	}
	if got > fromPrincipal {
		if err := v.usdc.Mint(AccountVault, got-fromPrincipal); err != nil {
			return err
		}
	}
	log.Info().Float64("requested", amount).Float64("withdrawn", got).Msg("reserves recalled")
	return nil
}

// EmergencyRecall drains the yield source completely, interest included,
// back into liquid reserves. Exposure bookkeeping does not apply; this is the
// escape hatch when the venue itself is in trouble.
func (v *Vault) EmergencyRecall(ctx context.Context, actor string) (float64, error) {
	if err := v.access.Require(domainservice.RoleEmergency, actor); err != nil {
		return 0, err
	}
	if v.source == nil {
		return 0, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal, err := v.source.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("emergency recall: %w", err)
	}
	if bal <= 0 {
		return 0, nil
	}
	before := v.usdc.BalanceOf(AccountVault)
	if err := v.recallLocked(ctx, bal); err != nil {
		return 0, fmt.Errorf("emergency recall: %w", err)
	}
	got := v.usdc.BalanceOf(AccountVault) - before

	_ = v.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventAaveRecalled, Actor: actor,
		Payload:   fmt.Sprintf(`{"amount":%.6f,"emergency":true}`, got),
		Timestamp: v.now().UnixMilli(),
	})
	log.Warn().Float64("amount", got).Str("actor", actor).Msg("emergency reserve recall")
	return got, nil
}

// Harvest pulls accrued interest out of the yield source and credits it to
// the yield pool. Returns the harvested amount.
func (v *Vault) Harvest(ctx context.Context, actor string) (float64, error) {
	if err := v.access.Require(domainservice.RoleKeeper, actor); err != nil {
		return 0, err
	}
	if v.source == nil {
		return 0, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal, err := v.source.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("harvest: %w", err)
	}
	interest := bal - v.usdc.BalanceOf(AccountAave)
	if interest <= 0 {
		return 0, nil
	}
	got, err := v.source.Withdraw(ctx, interest)
	if err != nil {
		return 0, fmt.Errorf("harvest: %w", err)
	}
	if got <= 0 {
		return 0, nil
	}
	if err := v.usdc.Mint(AccountVault, got); err != nil {
		return 0, fmt.Errorf("harvest: %w", err)
	}
	if v.yield != nil {
		v.yield.AddYield(ctx, model.YieldSourceAave, got, AccountVault)
	}

	_ = v.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventAaveHarvested, Actor: actor,
		Payload:   fmt.Sprintf(`{"interest":%.6f}`, got),
		Timestamp: v.now().UnixMilli(),
	})
	log.Info().Float64("interest", got).Msg("yield harvested")
	return got, nil
}

// Metrics snapshots the vault. With zero supply the vault counts as
// collateralized by definition.
func (v *Vault) Metrics() model.VaultMetrics {
	eur, eurErr := v.oracle.EurUsd()
	usdcPx, usdcErr := v.oracle.UsdcUsd()
	if usdcErr != nil {
		usdcPx = 1.0
	}

	liquid := v.usdc.BalanceOf(AccountVault)
	deployed := v.usdc.BalanceOf(AccountAave)
	supply := v.qeuro.TotalSupply()

	v.mu.Lock()
	fees := v.totalFees
	v.mu.Unlock()

	m := model.VaultMetrics{
		LiquidReserves:   liquid,
		DeployedReserves: deployed,
		TotalReserves:    liquid + deployed,
		QeuroSupply:      supply,
		EurUsd:           eur,
		FeesAccrued:      fees,
		Timestamp:        v.now().UnixMilli(),
	}
	if eurErr != nil || eur <= 0 {
		return m
	}
	liabilities := supply * eur
	if liabilities <= 0 {
		m.IsCollateralized = true
		return m
	}
	m.CollateralRatio = (liquid + deployed) * usdcPx / liabilities
	// tolerate float dust right at the boundary
	m.IsCollateralized = m.CollateralRatio >= 1-1e-9
	return m
}
