package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"
)

// ========== repository stub ==========

type stubRepo struct {
	mu          sync.Mutex
	prices      map[string]float64
	events      []model.Event
	balances    map[string]map[string]float64
	positions   map[string]*model.HedgePosition
	commitments map[string]*model.LiquidationCommitment
	locks       map[string]*model.Lock
	proposals   map[string]*model.Proposal
	votes       []*model.VoteReceipt
	upgrades    map[string]*model.Upgrade
	stakes      map[string]*model.StakePosition
	yields      []*model.YieldEntry
	snapshots   int
}

var _ port.Repository = (*stubRepo)(nil)

func newStubRepo() *stubRepo {
	return &stubRepo{
		prices:      make(map[string]float64),
		balances:    make(map[string]map[string]float64),
		positions:   make(map[string]*model.HedgePosition),
		commitments: make(map[string]*model.LiquidationCommitment),
		locks:       make(map[string]*model.Lock),
		proposals:   make(map[string]*model.Proposal),
		upgrades:    make(map[string]*model.Upgrade),
		stakes:      make(map[string]*model.StakePosition),
	}
}

func (r *stubRepo) UpsertLatestPrice(ctx context.Context, source, pair string, price float64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[source+":"+pair] = price
	return nil
}

func (r *stubRepo) InsertEvent(ctx context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *stubRepo) UpsertBalance(ctx context.Context, token, account string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[token] == nil {
		r.balances[token] = make(map[string]float64)
	}
	r.balances[token][account] = amount
	return nil
}

func (r *stubRepo) ListBalances(ctx context.Context, token string) (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.balances[token]))
	for k, v := range r.balances[token] {
		out[k] = v
	}
	return out, nil
}

func (r *stubRepo) UpsertHedgePosition(ctx context.Context, pos *model.HedgePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pos
	r.positions[cp.ID] = &cp
	return nil
}

func (r *stubRepo) ListOpenHedgePositions(ctx context.Context) ([]*model.HedgePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.HedgePosition
	for _, pos := range r.positions {
		if pos.Status == model.PositionOpen {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubRepo) UpsertCommitment(ctx context.Context, c *model.LiquidationCommitment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.commitments[cp.PositionID] = &cp
	return nil
}

func (r *stubRepo) DeleteCommitment(ctx context.Context, positionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commitments, positionID)
	return nil
}

func (r *stubRepo) ListCommitments(ctx context.Context) ([]*model.LiquidationCommitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.LiquidationCommitment
	for _, c := range r.commitments {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *stubRepo) UpsertLock(ctx context.Context, l *model.Lock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	r.locks[cp.Account] = &cp
	return nil
}

func (r *stubRepo) DeleteLock(ctx context.Context, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, account)
	return nil
}

func (r *stubRepo) ListLocks(ctx context.Context) ([]*model.Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Lock
	for _, l := range r.locks {
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (r *stubRepo) UpsertProposal(ctx context.Context, p *model.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.proposals[cp.ID] = &cp
	return nil
}

func (r *stubRepo) ListProposals(ctx context.Context) ([]*model.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Proposal
	for _, p := range r.proposals {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *stubRepo) UpsertVote(ctx context.Context, v *model.VoteReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.votes = append(r.votes, &cp)
	return nil
}

func (r *stubRepo) ListVotes(ctx context.Context, proposalID string) ([]*model.VoteReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.VoteReceipt
	for _, v := range r.votes {
		if v.ProposalID == proposalID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubRepo) UpsertUpgrade(ctx context.Context, u *model.Upgrade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.upgrades[cp.ID] = &cp
	return nil
}

func (r *stubRepo) ListUpgrades(ctx context.Context) ([]*model.Upgrade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Upgrade
	for _, u := range r.upgrades {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *stubRepo) UpsertStake(ctx context.Context, s *model.StakePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.stakes[cp.Account] = &cp
	return nil
}

func (r *stubRepo) ListStakes(ctx context.Context) ([]*model.StakePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.StakePosition
	for _, s := range r.stakes {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *stubRepo) InsertYieldEntry(ctx context.Context, y *model.YieldEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *y
	r.yields = append(r.yields, &cp)
	return nil
}

func (r *stubRepo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
	return nil
}

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) eventsOfType(t model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// ========== yield source stub ==========

type stubYieldSource struct {
	mu      sync.Mutex
	balance float64
	failing bool
}

var _ port.YieldSource = (*stubYieldSource)(nil)

func (s *stubYieldSource) Name() string { return "stub" }

func (s *stubYieldSource) Supply(ctx context.Context, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return context.DeadlineExceeded
	}
	s.balance += amount
	return nil
}

func (s *stubYieldSource) Withdraw(ctx context.Context, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, context.DeadlineExceeded
	}
	got := math.Min(amount, s.balance)
	s.balance -= got
	return got, nil
}

func (s *stubYieldSource) Balance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *stubYieldSource) APY() int64 { return 380 }

// accrue simulates interest earned inside the venue.
func (s *stubYieldSource) accrue(amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance += amount
}

// ========== wired protocol rig ==========

// rig assembles the full protocol the way the service context does, on a
// manual clock and a stub repository.
type rig struct {
	t  *testing.T
	at time.Time

	lastEur float64

	params *domainservice.ParamStore
	access *domainservice.AccessControl
	limits *domainservice.RateLimiter
	usdc   *domainservice.Ledger
	qeuro  *domainservice.Ledger
	qti    *domainservice.Ledger
	stqLed *domainservice.Ledger

	repo   *stubRepo
	source *stubYieldSource

	oracle *Oracle
	yield  *YieldShift
	vault  *Vault
	hedger *HedgerPool
	users  *UserPool
	stq    *StQEURO
	gov    *Governance
	tl     *Timelock
}

func newRig(t *testing.T) *rig {
	r := &rig{t: t, at: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return r.at }

	r.params = domainservice.NewParamStore()
	r.access = domainservice.NewAccessControl()
	r.limits = domainservice.NewRateLimiter(time.Hour)
	r.usdc = domainservice.NewLedger("USDC", 0)
	r.qeuro = domainservice.NewLedger("QEURO", r.params.Get(domainservice.ParamQeuroCap))
	r.qti = domainservice.NewLedger("QTI", 0)
	r.stqLed = domainservice.NewLedger("stQEURO", 0)
	r.repo = newStubRepo()
	r.source = &stubYieldSource{}

	r.oracle = NewOracle(r.params)
	r.oracle.now = clock

	r.yield = NewYieldShift(YieldShiftDeps{Params: r.params, Usdc: r.usdc, Repo: r.repo})
	r.yield.now = clock

	r.vault = NewVault(VaultDeps{
		Oracle: r.oracle, Qeuro: r.qeuro, Usdc: r.usdc,
		Params: r.params, Limits: r.limits, Access: r.access,
		Yield: r.yield, Source: r.source, Repo: r.repo,
	})
	r.vault.now = clock

	r.hedger = NewHedgerPool(HedgerPoolDeps{
		Oracle: r.oracle, Usdc: r.usdc, Params: r.params,
		Limits: r.limits, Access: r.access, Yield: r.yield, Repo: r.repo,
	})
	r.hedger.now = clock

	r.users = NewUserPool(UserPoolDeps{
		Vault: r.vault, Qeuro: r.qeuro, Usdc: r.usdc,
		Params: r.params, Access: r.access, Repo: r.repo,
	})
	r.users.now = clock

	r.stq = NewStQEURO(StQEURODeps{Qeuro: r.qeuro, Stq: r.stqLed, Access: r.access, Repo: r.repo})
	r.stq.now = clock

	r.gov = NewGovernance(GovernanceDeps{Qti: r.qti, Params: r.params, Access: r.access, Repo: r.repo})
	r.gov.now = clock

	r.tl = NewTimelock(TimelockDeps{Params: r.params, Access: r.access, Repo: r.repo})
	r.tl.now = clock

	r.yield.BindPools(r.users, r.hedger)

	r.limits.SetCap(OpMint, r.params.Get(domainservice.ParamMintHourlyCap))
	r.limits.SetCap(OpRedeem, r.params.Get(domainservice.ParamRedeemHourlyCap))

	r.access.Grant(domainservice.RoleKeeper, "keeper")
	r.access.Grant(domainservice.RoleLiquidator, "liquidator")

	r.usdc.Mint("alice", 1_000_000)
	r.usdc.Mint("bob", 1_000_000)
	r.usdc.Mint("hector", 1_000_000)
	r.usdc.Mint("liquidator", 10_000)
	r.qti.Mint("alice", 1_000_000)
	r.qti.Mint("whale", 1_000_000)

	r.forceEurUsd(1.10)
	return r
}

// forceEurUsd pushes the EUR/USD median to p even when the move is beyond
// the one-step deviation limit; breaker behavior has its own tests.
func (r *rig) forceEurUsd(p float64) {
	r.lastEur = p
	r.oracle.Apply(port.Tick{Source: "BINANCE", Pair: port.PairEURUSD, PriceNum: p, Ts: r.at.UnixMilli()})
	if tripped, _ := r.oracle.Tripped(); tripped {
		r.oracle.ResetBreaker()
	}
}

// advance moves the clock and refreshes the oracle so quotes stay inside the
// staleness window.
func (r *rig) advance(d time.Duration) {
	r.at = r.at.Add(d)
	r.forceEurUsd(r.lastEur)
}

func almostEqualTo(got, want, tolerance float64) bool {
	return math.Abs(got-want) <= tolerance
}
