package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain"
	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type GovernanceDeps struct {
	Qti    *domainservice.Ledger
	Params *domainservice.ParamStore
	Access *domainservice.AccessControl
	Repo   port.Repository
}

// Governance runs vote-escrowed QTI voting. Locking QTI grants voting power
// that scales with lock duration and decays linearly to zero at expiry.
// Proposals carry an optional parameter change executed through the params
// store after the vote passes and the execution delay elapses.
type Governance struct {
	mu sync.Mutex

	qti    *domainservice.Ledger
	params *domainservice.ParamStore
	access *domainservice.AccessControl
	repo   port.Repository

	locks     map[string]*model.Lock
	proposals map[string]*model.Proposal
	receipts  map[string]map[string]*model.VoteReceipt // proposal -> voter -> receipt

	now func() time.Time // test hook
}

func NewGovernance(deps GovernanceDeps) *Governance {
	return &Governance{
		qti:       deps.Qti,
		params:    deps.Params,
		access:    deps.Access,
		repo:      deps.Repo,
		locks:     make(map[string]*model.Lock),
		proposals: make(map[string]*model.Proposal),
		receipts:  make(map[string]map[string]*model.VoteReceipt),
		now:       time.Now,
	}
}

// ========== Vote escrow ==========

// Lock escrows QTI for voting power. An existing lock absorbs the new
// amount and extends to the longer expiry; power is recomputed over the
// combined amount and remaining duration.
func (g *Governance) Lock(ctx context.Context, account string, amount float64, duration time.Duration) (*model.Lock, error) {
	if account == "" || IsProtocolAccount(account) {
		return nil, domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if duration < domainservice.MinLockDuration || duration > domainservice.MaxLockDuration {
		return nil, fmt.Errorf("lock duration %s outside [%s, %s]: %w",
			duration, domainservice.MinLockDuration, domainservice.MaxLockDuration, domain.ErrInvalidAmount)
	}
	if err := g.qti.Transfer(account, AccountGovernance, amount); err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	g.mu.Lock()
	nowMs := g.now().UnixMilli()
	end := nowMs + duration.Milliseconds()
	total := amount
	if existing := g.locks[account]; existing != nil {
		total += existing.Amount
		if existing.End > end {
			end = existing.End
		}
	}
	lock := &model.Lock{
		Account:      account,
		Amount:       total,
		Start:        nowMs,
		End:          end,
		InitialPower: domainservice.InitialVotingPower(total, time.Duration(end-nowMs)*time.Millisecond),
	}
	g.locks[account] = lock
	snapshot := *lock
	g.mu.Unlock()

	_ = g.repo.UpsertLock(ctx, &snapshot)
	_ = g.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventLockCreated, Actor: account,
		Payload:   fmt.Sprintf(`{"amount":%.6f,"end":%d,"power":%.6f}`, total, end, snapshot.InitialPower),
		Timestamp: nowMs,
	})
	persistBalances(ctx, g.repo, g.qti, account, AccountGovernance)

	log.Info().Str("account", account).Float64("amount", total).
		Float64("power", snapshot.InitialPower).Msg("qti locked")
	return &snapshot, nil
}

// Unlock returns escrowed QTI after the lock expires.
func (g *Governance) Unlock(ctx context.Context, account string) (float64, error) {
	g.mu.Lock()
	lock := g.locks[account]
	if lock == nil {
		g.mu.Unlock()
		return 0, fmt.Errorf("lock %s: %w", account, domain.ErrNotFound)
	}
	if g.now().UnixMilli() < lock.End {
		g.mu.Unlock()
		return 0, fmt.Errorf("lock expires at %d: %w", lock.End, domain.ErrLockNotExpired)
	}
	amount := lock.Amount
	if err := g.qti.Transfer(AccountGovernance, account, amount); err != nil {
		g.mu.Unlock()
		return 0, fmt.Errorf("unlock: %w", err)
	}
	delete(g.locks, account)
	g.mu.Unlock()

	_ = g.repo.DeleteLock(ctx, account)
	_ = g.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUnlocked, Actor: account,
		Payload:   fmt.Sprintf(`{"amount":%.6f}`, amount),
		Timestamp: g.now().UnixMilli(),
	})
	persistBalances(ctx, g.repo, g.qti, account, AccountGovernance)

	log.Info().Str("account", account).Float64("amount", amount).Msg("qti unlocked")
	return amount, nil
}

// VotingPower is the account's decayed power at a point in time.
func (g *Governance) VotingPower(account string, atMs int64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock := g.locks[account]
	if lock == nil {
		return 0
	}
	return domainservice.DecayedPower(lock.InitialPower, lock.Start, lock.End, atMs)
}

// TotalVotingPower sums decayed power across all locks at a point in time.
func (g *Governance) TotalVotingPower(atMs int64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0.0
	for _, lock := range g.locks {
		total += domainservice.DecayedPower(lock.InitialPower, lock.Start, lock.End, atMs)
	}
	return total
}

// LockOf returns a copy of the account's lock.
func (g *Governance) LockOf(account string) (*model.Lock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock := g.locks[account]
	if lock == nil {
		return nil, fmt.Errorf("lock %s: %w", account, domain.ErrNotFound)
	}
	snapshot := *lock
	return &snapshot, nil
}

// ========== Proposals ==========

// Propose opens a vote. The proposer needs voting power above the proposal
// threshold; quorum is fixed at creation from total power.
func (g *Governance) Propose(ctx context.Context, proposer, description string, action *model.ParamChange) (*model.Proposal, error) {
	if description == "" {
		return nil, fmt.Errorf("empty description: %w", domain.ErrInvalidAmount)
	}
	if action != nil {
		if _, ok := g.params.All()[action.Key]; !ok {
			return nil, fmt.Errorf("unknown param %q: %w", action.Key, domain.ErrNotFound)
		}
	}

	nowMs := g.now().UnixMilli()
	threshold := g.params.Get(domainservice.ParamProposalThreshold)
	if power := g.VotingPower(proposer, nowMs); power < threshold {
		return nil, fmt.Errorf("power %.2f below proposal threshold %.2f: %w",
			power, threshold, domain.ErrNotAuthorized)
	}
	quorum := domainservice.BpsOf(g.TotalVotingPower(nowMs), g.params.GetBps(domainservice.ParamQuorumBps))

	g.mu.Lock()
	prop := &model.Proposal{
		ID:          uuid.NewString(),
		Proposer:    proposer,
		Description: description,
		Action:      action,
		StartTime:   nowMs,
		EndTime:     nowMs + int64(g.params.Get(domainservice.ParamVotingPeriodSec))*1000,
		Quorum:      quorum,
		Status:      model.ProposalActive,
	}
	g.proposals[prop.ID] = prop
	snapshot := *prop
	g.mu.Unlock()

	_ = g.repo.UpsertProposal(ctx, &snapshot)
	_ = g.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventProposalCreated, Actor: proposer,
		Payload:   fmt.Sprintf(`{"proposal":%q,"quorum":%.2f,"end":%d}`, snapshot.ID, quorum, snapshot.EndTime),
		Timestamp: nowMs,
	})
	log.Info().Str("proposal", snapshot.ID).Str("proposer", proposer).
		Float64("quorum", quorum).Msg("proposal created")
	return &snapshot, nil
}

// Vote casts the voter's full decayed power as of cast time. Quorum stays
// pinned to total power at proposal creation.
func (g *Governance) Vote(ctx context.Context, voter, proposalID string, support bool) error {
	nowMs := g.now().UnixMilli()

	g.mu.Lock()
	prop := g.proposals[proposalID]
	if prop == nil {
		g.mu.Unlock()
		return fmt.Errorf("proposal %s: %w", proposalID, domain.ErrNotFound)
	}
	if prop.Status != model.ProposalActive || nowMs >= prop.EndTime {
		g.mu.Unlock()
		return fmt.Errorf("proposal %s: %w", proposalID, domain.ErrVotingClosed)
	}
	if g.receipts[proposalID][voter] != nil {
		g.mu.Unlock()
		return fmt.Errorf("voter %s on %s: %w", voter, proposalID, domain.ErrAlreadyVoted)
	}
	lock := g.locks[voter]
	weight := 0.0
	if lock != nil {
		weight = domainservice.DecayedPower(lock.InitialPower, lock.Start, lock.End, nowMs)
	}
	if weight <= 0 {
		g.mu.Unlock()
		return fmt.Errorf("no voting power: %w", domain.ErrNotAuthorized)
	}

	if support {
		prop.ForVotes += weight
	} else {
		prop.AgainstVotes += weight
	}
	receipt := &model.VoteReceipt{
		ProposalID: proposalID,
		Voter:      voter,
		Support:    support,
		Weight:     weight,
		CastAt:     nowMs,
	}
	if g.receipts[proposalID] == nil {
		g.receipts[proposalID] = make(map[string]*model.VoteReceipt)
	}
	g.receipts[proposalID][voter] = receipt
	propSnapshot := *prop
	receiptSnapshot := *receipt
	g.mu.Unlock()

	_ = g.repo.UpsertProposal(ctx, &propSnapshot)
	_ = g.repo.UpsertVote(ctx, &receiptSnapshot)
	_ = g.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventVoteCast, Actor: voter,
		Payload:   fmt.Sprintf(`{"proposal":%q,"support":%t,"weight":%.6f}`, proposalID, support, weight),
		Timestamp: nowMs,
	})
	log.Info().Str("proposal", proposalID).Str("voter", voter).
		Bool("support", support).Float64("weight", weight).Msg("vote cast")
	return nil
}

// Finalize settles an ended vote: succeeded when for-votes win and turnout
// meets quorum, defeated otherwise.
func (g *Governance) Finalize(ctx context.Context, proposalID string) error {
	nowMs := g.now().UnixMilli()

	g.mu.Lock()
	prop := g.proposals[proposalID]
	if prop == nil {
		g.mu.Unlock()
		return fmt.Errorf("proposal %s: %w", proposalID, domain.ErrNotFound)
	}
	if prop.Status != model.ProposalActive {
		g.mu.Unlock()
		return nil
	}
	if nowMs < prop.EndTime {
		g.mu.Unlock()
		return fmt.Errorf("voting open until %d: %w", prop.EndTime, domain.ErrVotingClosed)
	}
	if prop.ForVotes > prop.AgainstVotes && prop.ForVotes+prop.AgainstVotes >= prop.Quorum {
		prop.Status = model.ProposalSucceeded
		prop.ExecutableAt = prop.EndTime + int64(g.params.Get(domainservice.ParamExecutionDelaySec))*1000
	} else {
		prop.Status = model.ProposalDefeated
	}
	snapshot := *prop
	g.mu.Unlock()

	_ = g.repo.UpsertProposal(ctx, &snapshot)
	log.Info().Str("proposal", proposalID).Str("status", string(snapshot.Status)).
		Float64("for", snapshot.ForVotes).Float64("against", snapshot.AgainstVotes).Msg("proposal finalized")
	return nil
}

// SweepFinalize finalizes every ended active proposal. Keeper cadence.
func (g *Governance) SweepFinalize(ctx context.Context) int {
	nowMs := g.now().UnixMilli()

	g.mu.Lock()
	var ended []string
	for id, prop := range g.proposals {
		if prop.Status == model.ProposalActive && nowMs >= prop.EndTime {
			ended = append(ended, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ended {
		_ = g.Finalize(ctx, id)
	}
	return len(ended)
}

// Execute applies a succeeded proposal's parameter change once the execution
// delay has elapsed. Anyone may execute.
func (g *Governance) Execute(ctx context.Context, actor, proposalID string) error {
	nowMs := g.now().UnixMilli()

	g.mu.Lock()
	prop := g.proposals[proposalID]
	if prop == nil {
		g.mu.Unlock()
		return fmt.Errorf("proposal %s: %w", proposalID, domain.ErrNotFound)
	}
	if prop.Status != model.ProposalSucceeded {
		g.mu.Unlock()
		return fmt.Errorf("proposal %s is %s: %w", proposalID, prop.Status, domain.ErrVotingClosed)
	}
	if nowMs < prop.ExecutableAt {
		g.mu.Unlock()
		return fmt.Errorf("executable at %d: %w", prop.ExecutableAt, domain.ErrTimelockPending)
	}
	// claim execution before applying, so a concurrent executor bounces off
	prop.Status = model.ProposalExecuted
	prop.ExecutedAt = nowMs
	action := prop.Action
	g.mu.Unlock()

	if action != nil {
		if err := g.params.Set(action.Key, action.Value); err != nil {
			g.mu.Lock()
			prop.Status = model.ProposalSucceeded
			prop.ExecutedAt = 0
			g.mu.Unlock()
			return fmt.Errorf("execute %s: %w", proposalID, err)
		}
		_ = g.repo.InsertEvent(ctx, model.Event{
			ID: uuid.NewString(), Type: model.EventParamChanged, Actor: actor,
			Payload:   fmt.Sprintf(`{"key":%q,"value":%f,"proposal":%q}`, action.Key, action.Value, proposalID),
			Timestamp: nowMs,
		})
	}

	g.mu.Lock()
	snapshot := *prop
	g.mu.Unlock()

	_ = g.repo.UpsertProposal(ctx, &snapshot)
	_ = g.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventProposalExecuted, Actor: actor,
		Payload:   fmt.Sprintf(`{"proposal":%q}`, proposalID),
		Timestamp: nowMs,
	})
	log.Info().Str("proposal", proposalID).Str("actor", actor).Msg("proposal executed")
	return nil
}

// Cancel withdraws a proposal before execution. Only the proposer or the
// governance role may cancel.
func (g *Governance) Cancel(ctx context.Context, actor, proposalID string) error {
	g.mu.Lock()
	prop := g.proposals[proposalID]
	if prop == nil {
		g.mu.Unlock()
		return fmt.Errorf("proposal %s: %w", proposalID, domain.ErrNotFound)
	}
	if actor != prop.Proposer && !g.access.Has(domainservice.RoleGovernance, actor) {
		g.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", proposalID, domain.ErrNotAuthorized)
	}
	if prop.Status != model.ProposalActive && prop.Status != model.ProposalSucceeded {
		g.mu.Unlock()
		return fmt.Errorf("proposal %s is %s: %w", proposalID, prop.Status, domain.ErrVotingClosed)
	}
	prop.Status = model.ProposalCanceled
	snapshot := *prop
	g.mu.Unlock()

	_ = g.repo.UpsertProposal(ctx, &snapshot)
	log.Info().Str("proposal", proposalID).Str("actor", actor).Msg("proposal canceled")
	return nil
}

// ========== Views ==========

// Proposal returns a copy of one proposal.
func (g *Governance) Proposal(id string) (*model.Proposal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prop := g.proposals[id]
	if prop == nil {
		return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	snapshot := *prop
	return &snapshot, nil
}

// Proposals lists proposals, newest first. Empty status lists all.
func (g *Governance) Proposals(status model.ProposalStatus) []*model.Proposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*model.Proposal, 0, len(g.proposals))
	for _, prop := range g.proposals {
		if status != "" && prop.Status != status {
			continue
		}
		snapshot := *prop
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime > out[j].StartTime })
	return out
}

// Receipt returns the voter's receipt on a proposal.
func (g *Governance) Receipt(proposalID, voter string) (*model.VoteReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.receipts[proposalID][voter]
	if r == nil {
		return nil, fmt.Errorf("receipt %s/%s: %w", proposalID, voter, domain.ErrNotFound)
	}
	snapshot := *r
	return &snapshot, nil
}

// Locks lists all vote-escrow locks.
func (g *Governance) Locks() []*model.Lock {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*model.Lock, 0, len(g.locks))
	for _, lock := range g.locks {
		snapshot := *lock
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Restore reloads governance state from storage at boot.
func (g *Governance) Restore(locks []*model.Lock, proposals []*model.Proposal, votes []*model.VoteReceipt) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.locks = make(map[string]*model.Lock, len(locks))
	for _, lock := range locks {
		cp := *lock
		g.locks[cp.Account] = &cp
	}
	g.proposals = make(map[string]*model.Proposal, len(proposals))
	for _, prop := range proposals {
		cp := *prop
		g.proposals[cp.ID] = &cp
	}
	g.receipts = make(map[string]map[string]*model.VoteReceipt)
	for _, v := range votes {
		cp := *v
		if g.receipts[cp.ProposalID] == nil {
			g.receipts[cp.ProposalID] = make(map[string]*model.VoteReceipt)
		}
		g.receipts[cp.ProposalID][cp.Voter] = &cp
	}
}
