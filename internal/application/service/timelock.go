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

// initialVersion is what every component runs before its first upgrade.
const initialVersion = "v1"

// componentOracle is upgradeable but not pausable, so it has no entry in the
// access component set.
const componentOracle = "oracle"

var upgradeableComponents = map[string]bool{
	domainservice.ComponentVault:      true,
	domainservice.ComponentHedger:     true,
	domainservice.ComponentUserPool:   true,
	domainservice.ComponentStQEURO:    true,
	domainservice.ComponentYieldShift: true,
	componentOracle:                   true,
}

type TimelockDeps struct {
	Params *domainservice.ParamStore
	Access *domainservice.AccessControl
	Repo   port.Repository
}

// Timelock runs multi-approver, delayed component version switches. An
// upgrade executes only after its ETA, before its grace window lapses, and
// with enough multisig approvals. Members are the accounts holding the
// upgrader role.
type Timelock struct {
	mu sync.Mutex

	params *domainservice.ParamStore
	access *domainservice.AccessControl
	repo   port.Repository

	upgrades map[string]*model.Upgrade
	active   map[string]string // component -> running version

	now func() time.Time // test hook
}

func NewTimelock(deps TimelockDeps) *Timelock {
	return &Timelock{
		params:   deps.Params,
		access:   deps.Access,
		repo:     deps.Repo,
		upgrades: make(map[string]*model.Upgrade),
		active:   make(map[string]string),
		now:      time.Now,
	}
}

// ProposeUpgrade schedules a version switch. The proposer's approval is
// counted immediately; one pending upgrade per component.
func (t *Timelock) ProposeUpgrade(ctx context.Context, proposer, component, newVersion, description string) (*model.Upgrade, error) {
	if err := t.access.Require(domainservice.RoleUpgrader, proposer); err != nil {
		return nil, err
	}
	if !upgradeableComponents[component] {
		return nil, fmt.Errorf("component %q: %w", component, domain.ErrNotFound)
	}
	if newVersion == "" {
		return nil, fmt.Errorf("empty version: %w", domain.ErrInvalidAmount)
	}

	t.mu.Lock()
	if newVersion == t.activeLocked(component) {
		t.mu.Unlock()
		return nil, fmt.Errorf("%s already runs %s: %w", component, newVersion, domain.ErrAlreadyExists)
	}
	for _, u := range t.upgrades {
		if u.Component == component && u.Status == model.UpgradePending {
			t.mu.Unlock()
			return nil, fmt.Errorf("pending upgrade %s on %s: %w", u.ID, component, domain.ErrAlreadyExists)
		}
	}
	nowMs := t.nowMs()
	eta := nowMs + int64(t.params.Get(domainservice.ParamUpgradeDelaySec))*1000
	u := &model.Upgrade{
		ID:          uuid.NewString(),
		Component:   component,
		NewVersion:  newVersion,
		Description: description,
		Proposer:    proposer,
		ProposedAt:  nowMs,
		ETA:         eta,
		ExpiresAt:   eta + int64(t.params.Get(domainservice.ParamUpgradeGraceSec))*1000,
		Approvals:   map[string]bool{proposer: true},
		Status:      model.UpgradePending,
	}
	t.upgrades[u.ID] = u
	snapshot := copyUpgrade(u)
	t.mu.Unlock()

	_ = t.repo.UpsertUpgrade(ctx, snapshot)
	_ = t.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUpgradeProposed, Actor: proposer,
		Payload: fmt.Sprintf(`{"upgrade":%q,"component":%q,"version":%q,"eta":%d}`,
			snapshot.ID, component, newVersion, eta),
		Timestamp: nowMs,
	})
	log.Info().Str("upgrade", snapshot.ID).Str("component", component).
		Str("version", newVersion).Int64("eta", eta).Msg("upgrade proposed")
	return snapshot, nil
}

// ApproveUpgrade adds a multisig member's approval.
func (t *Timelock) ApproveUpgrade(ctx context.Context, signer, upgradeID string) error {
	if err := t.access.Require(domainservice.RoleUpgrader, signer); err != nil {
		return err
	}

	t.mu.Lock()
	u := t.upgrades[upgradeID]
	if u == nil {
		t.mu.Unlock()
		return fmt.Errorf("upgrade %s: %w", upgradeID, domain.ErrNotFound)
	}
	if u.Status != model.UpgradePending {
		t.mu.Unlock()
		return fmt.Errorf("upgrade %s is %s: %w", upgradeID, u.Status, domain.ErrNotFound)
	}
	if t.nowMs() > u.ExpiresAt {
		u.Status = model.UpgradeExpired
		snapshot := copyUpgrade(u)
		t.mu.Unlock()
		_ = t.repo.UpsertUpgrade(ctx, snapshot)
		return fmt.Errorf("upgrade %s expired: %w", upgradeID, domain.ErrTimelockPending)
	}
	if u.Approvals[signer] {
		t.mu.Unlock()
		return fmt.Errorf("already approved by %s: %w", signer, domain.ErrAlreadyExists)
	}
	u.Approvals[signer] = true
	snapshot := copyUpgrade(u)
	t.mu.Unlock()

	_ = t.repo.UpsertUpgrade(ctx, snapshot)
	_ = t.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUpgradeApproved, Actor: signer,
		Payload:   fmt.Sprintf(`{"upgrade":%q,"approvals":%d}`, upgradeID, snapshot.ApprovalCount()),
		Timestamp: t.nowMs(),
	})
	log.Info().Str("upgrade", upgradeID).Str("signer", signer).
		Int("approvals", snapshot.ApprovalCount()).Msg("upgrade approved")
	return nil
}

// ExecuteUpgrade switches the component to the new version once the delay
// has elapsed, the grace window is open, and approvals meet the threshold.
func (t *Timelock) ExecuteUpgrade(ctx context.Context, actor, upgradeID string) error {
	if err := t.access.Require(domainservice.RoleUpgrader, actor); err != nil {
		return err
	}

	t.mu.Lock()
	u := t.upgrades[upgradeID]
	if u == nil {
		t.mu.Unlock()
		return fmt.Errorf("upgrade %s: %w", upgradeID, domain.ErrNotFound)
	}
	if u.Status != model.UpgradePending {
		t.mu.Unlock()
		return fmt.Errorf("upgrade %s is %s: %w", upgradeID, u.Status, domain.ErrNotFound)
	}
	nowMs := t.nowMs()
	if nowMs < u.ETA {
		t.mu.Unlock()
		return fmt.Errorf("executable at %d: %w", u.ETA, domain.ErrTimelockPending)
	}
	if nowMs > u.ExpiresAt {
		u.Status = model.UpgradeExpired
		snapshot := copyUpgrade(u)
		t.mu.Unlock()
		_ = t.repo.UpsertUpgrade(ctx, snapshot)
		return fmt.Errorf("upgrade %s expired: %w", upgradeID, domain.ErrTimelockPending)
	}
	required := int(t.params.Get(domainservice.ParamRequiredApprovals))
	if got := u.ApprovalCount(); got < required {
		t.mu.Unlock()
		return fmt.Errorf("approvals %d/%d: %w", got, required, domain.ErrNotAuthorized)
	}

	t.active[u.Component] = u.NewVersion
	u.Status = model.UpgradeExecuted
	u.ExecutedAt = nowMs
	snapshot := copyUpgrade(u)
	t.mu.Unlock()

	_ = t.repo.UpsertUpgrade(ctx, snapshot)
	_ = t.repo.InsertEvent(ctx, model.Event{
		ID: uuid.NewString(), Type: model.EventUpgradeExecuted, Actor: actor,
		Payload: fmt.Sprintf(`{"upgrade":%q,"component":%q,"version":%q}`,
			upgradeID, snapshot.Component, snapshot.NewVersion),
		Timestamp: nowMs,
	})
	log.Info().Str("upgrade", upgradeID).Str("component", snapshot.Component).
		Str("version", snapshot.NewVersion).Msg("upgrade executed")
	return nil
}

// CancelUpgrade withdraws a pending upgrade. Only the proposer or the
// governance role may cancel.
func (t *Timelock) CancelUpgrade(ctx context.Context, actor, upgradeID string) error {
	t.mu.Lock()
	u := t.upgrades[upgradeID]
	if u == nil {
		t.mu.Unlock()
		return fmt.Errorf("upgrade %s: %w", upgradeID, domain.ErrNotFound)
	}
	if actor != u.Proposer && !t.access.Has(domainservice.RoleGovernance, actor) {
		t.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", upgradeID, domain.ErrNotAuthorized)
	}
	if u.Status != model.UpgradePending {
		t.mu.Unlock()
		return fmt.Errorf("upgrade %s is %s: %w", upgradeID, u.Status, domain.ErrNotFound)
	}
	u.Status = model.UpgradeCanceled
	snapshot := copyUpgrade(u)
	t.mu.Unlock()

	_ = t.repo.UpsertUpgrade(ctx, snapshot)
	log.Info().Str("upgrade", upgradeID).Str("actor", actor).Msg("upgrade canceled")
	return nil
}

// SweepExpired marks pending upgrades whose grace window lapsed. Keeper
// cadence.
func (t *Timelock) SweepExpired(ctx context.Context) int {
	nowMs := t.nowMs()

	t.mu.Lock()
	var expired []*model.Upgrade
	for _, u := range t.upgrades {
		if u.Status == model.UpgradePending && nowMs > u.ExpiresAt {
			u.Status = model.UpgradeExpired
			expired = append(expired, copyUpgrade(u))
		}
	}
	t.mu.Unlock()

	for _, u := range expired {
		_ = t.repo.UpsertUpgrade(ctx, u)
		log.Info().Str("upgrade", u.ID).Str("component", u.Component).Msg("upgrade expired")
	}
	return len(expired)
}

// ActiveVersion is the component's running version.
func (t *Timelock) ActiveVersion(component string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked(component)
}

// Versions maps every upgradeable component to its running version.
func (t *Timelock) Versions() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(upgradeableComponents))
	for component := range upgradeableComponents {
		out[component] = t.activeLocked(component)
	}
	return out
}

// Upgrades lists upgrades, newest first. Empty status lists all.
func (t *Timelock) Upgrades(status model.UpgradeStatus) []*model.Upgrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*model.Upgrade, 0, len(t.upgrades))
	for _, u := range t.upgrades {
		if status != "" && u.Status != status {
			continue
		}
		out = append(out, copyUpgrade(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt > out[j].ProposedAt })
	return out
}

// Upgrade returns a copy of one upgrade.
func (t *Timelock) Upgrade(id string) (*model.Upgrade, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.upgrades[id]
	if u == nil {
		return nil, fmt.Errorf("upgrade %s: %w", id, domain.ErrNotFound)
	}
	return copyUpgrade(u), nil
}

// Restore reloads upgrades from storage at boot and replays executed ones in
// order to rebuild the active version map.
func (t *Timelock) Restore(upgrades []*model.Upgrade) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.upgrades = make(map[string]*model.Upgrade, len(upgrades))
	t.active = make(map[string]string)

	executed := make([]*model.Upgrade, 0, len(upgrades))
	for _, u := range upgrades {
		cp := copyUpgrade(u)
		t.upgrades[cp.ID] = cp
		if cp.Status == model.UpgradeExecuted {
			executed = append(executed, cp)
		}
	}
	sort.Slice(executed, func(i, j int) bool { return executed[i].ExecutedAt < executed[j].ExecutedAt })
	for _, u := range executed {
		t.active[u.Component] = u.NewVersion
	}
}

func (t *Timelock) activeLocked(component string) string {
	if v := t.active[component]; v != "" {
		return v
	}
	return initialVersion
}

func (t *Timelock) nowMs() int64 {
	return t.now().UnixMilli()
}

func copyUpgrade(u *model.Upgrade) *model.Upgrade {
	cp := *u
	cp.Approvals = make(map[string]bool, len(u.Approvals))
	for k, v := range u.Approvals {
		cp.Approvals[k] = v
	}
	return &cp
}
