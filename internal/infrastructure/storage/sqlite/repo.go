package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"quantillon/internal/application/port"
	"quantillon/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS prices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  pair TEXT NOT NULL,
  price REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE(source, pair)
);
CREATE INDEX IF NOT EXISTS idx_prices_ts ON prices(ts_ms);
CREATE INDEX IF NOT EXISTS idx_prices_pair ON prices(pair);

CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL DEFAULT '',
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_ms);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);

CREATE TABLE IF NOT EXISTS balances (
  token TEXT NOT NULL,
  account TEXT NOT NULL,
  amount REAL NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY(token, account)
);

CREATE TABLE IF NOT EXISTS hedge_positions (
  id TEXT PRIMARY KEY,
  hedger TEXT NOT NULL,
  margin REAL NOT NULL,
  leverage REAL NOT NULL,
  notional REAL NOT NULL,
  entry_price REAL NOT NULL,
  close_price REAL NOT NULL DEFAULT 0,
  realized_pnl REAL NOT NULL DEFAULT 0,
  reward_debt REAL NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  opened_at INTEGER NOT NULL,
  closed_at INTEGER NOT NULL DEFAULT 0,
  closing_reason TEXT NOT NULL DEFAULT '',
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hedge_pos_hedger ON hedge_positions(hedger);
CREATE INDEX IF NOT EXISTS idx_hedge_pos_status ON hedge_positions(status);

CREATE TABLE IF NOT EXISTS commitments (
  position_id TEXT PRIMARY KEY,
  id TEXT NOT NULL,
  liquidator TEXT NOT NULL,
  hash TEXT NOT NULL,
  committed_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS qti_locks (
  account TEXT PRIMARY KEY,
  amount REAL NOT NULL,
  start_ms INTEGER NOT NULL,
  end_ms INTEGER NOT NULL,
  initial_power REAL NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS proposals (
  id TEXT PRIMARY KEY,
  proposer TEXT NOT NULL,
  description TEXT NOT NULL,
  action_key TEXT,
  action_value REAL,
  start_time INTEGER NOT NULL,
  end_time INTEGER NOT NULL,
  for_votes REAL NOT NULL,
  against_votes REAL NOT NULL,
  quorum REAL NOT NULL,
  status TEXT NOT NULL,
  executable_at INTEGER NOT NULL DEFAULT 0,
  executed_at INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);

CREATE TABLE IF NOT EXISTS votes (
  proposal_id TEXT NOT NULL,
  voter TEXT NOT NULL,
  support INTEGER NOT NULL,
  weight REAL NOT NULL,
  cast_at INTEGER NOT NULL,
  PRIMARY KEY(proposal_id, voter)
);

CREATE TABLE IF NOT EXISTS upgrades (
  id TEXT PRIMARY KEY,
  component TEXT NOT NULL,
  new_version TEXT NOT NULL,
  description TEXT NOT NULL,
  proposer TEXT NOT NULL,
  proposed_at INTEGER NOT NULL,
  eta INTEGER NOT NULL,
  expires_at INTEGER NOT NULL,
  approvals TEXT NOT NULL DEFAULT '{}',
  status TEXT NOT NULL,
  executed_at INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_upgrades_status ON upgrades(status);

CREATE TABLE IF NOT EXISTS stakes (
  account TEXT PRIMARY KEY,
  deposited REAL NOT NULL,
  staked REAL NOT NULL,
  reward_debt REAL NOT NULL,
  claimed REAL NOT NULL,
  last_deposit INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS yield_entries (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  amount REAL NOT NULL,
  user_share REAL NOT NULL,
  hedger_share REAL NOT NULL,
  shift_bps INTEGER NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_yield_ts ON yield_entries(ts_ms);
CREATE INDEX IF NOT EXISTS idx_yield_source ON yield_entries(source);

CREATE TABLE IF NOT EXISTS snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ms INTEGER NOT NULL,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ms);
`)
	return err
}

func nowMs() int64 { return time.Now().UnixMilli() }

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, pair string, price float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prices(source, pair, price, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(source, pair) DO UPDATE SET
		price=excluded.price, ts_ms=excluded.ts_ms
	`, source, pair, price, ts, ts)
	return err
}

func (r *Repo) InsertEvent(ctx context.Context, ev model.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events(id, type, actor, payload, ts_ms)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, string(ev.Type), ev.Actor, ev.Payload, ev.Timestamp)
	return err
}

func (r *Repo) UpsertBalance(ctx context.Context, token, account string, amount float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO balances(token, account, amount, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(token, account) DO UPDATE SET
		amount=excluded.amount, updated_at=excluded.updated_at
	`, token, account, amount, nowMs())
	return err
}

func (r *Repo) ListBalances(ctx context.Context, token string) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT account, amount FROM balances WHERE token=?`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var account string
		var amount float64
		if err := rows.Scan(&account, &amount); err != nil {
			return nil, err
		}
		out[account] = amount
	}
	return out, rows.Err()
}

func (r *Repo) UpsertHedgePosition(ctx context.Context, pos *model.HedgePosition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hedge_positions(id, hedger, margin, leverage, notional, entry_price,
			close_price, realized_pnl, reward_debt, status, opened_at, closed_at, closing_reason, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		margin=excluded.margin, notional=excluded.notional, close_price=excluded.close_price,
		realized_pnl=excluded.realized_pnl, reward_debt=excluded.reward_debt, status=excluded.status,
		closed_at=excluded.closed_at, closing_reason=excluded.closing_reason, updated_at=excluded.updated_at
	`, pos.ID, pos.Hedger, pos.Margin, pos.Leverage, pos.Notional, pos.EntryPrice,
		pos.ClosePrice, pos.RealizedPnL, pos.RewardDebt, string(pos.Status),
		pos.OpenedAt, pos.ClosedAt, pos.ClosingReason, nowMs())
	return err
}

func (r *Repo) ListOpenHedgePositions(ctx context.Context) ([]*model.HedgePosition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hedger, margin, leverage, notional, entry_price, close_price,
			realized_pnl, reward_debt, status, opened_at, closed_at, closing_reason
		FROM hedge_positions WHERE status=? ORDER BY opened_at
	`, string(model.PositionOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.HedgePosition
	for rows.Next() {
		var p model.HedgePosition
		var status string
		if err := rows.Scan(&p.ID, &p.Hedger, &p.Margin, &p.Leverage, &p.Notional, &p.EntryPrice,
			&p.ClosePrice, &p.RealizedPnL, &p.RewardDebt, &status, &p.OpenedAt, &p.ClosedAt, &p.ClosingReason); err != nil {
			return nil, err
		}
		p.Status = model.PositionStatus(status)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertCommitment(ctx context.Context, c *model.LiquidationCommitment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commitments(position_id, id, liquidator, hash, committed_at, expires_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET
		id=excluded.id, liquidator=excluded.liquidator, hash=excluded.hash,
		committed_at=excluded.committed_at, expires_at=excluded.expires_at
	`, c.PositionID, c.ID, c.Liquidator, c.Hash, c.CommittedAt, c.ExpiresAt)
	return err
}

func (r *Repo) DeleteCommitment(ctx context.Context, positionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM commitments WHERE position_id=?`, positionID)
	return err
}

func (r *Repo) ListCommitments(ctx context.Context) ([]*model.LiquidationCommitment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position_id, id, liquidator, hash, committed_at, expires_at FROM commitments
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.LiquidationCommitment
	for rows.Next() {
		var c model.LiquidationCommitment
		if err := rows.Scan(&c.PositionID, &c.ID, &c.Liquidator, &c.Hash, &c.CommittedAt, &c.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertLock(ctx context.Context, l *model.Lock) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO qti_locks(account, amount, start_ms, end_ms, initial_power, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
		amount=excluded.amount, start_ms=excluded.start_ms, end_ms=excluded.end_ms,
		initial_power=excluded.initial_power, updated_at=excluded.updated_at
	`, l.Account, l.Amount, l.Start, l.End, l.InitialPower, nowMs())
	return err
}

func (r *Repo) DeleteLock(ctx context.Context, account string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM qti_locks WHERE account=?`, account)
	return err
}

func (r *Repo) ListLocks(ctx context.Context) ([]*model.Lock, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT account, amount, start_ms, end_ms, initial_power FROM qti_locks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Lock
	for rows.Next() {
		var l model.Lock
		if err := rows.Scan(&l.Account, &l.Amount, &l.Start, &l.End, &l.InitialPower); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertProposal(ctx context.Context, p *model.Proposal) error {
	var actionKey sql.NullString
	var actionValue sql.NullFloat64
	if p.Action != nil {
		actionKey = sql.NullString{String: p.Action.Key, Valid: true}
		actionValue = sql.NullFloat64{Float64: p.Action.Value, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO proposals(id, proposer, description, action_key, action_value,
			start_time, end_time, for_votes, against_votes, quorum, status, executable_at, executed_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		for_votes=excluded.for_votes, against_votes=excluded.against_votes, status=excluded.status,
		executable_at=excluded.executable_at, executed_at=excluded.executed_at, updated_at=excluded.updated_at
	`, p.ID, p.Proposer, p.Description, actionKey, actionValue,
		p.StartTime, p.EndTime, p.ForVotes, p.AgainstVotes, p.Quorum,
		string(p.Status), p.ExecutableAt, p.ExecutedAt, nowMs())
	return err
}

func (r *Repo) ListProposals(ctx context.Context) ([]*model.Proposal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, proposer, description, action_key, action_value, start_time, end_time,
			for_votes, against_votes, quorum, status, executable_at, executed_at
		FROM proposals ORDER BY start_time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Proposal
	for rows.Next() {
		var p model.Proposal
		var status string
		var actionKey sql.NullString
		var actionValue sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Proposer, &p.Description, &actionKey, &actionValue,
			&p.StartTime, &p.EndTime, &p.ForVotes, &p.AgainstVotes, &p.Quorum,
			&status, &p.ExecutableAt, &p.ExecutedAt); err != nil {
			return nil, err
		}
		p.Status = model.ProposalStatus(status)
		if actionKey.Valid {
			p.Action = &model.ParamChange{Key: actionKey.String, Value: actionValue.Float64}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertVote(ctx context.Context, v *model.VoteReceipt) error {
	support := 0
	if v.Support {
		support = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO votes(proposal_id, voter, support, weight, cast_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(proposal_id, voter) DO NOTHING
	`, v.ProposalID, v.Voter, support, v.Weight, v.CastAt)
	return err
}

func (r *Repo) ListVotes(ctx context.Context, proposalID string) ([]*model.VoteReceipt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT proposal_id, voter, support, weight, cast_at FROM votes WHERE proposal_id=?
	`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.VoteReceipt
	for rows.Next() {
		var v model.VoteReceipt
		var support int
		if err := rows.Scan(&v.ProposalID, &v.Voter, &support, &v.Weight, &v.CastAt); err != nil {
			return nil, err
		}
		v.Support = support != 0
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertUpgrade(ctx context.Context, u *model.Upgrade) error {
	approvals, err := json.Marshal(u.Approvals)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO upgrades(id, component, new_version, description, proposer,
			proposed_at, eta, expires_at, approvals, status, executed_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		approvals=excluded.approvals, status=excluded.status,
		executed_at=excluded.executed_at, updated_at=excluded.updated_at
	`, u.ID, u.Component, u.NewVersion, u.Description, u.Proposer,
		u.ProposedAt, u.ETA, u.ExpiresAt, string(approvals), string(u.Status), u.ExecutedAt, nowMs())
	return err
}

func (r *Repo) ListUpgrades(ctx context.Context) ([]*model.Upgrade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, component, new_version, description, proposer, proposed_at,
			eta, expires_at, approvals, status, executed_at
		FROM upgrades ORDER BY proposed_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Upgrade
	for rows.Next() {
		var u model.Upgrade
		var status, approvals string
		if err := rows.Scan(&u.ID, &u.Component, &u.NewVersion, &u.Description, &u.Proposer,
			&u.ProposedAt, &u.ETA, &u.ExpiresAt, &approvals, &status, &u.ExecutedAt); err != nil {
			return nil, err
		}
		u.Status = model.UpgradeStatus(status)
		if err := json.Unmarshal([]byte(approvals), &u.Approvals); err != nil {
			u.Approvals = map[string]bool{}
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertStake(ctx context.Context, s *model.StakePosition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stakes(account, deposited, staked, reward_debt, claimed, last_deposit, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
		deposited=excluded.deposited, staked=excluded.staked, reward_debt=excluded.reward_debt,
		claimed=excluded.claimed, last_deposit=excluded.last_deposit, updated_at=excluded.updated_at
	`, s.Account, s.Deposited, s.Staked, s.RewardDebt, s.Claimed, s.LastDeposit, nowMs())
	return err
}

func (r *Repo) ListStakes(ctx context.Context) ([]*model.StakePosition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account, deposited, staked, reward_debt, claimed, last_deposit, updated_at FROM stakes
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.StakePosition
	for rows.Next() {
		var s model.StakePosition
		if err := rows.Scan(&s.Account, &s.Deposited, &s.Staked, &s.RewardDebt, &s.Claimed, &s.LastDeposit, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *Repo) InsertYieldEntry(ctx context.Context, y *model.YieldEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO yield_entries(id, source, amount, user_share, hedger_share, shift_bps, ts_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, y.ID, string(y.Source), y.Amount, y.UserShare, y.HedgerShare, y.ShiftBps, y.Timestamp)
	return err
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO snapshots(ts_ms, payload, created_at) VALUES(?, ?, ?)`, ts, payload, ts)
	return err
}

var _ port.Repository = (*Repo)(nil)
