package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// Repo is a hot-read cache and event fan-out layer. Durable protocol state
// lives in the sql repos; wrap both in the composite repo.
type Repo struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	keyLatest   string // prefix + ":latest"
	keyStatus   string // prefix + ":status"
	eventStream string
	eventChan   string
}

type LatestPrice struct {
	Source string  `json:"source"`
	Pair   string  `json:"pair"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, eventStream, eventChan string) *Repo {
	if strings.TrimSpace(eventStream) == "" {
		eventStream = prefix + ":events"
	}
	if strings.TrimSpace(eventChan) == "" {
		eventChan = prefix + ":events:pub"
	}
	return &Repo{
		rdb:         rdb,
		prefix:      prefix,
		ttl:         ttl,
		keyLatest:   prefix + ":latest",
		keyStatus:   prefix + ":status",
		eventStream: eventStream,
		eventChan:   eventChan,
	}
}

func (r *Repo) Close() error { return r.rdb.Close() }

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, pair string, price float64, ts int64) error {
	if price <= 0 {
		return nil
	}
	lp := LatestPrice{Source: source, Pair: pair, Price: price, Ts: ts}
	b, _ := json.Marshal(lp)

	// Hash: field = "BINANCE:EURUSD" -> json
	field := fmt.Sprintf("%s:%s", source, pair)
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, field, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertEvent(ctx context.Context, ev model.Event) error {
	// 1) Stream: XADD <stream> * id type actor payload
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.eventStream,
		Values: map[string]any{
			"id":      ev.ID,
			"type":    string(ev.Type),
			"actor":   ev.Actor,
			"payload": ev.Payload,
			"ts_ms":   ev.Timestamp,
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json for live consumers
	msg, _ := json.Marshal(ev)
	return r.rdb.Publish(ctx, r.eventChan, string(msg)).Err()
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	// keep only the freshest protocol status for dashboards
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyStatus, "payload", payload, "ts_ms", ts)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyStatus, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// The remaining writes describe durable state and are handled by the sql
// repos. They are accepted and dropped here so the cache can sit in a
// composite without filtering.

func (r *Repo) UpsertBalance(ctx context.Context, token, account string, amount float64) error {
	return nil
}

func (r *Repo) ListBalances(ctx context.Context, token string) (map[string]float64, error) {
	return nil, nil
}

func (r *Repo) UpsertHedgePosition(ctx context.Context, pos *model.HedgePosition) error {
	return nil
}

func (r *Repo) ListOpenHedgePositions(ctx context.Context) ([]*model.HedgePosition, error) {
	return nil, nil
}

func (r *Repo) UpsertCommitment(ctx context.Context, c *model.LiquidationCommitment) error {
	return nil
}

func (r *Repo) DeleteCommitment(ctx context.Context, positionID string) error {
	return nil
}

func (r *Repo) ListCommitments(ctx context.Context) ([]*model.LiquidationCommitment, error) {
	return nil, nil
}

func (r *Repo) UpsertLock(ctx context.Context, l *model.Lock) error {
	return nil
}

func (r *Repo) DeleteLock(ctx context.Context, account string) error {
	return nil
}

func (r *Repo) ListLocks(ctx context.Context) ([]*model.Lock, error) {
	return nil, nil
}

func (r *Repo) UpsertProposal(ctx context.Context, p *model.Proposal) error {
	return nil
}

func (r *Repo) ListProposals(ctx context.Context) ([]*model.Proposal, error) {
	return nil, nil
}

func (r *Repo) UpsertVote(ctx context.Context, v *model.VoteReceipt) error {
	return nil
}

func (r *Repo) ListVotes(ctx context.Context, proposalID string) ([]*model.VoteReceipt, error) {
	return nil, nil
}

func (r *Repo) UpsertUpgrade(ctx context.Context, u *model.Upgrade) error {
	return nil
}

func (r *Repo) ListUpgrades(ctx context.Context) ([]*model.Upgrade, error) {
	return nil, nil
}

func (r *Repo) UpsertStake(ctx context.Context, s *model.StakePosition) error {
	return nil
}

func (r *Repo) ListStakes(ctx context.Context) ([]*model.StakePosition, error) {
	return nil, nil
}

func (r *Repo) InsertYieldEntry(ctx context.Context, y *model.YieldEntry) error {
	return nil
}

var _ port.Repository = (*Repo)(nil)
