package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/application/service"
	"quantillon/internal/domain/model"

	"github.com/rs/zerolog/log"
)

// ProtocolStatus is the point-in-time summary attached to persisted
// snapshots and rendered after the price block.
type ProtocolStatus struct {
	Oracle service.OracleStatus    `json:"oracle"`
	Vault  model.VaultMetrics      `json:"vault"`
	Hedger model.HedgerPoolStats   `json:"hedger_pool"`
	Users  model.UserPoolStats     `json:"user_pool"`
	Stq    service.StQEUROMetrics  `json:"stqeuro"`
	Yield  model.YieldDistribution `json:"yield"`
}

type ServiceDeps struct {
	Feeds            []PriceFeed
	Pairs            []string
	SnapshotEveryMin int
	SpreadThreshold  float64
	Oracle           *service.Oracle
	Vault            *service.Vault
	Hedger           *service.HedgerPool
	Users            *service.UserPool
	Stq              *service.StQEURO
	Yield            *service.YieldShift
	Sink             port.Sink
	Repo             port.Repository
}

type Service struct {
	deps ServiceDeps
	st   *State
	fmt  *Formatter
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		deps: deps,
		st:   NewState(deps.Pairs),
		fmt:  NewFormatter(deps.SpreadThreshold),
	}
}

func (s *Service) Run(ctx context.Context) error {
	if len(s.deps.Feeds) == 0 {
		return errors.New("no feeds")
	}

	merged := make(chan port.Tick, 1024)

	// start feeds
	for _, feed := range s.deps.Feeds {
		ch, err := feed.Subscribe(ctx, s.deps.Pairs)
		if err != nil {
			return err
		}
		go func(name string, in <-chan port.Tick) {
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-in:
					if !ok {
						return
					}
					merged <- t
				}
			}
		}(feed.Name(), ch)

		log.Info().Str("feed", feed.Name()).Msg("feed started")
	}

	// snapshot ticker
	snapTicker := time.NewTicker(time.Duration(s.deps.SnapshotEveryMin) * time.Minute)
	defer snapTicker.Stop()

	// initial live line
	_ = s.deps.Sink.WriteLive(s.fmt.Render(s.st, s.status(), RenderLive))

	for {
		select {
		case <-ctx.Done():
			_ = s.deps.Sink.NewLine()
			return ctx.Err()

		case now := <-snapTicker.C:
			ps := s.status()
			line := s.fmt.Render(s.st, ps, RenderSnapshot)
			_ = s.deps.Sink.WriteSnapshot(now, line)
			// persist the structured status, not the ansi line
			if payload, err := json.Marshal(ps); err == nil {
				_ = s.deps.Repo.InsertSnapshot(ctx, now.UnixMilli(), string(payload))
			}

		case t := <-merged:
			s.deps.Oracle.Apply(t)
			changed := s.st.Apply(t)
			if changed {
				line := s.fmt.Render(s.st, s.status(), RenderLive)
				_ = s.deps.Sink.WriteLive(line)
			}
			if t.PriceNum > 0 {
				_ = s.deps.Repo.UpsertLatestPrice(ctx, t.Source, t.Pair, t.PriceNum, t.Ts)
			}
		}
	}
}

func (s *Service) status() ProtocolStatus {
	return ProtocolStatus{
		Oracle: s.deps.Oracle.Status(),
		Vault:  s.deps.Vault.Metrics(),
		Hedger: s.deps.Hedger.Stats(),
		Users:  s.deps.Users.Stats(),
		Stq:    s.deps.Stq.Metrics(),
		Yield:  s.deps.Yield.Distribution(),
	}
}
