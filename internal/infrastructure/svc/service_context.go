package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quantillon/internal/application/port"
	"quantillon/internal/application/service"
	"quantillon/internal/application/usecase/engine"
	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"
	"quantillon/internal/infrastructure/config"
	"quantillon/internal/infrastructure/oracle/binance"
	"quantillon/internal/infrastructure/oracle/bybit"
	compositerepo "quantillon/internal/infrastructure/storage/composite"
	memoryrepo "quantillon/internal/infrastructure/storage/memory"
	postgresrepo "quantillon/internal/infrastructure/storage/postgres"
	redisrepo "quantillon/internal/infrastructure/storage/redis"
	sqliterepo "quantillon/internal/infrastructure/storage/sqlite"
	aavemarket "quantillon/internal/infrastructure/yieldsource/aave"
	"quantillon/internal/interfaces/console"
)

// ServiceContext owns every long-lived protocol component. It is the single
// place construction order lives: storage, ledgers, parameter store, then
// the services in dependency order, then state restore.
type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	Repo port.Repository
	Sink port.Sink

	Usdc  *domainservice.Ledger
	Qeuro *domainservice.Ledger
	Qti   *domainservice.Ledger
	Stq   *domainservice.Ledger

	Params *domainservice.ParamStore
	Access *domainservice.AccessControl
	Limits *domainservice.RateLimiter

	Oracle   *service.Oracle
	Yield    *service.YieldShift
	Vault    *service.Vault
	Hedger   *service.HedgerPool
	Users    *service.UserPool
	StQEURO  *service.StQEURO
	Gov      *service.Governance
	Timelock *service.Timelock

	priceFeeds []engine.PriceFeed

	closerChain []func() error
}

// New builds the full protocol context from config. On any failure the
// already-initialized resources are closed before returning.
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Sink:        console.NewSink(),
		closerChain: make([]func() error, 0),
	}

	if err := sc.initStorage(); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	if err := sc.initProtocol(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	if err := sc.initFeeds(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	if err := sc.restoreState(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initStorage() error {
	var primary port.Repository
	switch sc.Config.Storage.Backend {
	case "none":
		primary = engine.NewNoopRepo()
	case "memory":
		primary = memoryrepo.New()
	case "sqlite":
		repo, err := sqliterepo.New(sc.Config.Storage.SqlitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		primary = repo
		log.Info().Str("path", sc.Config.Storage.SqlitePath).Msg("sqlite storage ready")
	case "postgres":
		repo, err := postgresrepo.New(sc.Config.Storage.PgDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		primary = repo
		log.Info().Msg("postgres storage ready")
	default:
		return fmt.Errorf("unknown storage backend %q", sc.Config.Storage.Backend)
	}

	repos := []port.Repository{primary}
	if sc.Config.Storage.RedisAddr != "" {
		cache, err := sc.initRedis()
		if err != nil {
			_ = primary.Close()
			return err
		}
		repos = append(repos, cache)
	}

	sc.Repo = compositerepo.New(repos...)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing storage")
		return sc.Repo.Close()
	})
	return nil
}

func (sc *ServiceContext) initRedis() (*redisrepo.Repo, error) {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Storage.RedisAddr,
		Password: sc.Config.Storage.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", sc.Config.Storage.RedisAddr).Msg("redis cache ready")
	return redisrepo.New(rdb, "qntl", time.Hour, "", ""), nil
}

func (sc *ServiceContext) initProtocol() error {
	sc.Params = domainservice.NewParamStore()
	for key, v := range sc.Config.Params {
		if err := sc.Params.Set(key, float64(v)); err != nil {
			return fmt.Errorf("config param override: %w", err)
		}
	}

	sc.Access = domainservice.NewAccessControl()
	sc.Limits = domainservice.NewRateLimiter(time.Hour)

	sc.Usdc = domainservice.NewLedger("USDC", 0)
	sc.Qeuro = domainservice.NewLedger("QEURO", sc.Params.Get(domainservice.ParamQeuroCap))
	sc.Qti = domainservice.NewLedger("QTI", 0)
	sc.Stq = domainservice.NewLedger("stQEURO", 0)

	sc.Oracle = service.NewOracle(sc.Params)
	sc.Yield = service.NewYieldShift(service.YieldShiftDeps{
		Params: sc.Params, Usdc: sc.Usdc, Repo: sc.Repo,
	})

	market := aavemarket.NewMarket(sc.Config.Yield.AaveApyBps)
	sc.Vault = service.NewVault(service.VaultDeps{
		Oracle: sc.Oracle, Qeuro: sc.Qeuro, Usdc: sc.Usdc,
		Params: sc.Params, Limits: sc.Limits, Access: sc.Access,
		Yield: sc.Yield, Source: market, Repo: sc.Repo,
	})
	sc.Hedger = service.NewHedgerPool(service.HedgerPoolDeps{
		Oracle: sc.Oracle, Usdc: sc.Usdc, Params: sc.Params,
		Limits: sc.Limits, Access: sc.Access, Yield: sc.Yield, Repo: sc.Repo,
	})
	sc.Users = service.NewUserPool(service.UserPoolDeps{
		Vault: sc.Vault, Qeuro: sc.Qeuro, Usdc: sc.Usdc,
		Params: sc.Params, Access: sc.Access, Repo: sc.Repo,
	})
	sc.StQEURO = service.NewStQEURO(service.StQEURODeps{
		Qeuro: sc.Qeuro, Stq: sc.Stq, Access: sc.Access, Repo: sc.Repo,
	})
	sc.Gov = service.NewGovernance(service.GovernanceDeps{
		Qti: sc.Qti, Params: sc.Params, Access: sc.Access, Repo: sc.Repo,
	})
	sc.Timelock = service.NewTimelock(service.TimelockDeps{
		Params: sc.Params, Access: sc.Access, Repo: sc.Repo,
	})

	sc.Yield.BindPools(sc.Users, sc.Hedger)

	sc.Limits.SetCap(service.OpMint, sc.Params.Get(domainservice.ParamMintHourlyCap))
	sc.Limits.SetCap(service.OpRedeem, sc.Params.Get(domainservice.ParamRedeemHourlyCap))

	// parameter changes take effect without a restart
	sc.Params.OnChange(func(key string, value float64) {
		switch key {
		case domainservice.ParamQeuroCap:
			sc.Qeuro.SetCap(value)
		case domainservice.ParamMintHourlyCap:
			sc.Limits.SetCap(service.OpMint, value)
		case domainservice.ParamRedeemHourlyCap:
			sc.Limits.SetCap(service.OpRedeem, value)
		}
	})

	sc.grantRoles()

	log.Info().Msg("protocol services initialized")
	return nil
}

func (sc *ServiceContext) grantRoles() {
	sc.Access.Grant(domainservice.RoleKeeper, sc.Config.Keeper.Actor)
	for _, a := range sc.Config.Roles.Keepers {
		sc.Access.Grant(domainservice.RoleKeeper, a)
	}
	for _, a := range sc.Config.Roles.Liquidators {
		sc.Access.Grant(domainservice.RoleLiquidator, a)
	}
	for _, a := range sc.Config.Roles.Upgraders {
		sc.Access.Grant(domainservice.RoleUpgrader, a)
	}
	for _, a := range sc.Config.Roles.Governance {
		sc.Access.Grant(domainservice.RoleGovernance, a)
	}
	for _, a := range sc.Config.Roles.Emergency {
		sc.Access.Grant(domainservice.RoleEmergency, a)
	}
}

func (sc *ServiceContext) initFeeds() error {
	var feeds []engine.PriceFeed
	if sc.Config.Feeds.Binance.Enabled {
		feeds = append(feeds, binance.NewTickerFeed(sc.Config.Feeds.Binance.WsURL))
	}
	if sc.Config.Feeds.Bybit.Enabled {
		feeds = append(feeds, bybit.NewTickerFeed(sc.Config.Feeds.Bybit.WsURL))
	}
	if len(feeds) == 0 {
		return ErrNoFeedsEnabled
	}
	sc.priceFeeds = feeds
	log.Info().Int("feeds", len(feeds)).Msg("price feeds initialized")
	return nil
}

// restoreState reloads persisted protocol state. Ledger books win over
// config funding seeds when the repo already has them.
func (sc *ServiceContext) restoreState() error {
	ctx := sc.Ctx

	if err := restoreLedger(ctx, sc.Repo, sc.Usdc, sc.Config.Funding.USDC); err != nil {
		return err
	}
	if err := restoreLedger(ctx, sc.Repo, sc.Qti, sc.Config.Funding.QTI); err != nil {
		return err
	}
	if err := restoreLedger(ctx, sc.Repo, sc.Qeuro, nil); err != nil {
		return err
	}
	if err := restoreLedger(ctx, sc.Repo, sc.Stq, nil); err != nil {
		return err
	}

	positions, err := sc.Repo.ListOpenHedgePositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	commitments, err := sc.Repo.ListCommitments(ctx)
	if err != nil {
		return fmt.Errorf("restore commitments: %w", err)
	}
	hedgerRewards, err := sc.Repo.ListBalances(ctx, "HEDGER_REWARDS")
	if err != nil {
		return fmt.Errorf("restore hedger rewards: %w", err)
	}
	sc.Hedger.Restore(positions, commitments, hedgerRewards)

	stakes, err := sc.Repo.ListStakes(ctx)
	if err != nil {
		return fmt.Errorf("restore stakes: %w", err)
	}
	userRewards, err := sc.Repo.ListBalances(ctx, "USER_REWARDS")
	if err != nil {
		return fmt.Errorf("restore user rewards: %w", err)
	}
	sc.Users.Restore(stakes, userRewards)

	locks, err := sc.Repo.ListLocks(ctx)
	if err != nil {
		return fmt.Errorf("restore locks: %w", err)
	}
	proposals, err := sc.Repo.ListProposals(ctx)
	if err != nil {
		return fmt.Errorf("restore proposals: %w", err)
	}
	var votes []*model.VoteReceipt
	for _, p := range proposals {
		vs, err := sc.Repo.ListVotes(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("restore votes: %w", err)
		}
		votes = append(votes, vs...)
	}
	sc.Gov.Restore(locks, proposals, votes)

	upgrades, err := sc.Repo.ListUpgrades(ctx)
	if err != nil {
		return fmt.Errorf("restore upgrades: %w", err)
	}
	sc.Timelock.Restore(upgrades)

	if len(positions) > 0 || len(locks) > 0 || len(stakes) > 0 || len(upgrades) > 0 {
		log.Info().
			Int("positions", len(positions)).
			Int("locks", len(locks)).
			Int("stakes", len(stakes)).
			Int("upgrades", len(upgrades)).
			Msg("protocol state restored")
	}
	return nil
}

func restoreLedger(ctx context.Context, repo port.Repository, l *domainservice.Ledger, seeds map[string]float64) error {
	book, err := repo.ListBalances(ctx, l.Symbol())
	if err != nil {
		return fmt.Errorf("restore %s balances: %w", l.Symbol(), err)
	}
	if len(book) > 0 {
		l.Restore(book)
		return nil
	}
	for account, amount := range seeds {
		if err := l.Mint(account, amount); err != nil {
			return fmt.Errorf("funding seed %s %s: %w", l.Symbol(), account, err)
		}
	}
	return nil
}

// BuildEngineDeps assembles the monitoring loop dependencies.
func (sc *ServiceContext) BuildEngineDeps() engine.ServiceDeps {
	return engine.ServiceDeps{
		Feeds:            sc.priceFeeds,
		Pairs:            sc.Config.Oracle.Pairs,
		SnapshotEveryMin: sc.Config.App.SnapshotEveryMin,
		SpreadThreshold:  sc.Config.App.SpreadAlarm,
		Oracle:           sc.Oracle,
		Vault:            sc.Vault,
		Hedger:           sc.Hedger,
		Users:            sc.Users,
		Stq:              sc.StQEURO,
		Yield:            sc.Yield,
		Sink:             sc.Sink,
		Repo:             sc.Repo,
	}
}

// BuildKeeperDeps assembles the scheduled-jobs dependencies.
func (sc *ServiceContext) BuildKeeperDeps() engine.KeeperDeps {
	return engine.KeeperDeps{
		Actor:  sc.Config.Keeper.Actor,
		Vault:  sc.Vault,
		Hedger: sc.Hedger,
		Users:  sc.Users,
		Stq:    sc.StQEURO,
		Yield:  sc.Yield,
		Gov:    sc.Gov,
		Locks:  sc.Timelock,
		Qeuro:  sc.Qeuro,
	}
}

// Close releases resources in reverse initialization order.
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}
