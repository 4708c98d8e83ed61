package config

import (
	"errors"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
)

type Config struct {
	App struct {
		SnapshotEveryMin int     `toml:"snapshot_every_min"`
		SpreadAlarm      float64 `toml:"spread_alarm"`
	} `toml:"app"`

	Oracle struct {
		Pairs []string `toml:"pairs"`
	} `toml:"oracle"`

	Feeds struct {
		Binance struct {
			Enabled bool   `toml:"enabled"`
			WsURL   string `toml:"ws_url"`
		} `toml:"binance"`

		Bybit struct {
			Enabled bool   `toml:"enabled"`
			WsURL   string `toml:"ws_url"`
		} `toml:"bybit"`
	} `toml:"feeds"`

	Storage struct {
		Backend       string `toml:"backend"` // none | memory | sqlite | postgres
		SqlitePath    string `toml:"sqlite_path"`
		PgDSN         string `toml:"pg_dsn" env:"QNTL_PG_DSN"`
		RedisAddr     string `toml:"redis_addr"`
		RedisPassword string `toml:"redis_password" env:"QNTL_REDIS_PASSWORD"`
	} `toml:"storage"`

	API struct {
		Enabled   bool   `toml:"enabled"`
		Listen    string `toml:"listen"`
		JWTSecret string `toml:"jwt_secret" env:"QNTL_JWT_SECRET"`
	} `toml:"api"`

	Keeper struct {
		Enabled bool   `toml:"enabled"`
		Actor   string `toml:"actor"`
	} `toml:"keeper"`

	// Roles grants protocol roles at boot. Upgraders double as the timelock
	// multisig members.
	Roles struct {
		Keepers     []string `toml:"keepers"`
		Liquidators []string `toml:"liquidators"`
		Upgraders   []string `toml:"upgraders"`
		Governance  []string `toml:"governance"`
		Emergency   []string `toml:"emergency"`
	} `toml:"roles"`

	Yield struct {
		AaveApyBps int64 `toml:"aave_apy_bps"`
	} `toml:"yield"`

	// Params overrides protocol parameter defaults by key, e.g.
	// mint_fee_bps = 20. Unknown keys are rejected at wiring time.
	Params map[string]int64 `toml:"params"`

	// Funding seeds ledger balances at boot (test and demo fixtures).
	Funding struct {
		USDC map[string]float64 `toml:"usdc"`
		QTI  map[string]float64 `toml:"qti"`
	} `toml:"funding"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	// secrets overlay from the environment
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.SnapshotEveryMin <= 0 {
		cfg.App.SnapshotEveryMin = 5
	}
	if cfg.App.SpreadAlarm <= 0 {
		cfg.App.SpreadAlarm = 0.002
	}
	if len(cfg.Oracle.Pairs) == 0 {
		cfg.Oracle.Pairs = []string{"EURUSD", "USDCUSD"}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.Backend == "sqlite" && cfg.Storage.SqlitePath == "" {
		cfg.Storage.SqlitePath = "quantillon.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}
	if cfg.Keeper.Actor == "" {
		cfg.Keeper.Actor = "@treasury"
	}
	if cfg.Yield.AaveApyBps <= 0 {
		cfg.Yield.AaveApyBps = 380
	}
}

func validate(cfg *Config) error {
	cfg.Oracle.Pairs = normalizePairs(cfg.Oracle.Pairs)
	if len(cfg.Oracle.Pairs) == 0 {
		return errors.New("oracle.pairs is empty")
	}

	if cfg.Feeds.Binance.Enabled && strings.TrimSpace(cfg.Feeds.Binance.WsURL) == "" {
		return errors.New("feeds.binance.ws_url empty but enabled")
	}
	if cfg.Feeds.Bybit.Enabled && strings.TrimSpace(cfg.Feeds.Bybit.WsURL) == "" {
		return errors.New("feeds.bybit.ws_url empty but enabled")
	}

	switch cfg.Storage.Backend {
	case "none", "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.PgDSN) == "" {
			return errors.New("storage.pg_dsn required for postgres backend")
		}
	default:
		return errors.New("storage.backend must be none, memory, sqlite or postgres")
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.JWTSecret) == "" {
		return errors.New("api.jwt_secret required when api enabled")
	}
	return nil
}

func normalizePairs(in []string) []string {
	out := lo.Map(in, func(s string, _ int) string {
		return strings.ToUpper(strings.TrimSpace(s))
	})
	out = lo.Filter(out, func(s string, _ int) bool { return s != "" })
	return lo.Uniq(out)
}
