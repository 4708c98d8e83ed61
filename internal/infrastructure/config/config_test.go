package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[feeds.binance]
enabled = true
ws_url = "wss://example/ws"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.SnapshotEveryMin != 5 {
		t.Errorf("snapshot_every_min = %d, want 5", cfg.App.SnapshotEveryMin)
	}
	if got := cfg.Oracle.Pairs; len(got) != 2 || got[0] != "EURUSD" || got[1] != "USDCUSD" {
		t.Errorf("default pairs = %v", got)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SqlitePath != "quantillon.db" {
		t.Errorf("storage defaults = %q %q", cfg.Storage.Backend, cfg.Storage.SqlitePath)
	}
	if cfg.Keeper.Actor != "@treasury" {
		t.Errorf("keeper actor = %q", cfg.Keeper.Actor)
	}
}

func TestLoadNormalizesPairs(t *testing.T) {
	path := writeConfig(t, `
[oracle]
pairs = [" eurusd ", "EURUSD", "usdcusd", ""]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Oracle.Pairs; len(got) != 2 || got[0] != "EURUSD" || got[1] != "USDCUSD" {
		t.Errorf("pairs = %v, want [EURUSD USDCUSD]", got)
	}
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("QNTL_PG_DSN", "postgres://keeper@db/quantillon")
	t.Setenv("QNTL_JWT_SECRET", "from-env")

	path := writeConfig(t, `
[storage]
backend = "postgres"

[api]
enabled = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.PgDSN != "postgres://keeper@db/quantillon" {
		t.Errorf("pg_dsn = %q", cfg.Storage.PgDSN)
	}
	if cfg.API.JWTSecret != "from-env" {
		t.Errorf("jwt_secret = %q", cfg.API.JWTSecret)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Setenv("QNTL_PG_DSN", "")
	t.Setenv("QNTL_JWT_SECRET", "")

	cases := []struct {
		name string
		body string
	}{
		{"feed without url", "[feeds.bybit]\nenabled = true\n"},
		{"unknown backend", "[storage]\nbackend = \"mysql\"\n"},
		{"postgres without dsn", "[storage]\nbackend = \"postgres\"\n"},
		{"api without secret", "[api]\nenabled = true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Errorf("Load accepted %s", tc.name)
			}
		})
	}
}
