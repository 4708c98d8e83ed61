package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"quantillon/internal/application/usecase/engine"
	"quantillon/internal/infrastructure/config"
	"quantillon/internal/infrastructure/logger"
	"quantillon/internal/infrastructure/svc"
	"quantillon/internal/interfaces/rest"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	logLevel := flag.String("log-level", "info", "zerolog level")
	flag.Parse()

	logger.Setup("quantillond", *logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer func() { _ = sc.Close() }()

	if cfg.Keeper.Enabled {
		keeper := engine.NewKeeper(sc.BuildKeeperDeps())
		if err := keeper.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("keeper start failed")
		}
		defer keeper.Stop()
	} else {
		log.Warn().Msg("keeper disabled by config")
	}

	if cfg.API.Enabled {
		api := rest.NewServer(rest.ServerDeps{
			Listen:    cfg.API.Listen,
			JWTSecret: cfg.API.JWTSecret,
			Oracle:    sc.Oracle,
			Vault:     sc.Vault,
			Hedger:    sc.Hedger,
			Users:     sc.Users,
			Stq:       sc.StQEURO,
			Yield:     sc.Yield,
			Gov:       sc.Gov,
			Timelock:  sc.Timelock,
			Access:    sc.Access,
			Params:    sc.Params,
		})
		go func() {
			if err := api.Run(ctx); err != nil {
				log.Error().Err(err).Msg("api server exited")
			}
		}()
	}

	eng := engine.NewService(sc.BuildEngineDeps())

	log.Info().
		Str("config", *configPath).
		Strs("pairs", cfg.Oracle.Pairs).
		Str("storage", cfg.Storage.Backend).
		Bool("api", cfg.API.Enabled).
		Bool("keeper", cfg.Keeper.Enabled).
		Msg("quantillond started")

	if err := eng.Run(ctx); err != nil {
		log.Error().Err(err).Msg("protocol engine exited")
	}
}
