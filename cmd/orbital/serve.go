package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orbitalgrid/orbital-insight/orbital/adapters"
	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/gateway"
	"github.com/orbitalgrid/orbital-insight/orbital/orchestrator"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

func serveCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func runServe(configPath string, debug bool) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	broadcaster := coordination.NewBroadcaster(cfg.Stream.SubscriberBuffer, cfg.Stream.KeepaliveInterval, logger)
	defer broadcaster.Close()

	store := coordination.NewStore(broadcaster, logger)
	if cfg.Archive.Enabled {
		archive, err := adapters.OpenLibSQLArchive(cfg.Archive.DSN)
		if err != nil {
			return err
		}
		defer archive.Close()
		store = store.WithArchive(archive)
		logger.Info().Str("dsn", cfg.Archive.DSN).Msg("archive enabled")
	}

	var provider ports.Provider = adapters.NewGeminiProvider(cfg.Provider, logger)
	if cfg.Provider.RateCapacity > 0 {
		provider = adapters.NewRateLimitedProvider(provider, cfg.Provider.RateCapacity, cfg.Provider.RateRefill)
	}
	catalog := adapters.NewStaticCatalog()
	tracer := adapters.NewZerologTracer(logger)
	orch := orchestrator.New(store, provider, catalog, tracer, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := gateway.NewServer(cfg.Gateway, store, broadcaster, orch, logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
