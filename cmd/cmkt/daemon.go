package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/computemarket/cmkt/internal/auth"
	"github.com/computemarket/cmkt/internal/config"
	"github.com/computemarket/cmkt/internal/connectors"
	"github.com/computemarket/cmkt/internal/connectors/kafka"
	"github.com/computemarket/cmkt/internal/connectors/logsink"
	"github.com/computemarket/cmkt/internal/controlplane"
	"github.com/computemarket/cmkt/internal/logging"
	"github.com/computemarket/cmkt/internal/market"
	"github.com/computemarket/cmkt/internal/notify"
	"github.com/computemarket/cmkt/internal/relay"
	"github.com/computemarket/cmkt/internal/store"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
	authority  string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the market daemon",
	Long: `Starts the daemon which owns the market database and serves the HTTP API.
On a new database --authority becomes the initial authority.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (default from config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (default from config)")
	daemonCmd.Flags().StringVar(&authority, "authority", "", "Initial authority for a new database")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DB = dbPath
	}
	if authority != "" {
		cfg.Authority = authority
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(cfg.Log)
	log.Info().Str("db", cfg.DB).Msg("starting cmkt daemon")

	var tokens *auth.Tokens
	if cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		log.Info().Msg("bearer token authentication enabled")
	} else {
		log.Warn().Str("header", controlplane.PrincipalHeader).Msg("no jwt secret configured, trusting principal header")
	}

	s, err := store.New(cfg.DB)
	if err != nil {
		return err
	}

	hub := notify.NewHub()
	m, err := market.New(s, cfg.Authority, market.WithPublisher(hub))
	if err != nil {
		s.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := newObserver(s, m, hub, logging.Component(log, "metrics"))
	go obs.Run(ctx)

	var rel *relay.Relay
	if cfg.Relay.Enabled {
		conns := []connectors.Connector{
			logsink.New(logging.Component(log, "events"), cfg.Relay.Types),
		}
		if len(cfg.Relay.Kafka.Brokers) > 0 {
			conns = append(conns, kafka.New(cfg.Relay.Kafka.Brokers, cfg.Relay.Kafka.Topic, cfg.Relay.Types))
		}
		rel = relay.New(s, conns, &cfg.Relay, logging.Component(log, "relay"))
		rel.Start()
	}

	opts := controlplane.Options{
		Market:       m,
		Store:        s,
		Hub:          hub,
		Tokens:       tokens,
		BuyPerSecond: cfg.RateLimit.BuyPerSecond,
		BuyBurst:     cfg.RateLimit.Burst,
		Log:          logging.Component(log, "api"),
		Version:      version,
	}
	if rel != nil {
		opts.Relay = rel
	}
	server := controlplane.NewServer(opts, cfg.Listen)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("server error")
			runErr = err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	cancel()
	if rel != nil {
		rel.Stop()
	}

	if err := s.Close(); err != nil {
		log.Error().Err(err).Msg("database close error")
	}

	log.Info().Msg("shutdown complete")
	return runErr
}
