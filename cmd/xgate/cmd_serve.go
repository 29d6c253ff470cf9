package main

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/krish858/xgate/internal/config"
	"github.com/krish858/xgate/internal/gateway"
	"github.com/krish858/xgate/internal/httpapi"
	"github.com/krish858/xgate/internal/ids"
	"github.com/krish858/xgate/internal/store"
	"github.com/krish858/xgate/x402"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	Long: `Run the xGate server: the payment-gated proxy endpoints, the
websocket session gateway and the owner registration API, all on one
listener.

Configuration comes from an optional YAML file plus XGATE_* environment
variables. Without a database URL the server keeps records in memory,
which is enough for local runs against a testnet facilitator.`,
	Example: `  xgate serve                          # In-memory store, x402.org facilitator
  xgate serve --config xgate.yaml      # Explicit configuration
  XGATE_DATABASE_URL=postgres://... xgate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	fac := x402.NewFacilitatorClient(cfg.FacilitatorURL)

	registry := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(registry)

	requests := gateway.NewRequestGateway(st, fac, logger, metrics, cfg.Network, cfg.PublicBaseURL)
	sessions := gateway.NewSessionGateway(st, fac, logger, metrics, gateway.NewRegistry(), cfg.Network, cfg.PublicBaseURL)
	handler := httpapi.NewHandler(st, ids.Random{}, logger, cfg.PublicBaseURL)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(handler, requests, sessions, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("network", cfg.Network).
		Str("facilitator", cfg.FacilitatorURL).
		Bool("persistent", cfg.DatabaseURL != "").
		Msg("xgate starting")

	var g run.Group
	g.Add(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	})
	g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	if _, ok := err.(run.SignalError); ok {
		logger.Info().Msg("shutting down")
		return nil
	}
	return err
}

func newLogger(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func openStore(cfg config.Config, logger zerolog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("no database configured, records are kept in memory")
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(cfg.DatabaseURL)
}
