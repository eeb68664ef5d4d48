package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/serroba/gcra"
	"github.com/serroba/gcra/internal/config"
	"github.com/serroba/gcra/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rate-limited HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store := gcra.NewShardedStore(
		gcra.WithShards(cfg.Shards),
		gcra.WithTTL(cfg.KeyTTL),
		gcra.WithSweepInterval(cfg.SweepInterval),
		gcra.WithStoreLogger(logger),
	)

	lim, err := gcra.New(cfg.Rate, cfg.Burst, gcra.WithStore(store))
	if err != nil {
		return fmt.Errorf("configure limiter: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.Start(ctx)
	defer store.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(cfg, lim, store, logger, reg)

	logger.Info("limiter configured",
		zap.Float64("rate", lim.Rate()),
		zap.Float64("burst", lim.Burst()),
		zap.Int("shards", cfg.Shards),
		zap.Duration("key_ttl", cfg.KeyTTL),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	return zcfg.Build()
}
