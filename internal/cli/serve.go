// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/dialect"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/orchestrator"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/server"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/store"
)

type serveOptions struct {
	configPath string
	noDB       bool
}

func serveCommand(args []string) error {
	opts := &serveOptions{}
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.BoolVar(&opts.noDB, "no-db", false, "Run without a receipt store (receipts are not persisted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting backplane API server")

	registry, err := orchestrator.RegistryFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build backend registry: %w", err)
	}
	if registry.Len() == 0 {
		mainLog.Warn().Msg("No backends configured; registering the built-in mock backend")
		if err := registry.Register(orchestrator.NewMockBackend("mock", dialect.Claude, 50)); err != nil {
			return err
		}
	}

	orchOpts := []orchestrator.Option{orchestrator.WithProjectionConfig(cfg.Projection)}

	var st *store.Store
	if !opts.noDB {
		st, err = store.New(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open receipt store: %w", err)
		}
		if err := st.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to migrate receipt store: %w", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				mainLog.Error().Err(err).Msg("Error closing receipt store")
			}
		}()
		orchOpts = append(orchOpts, orchestrator.WithStore(st))
	}

	orch := orchestrator.New(registry, orchOpts...)
	srv := server.New(&cfg.Server, orch, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case err := <-serverErrChan:
		if err != nil {
			mainLog.Error().Err(err).Msg("Server error")
			return err
		}
		return nil
	}

	// Graceful shutdown: fresh context with timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
		return err
	}

	mainLog.Info().Msg("API server shut down")
	return nil
}
