// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardstone/wardstone/internal/auth"
	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/control"
	"github.com/wardstone/wardstone/internal/flow"
	pipelua "github.com/wardstone/wardstone/internal/flow/lua"
	"github.com/wardstone/wardstone/internal/logging"
	"github.com/wardstone/wardstone/internal/observability"
	"github.com/wardstone/wardstone/internal/store"
	"github.com/wardstone/wardstone/pkg/authstep"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication engine",
		Long: `Start the authentication engine: open the configured store, build the
step pipeline, load scripted steps, and serve metrics and the control socket
until a shutdown signal arrives.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	// Flag names mirror config keys so set flags override the file.
	defaults := config.Default()
	flags := cmd.Flags()
	flags.String("log.format", defaults.Log.Format, "log format (json or text)")
	flags.String("log.level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("store.backend", defaults.Store.Backend, "storage backend (flatfile, sqlite, postgres)")
	flags.String("store.path", "", "data file for the flatfile and sqlite backends")
	flags.String("store.url", "", "PostgreSQL connection URL")
	flags.String("observability.metrics_addr", defaults.Observability.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("control.socket_path", "", "control socket path (default: XDG runtime dir)")
	flags.String("flow.steps_dir", "", "directory of scripted steps (empty = disabled)")

	return cmd
}

// runServeWithDeps starts the engine with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreOpener == nil {
		deps.StoreOpener = store.Open
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.ControlServerFactory == nil {
		deps.ControlServerFactory = func(socketPath string, shutdownFunc control.ShutdownFunc, statusFunc control.StatusFunc) ControlServer {
			return control.NewServer(socketPath, shutdownFunc, statusFunc)
		}
	}
	if deps.StepLoader == nil {
		deps.StepLoader = func(ctx context.Context, dir string, env pipelua.Env) ([]*pipelua.ScriptStep, error) {
			return pipelua.NewHost(env).LoadDir(ctx, dir)
		}
	}

	cfg, err := config.Load(resolveConfigPath(), cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("wardstone", version, cfg.Log.Format, cfg.Log.Level)
	logger := slog.Default()

	slog.Info("starting authentication engine",
		"backend", cfg.Store.Backend,
		"log_format", cfg.Log.Format,
	)

	dataStore, err := deps.StoreOpener(ctx, cfg.StoreConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if closeErr := dataStore.Close(); closeErr != nil {
			slog.Warn("error closing store", "error", closeErr)
		}
	}()

	slog.Info("store opened", "backend", cfg.Store.Backend)

	hasher := auth.NewHasher(cfg.HasherConfig(), logger)
	guard := auth.NewBruteForceGuard(cfg.GuardConfig(), dataStore.Accounts(), logger)
	service, err := auth.NewService(
		dataStore.Accounts(),
		dataStore.Sessions(),
		hasher,
		cfg.PasswordPolicy(),
		guard,
		nil,
		cfg.ServiceConfig(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to build authentication service: %w", err)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reclaim expired sessions in the background; reads already treat them
	// as invalid, so the sweep is storage hygiene only.
	sweeper := auth.NewSessionSweeper(dataStore.Sessions(), cfg.Auth.SessionSweepInterval, logger)
	go sweeper.Run(ctx)

	// Start observability server if configured
	var obsServer ObservabilityServer
	var flowMetrics *flow.Metrics
	if cfg.Observability.MetricsAddr != "" {
		// Ready once the store is open and the pipeline below is wired.
		obsServer = deps.ObservabilityServerFactory(cfg.Observability.MetricsAddr, func() bool { return true })
		flowMetrics = flow.NewMetrics(obsServer.Registry())
		service.SetMetrics(auth.NewMetrics(obsServer.Registry()))
	}

	registry := flow.NewRegistry()
	manager, err := flow.NewManager(registry, cfg.Flow.Order, service, nil, nil, flowMetrics, logger)
	if err != nil {
		return fmt.Errorf("failed to build flow manager: %w", err)
	}

	builtins := []authstep.Step{
		flow.NewLoginStep(manager, service, nil, logger),
		flow.NewRegisterStep(manager, service, nil),
		flow.NewAutoLoginStep(manager, service, logger),
	}
	for _, step := range builtins {
		if err := registry.Register(step); err != nil {
			return fmt.Errorf("failed to register step %s: %w", step.ID(), err)
		}
	}

	if cfg.Flow.StepsDir != "" {
		scripted, err := deps.StepLoader(ctx, cfg.Flow.StepsDir, pipelua.Env{
			Pipeline: manager,
			Accounts: service,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("failed to load scripted steps: %w", err)
		}
		for _, step := range scripted {
			if err := registry.Register(step); err != nil {
				return fmt.Errorf("failed to register step %s: %w", step.ID(), err)
			}
		}
	}

	// Unregistered ids in the order are skipped at flow time; surface them
	// up front so a typo is visible at startup.
	for _, id := range manager.Order() {
		if _, ok := registry.Get(id); !ok {
			slog.Warn("flow.order references unregistered step, flows will skip it", "step", id)
		}
	}

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	// Start control socket server (always enabled)
	controlServer := deps.ControlServerFactory(cfg.Control.SocketPath, func() { cancel() }, func() int {
		return len(service.AuthenticatedNames())
	})
	if err := controlServer.Start(); err != nil {
		if obsServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
				slog.Warn("failed to stop observability server during cleanup", "error", stopErr)
			}
		}
		return fmt.Errorf("failed to start control server: %w", err)
	}
	slog.Info("control server started", "socket", controlServer.SocketPath())

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Authentication engine started")
	slog.Info("authentication engine ready",
		"order", manager.Order(),
		"steps", registry.IDs(),
	)

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	if err := controlServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping control server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
