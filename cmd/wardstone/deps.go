// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wardstone/wardstone/internal/control"
	pipelua "github.com/wardstone/wardstone/internal/flow/lua"
	"github.com/wardstone/wardstone/internal/observability"
	"github.com/wardstone/wardstone/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the configured persistence backend.
	// Default: store.Open
	StoreOpener func(ctx context.Context, cfg store.Config, logger *slog.Logger) (store.DataStore, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ControlServerFactory creates a control socket server.
	// Default: control.NewServer
	ControlServerFactory func(socketPath string, shutdownFunc control.ShutdownFunc, statusFunc control.StatusFunc) ControlServer

	// StepLoader loads scripted steps from a directory.
	// Default: a lua.Host over the directory
	StepLoader func(ctx context.Context, dir string, env pipelua.Env) ([]*pipelua.ScriptStep, error)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

// ControlServer interface wraps the methods used from control.Server.
type ControlServer interface {
	Start() error
	Stop(ctx context.Context) error
	SocketPath() string
}
