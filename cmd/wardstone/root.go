// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wardstone/wardstone/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Wardstone CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wardstone",
		Short: "Wardstone - pluggable authentication engine for game servers",
		Long: `Wardstone is a pluggable authentication engine for multiplayer game
servers: a configurable step pipeline (login, register, autologin, scripted
steps), credential and session persistence across several backends, and a
brute-force guard.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/wardstone/wardstone.yaml)")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// resolveConfigPath returns the config file to load: the --config flag if
// set, the default XDG location if a file exists there, otherwise empty
// (built-in defaults).
func resolveConfigPath() string {
	if configFile != "" {
		return configFile
	}
	path := filepath.Join(xdg.ConfigDir(), "wardstone.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
