// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

// Package config loads and validates the engine configuration file. Values
// come from a YAML file overlaid with command-line flags; the resulting
// struct converts into the per-component configs the rest of the engine
// consumes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/wardstone/wardstone/internal/auth"
	"github.com/wardstone/wardstone/internal/store"
)

// supportedVersions is the config file versions this build accepts.
const supportedVersions = "^1"

// Config is the root of the wardstone.yaml configuration file.
type Config struct {
	// Version is the config format version, checked against a semver
	// constraint so an old binary rejects a config it cannot interpret.
	Version string `koanf:"version" json:"version" jsonschema:"example=1.0.0" validate:"required"`

	Log    Log    `koanf:"log" json:"log,omitempty"`
	Store  Store  `koanf:"store" json:"store,omitempty"`
	Hasher Hasher `koanf:"hasher" json:"hasher,omitempty"`
	Policy Policy `koanf:"policy" json:"policy,omitempty"`
	Guard  Guard  `koanf:"guard" json:"guard,omitempty"`
	Auth   Auth   `koanf:"auth" json:"auth,omitempty"`
	Flow   Flow   `koanf:"flow" json:"flow,omitempty"`

	Observability Observability `koanf:"observability" json:"observability,omitempty"`
	Control       Control       `koanf:"control" json:"control,omitempty"`
}

// Log configures the slog handler.
type Log struct {
	Format string `koanf:"format" json:"format,omitempty" validate:"oneof=json text"`
	Level  string `koanf:"level" json:"level,omitempty" validate:"oneof=debug info warn error"`
}

// Store selects and parameterizes the persistence backend.
type Store struct {
	Backend               string `koanf:"backend" json:"backend,omitempty" validate:"oneof=flatfile sqlite postgres"`
	Path                  string `koanf:"path" json:"path,omitempty"`
	URL                   string `koanf:"url" json:"url,omitempty"`
	MaxSessionsPerAccount int    `koanf:"max_sessions_per_account" json:"max_sessions_per_account,omitempty" validate:"min=0"`
}

// Hasher configures the password hashing algorithm.
type Hasher struct {
	Algorithm     string `koanf:"algorithm" json:"algorithm,omitempty" validate:"omitempty,oneof=argon2id bcrypt"`
	Argon2Time    uint32 `koanf:"argon2_time" json:"argon2_time,omitempty"`
	Argon2Memory  uint32 `koanf:"argon2_memory" json:"argon2_memory,omitempty"`
	Argon2Threads uint8  `koanf:"argon2_threads" json:"argon2_threads,omitempty"`
	BcryptCost    int    `koanf:"bcrypt_cost" json:"bcrypt_cost,omitempty"`
}

// Policy configures password complexity rules.
type Policy struct {
	MinLength     int  `koanf:"min_length" json:"min_length,omitempty" validate:"min=1"`
	MaxLength     int  `koanf:"max_length" json:"max_length,omitempty" validate:"min=1"`
	RequireUpper  bool `koanf:"require_upper" json:"require_upper,omitempty"`
	RequireLower  bool `koanf:"require_lower" json:"require_lower,omitempty"`
	RequireDigit  bool `koanf:"require_digit" json:"require_digit,omitempty"`
	RequireSymbol bool `koanf:"require_symbol" json:"require_symbol,omitempty"`
}

// Guard configures the brute-force guard.
type Guard struct {
	Enabled       bool          `koanf:"enabled" json:"enabled,omitempty"`
	MaxAttempts   int           `koanf:"max_attempts" json:"max_attempts,omitempty" validate:"min=1"`
	BlockDuration time.Duration `koanf:"block_duration" json:"block_duration,omitempty" jsonschema:"type=string,example=10m"`
}

// Auth configures the authentication service business rules.
type Auth struct {
	AutoLoginEnabled        bool          `koanf:"autologin_enabled" json:"autologin_enabled,omitempty"`
	MatchDevice             bool          `koanf:"match_device" json:"match_device,omitempty"`
	SessionLifetime         time.Duration `koanf:"session_lifetime" json:"session_lifetime,omitempty" jsonschema:"type=string,example=12h"`
	MaxRegistrationsPerAddr int           `koanf:"max_registrations_per_addr" json:"max_registrations_per_addr,omitempty" validate:"min=0"`
	UnregisterConfirmWindow time.Duration `koanf:"unregister_confirm_window" json:"unregister_confirm_window,omitempty" jsonschema:"type=string,example=1m"`
	SessionSweepInterval    time.Duration `koanf:"session_sweep_interval" json:"session_sweep_interval,omitempty" jsonschema:"type=string,example=10m"`
}

// Flow configures the step pipeline.
type Flow struct {
	// Order is the configured step sequence. Empty means the built-in
	// default order.
	Order []string `koanf:"order" json:"order,omitempty"`

	// StepsDir is scanned for scripted steps at startup. Empty disables
	// scripted steps.
	StepsDir string `koanf:"steps_dir" json:"steps_dir,omitempty"`
}

// Observability configures the metrics/health HTTP server.
type Observability struct {
	// MetricsAddr is the listen address. Empty disables the server.
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty"`
}

// Control configures the local control socket.
type Control struct {
	// SocketPath overrides the default XDG runtime socket location.
	SocketPath string `koanf:"socket_path" json:"socket_path,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Version: "1.0.0",
		Log:     Log{Format: "json", Level: "info"},
		Store: Store{
			Backend:               store.BackendFlatfile,
			MaxSessionsPerAccount: store.DefaultMaxSessionsPerAccount,
		},
		Hasher: Hasher{Algorithm: auth.AlgorithmArgon2id},
		Policy: Policy{MinLength: 8, MaxLength: 72},
		Guard: Guard{
			Enabled:       true,
			MaxAttempts:   3,
			BlockDuration: 10 * time.Minute,
		},
		Auth: Auth{
			AutoLoginEnabled:     true,
			SessionLifetime:      12 * time.Hour,
			SessionSweepInterval: auth.DefaultSessionSweepInterval,
		},
		Observability: Observability{MetricsAddr: "127.0.0.1:9100"},
	}
}

// Load reads the config file at path (optional) and overlays flag values
// (optional), starting from Default. The result is validated.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_READ_FAILED").
				With("path", path).
				Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_READ_FAILED").
				With("source", "flags").
				Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").
			With("path", path).
			Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural and cross-field errors.
func (c Config) Validate() error {
	version, err := semver.NewVersion(c.Version)
	if err != nil {
		return oops.Code("CONFIG_INVALID").
			With("version", c.Version).
			Errorf("version %q is not a semantic version", c.Version)
	}
	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if !constraint.Check(version) {
		return oops.Code("CONFIG_VERSION_UNSUPPORTED").
			With("version", c.Version).
			With("supported", supportedVersions).
			Errorf("config version %s is not supported by this build", c.Version)
	}

	if err := validator.New().Struct(c); err != nil {
		return oops.Code("CONFIG_INVALID").
			Errorf("%s", formatValidationErrors(err))
	}

	switch c.Store.Backend {
	case store.BackendFlatfile, store.BackendSQLite:
		if c.Store.Path == "" {
			return oops.Code("CONFIG_INVALID").
				With("backend", c.Store.Backend).
				Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case store.BackendPostgres:
		if c.Store.URL == "" {
			return oops.Code("CONFIG_INVALID").
				Errorf("store.url is required for the postgres backend")
		}
	}

	if c.Policy.MaxLength < c.Policy.MinLength {
		return oops.Code("CONFIG_INVALID").
			Errorf("policy.max_length must be at least policy.min_length")
	}
	return nil
}

// formatValidationErrors renders validator field errors as one readable line.
func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		switch fieldError.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fieldError.Namespace()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]",
				fieldError.Namespace(), fieldError.Param()))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s",
				fieldError.Namespace(), fieldError.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", fieldError.Namespace()))
		}
	}
	return strings.Join(messages, "; ")
}

// StoreConfig converts to the store package's config.
func (c Config) StoreConfig() store.Config {
	return store.Config{
		Backend:               c.Store.Backend,
		Path:                  c.Store.Path,
		URL:                   c.Store.URL,
		MaxSessionsPerAccount: c.Store.MaxSessionsPerAccount,
	}
}

// HasherConfig converts to the auth package's hasher config.
func (c Config) HasherConfig() auth.HasherConfig {
	return auth.HasherConfig{
		Algorithm:     c.Hasher.Algorithm,
		Argon2Time:    c.Hasher.Argon2Time,
		Argon2Memory:  c.Hasher.Argon2Memory,
		Argon2Threads: c.Hasher.Argon2Threads,
		BcryptCost:    c.Hasher.BcryptCost,
	}
}

// PasswordPolicy converts to the auth package's password policy.
func (c Config) PasswordPolicy() auth.PasswordPolicy {
	return auth.PasswordPolicy{
		MinLength:     c.Policy.MinLength,
		MaxLength:     c.Policy.MaxLength,
		RequireUpper:  c.Policy.RequireUpper,
		RequireLower:  c.Policy.RequireLower,
		RequireDigit:  c.Policy.RequireDigit,
		RequireSymbol: c.Policy.RequireSymbol,
	}
}

// GuardConfig converts to the auth package's guard config.
func (c Config) GuardConfig() auth.GuardConfig {
	return auth.GuardConfig{
		Enabled:       c.Guard.Enabled,
		MaxAttempts:   c.Guard.MaxAttempts,
		BlockDuration: c.Guard.BlockDuration,
	}
}

// ServiceConfig converts to the auth package's service config.
func (c Config) ServiceConfig() auth.ServiceConfig {
	return auth.ServiceConfig{
		AutoLoginEnabled:        c.Auth.AutoLoginEnabled,
		SessionLifetime:         c.Auth.SessionLifetime,
		MatchDevice:             c.Auth.MatchDevice,
		MaxRegistrationsPerAddr: c.Auth.MaxRegistrationsPerAddr,
		UnregisterConfirmWindow: c.Auth.UnregisterConfirmWindow,
	}
}
