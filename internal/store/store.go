// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

// Package store provides the persistence backends for accounts and sessions:
// a flat structured file (YAML or JSON), an embedded SQLite database, and
// PostgreSQL. The auth package owns the repository interfaces; this package
// implements them and selects a backend from configuration.
package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/wardstone/wardstone/internal/auth"
	authpg "github.com/wardstone/wardstone/internal/auth/postgres"
)

// Backend identifiers accepted in configuration.
const (
	BackendFlatfile = "flatfile"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultMaxSessionsPerAccount bounds how many standing sessions one account
// may hold before the least recently active one is evicted.
const DefaultMaxSessionsPerAccount = 5

// Config selects and parameterizes a backend.
type Config struct {
	// Backend is one of flatfile, sqlite, postgres.
	Backend string

	// Path is the data file for flatfile (extension selects YAML or JSON)
	// and the database file for sqlite.
	Path string

	// URL is the PostgreSQL connection string.
	URL string

	// MaxSessionsPerAccount caps standing sessions per account. Zero means
	// DefaultMaxSessionsPerAccount.
	MaxSessionsPerAccount int
}

func (c Config) maxSessions() int {
	if c.MaxSessionsPerAccount <= 0 {
		return DefaultMaxSessionsPerAccount
	}
	return c.MaxSessionsPerAccount
}

// DataStore is an opened backend: the two repositories plus lifecycle.
type DataStore interface {
	Accounts() auth.AccountRepository
	Sessions() auth.SessionRepository
	Close() error
}

// Open opens the configured backend. PostgreSQL connections are retried with
// exponential backoff so the server survives a database that is still coming
// up.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (DataStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch cfg.Backend {
	case BackendFlatfile:
		return OpenFlatfile(cfg.Path, cfg.maxSessions(), logger)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path, cfg.maxSessions())
	case BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, oops.Code("STORE_UNKNOWN_BACKEND").
			With("backend", cfg.Backend).
			Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// flatfileEncoding maps a file extension to a flatfile codec name.
func flatfileEncoding(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	default:
		return "", oops.Code("STORE_UNKNOWN_ENCODING").
			With("path", path).
			Errorf("flatfile path must end in .yaml, .yml, or .json")
	}
}

// postgresStore bundles the pgx-backed repositories with their pool.
type postgresStore struct {
	pool     *pgxpool.Pool
	accounts *authpg.AccountRepository
	sessions *authpg.SessionRepository
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*postgresStore, error) {
	if cfg.URL == "" {
		return nil, oops.Code("STORE_CONFIG_INVALID").Errorf("postgres backend requires a database URL")
	}

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("backend", BackendPostgres).
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Warn("database not ready, retrying", "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("backend", BackendPostgres).
			With("operation", "ping").
			Wrap(err)
	}

	return &postgresStore{
		pool:     pool,
		accounts: authpg.NewAccountRepository(pool),
		sessions: authpg.NewSessionRepository(pool, cfg.maxSessions()),
	}, nil
}

func (s *postgresStore) Accounts() auth.AccountRepository { return s.accounts }
func (s *postgresStore) Sessions() auth.SessionRepository { return s.sessions }

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
