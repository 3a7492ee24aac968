// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// GuardConfig configures the brute-force guard.
type GuardConfig struct {
	// Enabled toggles the guard. When disabled, failures are not counted and
	// no account is ever reported blocked by the guard.
	Enabled bool

	// MaxAttempts is the failure count that triggers a timed block.
	MaxAttempts int

	// BlockDuration is how long a newly imposed block lasts.
	BlockDuration time.Duration
}

// BlockStore is the persistence subset the guard needs: the timed block
// survives process restarts, the attempt counters do not.
type BlockStore interface {
	SetBlockedUntil(ctx context.Context, name string, until time.Time) error
	GetBlockedUntil(ctx context.Context, name string) (time.Time, error)
}

type attemptState struct {
	count  int
	lastAt time.Time
}

// BruteForceGuard counts failed login attempts per account name in memory and
// escalates to a persisted timed block. Counters are lost on restart; the
// persisted block is not. Safe for concurrent use.
type BruteForceGuard struct {
	mu       sync.Mutex
	attempts map[string]*attemptState

	cfg     GuardConfig
	store   BlockStore
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewBruteForceGuard creates a guard backed by the given block store.
func NewBruteForceGuard(cfg GuardConfig, store BlockStore, logger *slog.Logger) *BruteForceGuard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BruteForceGuard{
		attempts: make(map[string]*attemptState),
		cfg:      cfg,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordFailure increments the in-memory counter for a name. When the count
// reaches the configured threshold a block is persisted and the counter is
// cleared. Returns true if a new block was imposed by this failure.
func (g *BruteForceGuard) RecordFailure(ctx context.Context, name string) bool {
	if !g.cfg.Enabled {
		return false
	}
	name = NormalizeName(name)

	g.mu.Lock()
	st, ok := g.attempts[name]
	if !ok {
		st = &attemptState{}
		g.attempts[name] = st
	}
	st.count++
	st.lastAt = g.now()
	crossed := st.count >= g.cfg.MaxAttempts
	if crossed {
		delete(g.attempts, name)
	}
	g.mu.Unlock()

	if !crossed {
		return false
	}

	g.metrics.blockImposed()
	until := g.now().Add(g.cfg.BlockDuration)
	if err := g.store.SetBlockedUntil(ctx, name, until); err != nil {
		// The block could not be persisted; the in-memory threshold already
		// fired, so the name stays blocked for this process lifetime via the
		// counter we re-impose here.
		g.logger.Error("failed to persist brute-force block",
			"name", name, "error", err)
		g.mu.Lock()
		g.attempts[name] = &attemptState{count: g.cfg.MaxAttempts, lastAt: g.now()}
		g.mu.Unlock()
	}
	return true
}

// IsBlocked reports whether a name is currently blocked: either the persisted
// block deadline is in the future, or the in-memory counter already reached
// the threshold (covering the instant before the persistence round-trip
// completes). A store read failure fails closed.
func (g *BruteForceGuard) IsBlocked(ctx context.Context, name string) bool {
	if !g.cfg.Enabled {
		return false
	}
	name = NormalizeName(name)

	g.mu.Lock()
	st, ok := g.attempts[name]
	inMemory := ok && st.count >= g.cfg.MaxAttempts
	g.mu.Unlock()
	if inMemory {
		return true
	}

	until, err := g.store.GetBlockedUntil(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false
		}
		g.logger.Error("failed to read brute-force block, failing closed",
			"name", name, "error", err)
		return true
	}
	return !until.IsZero() && until.After(g.now())
}

// RemainingMinutes returns the remaining block time in whole minutes, rounded
// up, floored at zero.
func (g *BruteForceGuard) RemainingMinutes(ctx context.Context, name string) int {
	until, err := g.store.GetBlockedUntil(ctx, NormalizeName(name))
	if err != nil || until.IsZero() {
		return 0
	}
	remaining := until.Sub(g.now())
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Minute - 1) / time.Minute)
}

// SetMetrics installs Prometheus instrumentation. Call before the guard is
// shared between goroutines.
func (g *BruteForceGuard) SetMetrics(m *Metrics) {
	g.metrics = m
}

// ClearAttempts resets the in-memory counter for a name. Called whenever
// authentication succeeds. It never clears a persisted block: an active block
// still applies even after a late correct guess, and expires purely by
// elapsed time.
func (g *BruteForceGuard) ClearAttempts(name string) {
	g.mu.Lock()
	delete(g.attempts, NormalizeName(name))
	g.mu.Unlock()
}
