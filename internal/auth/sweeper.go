// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardstone/wardstone/pkg/errutil"
)

// DefaultSessionSweepInterval is how often expired sessions are removed when
// no interval is configured.
const DefaultSessionSweepInterval = 10 * time.Minute

// SessionSweeper periodically removes expired sessions from the repository.
// Expiry is already enforced on every read, so the sweep only reclaims
// storage; a missed tick never lets a stale session authenticate.
type SessionSweeper struct {
	sessions SessionRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionSweeper creates a sweeper. A non-positive interval falls back to
// DefaultSessionSweepInterval.
func NewSessionSweeper(sessions SessionRepository, interval time.Duration, logger *slog.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = DefaultSessionSweepInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SessionSweeper{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every interval tick until the context
// is cancelled.
func (s *SessionSweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *SessionSweeper) sweep(ctx context.Context) {
	removed, err := s.sessions.SweepExpired(ctx, s.now())
	if err != nil {
		errutil.LogError(s.logger, "failed to sweep expired sessions", err)
		return
	}
	if removed > 0 {
		s.logger.Info("swept expired sessions", "removed", removed)
	}
}
