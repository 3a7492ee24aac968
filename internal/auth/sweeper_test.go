// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/internal/auth"
)

func TestSessionSweeperRemovesExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := newMemSessions(5)
	now := time.Now()

	expired, err := auth.NewSession("frodo", auth.HashSessionToken("old"), "10.0.0.1", "shire",
		now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, sessions.Create(ctx, expired))

	live, err := auth.NewSession("frodo", auth.HashSessionToken("new"), "10.0.0.1", "shire",
		now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, sessions.Create(ctx, live))

	sweeper := auth.NewSessionSweeper(sessions, time.Hour, nil)
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	// The first sweep runs immediately, before the first tick.
	require.Eventually(t, func() bool {
		remaining, listErr := sessions.ListByAccount(ctx, "frodo")
		return listErr == nil && len(remaining) == 1
	}, 2*time.Second, 10*time.Millisecond)

	remaining, err := sessions.ListByAccount(ctx, "frodo")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, auth.HashSessionToken("new"), remaining[0].TokenHash)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}

func TestSessionSweeperKeepsLiveSessionsAcrossTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := newMemSessions(5)
	now := time.Now()

	live, err := auth.NewSession("frodo", auth.HashSessionToken("tok"), "10.0.0.1", "shire",
		now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, sessions.Create(ctx, live))

	sweeper := auth.NewSessionSweeper(sessions, 5*time.Millisecond, nil)
	go sweeper.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	remaining, err := sessions.ListByAccount(ctx, "frodo")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}
