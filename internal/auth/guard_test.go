// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/internal/auth"
)

func newTestGuard(t *testing.T, accounts *memAccounts, maxAttempts int, blockFor time.Duration) (*auth.BruteForceGuard, *time.Time) {
	t.Helper()
	g := auth.NewBruteForceGuard(auth.GuardConfig{
		Enabled:       true,
		MaxAttempts:   maxAttempts,
		BlockDuration: blockFor,
	}, accounts, nil)

	now := time.Now()
	g.SetNowFunc(func() time.Time { return now })
	return g, &now
}

func TestGuardBlocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, &auth.Account{Name: "gandalf"}))

	g, _ := newTestGuard(t, accounts, 3, 10*time.Minute)

	assert.False(t, g.RecordFailure(ctx, "gandalf"))
	assert.False(t, g.IsBlocked(ctx, "gandalf"))
	assert.False(t, g.RecordFailure(ctx, "gandalf"))
	assert.False(t, g.IsBlocked(ctx, "gandalf"))

	// Third failure crosses the threshold and persists the block.
	assert.True(t, g.RecordFailure(ctx, "gandalf"))
	assert.True(t, g.IsBlocked(ctx, "gandalf"))

	until, err := accounts.GetBlockedUntil(ctx, "gandalf")
	require.NoError(t, err)
	assert.False(t, until.IsZero())
}

func TestGuardBlockExpiresByElapsedTime(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, &auth.Account{Name: "gandalf"}))

	g, now := newTestGuard(t, accounts, 3, 10*time.Minute)

	for i := 0; i < 3; i++ {
		g.RecordFailure(ctx, "gandalf")
	}
	require.True(t, g.IsBlocked(ctx, "gandalf"))
	assert.Equal(t, 10, g.RemainingMinutes(ctx, "gandalf"))

	// Nine minutes later the block still stands.
	*now = now.Add(9 * time.Minute)
	assert.True(t, g.IsBlocked(ctx, "gandalf"))
	assert.Equal(t, 1, g.RemainingMinutes(ctx, "gandalf"))

	// Eleven minutes after the block it has lapsed.
	*now = now.Add(2 * time.Minute)
	assert.False(t, g.IsBlocked(ctx, "gandalf"))
	assert.Equal(t, 0, g.RemainingMinutes(ctx, "gandalf"))
}

func TestGuardClearAttempts(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, &auth.Account{Name: "gandalf"}))

	g, _ := newTestGuard(t, accounts, 3, 10*time.Minute)

	t.Run("clearing resets the counter", func(t *testing.T) {
		g.RecordFailure(ctx, "gandalf")
		g.RecordFailure(ctx, "gandalf")
		g.ClearAttempts("gandalf")

		// The count starts over; two more failures do not block.
		assert.False(t, g.RecordFailure(ctx, "gandalf"))
		assert.False(t, g.RecordFailure(ctx, "gandalf"))
		assert.True(t, g.RecordFailure(ctx, "gandalf"))
	})

	t.Run("clearing never lifts a persisted block", func(t *testing.T) {
		require.True(t, g.IsBlocked(ctx, "gandalf"))
		g.ClearAttempts("gandalf")
		assert.True(t, g.IsBlocked(ctx, "gandalf"))
	})
}

func TestGuardCountersIndependentPerName(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, &auth.Account{Name: "gandalf"}))
	require.NoError(t, accounts.Create(ctx, &auth.Account{Name: "saruman"}))

	g, _ := newTestGuard(t, accounts, 3, 10*time.Minute)

	g.RecordFailure(ctx, "gandalf")
	g.RecordFailure(ctx, "gandalf")
	g.RecordFailure(ctx, "saruman")

	assert.False(t, g.IsBlocked(ctx, "gandalf"))
	assert.False(t, g.IsBlocked(ctx, "saruman"))
}

func TestGuardFailsClosedOnStoreError(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, &auth.Account{Name: "gandalf"}))
	accounts.failGetBlocked = errors.New("backend down")

	g, _ := newTestGuard(t, accounts, 3, 10*time.Minute)
	assert.True(t, g.IsBlocked(ctx, "gandalf"))
}

func TestGuardUnknownNameIsNotBlocked(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(t, newMemAccounts(), 3, 10*time.Minute)
	assert.False(t, g.IsBlocked(ctx, "nobody"))
}

func TestGuardStaysBlockedWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, &auth.Account{Name: "gandalf"}))
	accounts.failSetBlocked = errors.New("backend down")
	accounts.failGetBlocked = auth.ErrNotFound

	g, _ := newTestGuard(t, accounts, 3, 10*time.Minute)

	for i := 0; i < 3; i++ {
		g.RecordFailure(ctx, "gandalf")
	}
	// The persisted write failed but the in-memory counter holds the block
	// for this process lifetime.
	assert.True(t, g.IsBlocked(ctx, "gandalf"))
}

func TestGuardDisabled(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, &auth.Account{Name: "gandalf"}))

	g := auth.NewBruteForceGuard(auth.GuardConfig{Enabled: false, MaxAttempts: 1}, accounts, nil)

	assert.False(t, g.RecordFailure(ctx, "gandalf"))
	assert.False(t, g.IsBlocked(ctx, "gandalf"))
}
