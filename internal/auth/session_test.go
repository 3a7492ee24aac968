// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/internal/auth"
)

func TestGenerateSessionToken(t *testing.T) {
	token, hash, err := auth.GenerateSessionToken()
	require.NoError(t, err)

	// 32 random bytes hex-encode to 64 characters.
	assert.Len(t, token, auth.SessionTokenBytes*2)
	assert.Equal(t, auth.HashSessionToken(token), hash)
	assert.NotEqual(t, token, hash)

	token2, _, err := auth.GenerateSessionToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestVerifySessionToken(t *testing.T) {
	token, hash, err := auth.GenerateSessionToken()
	require.NoError(t, err)

	assert.True(t, auth.VerifySessionToken(token, hash))
	assert.False(t, auth.VerifySessionToken("wrong", hash))
	assert.False(t, auth.VerifySessionToken("", hash))
	assert.False(t, auth.VerifySessionToken(token, ""))
}

func TestNewSession(t *testing.T) {
	now := time.Now()

	t.Run("valid session", func(t *testing.T) {
		s, err := auth.NewSession("Gandalf", "hash", "10.0.0.1", "tower", now, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "gandalf", s.Account)
		assert.Equal(t, now, s.CreatedAt)
		assert.Equal(t, now, s.LastActivityAt)
	})

	t.Run("empty account rejected", func(t *testing.T) {
		_, err := auth.NewSession("", "hash", "", "", now, now.Add(time.Hour))
		assert.Error(t, err)
	})

	t.Run("empty token hash rejected", func(t *testing.T) {
		_, err := auth.NewSession("gandalf", "", "", "", now, now.Add(time.Hour))
		assert.Error(t, err)
	})

	t.Run("expiry before creation rejected", func(t *testing.T) {
		_, err := auth.NewSession("gandalf", "hash", "", "", now, now.Add(-time.Hour))
		assert.Error(t, err)
	})
}

func TestSessionIsExpiredAt(t *testing.T) {
	now := time.Now()
	s, err := auth.NewSession("gandalf", "hash", "", "", now, now.Add(time.Hour))
	require.NoError(t, err)

	assert.False(t, s.IsExpiredAt(now))
	assert.False(t, s.IsExpiredAt(now.Add(time.Hour)))
	assert.True(t, s.IsExpiredAt(now.Add(time.Hour+time.Second)))
}

func TestSessionMatches(t *testing.T) {
	now := time.Now()
	s, err := auth.NewSession("gandalf", "hash", "10.0.0.1", "tower", now, now.Add(time.Hour))
	require.NoError(t, err)

	t.Run("address only", func(t *testing.T) {
		assert.True(t, s.Matches("10.0.0.1", "other-device", false))
		assert.False(t, s.Matches("10.0.0.2", "tower", false))
	})

	t.Run("address and device", func(t *testing.T) {
		assert.True(t, s.Matches("10.0.0.1", "tower", true))
		assert.False(t, s.Matches("10.0.0.1", "other-device", true))
	})
}
