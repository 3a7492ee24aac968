// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/internal/store"
	"github.com/wardstone/wardstone/pkg/errutil"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("flatfile", func(t *testing.T) {
		ds, err := store.Open(ctx, store.Config{
			Backend: store.BackendFlatfile,
			Path:    filepath.Join(t.TempDir(), "data.yaml"),
		}, nil)
		require.NoError(t, err)
		assert.IsType(t, (*store.Flatfile)(nil), ds)
		require.NoError(t, ds.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		ds, err := store.Open(ctx, store.Config{
			Backend: store.BackendSQLite,
			Path:    filepath.Join(t.TempDir(), "data.db"),
		}, nil)
		require.NoError(t, err)
		assert.IsType(t, (*store.SQLite)(nil), ds)
		require.NoError(t, ds.Close())
	})

	t.Run("postgres requires url", func(t *testing.T) {
		_, err := store.Open(ctx, store.Config{Backend: store.BackendPostgres}, nil)
		errutil.AssertErrorCode(t, err, "STORE_CONFIG_INVALID")
	})

	t.Run("unknown backend rejected", func(t *testing.T) {
		_, err := store.Open(ctx, store.Config{Backend: "redis"}, nil)
		errutil.AssertErrorCode(t, err, "STORE_UNKNOWN_BACKEND")
	})

	t.Run("flatfile with unknown extension rejected", func(t *testing.T) {
		_, err := store.Open(ctx, store.Config{
			Backend: store.BackendFlatfile,
			Path:    filepath.Join(t.TempDir(), "data.ini"),
		}, nil)
		errutil.AssertErrorCode(t, err, "STORE_UNKNOWN_ENCODING")
	})
}
