// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails the test unless err carries the given machine
// code. Matching on the code keeps tests stable when error messages
// are reworded.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	tagged, ok := oops.AsOops(err)
	require.True(t, ok, "error carries no engine code: %v", err)
	assert.Equal(t, code, tagged.Code())
}

// AssertErrorContext fails the test unless err carries the given
// key/value pair in its structured context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	require.Error(t, err)
	tagged, ok := oops.AsOops(err)
	require.True(t, ok, "error carries no structured context: %v", err)
	ctx := tagged.Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}
