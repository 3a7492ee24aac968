// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

// Package errutil bridges the engine's oops-tagged errors and its slog
// output. Engine errors carry a machine-readable code (AUTH_*, FLOW_*,
// STEP_*, SESSION_*, STORE_*, CONFIG_*) plus key/value context; the
// helpers here surface both so callers and tests never parse error
// strings.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError writes err to logger at error level. A tagged error
// contributes its code and context as structured attributes; a plain
// error is logged as a single error attribute.
func LogError(logger *slog.Logger, msg string, err error) {
	tagged, ok := oops.AsOops(err)
	if !ok {
		logger.Error(msg, "error", err)
		return
	}

	attrs := []any{"error", tagged.Error()}
	if code := tagged.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if ctx := tagged.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	logger.Error(msg, attrs...)
}
