// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import "time"

// SetNowFunc overrides the guard's clock for tests.
func (g *BruteForceGuard) SetNowFunc(f func() time.Time) { g.now = f }

// SetNowFunc overrides the service's clock for tests.
func (s *Service) SetNowFunc(f func() time.Time) { s.now = f }
