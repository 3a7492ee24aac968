// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Business-rule sentinels. These are expected, recoverable failures that are
// surfaced to the calling collaborator as user-facing conditions. Backend I/O
// failures are wrapped with oops codes instead.
var (
	// ErrAlreadyAuthenticated is returned when an operation requires an
	// unauthenticated user but the user is already authenticated.
	ErrAlreadyAuthenticated = errors.New("already authenticated")

	// ErrNotRegistered is returned when the target account does not exist.
	ErrNotRegistered = errors.New("not registered")

	// ErrAlreadyRegistered is returned when registering a name that already
	// has an account.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrAccountLocked is returned when the account's lock flag is set.
	ErrAccountLocked = errors.New("account locked")

	// ErrIncorrectPassword is returned when the submitted credential does not
	// match the stored hash.
	ErrIncorrectPassword = errors.New("incorrect password")

	// ErrPasswordMismatch is returned when a password and its confirmation
	// differ.
	ErrPasswordMismatch = errors.New("password confirmation does not match")

	// ErrRateLimited is returned when the per-address registration quota is
	// exhausted.
	ErrRateLimited = errors.New("registration quota exceeded for address")

	// ErrSessionNotFound is returned when a session token does not resolve to
	// a live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfirmationNotInitiated is returned when an unregister confirmation
	// arrives without a prior request.
	ErrConfirmationNotInitiated = errors.New("unregister confirmation not initiated")

	// ErrConfirmationExpired is returned when an unregister confirmation
	// arrives after its window closed.
	ErrConfirmationExpired = errors.New("unregister confirmation expired")
)

// BlockedError reports an active brute-force block on an account name.
type BlockedError struct {
	Remaining time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked for %d more minute(s)", e.RemainingMinutes())
}

// RemainingMinutes returns the remaining block time in minutes, rounded up,
// floored at zero.
func (e *BlockedError) RemainingMinutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int((e.Remaining + time.Minute - 1) / time.Minute)
}

// ValidationError reports the first violated password complexity rule.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
