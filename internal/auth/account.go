// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Account name validation constraints.
const (
	MinNameLength = 3
	MaxNameLength = 16
)

// namePattern matches names that start with a letter and contain only
// letters, digits, and underscores.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// NormalizeName returns the canonical form of an account name. All repository
// lookups and writes use the normalized form; a name maps to at most one
// Account.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateName validates an account name against naming rules.
func ValidateName(name string) error {
	if name == "" {
		return oops.Code("AUTH_INVALID_NAME").Errorf("name cannot be empty")
	}
	if len(name) < MinNameLength {
		return oops.Code("AUTH_INVALID_NAME").
			With("min", MinNameLength).
			Errorf("name must be at least %d characters", MinNameLength)
	}
	if len(name) > MaxNameLength {
		return oops.Code("AUTH_INVALID_NAME").
			With("max", MaxNameLength).
			Errorf("name must be at most %d characters", MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return oops.Code("AUTH_INVALID_NAME").
			Errorf("name must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// Account is a registered user's persisted credential record, keyed by
// normalized name.
type Account struct {
	Name               string // normalized
	PasswordHash       string
	Algorithm          string // hashing-algorithm tag, e.g. "argon2id"
	Locked             bool
	BlockedUntil       time.Time // zero = not blocked
	MustChangePassword bool
	RegisteredAt       time.Time
	RegistrationAddr   string
	LastLoginAt        time.Time
	LastLoginAddr      string
}

// IsBlockedAt reports whether a brute-force block is active at the given time.
func (a *Account) IsBlockedAt(now time.Time) bool {
	return !a.BlockedUntil.IsZero() && a.BlockedUntil.After(now)
}

// AccountInfo is the redacted metadata view returned by admin lookups. It
// never carries the credential hash.
type AccountInfo struct {
	Name               string
	Locked             bool
	MustChangePassword bool
	RegisteredAt       time.Time
	RegistrationAddr   string
	LastLoginAt        time.Time
	LastLoginAddr      string
}

// Redacted returns the metadata view of an account.
func (a *Account) Redacted() AccountInfo {
	return AccountInfo{
		Name:               a.Name,
		Locked:             a.Locked,
		MustChangePassword: a.MustChangePassword,
		RegisteredAt:       a.RegisteredAt,
		RegistrationAddr:   a.RegistrationAddr,
		LastLoginAt:        a.LastLoginAt,
		LastLoginAddr:      a.LastLoginAddr,
	}
}

// AccountRepository manages account persistence. Implementations normalize
// names before lookup and storage, serialize concurrent writes per name, and
// make every write immediately durable: account state is consulted for
// security decisions, so a write acknowledged to its caller must be visible
// to subsequent readers.
type AccountRepository interface {
	// Get retrieves an account by name. Returns ErrNotFound if absent.
	Get(ctx context.Context, name string) (*Account, error)

	// Exists reports whether an account with the given name exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Create stores a new account. Returns ErrAlreadyRegistered if the name
	// is taken.
	Create(ctx context.Context, account *Account) error

	// UpdatePassword replaces the credential hash and algorithm tag.
	UpdatePassword(ctx context.Context, name, hash, algorithm string) error

	// Delete removes an account. Sessions for the account are removed in the
	// same operation (cascading delete).
	Delete(ctx context.Context, name string) error

	// SetLocked sets or clears the lock flag.
	SetLocked(ctx context.Context, name string, locked bool) error

	// SetBlockedUntil persists the brute-force block deadline. The zero time
	// clears the block.
	SetBlockedUntil(ctx context.Context, name string, until time.Time) error

	// GetBlockedUntil returns the persisted block deadline, or the zero time
	// if the account is not blocked. Returns ErrNotFound if the account does
	// not exist.
	GetBlockedUntil(ctx context.Context, name string) (time.Time, error)

	// SetMustChangePassword sets or clears the must-change-password flag.
	SetMustChangePassword(ctx context.Context, name string, must bool) error

	// UpdateLastLogin records last-login metadata.
	UpdateLastLogin(ctx context.Context, name, addr string, at time.Time) error

	// All returns every account, ordered by name.
	All(ctx context.Context) ([]*Account, error)

	// CountByRegistrationAddr returns how many accounts were registered from
	// the given source address. Used for the registration quota.
	CountByRegistrationAddr(ctx context.Context, addr string) (int, error)
}
