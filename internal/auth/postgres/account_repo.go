// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/samber/oops"

	"github.com/wardstone/wardstone/internal/auth"
)

// DB is the subset of pgxpool.Pool the repositories use. pgxmock satisfies it
// in unit tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `name, password_hash, algorithm, locked, blocked_until,
	must_change_password, registered_at, registration_addr, last_login_at, last_login_addr`

// Get retrieves an account by name.
func (r *AccountRepository) Get(ctx context.Context, name string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE name = $1
	`, auth.NormalizeName(name))

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("name", name).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account").
			With("name", name).
			Wrap(err)
	}
	return account, nil
}

// Exists reports whether an account with the given name exists.
func (r *AccountRepository) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE name = $1)
	`, auth.NormalizeName(name)).Scan(&exists)
	if err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_FAILED").
			With("operation", "check account exists").
			With("name", name).
			Wrap(err)
	}
	return exists, nil
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		auth.NormalizeName(account.Name),
		account.PasswordHash,
		account.Algorithm,
		account.Locked,
		timePtr(account.BlockedUntil),
		account.MustChangePassword,
		account.RegisteredAt,
		account.RegistrationAddr,
		timePtr(account.LastLoginAt),
		account.LastLoginAddr,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_EXISTS").
				With("name", account.Name).
				Wrap(auth.ErrAlreadyRegistered)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("name", account.Name).
			Wrap(err)
	}
	return nil
}

// exec runs a write statement and maps zero affected rows to ErrNotFound.
func (r *AccountRepository) exec(ctx context.Context, code, name, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return oops.Code(code).With("name", name).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("name", name).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword replaces the credential hash and algorithm tag.
func (r *AccountRepository) UpdatePassword(ctx context.Context, name, hash, algorithm string) error {
	return r.exec(ctx, "ACCOUNT_UPDATE_PASSWORD_FAILED", name, `
		UPDATE accounts SET password_hash = $2, algorithm = $3
		WHERE name = $1
	`, auth.NormalizeName(name), hash, algorithm)
}

// Delete removes an account. Sessions cascade via the foreign key.
func (r *AccountRepository) Delete(ctx context.Context, name string) error {
	return r.exec(ctx, "ACCOUNT_DELETE_FAILED", name, `
		DELETE FROM accounts WHERE name = $1
	`, auth.NormalizeName(name))
}

// SetLocked sets or clears the lock flag.
func (r *AccountRepository) SetLocked(ctx context.Context, name string, locked bool) error {
	return r.exec(ctx, "ACCOUNT_SET_LOCKED_FAILED", name, `
		UPDATE accounts SET locked = $2 WHERE name = $1
	`, auth.NormalizeName(name), locked)
}

// SetBlockedUntil persists the brute-force block deadline.
func (r *AccountRepository) SetBlockedUntil(ctx context.Context, name string, until time.Time) error {
	return r.exec(ctx, "ACCOUNT_SET_BLOCKED_FAILED", name, `
		UPDATE accounts SET blocked_until = $2 WHERE name = $1
	`, auth.NormalizeName(name), timePtr(until))
}

// GetBlockedUntil returns the persisted block deadline, or the zero time when
// none is set.
func (r *AccountRepository) GetBlockedUntil(ctx context.Context, name string) (time.Time, error) {
	var until *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT blocked_until FROM accounts WHERE name = $1
	`, auth.NormalizeName(name)).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, oops.Code("ACCOUNT_NOT_FOUND").
			With("name", name).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, oops.Code("ACCOUNT_GET_BLOCKED_FAILED").
			With("operation", "get blocked_until").
			With("name", name).
			Wrap(err)
	}
	if until == nil {
		return time.Time{}, nil
	}
	return *until, nil
}

// SetMustChangePassword sets or clears the must-change-password flag.
func (r *AccountRepository) SetMustChangePassword(ctx context.Context, name string, must bool) error {
	return r.exec(ctx, "ACCOUNT_SET_MUST_CHANGE_FAILED", name, `
		UPDATE accounts SET must_change_password = $2 WHERE name = $1
	`, auth.NormalizeName(name), must)
}

// UpdateLastLogin records last-login metadata.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, name, addr string, at time.Time) error {
	return r.exec(ctx, "ACCOUNT_UPDATE_LAST_LOGIN_FAILED", name, `
		UPDATE accounts SET last_login_at = $2, last_login_addr = $3
		WHERE name = $1
	`, auth.NormalizeName(name), at, addr)
}

// All returns every account, ordered by name.
func (r *AccountRepository) All(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		ORDER BY name
	`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "list accounts").
			Wrap(err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_SCAN_FAILED").
				With("operation", "scan account row").
				Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_ROWS_ERROR").
			With("operation", "iterate account rows").
			Wrap(err)
	}
	return accounts, nil
}

// CountByRegistrationAddr returns how many accounts were registered from the
// given source address.
func (r *AccountRepository) CountByRegistrationAddr(ctx context.Context, addr string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM accounts WHERE registration_addr = $1
	`, addr).Scan(&n)
	if err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").
			With("operation", "count accounts by registration addr").
			With("addr", addr).
			Wrap(err)
	}
	return n, nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a            auth.Account
		blockedUntil *time.Time
		lastLoginAt  *time.Time
	)
	err := row.Scan(&a.Name, &a.PasswordHash, &a.Algorithm, &a.Locked, &blockedUntil,
		&a.MustChangePassword, &a.RegisteredAt, &a.RegistrationAddr, &lastLoginAt, &a.LastLoginAddr)
	if err != nil {
		return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
	}
	if blockedUntil != nil {
		a.BlockedUntil = *blockedUntil
	}
	if lastLoginAt != nil {
		a.LastLoginAt = *lastLoginAt
	}
	return &a, nil
}

// timePtr maps the zero time to NULL.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
