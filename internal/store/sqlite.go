// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/wardstone/wardstone/internal/auth"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLite is the embedded single-file backend. The schema is applied at open;
// there is no migration history, the schema only ever gains columns with
// defaults.
type SQLite struct {
	db          *sql.DB
	maxSessions int
}

// OpenSQLite opens (or creates) an SQLite-backed store at path.
func OpenSQLite(ctx context.Context, path string, maxSessions int) (*SQLite, error) {
	if path == "" {
		return nil, oops.Code("STORE_CONFIG_INVALID").Errorf("sqlite backend requires a database path")
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessionsPerAccount
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("backend", BackendSQLite).
			With("path", path).
			Wrap(err)
	}
	// The sqlite driver is not safe for concurrent writers on one connection
	// pool slot; a single connection serializes access and makes the
	// session-cap transaction a true critical section.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, oops.Code("STORE_SCHEMA_FAILED").
			With("backend", BackendSQLite).
			With("path", path).
			Wrap(err)
	}

	return &SQLite{db: db, maxSessions: maxSessions}, nil
}

// Accounts returns the account repository view.
func (s *SQLite) Accounts() auth.AccountRepository { return &sqliteAccounts{db: s.db} }

// Sessions returns the session repository view.
func (s *SQLite) Sessions() auth.SessionRepository {
	return &sqliteSessions{db: s.db, maxSessions: s.maxSessions}
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("STORE_CLOSE_FAILED").With("backend", BackendSQLite).Wrap(err)
	}
	return nil
}

type sqliteAccounts struct {
	db *sql.DB
}

const sqliteAccountColumns = `name, password_hash, algorithm, locked, blocked_until,
	must_change_password, registered_at, registration_addr, last_login_at, last_login_addr`

func (r *sqliteAccounts) Get(ctx context.Context, name string) (*auth.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts WHERE name = ?`,
		auth.NormalizeName(name))
	a, err := scanSQLiteAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").With("name", name).Wrap(err)
	}
	return a, nil
}

func (r *sqliteAccounts) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM accounts WHERE name = ?`, auth.NormalizeName(name)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_FAILED").With("name", name).Wrap(err)
	}
	return true, nil
}

func (r *sqliteAccounts) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (`+sqliteAccountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		auth.NormalizeName(account.Name),
		account.PasswordHash,
		account.Algorithm,
		account.Locked,
		nullTime(account.BlockedUntil),
		account.MustChangePassword,
		account.RegisteredAt,
		account.RegistrationAddr,
		nullTime(account.LastLoginAt),
		account.LastLoginAddr,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") ||
			strings.Contains(err.Error(), "PRIMARY KEY constraint") {
			return oops.Code("ACCOUNT_EXISTS").
				With("name", account.Name).
				Wrap(auth.ErrAlreadyRegistered)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").With("name", account.Name).Wrap(err)
	}
	return nil
}

// exec runs a write statement and maps zero affected rows to ErrNotFound.
func (r *sqliteAccounts) exec(ctx context.Context, code, name, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return oops.Code(code).With("name", name).Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code(code).With("name", name).Wrap(err)
	}
	if n == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *sqliteAccounts) UpdatePassword(ctx context.Context, name, hash, algorithm string) error {
	return r.exec(ctx, "ACCOUNT_UPDATE_PASSWORD_FAILED", name,
		`UPDATE accounts SET password_hash = ?, algorithm = ? WHERE name = ?`,
		hash, algorithm, auth.NormalizeName(name))
}

func (r *sqliteAccounts) Delete(ctx context.Context, name string) error {
	// Sessions cascade via the foreign key.
	return r.exec(ctx, "ACCOUNT_DELETE_FAILED", name,
		`DELETE FROM accounts WHERE name = ?`, auth.NormalizeName(name))
}

func (r *sqliteAccounts) SetLocked(ctx context.Context, name string, locked bool) error {
	return r.exec(ctx, "ACCOUNT_SET_LOCKED_FAILED", name,
		`UPDATE accounts SET locked = ? WHERE name = ?`, locked, auth.NormalizeName(name))
}

func (r *sqliteAccounts) SetBlockedUntil(ctx context.Context, name string, until time.Time) error {
	return r.exec(ctx, "ACCOUNT_SET_BLOCKED_FAILED", name,
		`UPDATE accounts SET blocked_until = ? WHERE name = ?`,
		nullTime(until), auth.NormalizeName(name))
}

func (r *sqliteAccounts) GetBlockedUntil(ctx context.Context, name string) (time.Time, error) {
	var until sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT blocked_until FROM accounts WHERE name = ?`,
		auth.NormalizeName(name)).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, oops.Code("ACCOUNT_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, oops.Code("ACCOUNT_GET_BLOCKED_FAILED").With("name", name).Wrap(err)
	}
	if !until.Valid {
		return time.Time{}, nil
	}
	return until.Time, nil
}

func (r *sqliteAccounts) SetMustChangePassword(ctx context.Context, name string, must bool) error {
	return r.exec(ctx, "ACCOUNT_SET_MUST_CHANGE_FAILED", name,
		`UPDATE accounts SET must_change_password = ? WHERE name = ?`,
		must, auth.NormalizeName(name))
}

func (r *sqliteAccounts) UpdateLastLogin(ctx context.Context, name, addr string, at time.Time) error {
	return r.exec(ctx, "ACCOUNT_UPDATE_LAST_LOGIN_FAILED", name,
		`UPDATE accounts SET last_login_at = ?, last_login_addr = ? WHERE name = ?`,
		at, addr, auth.NormalizeName(name))
}

func (r *sqliteAccounts) All(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts ORDER BY name`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_ROWS_ERROR").Wrap(err)
	}
	return accounts, nil
}

func (r *sqliteAccounts) CountByRegistrationAddr(ctx context.Context, addr string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE registration_addr = ?`, addr).Scan(&n)
	if err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").With("addr", addr).Wrap(err)
	}
	return n, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAccount(row scanner) (*auth.Account, error) {
	var (
		a            auth.Account
		blockedUntil sql.NullTime
		lastLoginAt  sql.NullTime
	)
	err := row.Scan(&a.Name, &a.PasswordHash, &a.Algorithm, &a.Locked, &blockedUntil,
		&a.MustChangePassword, &a.RegisteredAt, &a.RegistrationAddr, &lastLoginAt, &a.LastLoginAddr)
	if err != nil {
		return nil, err
	}
	if blockedUntil.Valid {
		a.BlockedUntil = blockedUntil.Time
	}
	if lastLoginAt.Valid {
		a.LastLoginAt = lastLoginAt.Time
	}
	return &a, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type sqliteSessions struct {
	db          *sql.DB
	maxSessions int
}

const sqliteSessionColumns = `token_hash, account, address, device, created_at, last_activity_at, expires_at`

func (r *sqliteSessions) Create(ctx context.Context, session *auth.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "begin tx").Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	account := auth.NormalizeName(session.Account)

	// Evict least recently active sessions down to the cap before inserting.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM sessions WHERE token_hash IN (
			SELECT token_hash FROM sessions
			WHERE account = ?
			ORDER BY last_activity_at DESC
			LIMIT -1 OFFSET ?
		)`, account, r.maxSessions-1)
	if err != nil {
		return oops.Code("SESSION_EVICT_FAILED").With("account", account).Wrap(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sqliteSessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.TokenHash, account, session.Address, session.Device,
		session.CreatedAt, session.LastActivityAt, session.ExpiresAt)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("account", account).Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

func (r *sqliteSessions) Get(ctx context.Context, token string) (*auth.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM sessions WHERE token_hash = ?`,
		auth.HashSessionToken(token))
	s, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}
	return s, nil
}

func (r *sqliteSessions) ListByAccount(ctx context.Context, account string) ([]*auth.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM sessions
		 WHERE account = ? ORDER BY last_activity_at DESC`,
		auth.NormalizeName(account))
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("account", account).Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		s, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").Wrap(err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").Wrap(err)
	}
	return sessions, nil
}

func (r *sqliteSessions) Delete(ctx context.Context, token string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token_hash = ?`, auth.HashSessionToken(token))
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	return nil
}

func (r *sqliteSessions) DeleteByAccount(ctx context.Context, account string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE account = ?`, auth.NormalizeName(account))
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_ACCOUNT_FAILED").With("account", account).Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_ACCOUNT_FAILED").With("account", account).Wrap(err)
	}
	return n, nil
}

func (r *sqliteSessions) Refresh(ctx context.Context, tokenHash string, expiresAt, lastActivity time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ?, last_activity_at = ? WHERE token_hash = ?`,
		expiresAt, lastActivity, tokenHash)
	if err != nil {
		return oops.Code("SESSION_REFRESH_FAILED").Wrap(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	return nil
}

func (r *sqliteSessions) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE token_hash = ?`, at, tokenHash)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").Wrap(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	return nil
}

func (r *sqliteSessions) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}

func scanSQLiteSession(row scanner) (*auth.Session, error) {
	var s auth.Session
	err := row.Scan(&s.TokenHash, &s.Account, &s.Address, &s.Device,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

var (
	_ DataStore              = (*SQLite)(nil)
	_ auth.AccountRepository = (*sqliteAccounts)(nil)
	_ auth.SessionRepository = (*sqliteSessions)(nil)
)
