// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/wardstone/wardstone/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db          DB
	maxSessions int
}

// NewSessionRepository creates a new SessionRepository. maxSessions caps
// standing sessions per account.
func NewSessionRepository(db DB, maxSessions int) *SessionRepository {
	return &SessionRepository{db: db, maxSessions: maxSessions}
}

const sessionColumns = `token_hash, account, address, device, created_at, last_activity_at, expires_at`

// Create stores a new session, evicting the least recently active ones if the
// account is at its cap. The account row is locked for the duration so two
// concurrent creates for one account cannot both pass the cap check.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	account := auth.NormalizeName(session.Account)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "begin tx").
			With("account", account).
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var name string
	err = tx.QueryRow(ctx, `
		SELECT name FROM accounts WHERE name = $1 FOR UPDATE
	`, account).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account", account).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "lock account row").
			With("account", account).
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM sessions
		WHERE token_hash IN (
			SELECT token_hash FROM sessions
			WHERE account = $1
			ORDER BY last_activity_at DESC
			OFFSET $2
		)
	`, account, r.maxSessions-1)
	if err != nil {
		return oops.Code("SESSION_EVICT_FAILED").
			With("operation", "evict sessions over cap").
			With("account", account).
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.TokenHash,
		account,
		session.Address,
		session.Device,
		session.CreatedAt,
		session.LastActivityAt,
		session.ExpiresAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("account", account).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "commit").
			With("account", account).
			Wrap(err)
	}
	return nil
}

// Get retrieves a session by plaintext token.
func (r *SessionRepository) Get(ctx context.Context, token string) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE token_hash = $1
	`, auth.HashSessionToken(token))

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session by token").
			Wrap(err)
	}
	return session, nil
}

// ListByAccount returns all sessions for an account, most recently active
// first.
func (r *SessionRepository) ListByAccount(ctx context.Context, account string) ([]*auth.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE account = $1
		ORDER BY last_activity_at DESC
	`, auth.NormalizeName(account))
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list sessions by account").
			With("account", account).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").
			With("operation", "iterate session rows").
			Wrap(err)
	}
	return sessions, nil
}

// Delete removes a session by plaintext token.
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE token_hash = $1
	`, auth.HashSessionToken(token))
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	return nil
}

// DeleteByAccount removes all sessions for an account.
func (r *SessionRepository) DeleteByAccount(ctx context.Context, account string) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE account = $1
	`, auth.NormalizeName(account))
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_ACCOUNT_FAILED").
			With("operation", "delete sessions by account").
			With("account", account).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Refresh extends a session's expiry and updates last activity.
func (r *SessionRepository) Refresh(ctx context.Context, tokenHash string, expiresAt, lastActivity time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET expires_at = $2, last_activity_at = $3
		WHERE token_hash = $1
	`, tokenHash, expiresAt, lastActivity)
	if err != nil {
		return oops.Code("SESSION_REFRESH_FAILED").
			With("operation", "refresh session").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	return nil
}

// Touch updates only the last-activity timestamp.
func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $2
		WHERE token_hash = $1
	`, tokenHash, at)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "touch session").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	return nil
}

// SweepExpired removes all sessions expired at the given time.
func (r *SessionRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var s auth.Session
	err := row.Scan(&s.TokenHash, &s.Account, &s.Address, &s.Device,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt)
	if err != nil {
		return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
	}
	return &s, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
