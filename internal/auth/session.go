// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// SessionTokenBytes is the size of the random token material. 32 bytes
// hex-encode to 64 characters.
const SessionTokenBytes = 32

// Session is a standing "remember me" grant bound to a source address and
// device. The plaintext token is handed to the client once; only its SHA-256
// hash is stored.
type Session struct {
	TokenHash      string // primary key
	Account        string // normalized owning account name
	Address        string
	Device         string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// NewSession creates a validated Session.
func NewSession(account, tokenHash, address, device string, now, expiresAt time.Time) (*Session, error) {
	if account == "" {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT").Errorf("account name cannot be empty")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry must be after creation time")
	}
	return &Session{
		TokenHash:      tokenHash,
		Account:        NormalizeName(account),
		Address:        address,
		Device:         device,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      expiresAt,
	}, nil
}

// IsExpiredAt reports whether the session is expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// Matches reports whether the session is bound to the given source address,
// and, when matchDevice is set, the same device identifier.
func (s *Session) Matches(address, device string, matchDevice bool) bool {
	if s.Address != address {
		return false
	}
	if matchDevice && s.Device != device {
		return false
	}
	return true
}

// GenerateSessionToken creates a secure random token and its hash.
// The plaintext token goes to the client; the hash is what gets stored.
func GenerateSessionToken() (token, hash string, err error) {
	raw := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}
	token = hex.EncodeToString(raw)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA-256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifySessionToken checks a plaintext token against a stored hash in
// constant time.
func VerifySessionToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashSessionToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SessionRepository manages session persistence. Implementations enforce the
// per-account session bound inside Create as a single critical section: the
// read-then-evict-then-insert sequence for one account must not interleave
// with another Create for the same account.
type SessionRepository interface {
	// Create stores a new session. If the owning account already holds the
	// maximum number of sessions, the least-recently-active one is evicted
	// first.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by plaintext token. Returns ErrSessionNotFound
	// for unknown tokens.
	Get(ctx context.Context, token string) (*Session, error)

	// ListByAccount returns all sessions for an account, most recently
	// active first.
	ListByAccount(ctx context.Context, account string) ([]*Session, error)

	// Delete removes a session by plaintext token.
	Delete(ctx context.Context, token string) error

	// DeleteByAccount removes all sessions for an account and returns the
	// number removed.
	DeleteByAccount(ctx context.Context, account string) (int64, error)

	// Refresh extends a session's expiry and updates last activity. Keyed by
	// token hash since callers hold a *Session, never the plaintext token.
	Refresh(ctx context.Context, tokenHash string, expiresAt, lastActivity time.Time) error

	// Touch updates only the last-activity timestamp. Keyed by token hash.
	Touch(ctx context.Context, tokenHash string, at time.Time) error

	// SweepExpired removes all sessions expired at the given time and
	// returns the number removed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
