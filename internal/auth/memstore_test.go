// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wardstone/wardstone/internal/auth"
)

// memAccounts is an in-memory AccountRepository with error injection.
type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account

	failGet        error
	failExists     error
	failSetBlocked error
	failGetBlocked error
	failCount      error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[string]*auth.Account)}
}

func (m *memAccounts) Get(_ context.Context, name string) (*auth.Account, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[auth.NormalizeName(name)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) Exists(_ context.Context, name string) (bool, error) {
	if m.failExists != nil {
		return false, m.failExists
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[auth.NormalizeName(name)]
	return ok, nil
}

func (m *memAccounts) Create(_ context.Context, account *auth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := auth.NormalizeName(account.Name)
	if _, ok := m.accounts[name]; ok {
		return auth.ErrAlreadyRegistered
	}
	cp := *account
	cp.Name = name
	m.accounts[name] = &cp
	return nil
}

func (m *memAccounts) UpdatePassword(_ context.Context, name, hash, algorithm string) error {
	return m.mutate(name, func(a *auth.Account) {
		a.PasswordHash = hash
		a.Algorithm = algorithm
	})
}

func (m *memAccounts) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = auth.NormalizeName(name)
	if _, ok := m.accounts[name]; !ok {
		return auth.ErrNotFound
	}
	delete(m.accounts, name)
	return nil
}

func (m *memAccounts) SetLocked(_ context.Context, name string, locked bool) error {
	return m.mutate(name, func(a *auth.Account) { a.Locked = locked })
}

func (m *memAccounts) SetBlockedUntil(_ context.Context, name string, until time.Time) error {
	if m.failSetBlocked != nil {
		return m.failSetBlocked
	}
	return m.mutate(name, func(a *auth.Account) { a.BlockedUntil = until })
}

func (m *memAccounts) GetBlockedUntil(_ context.Context, name string) (time.Time, error) {
	if m.failGetBlocked != nil {
		return time.Time{}, m.failGetBlocked
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[auth.NormalizeName(name)]
	if !ok {
		return time.Time{}, auth.ErrNotFound
	}
	return a.BlockedUntil, nil
}

func (m *memAccounts) SetMustChangePassword(_ context.Context, name string, must bool) error {
	return m.mutate(name, func(a *auth.Account) { a.MustChangePassword = must })
}

func (m *memAccounts) UpdateLastLogin(_ context.Context, name, addr string, at time.Time) error {
	return m.mutate(name, func(a *auth.Account) {
		a.LastLoginAt = at
		a.LastLoginAddr = addr
	})
}

func (m *memAccounts) All(_ context.Context) ([]*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*auth.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memAccounts) CountByRegistrationAddr(_ context.Context, addr string) (int, error) {
	if m.failCount != nil {
		return 0, m.failCount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.accounts {
		if a.RegistrationAddr == addr {
			n++
		}
	}
	return n, nil
}

func (m *memAccounts) mutate(name string, fn func(*auth.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[auth.NormalizeName(name)]
	if !ok {
		return auth.ErrNotFound
	}
	fn(a)
	return nil
}

// memSessions is an in-memory SessionRepository enforcing the per-account cap.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
	cap      int

	failCreate error
	failList   error
}

func newMemSessions(capacity int) *memSessions {
	return &memSessions{sessions: make(map[string]*auth.Session), cap: capacity}
}

func (m *memSessions) Create(_ context.Context, session *auth.Session) error {
	if m.failCreate != nil {
		return m.failCreate
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	account := auth.NormalizeName(session.Account)
	var owned []*auth.Session
	for _, s := range m.sessions {
		if s.Account == account {
			owned = append(owned, s)
		}
	}
	if len(owned) >= m.cap {
		sort.Slice(owned, func(i, j int) bool {
			return owned[i].LastActivityAt.Before(owned[j].LastActivityAt)
		})
		for _, victim := range owned[:len(owned)-m.cap+1] {
			delete(m.sessions, victim.TokenHash)
		}
	}

	cp := *session
	cp.Account = account
	m.sessions[cp.TokenHash] = &cp
	return nil
}

func (m *memSessions) Get(_ context.Context, token string) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[auth.HashSessionToken(token)]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) ListByAccount(_ context.Context, account string) ([]*auth.Session, error) {
	if m.failList != nil {
		return nil, m.failList
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account = auth.NormalizeName(account)
	var out []*auth.Session
	for _, s := range m.sessions {
		if s.Account == account {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (m *memSessions) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := auth.HashSessionToken(token)
	if _, ok := m.sessions[hash]; !ok {
		return auth.ErrSessionNotFound
	}
	delete(m.sessions, hash)
	return nil
}

func (m *memSessions) DeleteByAccount(_ context.Context, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account = auth.NormalizeName(account)
	var n int64
	for hash, s := range m.sessions {
		if s.Account == account {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) Refresh(_ context.Context, tokenHash string, expiresAt, lastActivity time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return auth.ErrSessionNotFound
	}
	s.ExpiresAt = expiresAt
	s.LastActivityAt = lastActivity
	return nil
}

func (m *memSessions) Touch(_ context.Context, tokenHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return auth.ErrSessionNotFound
	}
	s.LastActivityAt = at
	return nil
}

func (m *memSessions) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, s := range m.sessions {
		if s.IsExpiredAt(now) {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) count(account string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Account == auth.NormalizeName(account) {
			n++
		}
	}
	return n
}

var (
	_ auth.AccountRepository = (*memAccounts)(nil)
	_ auth.SessionRepository = (*memSessions)(nil)
)

// recordingHooks records hook invocations and lets tests cancel decisions.
type recordingHooks struct {
	mu     sync.Mutex
	events []string

	cancelPreAuth    bool
	cancelAuthFailed bool
}

func (h *recordingHooks) record(event string) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
}

func (h *recordingHooks) has(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == event {
			return true
		}
	}
	return false
}

func (h *recordingHooks) PreAuthenticate(user string, _ auth.LoginKind) auth.Decision {
	h.record("pre_authenticate:" + user)
	if h.cancelPreAuth {
		return auth.Decision{Cancelled: true, Reason: "rejected by module"}
	}
	return auth.Decision{}
}

func (h *recordingHooks) AuthenticationFailed(user string) auth.Decision {
	h.record("authentication_failed:" + user)
	if h.cancelAuthFailed {
		return auth.Decision{Cancelled: true}
	}
	return auth.Decision{}
}

func (h *recordingHooks) Authenticated(user string)    { h.record("authenticated:" + user) }
func (h *recordingHooks) Deauthenticated(user string)  { h.record("deauthenticated:" + user) }
func (h *recordingHooks) Registered(user string)       { h.record("registered:" + user) }
func (h *recordingHooks) PasswordChanged(user string)  { h.record("password_changed:" + user) }
func (h *recordingHooks) Unregistered(user string)     { h.record("unregistered:" + user) }
func (h *recordingHooks) SaveState(user string)        { h.record("save_state:" + user) }
func (h *recordingHooks) RestoreState(user string) auth.Decision {
	h.record("restore_state:" + user)
	return auth.Decision{}
}

var _ auth.Hooks = (*recordingHooks)(nil)
