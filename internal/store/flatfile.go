// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/wardstone/wardstone/internal/auth"
)

// Flatfile keeps every account and session in memory and persists the whole
// image to a single structured file after each write. The file extension
// selects the encoding: .yaml/.yml or .json. One mutex serializes all access,
// which also makes the session-cap eviction in Create a critical section.
type Flatfile struct {
	mu          sync.Mutex
	path        string
	encoding    string
	maxSessions int
	logger      *slog.Logger

	accounts map[string]*auth.Account // keyed by normalized name
	sessions map[string]*auth.Session // keyed by token hash
}

// fileImage is the on-disk shape of the flatfile store.
type fileImage struct {
	Accounts []accountRecord `yaml:"accounts" json:"accounts"`
	Sessions []sessionRecord `yaml:"sessions" json:"sessions"`
}

type accountRecord struct {
	Name               string    `yaml:"name" json:"name"`
	PasswordHash       string    `yaml:"password_hash" json:"password_hash"`
	Algorithm          string    `yaml:"algorithm" json:"algorithm"`
	Locked             bool      `yaml:"locked,omitempty" json:"locked,omitempty"`
	BlockedUntil       time.Time `yaml:"blocked_until,omitempty" json:"blocked_until,omitempty"`
	MustChangePassword bool      `yaml:"must_change_password,omitempty" json:"must_change_password,omitempty"`
	RegisteredAt       time.Time `yaml:"registered_at" json:"registered_at"`
	RegistrationAddr   string    `yaml:"registration_addr,omitempty" json:"registration_addr,omitempty"`
	LastLoginAt        time.Time `yaml:"last_login_at,omitempty" json:"last_login_at,omitempty"`
	LastLoginAddr      string    `yaml:"last_login_addr,omitempty" json:"last_login_addr,omitempty"`
}

type sessionRecord struct {
	TokenHash      string    `yaml:"token_hash" json:"token_hash"`
	Account        string    `yaml:"account" json:"account"`
	Address        string    `yaml:"address,omitempty" json:"address,omitempty"`
	Device         string    `yaml:"device,omitempty" json:"device,omitempty"`
	CreatedAt      time.Time `yaml:"created_at" json:"created_at"`
	LastActivityAt time.Time `yaml:"last_activity_at" json:"last_activity_at"`
	ExpiresAt      time.Time `yaml:"expires_at" json:"expires_at"`
}

// OpenFlatfile opens (or creates) a flatfile store at path.
func OpenFlatfile(path string, maxSessions int, logger *slog.Logger) (*Flatfile, error) {
	encoding, err := flatfileEncoding(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessionsPerAccount
	}

	f := &Flatfile{
		path:        path,
		encoding:    encoding,
		maxSessions: maxSessions,
		logger:      logger,
		accounts:    make(map[string]*auth.Account),
		sessions:    make(map[string]*auth.Session),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Flatfile) load() error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.logger.Info("data file does not exist yet, starting empty", "path", f.path)
		return nil
	}
	if err != nil {
		return oops.Code("STORE_READ_FAILED").With("path", f.path).Wrap(err)
	}

	var img fileImage
	switch f.encoding {
	case "yaml":
		err = yaml.Unmarshal(data, &img)
	case "json":
		err = json.Unmarshal(data, &img)
	}
	if err != nil {
		return oops.Code("STORE_DECODE_FAILED").
			With("path", f.path).
			With("encoding", f.encoding).
			Wrap(err)
	}

	for _, rec := range img.Accounts {
		a := auth.Account(rec)
		a.Name = auth.NormalizeName(a.Name)
		f.accounts[a.Name] = &a
	}
	for _, rec := range img.Sessions {
		s := auth.Session(rec)
		s.Account = auth.NormalizeName(s.Account)
		f.sessions[s.TokenHash] = &s
	}
	return nil
}

// persist writes the full image to disk via a temp file and rename, so a
// crash mid-write never leaves a truncated data file. Callers hold the mutex.
func (f *Flatfile) persist() error {
	img := fileImage{
		Accounts: make([]accountRecord, 0, len(f.accounts)),
		Sessions: make([]sessionRecord, 0, len(f.sessions)),
	}
	for _, a := range f.accounts {
		img.Accounts = append(img.Accounts, accountRecord(*a))
	}
	for _, s := range f.sessions {
		img.Sessions = append(img.Sessions, sessionRecord(*s))
	}
	sort.Slice(img.Accounts, func(i, j int) bool { return img.Accounts[i].Name < img.Accounts[j].Name })
	sort.Slice(img.Sessions, func(i, j int) bool { return img.Sessions[i].TokenHash < img.Sessions[j].TokenHash })

	var (
		data []byte
		err  error
	)
	switch f.encoding {
	case "yaml":
		data, err = yaml.Marshal(&img)
	case "json":
		data, err = json.MarshalIndent(&img, "", "  ")
	}
	if err != nil {
		return oops.Code("STORE_ENCODE_FAILED").With("encoding", f.encoding).Wrap(err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".wardstone-*.tmp")
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, f.path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return oops.Code("STORE_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	return nil
}

// Accounts returns the account repository view.
func (f *Flatfile) Accounts() auth.AccountRepository { return (*flatfileAccounts)(f) }

// Sessions returns the session repository view.
func (f *Flatfile) Sessions() auth.SessionRepository { return (*flatfileSessions)(f) }

// Close persists a final image.
func (f *Flatfile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persist()
}

type flatfileAccounts Flatfile

func (f *flatfileAccounts) Get(_ context.Context, name string) (*auth.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[auth.NormalizeName(name)]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *flatfileAccounts) Exists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[auth.NormalizeName(name)]
	return ok, nil
}

func (f *flatfileAccounts) Create(_ context.Context, account *auth.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := auth.NormalizeName(account.Name)
	if _, exists := f.accounts[name]; exists {
		return oops.Code("ACCOUNT_EXISTS").With("name", name).Wrap(auth.ErrAlreadyRegistered)
	}
	cp := *account
	cp.Name = name
	f.accounts[name] = &cp
	return (*Flatfile)(f).persist()
}

// mutate applies fn to an account under the lock and persists the result.
func (f *flatfileAccounts) mutate(name string, fn func(*auth.Account)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[auth.NormalizeName(name)]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	fn(a)
	return (*Flatfile)(f).persist()
}

func (f *flatfileAccounts) UpdatePassword(_ context.Context, name, hash, algorithm string) error {
	return f.mutate(name, func(a *auth.Account) {
		a.PasswordHash = hash
		a.Algorithm = algorithm
	})
}

func (f *flatfileAccounts) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = auth.NormalizeName(name)
	if _, ok := f.accounts[name]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	delete(f.accounts, name)
	for hash, s := range f.sessions {
		if s.Account == name {
			delete(f.sessions, hash)
		}
	}
	return (*Flatfile)(f).persist()
}

func (f *flatfileAccounts) SetLocked(_ context.Context, name string, locked bool) error {
	return f.mutate(name, func(a *auth.Account) { a.Locked = locked })
}

func (f *flatfileAccounts) SetBlockedUntil(_ context.Context, name string, until time.Time) error {
	return f.mutate(name, func(a *auth.Account) { a.BlockedUntil = until })
}

func (f *flatfileAccounts) GetBlockedUntil(_ context.Context, name string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[auth.NormalizeName(name)]
	if !ok {
		return time.Time{}, oops.Code("ACCOUNT_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	return a.BlockedUntil, nil
}

func (f *flatfileAccounts) SetMustChangePassword(_ context.Context, name string, must bool) error {
	return f.mutate(name, func(a *auth.Account) { a.MustChangePassword = must })
}

func (f *flatfileAccounts) UpdateLastLogin(_ context.Context, name, addr string, at time.Time) error {
	return f.mutate(name, func(a *auth.Account) {
		a.LastLoginAt = at
		a.LastLoginAddr = addr
	})
}

func (f *flatfileAccounts) All(_ context.Context) ([]*auth.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*auth.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *flatfileAccounts) CountByRegistrationAddr(_ context.Context, addr string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, a := range f.accounts {
		if a.RegistrationAddr == addr {
			n++
		}
	}
	return n, nil
}

type flatfileSessions Flatfile

func (f *flatfileSessions) Create(_ context.Context, session *auth.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	account := auth.NormalizeName(session.Account)
	var owned []*auth.Session
	for _, s := range f.sessions {
		if s.Account == account {
			owned = append(owned, s)
		}
	}
	if len(owned) >= f.maxSessions {
		sort.Slice(owned, func(i, j int) bool {
			return owned[i].LastActivityAt.Before(owned[j].LastActivityAt)
		})
		for _, victim := range owned[:len(owned)-f.maxSessions+1] {
			delete(f.sessions, victim.TokenHash)
			f.logger.Debug("evicted least recently active session",
				"account", account, "token_hash", victim.TokenHash)
		}
	}

	cp := *session
	cp.Account = account
	f.sessions[cp.TokenHash] = &cp
	return (*Flatfile)(f).persist()
}

func (f *flatfileSessions) Get(_ context.Context, token string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[auth.HashSessionToken(token)]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *flatfileSessions) ListByAccount(_ context.Context, account string) ([]*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	account = auth.NormalizeName(account)
	var out []*auth.Session
	for _, s := range f.sessions {
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

func (f *flatfileSessions) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash := auth.HashSessionToken(token)
	if _, ok := f.sessions[hash]; !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	delete(f.sessions, hash)
	return (*Flatfile)(f).persist()
}

func (f *flatfileSessions) DeleteByAccount(_ context.Context, account string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	account = auth.NormalizeName(account)
	var n int64
	for hash, s := range f.sessions {
		if s.Account == account {
			delete(f.sessions, hash)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, (*Flatfile)(f).persist()
}

func (f *flatfileSessions) Refresh(_ context.Context, tokenHash string, expiresAt, lastActivity time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[tokenHash]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	s.ExpiresAt = expiresAt
	s.LastActivityAt = lastActivity
	return (*Flatfile)(f).persist()
}

func (f *flatfileSessions) Touch(_ context.Context, tokenHash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[tokenHash]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrSessionNotFound)
	}
	s.LastActivityAt = at
	return (*Flatfile)(f).persist()
}

func (f *flatfileSessions) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for hash, s := range f.sessions {
		if s.IsExpiredAt(now) {
			delete(f.sessions, hash)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, (*Flatfile)(f).persist()
}

var (
	_ DataStore              = (*Flatfile)(nil)
	_ auth.AccountRepository = (*flatfileAccounts)(nil)
	_ auth.SessionRepository = (*flatfileSessions)(nil)
)
