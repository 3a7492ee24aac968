// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// ErrNotAuthenticated is returned when an operation requires an
// authenticated user but the user is not authenticated.
var ErrNotAuthenticated = errors.New("not authenticated")

// ServiceConfig holds the business-rule settings the service consumes.
type ServiceConfig struct {
	// AutoLoginEnabled controls whether a successful manual login creates a
	// persisted session, and whether the autologin step can resume one.
	AutoLoginEnabled bool

	// SessionLifetime is how long a new or refreshed session lives.
	SessionLifetime time.Duration

	// MatchDevice requires the device identifier to match on session resume
	// in addition to the source address.
	MatchDevice bool

	// MaxRegistrationsPerAddr bounds registrations per source address.
	// Zero disables the quota.
	MaxRegistrationsPerAddr int

	// UnregisterConfirmWindow is how long an unregister confirmation stays
	// valid after it is requested.
	UnregisterConfirmWindow time.Duration
}

// Service is the business-rule façade of the authentication engine. It owns
// the set of users currently considered authenticated and composes the
// repositories, hasher, guard, and collaborator hooks. All keyed state is
// mutex-guarded; operations for different users may run concurrently.
type Service struct {
	accounts AccountRepository
	sessions SessionRepository
	hasher   PasswordHasher
	policy   PasswordPolicy
	guard    *BruteForceGuard
	hooks    Hooks
	cfg      ServiceConfig
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu                sync.Mutex
	authenticated     map[string]struct{}
	pendingUnregister map[string]time.Time
}

// NewService creates a Service. Returns an error if a required dependency is
// nil; hooks may be nil and defaults to NopHooks.
func NewService(
	accounts AccountRepository,
	sessions SessionRepository,
	hasher PasswordHasher,
	policy PasswordPolicy,
	guard *BruteForceGuard,
	hooks Hooks,
	cfg ServiceConfig,
	logger *slog.Logger,
) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if guard == nil {
		return nil, oops.Errorf("brute-force guard is required")
	}
	if hooks == nil {
		hooks = NopHooks{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = 12 * time.Hour
	}
	if cfg.UnregisterConfirmWindow <= 0 {
		cfg.UnregisterConfirmWindow = time.Minute
	}
	return &Service{
		accounts:          accounts,
		sessions:          sessions,
		hasher:            hasher,
		policy:            policy,
		guard:             guard,
		hooks:             hooks,
		cfg:               cfg,
		logger:            logger,
		now:               time.Now,
		authenticated:     make(map[string]struct{}),
		pendingUnregister: make(map[string]time.Time),
	}, nil
}

// SetMetrics installs Prometheus instrumentation. Call before the service is
// shared between goroutines.
func (s *Service) SetMetrics(m *Metrics) {
	s.metrics = m
	s.guard.SetMetrics(m)
}

// IsAuthenticated reports whether the named user is currently considered
// authenticated for a live connection.
func (s *Service) IsAuthenticated(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.authenticated[NormalizeName(name)]
	return ok
}

// AuthenticatedNames returns the names currently authenticated, for
// visibility recomputation by collaborators.
func (s *Service) AuthenticatedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.authenticated))
	for n := range s.authenticated {
		names = append(names, n)
	}
	return names
}

// Login verifies a submitted credential. On a mismatch the attempt counter is
// incremented (which may impose a new block) and the cancellable
// authentication-failed hook fires; cancellation suppresses the failure so an
// external module can substitute its own success path. On a match a hash
// produced under stale parameters is transparently rehashed and stored.
func (s *Service) Login(ctx context.Context, name, password string) error {
	name = NormalizeName(name)

	if s.IsAuthenticated(name) {
		return oops.Code("AUTH_ALREADY_AUTHENTICATED").With("name", name).Wrap(ErrAlreadyAuthenticated)
	}
	if s.guard.IsBlocked(ctx, name) {
		remaining := time.Duration(s.guard.RemainingMinutes(ctx, name)) * time.Minute
		return &BlockedError{Remaining: remaining}
	}

	account, err := s.accounts.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_NOT_REGISTERED").With("name", name).Wrap(ErrNotRegistered)
		}
		// Unreadable account state fails closed for the caller.
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "get account").Wrap(err)
	}
	if account.Locked {
		return oops.Code("AUTH_ACCOUNT_LOCKED").With("name", name).Wrap(ErrAccountLocked)
	}

	valid, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_VERIFY_FAILED").With("name", name).Wrap(err)
	}
	if !valid {
		blocked := s.guard.RecordFailure(ctx, name)
		decision := s.hooks.AuthenticationFailed(name)
		if !decision.Cancelled {
			s.metrics.loginFailed()
			if blocked {
				return &BlockedError{Remaining: time.Duration(s.guard.RemainingMinutes(ctx, name)) * time.Minute}
			}
			return oops.Code("AUTH_INCORRECT_PASSWORD").With("name", name).Wrap(ErrIncorrectPassword)
		}
		// An external module accepted the credential; fall through without
		// touching the stored hash.
		s.guard.ClearAttempts(name)
		return nil
	}

	if s.hasher.NeedsRehash(account.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if updErr := s.accounts.UpdatePassword(ctx, name, newHash, s.hasher.Algorithm()); updErr != nil {
				s.logger.Error("failed to store upgraded hash", "name", name, "error", updErr)
			}
		}
	}

	s.guard.ClearAttempts(name)
	return nil
}

// Register creates a new account. The per-address quota, the complexity
// rules, and the confirmation check run in that order.
func (s *Service) Register(ctx context.Context, name, password, confirm, addr string) error {
	normalized := NormalizeName(name)

	if s.IsAuthenticated(normalized) {
		return oops.Code("AUTH_ALREADY_AUTHENTICATED").With("name", normalized).Wrap(ErrAlreadyAuthenticated)
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	exists, err := s.accounts.Exists(ctx, normalized)
	if err != nil {
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "exists").Wrap(err)
	}
	if exists {
		return oops.Code("AUTH_ALREADY_REGISTERED").With("name", normalized).Wrap(ErrAlreadyRegistered)
	}

	if s.cfg.MaxRegistrationsPerAddr > 0 && addr != "" {
		count, err := s.accounts.CountByRegistrationAddr(ctx, addr)
		if err != nil {
			return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "count registrations").Wrap(err)
		}
		if count >= s.cfg.MaxRegistrationsPerAddr {
			return oops.Code("AUTH_RATE_LIMITED").With("addr", addr).Wrap(ErrRateLimited)
		}
	}

	if err := s.policy.Validate(password); err != nil {
		return err
	}
	if password != confirm {
		return oops.Code("AUTH_PASSWORD_MISMATCH").Wrap(ErrPasswordMismatch)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}

	account := &Account{
		Name:             normalized,
		PasswordHash:     hash,
		Algorithm:        s.hasher.Algorithm(),
		RegisteredAt:     s.now(),
		RegistrationAddr: addr,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			return oops.Code("AUTH_ALREADY_REGISTERED").With("name", normalized).Wrap(ErrAlreadyRegistered)
		}
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "create account").Wrap(err)
	}

	s.metrics.registered()
	s.hooks.Registered(normalized)
	return nil
}

// ChangePassword verifies the old credential and stores a new one.
func (s *Service) ChangePassword(ctx context.Context, name, oldPassword, newPassword, confirm string) error {
	name = NormalizeName(name)

	account, err := s.accounts.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_NOT_REGISTERED").With("name", name).Wrap(ErrNotRegistered)
		}
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "get account").Wrap(err)
	}

	valid, err := s.hasher.Verify(oldPassword, account.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_VERIFY_FAILED").With("name", name).Wrap(err)
	}
	if !valid {
		return oops.Code("AUTH_INCORRECT_PASSWORD").With("name", name).Wrap(ErrIncorrectPassword)
	}

	return s.storeNewPassword(ctx, name, newPassword, confirm, false)
}

// ForceChangePassword stores a new credential without checking the old one
// and clears the must-change-password flag. Used after an administrator or a
// must-change policy forces a rotation.
func (s *Service) ForceChangePassword(ctx context.Context, name, newPassword, confirm string) error {
	name = NormalizeName(name)

	exists, err := s.accounts.Exists(ctx, name)
	if err != nil {
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "exists").Wrap(err)
	}
	if !exists {
		return oops.Code("AUTH_NOT_REGISTERED").With("name", name).Wrap(ErrNotRegistered)
	}

	return s.storeNewPassword(ctx, name, newPassword, confirm, true)
}

func (s *Service) storeNewPassword(ctx context.Context, name, newPassword, confirm string, clearMustChange bool) error {
	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}
	if newPassword != confirm {
		return oops.Code("AUTH_PASSWORD_MISMATCH").Wrap(ErrPasswordMismatch)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	if err := s.accounts.UpdatePassword(ctx, name, hash, s.hasher.Algorithm()); err != nil {
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "update password").Wrap(err)
	}
	if clearMustChange {
		if err := s.accounts.SetMustChangePassword(ctx, name, false); err != nil {
			s.logger.Error("failed to clear must-change-password flag", "name", name, "error", err)
		}
	}

	s.hooks.PasswordChanged(name)
	return nil
}

// ResumeSession looks for a live session bound to the given source address
// (and device, when configured) and refreshes it. Returns ErrSessionNotFound
// when no session qualifies. Used by the autologin step.
func (s *Service) ResumeSession(ctx context.Context, name, addr, device string) error {
	if !s.cfg.AutoLoginEnabled {
		return oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
	}
	name = NormalizeName(name)

	sessions, err := s.sessions.ListByAccount(ctx, name)
	if err != nil {
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "list sessions").Wrap(err)
	}

	now := s.now()
	for _, sess := range sessions {
		if sess.IsExpiredAt(now) || !sess.Matches(addr, device, s.cfg.MatchDevice) {
			continue
		}
		if err := s.sessions.Refresh(ctx, sess.TokenHash, now.Add(s.cfg.SessionLifetime), now); err != nil {
			s.logger.Error("failed to refresh session on resume", "name", name, "error", err)
		}
		return nil
	}
	return oops.Code("SESSION_NOT_FOUND").With("name", name).Wrap(ErrSessionNotFound)
}

// FinalizeAuthentication marks the user authenticated, records last-login
// metadata, creates a session when auto-login is enabled and the login was
// manual, restores frozen world-state, and raises the authenticated
// notification. Returns the plaintext session token when a session was
// created; a failed session create is logged and the user proceeds without a
// session (password-only next time).
func (s *Service) FinalizeAuthentication(ctx context.Context, name string, kind LoginKind, addr, device string) (string, error) {
	name = NormalizeName(name)
	now := s.now()

	if err := s.accounts.UpdateLastLogin(ctx, name, addr, now); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("failed to record last login", "name", name, "error", err)
	}

	s.mu.Lock()
	s.authenticated[name] = struct{}{}
	s.mu.Unlock()

	var token string
	if s.cfg.AutoLoginEnabled && kind == LoginManual {
		t, hash, err := GenerateSessionToken()
		if err == nil {
			var sess *Session
			sess, err = NewSession(name, hash, addr, device, now, now.Add(s.cfg.SessionLifetime))
			if err == nil {
				err = s.sessions.Create(ctx, sess)
			}
		}
		if err != nil {
			// Proceed authenticated but without a standing grant.
			s.logger.Error("failed to create session", "name", name, "error", err)
		} else {
			token = t
		}
	}

	if decision := s.hooks.RestoreState(name); decision.Cancelled {
		s.logger.Debug("state restore cancelled by collaborator", "name", name)
	}
	s.hooks.Authenticated(name)
	return token, nil
}

// Logout removes the user from the authenticated set, terminates their
// standing sessions, and re-freezes world-state; the user stays connected and
// must re-authenticate. Returns ErrNotAuthenticated if the user was not
// authenticated.
func (s *Service) Logout(ctx context.Context, name string) error {
	name = NormalizeName(name)

	s.mu.Lock()
	_, ok := s.authenticated[name]
	delete(s.authenticated, name)
	s.mu.Unlock()
	if !ok {
		return oops.Code("AUTH_NOT_AUTHENTICATED").With("name", name).Wrap(ErrNotAuthenticated)
	}

	if _, err := s.sessions.DeleteByAccount(ctx, name); err != nil {
		s.logger.Error("failed to delete sessions on logout", "name", name, "error", err)
	}

	s.hooks.SaveState(name)
	s.hooks.Deauthenticated(name)
	return nil
}

// Quit handles a disconnecting user: removes them from the authenticated set
// and restores world-state without restarting any flow. Quitting while not
// authenticated is a no-op.
func (s *Service) Quit(_ context.Context, name string) {
	name = NormalizeName(name)

	s.mu.Lock()
	_, ok := s.authenticated[name]
	delete(s.authenticated, name)
	s.mu.Unlock()
	if !ok {
		return
	}

	if decision := s.hooks.RestoreState(name); decision.Cancelled {
		s.logger.Debug("state restore cancelled by collaborator", "name", name)
	}
	s.hooks.Deauthenticated(name)
}

// LockAccount sets the lock flag on an account.
func (s *Service) LockAccount(ctx context.Context, name string) error {
	return s.setLocked(ctx, name, true)
}

// UnlockAccount clears the lock flag, the persisted brute-force block, and
// the in-memory attempt counter.
func (s *Service) UnlockAccount(ctx context.Context, name string) error {
	name = NormalizeName(name)
	if err := s.setLocked(ctx, name, false); err != nil {
		return err
	}
	if err := s.accounts.SetBlockedUntil(ctx, name, time.Time{}); err != nil {
		s.logger.Error("failed to clear block on unlock", "name", name, "error", err)
	}
	s.guard.ClearAttempts(name)
	return nil
}

func (s *Service) setLocked(ctx context.Context, name string, locked bool) error {
	name = NormalizeName(name)
	if err := s.requireRegistered(ctx, name); err != nil {
		return err
	}
	if err := s.accounts.SetLocked(ctx, name, locked); err != nil {
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "set locked").Wrap(err)
	}
	return nil
}

// SetPassword is the administrative password override. It validates the new
// credential and clears the must-change-password flag.
func (s *Service) SetPassword(ctx context.Context, name, newPassword string) error {
	name = NormalizeName(name)
	if err := s.requireRegistered(ctx, name); err != nil {
		return err
	}
	return s.storeNewPassword(ctx, name, newPassword, newPassword, true)
}

// RequirePasswordChange flags an account so its next authentication forces a
// password rotation.
func (s *Service) RequirePasswordChange(ctx context.Context, name string) error {
	name = NormalizeName(name)
	if err := s.requireRegistered(ctx, name); err != nil {
		return err
	}
	if err := s.accounts.SetMustChangePassword(ctx, name, true); err != nil {
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "set must-change").Wrap(err)
	}
	return nil
}

// BeginUnregister starts the two-step unregistration and returns the
// confirmation deadline. The removal only happens when ConfirmUnregister is
// called within the window.
func (s *Service) BeginUnregister(ctx context.Context, name string) (time.Time, error) {
	name = NormalizeName(name)
	if err := s.requireRegistered(ctx, name); err != nil {
		return time.Time{}, err
	}

	deadline := s.now().Add(s.cfg.UnregisterConfirmWindow)
	s.mu.Lock()
	s.pendingUnregister[name] = deadline
	s.mu.Unlock()
	return deadline, nil
}

// ConfirmUnregister completes a pending unregistration: the account is
// removed with its sessions (cascading delete) and the user drops out of the
// authenticated set.
func (s *Service) ConfirmUnregister(ctx context.Context, name string) error {
	name = NormalizeName(name)

	s.mu.Lock()
	deadline, ok := s.pendingUnregister[name]
	delete(s.pendingUnregister, name)
	s.mu.Unlock()
	if !ok {
		return oops.Code("AUTH_CONFIRMATION_NOT_INITIATED").With("name", name).Wrap(ErrConfirmationNotInitiated)
	}
	if s.now().After(deadline) {
		return oops.Code("AUTH_CONFIRMATION_EXPIRED").With("name", name).Wrap(ErrConfirmationExpired)
	}

	if err := s.accounts.Delete(ctx, name); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_NOT_REGISTERED").With("name", name).Wrap(ErrNotRegistered)
		}
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "delete account").Wrap(err)
	}

	s.mu.Lock()
	delete(s.authenticated, name)
	s.mu.Unlock()

	s.hooks.Unregistered(name)
	return nil
}

// TerminateSessions is the administrative session kill: every standing
// session for the account is removed and the user drops out of the
// authenticated set. Returns the number of sessions removed.
func (s *Service) TerminateSessions(ctx context.Context, name string) (int64, error) {
	name = NormalizeName(name)
	if err := s.requireRegistered(ctx, name); err != nil {
		return 0, err
	}

	n, err := s.sessions.DeleteByAccount(ctx, name)
	if err != nil {
		return 0, oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "delete sessions").Wrap(err)
	}

	s.mu.Lock()
	_, wasAuthed := s.authenticated[name]
	delete(s.authenticated, name)
	s.mu.Unlock()
	if wasAuthed {
		s.hooks.Deauthenticated(name)
	}
	return n, nil
}

// CheckPassword verifies a credential without any side effects. Intended for
// administrative tooling; it does not count failures.
func (s *Service) CheckPassword(ctx context.Context, name, password string) (bool, error) {
	name = NormalizeName(name)
	account, err := s.accounts.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, oops.Code("AUTH_NOT_REGISTERED").With("name", name).Wrap(ErrNotRegistered)
		}
		return false, oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "get account").Wrap(err)
	}
	valid, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return false, oops.Code("AUTH_VERIFY_FAILED").With("name", name).Wrap(err)
	}
	return valid, nil
}

// Lookup returns the redacted metadata view of an account.
func (s *Service) Lookup(ctx context.Context, name string) (AccountInfo, error) {
	name = NormalizeName(name)
	account, err := s.accounts.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccountInfo{}, oops.Code("AUTH_NOT_REGISTERED").With("name", name).Wrap(ErrNotRegistered)
		}
		return AccountInfo{}, oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "get account").Wrap(err)
	}
	return account.Redacted(), nil
}

// FindAccounts returns redacted views of all accounts whose names match the
// given glob pattern (e.g. "admin_*").
func (s *Service) FindAccounts(ctx context.Context, pattern string) ([]AccountInfo, error) {
	g, err := glob.Compile(NormalizeName(pattern))
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_PATTERN").With("pattern", pattern).Wrap(err)
	}

	accounts, err := s.accounts.All(ctx)
	if err != nil {
		return nil, oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "list accounts").Wrap(err)
	}

	var infos []AccountInfo
	for _, a := range accounts {
		if g.Match(a.Name) {
			infos = append(infos, a.Redacted())
		}
	}
	return infos, nil
}

// MustChangePassword reports whether the account is flagged for a forced
// password rotation.
func (s *Service) MustChangePassword(ctx context.Context, name string) (bool, error) {
	name = NormalizeName(name)
	account, err := s.accounts.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, oops.Code("AUTH_NOT_REGISTERED").With("name", name).Wrap(ErrNotRegistered)
		}
		return false, oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "get account").Wrap(err)
	}
	return account.MustChangePassword, nil
}

// IsRegistered reports whether an account exists for the name. A backend
// read failure is returned so callers can fail closed.
func (s *Service) IsRegistered(ctx context.Context, name string) (bool, error) {
	exists, err := s.accounts.Exists(ctx, NormalizeName(name))
	if err != nil {
		return false, oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "exists").Wrap(err)
	}
	return exists, nil
}

func (s *Service) requireRegistered(ctx context.Context, name string) error {
	exists, err := s.accounts.Exists(ctx, name)
	if err != nil {
		return oops.Code("AUTH_BACKEND_UNAVAILABLE").With("operation", "exists").Wrap(err)
	}
	if !exists {
		return oops.Code("AUTH_NOT_REGISTERED").With("name", name).Wrap(ErrNotRegistered)
	}
	return nil
}
