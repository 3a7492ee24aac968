// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wardstone/wardstone/internal/auth"
	"github.com/wardstone/wardstone/pkg/authstep"
)

// Prompter delivers step prompts to a connected user. The transport layer
// implements it.
type Prompter interface {
	Prompt(user, message string)
}

// NopPrompter discards prompts, for tests.
type NopPrompter struct{}

// Prompt does nothing.
func (NopPrompter) Prompt(string, string) {}

// identitySatisfied reports whether an earlier credential step in the user's
// active flow already established who the user is, in which case the
// remaining credential steps step aside.
func identitySatisfied(m *Manager, user string) bool {
	for _, id := range []string{StepLogin, StepRegister, StepAutoLogin} {
		if outcome, ok := m.StepOutcome(user, id); ok && outcome == authstep.OutcomeCompleted {
			return true
		}
	}
	return false
}

// LoginStep authenticates registered users against their stored password. If
// the user is not registered it steps aside so the register step can claim
// the flow.
type LoginStep struct {
	manager  *Manager
	service  *auth.Service
	prompter Prompter
	logger   *slog.Logger
}

// NewLoginStep creates the built-in login step.
func NewLoginStep(manager *Manager, service *auth.Service, prompter Prompter, logger *slog.Logger) *LoginStep {
	if prompter == nil {
		prompter = NopPrompter{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LoginStep{manager: manager, service: service, prompter: prompter, logger: logger}
}

// ID returns the step identifier.
func (s *LoginStep) ID() string { return StepLogin }

// Begin prompts a registered user for their password. Unregistered users and
// flows where an earlier credential step already ran skip straight past.
func (s *LoginStep) Begin(ctx context.Context, user string) error {
	if identitySatisfied(s.manager, user) {
		return s.manager.SkipStep(ctx, user, s.ID())
	}
	registered, err := s.service.IsRegistered(ctx, user)
	if err != nil {
		return err
	}
	if !registered {
		return s.manager.SkipStep(ctx, user, s.ID())
	}
	s.prompter.Prompt(user, "Enter your password:")
	return nil
}

// Submit verifies the submitted password. A wrong password keeps the step
// active so the user can retry; the brute-force guard bounds how long that
// lasts.
func (s *LoginStep) Submit(ctx context.Context, user string, fields map[string]string) error {
	if err := s.service.Login(ctx, user, fields["password"]); err != nil {
		var blocked *auth.BlockedError
		if errors.As(err, &blocked) {
			s.logger.Warn("login blocked", "user", user, "remaining_minutes", blocked.RemainingMinutes())
		}
		return err
	}
	s.manager.MarkLoginKind(user, auth.LoginManual)
	return s.manager.CompleteStep(ctx, user, s.ID())
}

var (
	_ authstep.Step      = (*LoginStep)(nil)
	_ authstep.Submitter = (*LoginStep)(nil)
)

// RegisterStep creates an account for unregistered users. Already-registered
// users skip past it.
type RegisterStep struct {
	manager  *Manager
	service  *auth.Service
	prompter Prompter
}

// NewRegisterStep creates the built-in register step.
func NewRegisterStep(manager *Manager, service *auth.Service, prompter Prompter) *RegisterStep {
	if prompter == nil {
		prompter = NopPrompter{}
	}
	return &RegisterStep{manager: manager, service: service, prompter: prompter}
}

// ID returns the step identifier.
func (s *RegisterStep) ID() string { return StepRegister }

// Begin prompts an unregistered user to pick a password. Registered users and
// flows where an earlier credential step already ran skip.
func (s *RegisterStep) Begin(ctx context.Context, user string) error {
	if identitySatisfied(s.manager, user) {
		return s.manager.SkipStep(ctx, user, s.ID())
	}
	registered, err := s.service.IsRegistered(ctx, user)
	if err != nil {
		return err
	}
	if registered {
		return s.manager.SkipStep(ctx, user, s.ID())
	}
	s.prompter.Prompt(user, "Choose a password and confirm it:")
	return nil
}

// Submit registers the account from the submitted password pair. Validation
// failures keep the step active.
func (s *RegisterStep) Submit(ctx context.Context, user string, fields map[string]string) error {
	addr, _, _ := s.manager.ConnectionAddr(user)
	if err := s.service.Register(ctx, user, fields["password"], fields["confirm"], addr); err != nil {
		return err
	}
	s.manager.MarkLoginKind(user, auth.LoginManual)
	return s.manager.CompleteStep(ctx, user, s.ID())
}

var (
	_ authstep.Step      = (*RegisterStep)(nil)
	_ authstep.Submitter = (*RegisterStep)(nil)
)

// AutoLoginStep resumes a stored session matching the connection's address
// and device, letting returning users through without a password prompt. It
// never blocks the flow: no matching session means a silent skip.
type AutoLoginStep struct {
	manager *Manager
	service *auth.Service
	logger  *slog.Logger
}

// NewAutoLoginStep creates the built-in autologin step.
func NewAutoLoginStep(manager *Manager, service *auth.Service, logger *slog.Logger) *AutoLoginStep {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AutoLoginStep{manager: manager, service: service, logger: logger}
}

// ID returns the step identifier.
func (s *AutoLoginStep) ID() string { return StepAutoLogin }

// Begin tries to resume a session for the connection. On success the flow is
// marked an automatic login and every later step sees it completed.
func (s *AutoLoginStep) Begin(ctx context.Context, user string) error {
	addr, device, ok := s.manager.ConnectionAddr(user)
	if !ok {
		return s.manager.SkipStep(ctx, user, s.ID())
	}
	if err := s.service.ResumeSession(ctx, user, addr, device); err != nil {
		if !errors.Is(err, auth.ErrSessionNotFound) {
			s.logger.Debug("session resume declined", "user", user, "error", err)
		}
		return s.manager.SkipStep(ctx, user, s.ID())
	}
	s.manager.MarkLoginKind(user, auth.LoginAuto)
	return s.manager.CompleteStep(ctx, user, s.ID())
}

var _ authstep.Step = (*AutoLoginStep)(nil)
