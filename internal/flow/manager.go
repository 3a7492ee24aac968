// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

// Package flow drives connecting users through the configured sequence of
// authentication steps, from unauthenticated to authenticated or rejection.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/wardstone/wardstone/internal/auth"
	"github.com/wardstone/wardstone/pkg/authstep"
)

// Host is the collaborator that owns the actual client connection. The
// manager only ever asks it to drop a user.
type Host interface {
	// Disconnect kicks the user with a user-facing reason.
	Disconnect(user, reason string)
}

// NopHost is a Host that does nothing, for tests and embedding setups where
// rejection handling happens in the pre-authenticate hook itself.
type NopHost struct{}

// Disconnect does nothing.
func (NopHost) Disconnect(string, string) {}

// connInfo survives the flow context: logout restarts a flow for the same
// connection, so the source address and device must outlive finalize.
type connInfo struct {
	addr   string
	device string
}

// flowState is the manager's per-user bookkeeping beside the context: the
// last order index assigned to the user and the id of the step currently
// awaiting an outcome. The index lives here rather than on the context so a
// step is invoked out of order only via an explicit resume.
type flowState struct {
	ctx        *Context
	index      int
	activeStep string
}

// Manager is the authentication flow state machine. Per-user transitions are
// driven from a single calling goroutine (the connection's own event
// stream), so steps are never started twice without an intervening outcome;
// the internal mutex only guards the keyed maps against cross-user access.
type Manager struct {
	registry *Registry
	order    []string
	service  *auth.Service
	hooks    auth.Hooks
	host     Host
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu    sync.Mutex
	flows map[string]*flowState
	conns map[string]connInfo
}

// NewManager creates a flow manager. An empty order falls back to
// DefaultOrder. hooks, host, and metrics may be nil.
func NewManager(
	registry *Registry,
	order []string,
	service *auth.Service,
	hooks auth.Hooks,
	host Host,
	metrics *Metrics,
	logger *slog.Logger,
) (*Manager, error) {
	if registry == nil {
		return nil, oops.Errorf("step registry is required")
	}
	if service == nil {
		return nil, oops.Errorf("authentication service is required")
	}
	if hooks == nil {
		hooks = auth.NopHooks{}
	}
	if host == nil {
		host = NopHost{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(order) == 0 {
		order = DefaultOrder()
	}
	return &Manager{
		registry: registry,
		order:    order,
		service:  service,
		hooks:    hooks,
		host:     host,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		flows:    make(map[string]*flowState),
		conns:    make(map[string]connInfo),
	}, nil
}

// Order returns the configured step order.
func (m *Manager) Order() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// OnConnectionEstablished handles a new connection: world-state is frozen via
// the save-state hook and a fresh flow starts at the first configured step.
func (m *Manager) OnConnectionEstablished(ctx context.Context, user, addr, device string) {
	user = auth.NormalizeName(user)

	m.mu.Lock()
	m.conns[user] = connInfo{addr: addr, device: device}
	m.mu.Unlock()

	m.hooks.SaveState(user)
	m.Start(ctx, user, "")
}

// Start begins a flow for a user. A fresh context is created; if fromStepID
// names a known step in the configured order, execution resumes at that
// index, otherwise the unknown name is logged and the flow starts at the
// beginning.
func (m *Manager) Start(ctx context.Context, user, fromStepID string) {
	user = auth.NormalizeName(user)

	start := 0
	if fromStepID != "" {
		if idx := m.indexOf(fromStepID); idx >= 0 {
			start = idx
		} else {
			m.logger.Error("cannot resume flow at unknown step, starting from the beginning",
				"user", user, "step", fromStepID)
		}
	}

	fc := NewContext(m.now())
	m.mu.Lock()
	m.flows[user] = &flowState{ctx: fc, index: start}
	m.mu.Unlock()

	m.metrics.flowStarted()
	m.logger.Info("authentication flow started",
		"user", user, "flow_id", fc.ID().String(), "from_index", start)

	m.advance(ctx, user, start)
}

// CompleteStep records a completed step and advances the flow. Part of the
// authstep.Pipeline contract.
func (m *Manager) CompleteStep(ctx context.Context, user, stepID string) error {
	return m.settle(ctx, user, stepID, authstep.OutcomeCompleted)
}

// SkipStep records a skipped step and advances the flow. Part of the
// authstep.Pipeline contract.
func (m *Manager) SkipStep(ctx context.Context, user, stepID string) error {
	return m.settle(ctx, user, stepID, authstep.OutcomeSkipped)
}

func (m *Manager) settle(ctx context.Context, user, stepID string, outcome authstep.Outcome) error {
	user = auth.NormalizeName(user)

	m.mu.Lock()
	st, ok := m.flows[user]
	if !ok {
		m.mu.Unlock()
		return oops.Code("FLOW_NOT_ACTIVE").With("user", user).With("step", stepID).
			Errorf("no active flow for user %q", user)
	}
	if st.activeStep != stepID {
		active := st.activeStep
		m.mu.Unlock()
		m.logger.Warn("step settled an id it was not assigned, rejecting",
			"user", user, "step", stepID, "active_step", active)
		return oops.Code("FLOW_STEP_MISMATCH").With("user", user).With("step", stepID).
			With("active_step", active).
			Errorf("step %q is not the active step for user %q", stepID, user)
	}
	st.ctx.Record(stepID, outcome)
	st.activeStep = ""
	next := st.index + 1
	m.mu.Unlock()

	m.metrics.stepOutcome(stepID, string(outcome))
	m.logger.Debug("step settled", "user", user, "step", stepID, "outcome", string(outcome))

	m.advance(ctx, user, next)
	return nil
}

// MarkLoginKind tags the active flow's login kind (the autologin step marks
// flows auto).
func (m *Manager) MarkLoginKind(user string, kind auth.LoginKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.flows[auth.NormalizeName(user)]; ok {
		st.ctx.SetKind(kind)
	}
}

// FlowKind returns the active flow's login kind.
func (m *Manager) FlowKind(user string) (auth.LoginKind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.flows[auth.NormalizeName(user)]
	if !ok {
		return "", false
	}
	return st.ctx.Kind(), true
}

// StepOutcome returns the outcome recorded for a step in the user's active
// flow. Credential steps use it to step aside once an earlier step already
// established identity.
func (m *Manager) StepOutcome(user, stepID string) (authstep.Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.flows[auth.NormalizeName(user)]
	if !ok {
		return "", false
	}
	return st.ctx.Outcome(stepID)
}

// OnCredentialSubmitted routes submitted credential fields to the step the
// user is currently in. Submissions with no active flow or a non-consuming
// step are rejected.
func (m *Manager) OnCredentialSubmitted(ctx context.Context, user string, fields map[string]string) error {
	user = auth.NormalizeName(user)

	m.mu.Lock()
	st, ok := m.flows[user]
	var stepID string
	if ok {
		stepID = st.activeStep
	}
	m.mu.Unlock()

	if !ok || stepID == "" {
		return oops.Code("FLOW_NOT_ACTIVE").With("user", user).
			Errorf("no step awaiting input for user %q", user)
	}

	step, registered := m.registry.Get(stepID)
	if !registered {
		return oops.Code("STEP_NOT_REGISTERED").With("step", stepID).
			Errorf("active step %q is not registered", stepID)
	}
	submitter, ok := step.(authstep.Submitter)
	if !ok {
		return oops.Code("STEP_NOT_INTERACTIVE").With("step", stepID).
			Errorf("step %q does not accept submissions", stepID)
	}
	return submitter.Submit(ctx, user, fields)
}

// OnDisconnect aborts any in-progress flow without finalizing and hands the
// user to the service's quit path. The discarded context means a pending
// persistence result for this user is simply not acted upon.
func (m *Manager) OnDisconnect(ctx context.Context, user string) {
	user = auth.NormalizeName(user)

	m.mu.Lock()
	st, hadFlow := m.flows[user]
	delete(m.flows, user)
	delete(m.conns, user)
	m.mu.Unlock()

	if hadFlow {
		m.metrics.flowAborted()
		m.logger.Info("authentication flow aborted",
			"user", user, "flow_id", st.ctx.ID().String())
	}
	m.service.Quit(ctx, user)
}

// Logout removes the user's authentication and starts a new flow: the user
// stays connected and must authenticate again.
func (m *Manager) Logout(ctx context.Context, user string) error {
	user = auth.NormalizeName(user)
	if err := m.service.Logout(ctx, user); err != nil {
		return err
	}
	m.Start(ctx, user, "")
	return nil
}

// advance scans the configured order from the given index and begins the
// first step with a registered implementation. Configured ids without an
// implementation are skipped with a log line. When no startable step
// remains, the flow finalizes. advance is the only place a step is begun.
func (m *Manager) advance(ctx context.Context, user string, from int) {
	for i := from; i < len(m.order); i++ {
		id := m.order[i]
		step, ok := m.registry.Get(id)
		if !ok {
			m.logger.Debug("configured step has no registered implementation, skipping",
				"user", user, "step", id)
			continue
		}

		m.mu.Lock()
		st, active := m.flows[user]
		if !active {
			// Disconnected while a previous step's persistence completed.
			m.mu.Unlock()
			return
		}
		st.index = i
		st.activeStep = id
		m.mu.Unlock()

		if err := step.Begin(ctx, user); err != nil {
			m.logger.Error("step failed to begin", "user", user, "step", id, "error", err)
			m.host.Disconnect(user, "authentication error")
			m.abort(user)
		}
		return
	}
	m.finalize(ctx, user)
}

// finalize runs the terminal transition: the cancellable pre-authenticate
// check, then the service-side authentication effects, then each finalizable
// step's completion callback.
func (m *Manager) finalize(ctx context.Context, user string) {
	m.mu.Lock()
	st, ok := m.flows[user]
	var conn connInfo
	if ok {
		conn = m.conns[user]
		delete(m.flows, user)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	fc := st.ctx
	if decision := m.hooks.PreAuthenticate(user, fc.Kind()); decision.Cancelled {
		reason := decision.Reason
		if reason == "" {
			reason = "authentication rejected"
		}
		m.metrics.flowRejected()
		m.logger.Info("flow rejected by pre-authenticate hook",
			"user", user, "flow_id", fc.ID().String(), "reason", reason)
		if d := m.hooks.RestoreState(user); d.Cancelled {
			m.logger.Debug("state restore cancelled by collaborator", "user", user)
		}
		m.host.Disconnect(user, reason)
		return
	}

	if _, err := m.service.FinalizeAuthentication(ctx, user, fc.Kind(), conn.addr, conn.device); err != nil {
		m.logger.Error("failed to finalize authentication", "user", user, "error", err)
		m.host.Disconnect(user, "authentication error")
		return
	}

	m.metrics.flowCompleted()
	m.logger.Info("authentication flow completed",
		"user", user, "flow_id", fc.ID().String(), "login_kind", fc.LoginKind())

	for _, id := range m.order {
		step, registered := m.registry.Get(id)
		if !registered {
			continue
		}
		if fin, finalizable := step.(authstep.Finalizer); finalizable {
			fin.OnFlowComplete(ctx, user, fc)
		}
	}
}

func (m *Manager) abort(user string) {
	m.mu.Lock()
	_, hadFlow := m.flows[user]
	delete(m.flows, user)
	m.mu.Unlock()
	if hadFlow {
		m.metrics.flowAborted()
	}
}

func (m *Manager) indexOf(stepID string) int {
	for i, id := range m.order {
		if id == stepID {
			return i
		}
	}
	return -1
}

// ConnectionAddr returns the recorded source address and device for a live
// connection.
func (m *Manager) ConnectionAddr(user string) (addr, device string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[auth.NormalizeName(user)]
	return c.addr, c.device, ok
}

var _ authstep.Pipeline = (*Manager)(nil)
