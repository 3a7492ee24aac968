// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package flow

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wardstone/wardstone/internal/auth"
	"github.com/wardstone/wardstone/pkg/authstep"
)

// Context is the per-connection scratch record of one in-progress
// authentication flow: which steps completed or were skipped, in order, and
// how the user logged in. It is created when a flow starts and destroyed when
// the flow finalizes or aborts. The Manager serializes all access.
type Context struct {
	id        ulid.ULID
	order     []string
	outcomes  map[string]authstep.Outcome
	kind      auth.LoginKind
	startedAt time.Time
}

// NewContext creates a fresh flow context. The login kind defaults to manual
// until a step overrides it.
func NewContext(now time.Time) *Context {
	return &Context{
		id:        ulid.Make(),
		outcomes:  make(map[string]authstep.Outcome),
		kind:      auth.LoginManual,
		startedAt: now,
	}
}

// ID returns the flow's unique identifier, used for log correlation.
func (c *Context) ID() ulid.ULID { return c.id }

// Record stores a step outcome, preserving first-recorded order.
func (c *Context) Record(stepID string, outcome authstep.Outcome) {
	if _, ok := c.outcomes[stepID]; !ok {
		c.order = append(c.order, stepID)
	}
	c.outcomes[stepID] = outcome
}

// Outcome returns the recorded outcome for a step id.
func (c *Context) Outcome(stepID string) (authstep.Outcome, bool) {
	o, ok := c.outcomes[stepID]
	return o, ok
}

// LoginKind returns the recorded login kind as a string, satisfying
// authstep.Record.
func (c *Context) LoginKind() string { return string(c.kind) }

// Kind returns the recorded login kind.
func (c *Context) Kind() auth.LoginKind { return c.kind }

// SetKind overrides the login kind (the autologin step marks flows auto).
func (c *Context) SetKind(kind auth.LoginKind) { c.kind = kind }

// StepIDs returns the step ids in the order their outcomes were recorded.
func (c *Context) StepIDs() []string {
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	return ids
}

var _ authstep.Record = (*Context)(nil)
