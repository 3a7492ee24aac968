// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package flow

import (
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/wardstone/wardstone/pkg/authstep"
)

// Built-in step identifiers.
const (
	StepLogin     = "login"
	StepRegister  = "register"
	StepAutoLogin = "autologin"
)

// DefaultOrder is the built-in two-step fallback used when no step order is
// configured: log in if registered, otherwise register.
func DefaultOrder() []string {
	return []string{StepLogin, StepRegister}
}

// Registry holds the set of registered step implementations. The configured
// order may reference ids with no registered implementation; those are
// skipped at run time, which lets the order name steps an optional module
// would have provided.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]authstep.Step
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]authstep.Step)}
}

// Register adds a step implementation. Registering a duplicate id is an
// error: two modules fighting over one step id is a deployment mistake.
func (r *Registry) Register(step authstep.Step) error {
	if step == nil {
		return oops.Errorf("step is required")
	}
	id := step.ID()
	if id == "" {
		return oops.Errorf("step id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[id]; exists {
		return oops.Code("STEP_DUPLICATE").With("step", id).Errorf("step %q already registered", id)
	}
	r.steps[id] = step
	return nil
}

// Get returns the registered implementation for a step id.
func (r *Registry) Get(id string) (authstep.Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[id]
	return s, ok
}

// IDs returns the registered step ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.steps))
	for id := range r.steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
