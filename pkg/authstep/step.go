// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

// Package authstep defines the contract for pluggable authentication steps.
//
// A Step is one unit of the authentication pipeline (login, register,
// autologin, a scripted two-factor check). Third-party code implements Step,
// registers it against the flow registry, and the configured step order
// decides whether and when it runs. No engine changes are required to add a
// step.
package authstep

import "context"

// Outcome records how a step ended for a user.
type Outcome string

// Step outcomes recorded on the flow context.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
)

// Pipeline is the callback surface a step uses to report its outcome. Both
// calls resume the flow at the next configured step; a step must call exactly
// one of them per Begin invocation, synchronously or later (e.g. after a
// credential submission arrives).
type Pipeline interface {
	// CompleteStep records the step as completed and advances the flow.
	CompleteStep(ctx context.Context, user, stepID string) error

	// SkipStep records the step as skipped and advances the flow.
	SkipStep(ctx context.Context, user, stepID string) error
}

// Record is the read-only view of a finished flow's context handed to
// finalizers.
type Record interface {
	// Outcome returns the recorded outcome for a step id, and whether the
	// step appears in the record at all.
	Outcome(stepID string) (Outcome, bool)

	// LoginKind returns "manual" or "auto" for the finished flow.
	LoginKind() string
}

// Step is one pluggable unit of the authentication pipeline.
type Step interface {
	// ID returns the step identifier referenced by the configured order.
	ID() string

	// Begin starts the step for a user. The step reports its outcome through
	// the Pipeline it was constructed with; it must never be begun twice for
	// the same user without an intervening outcome.
	Begin(ctx context.Context, user string) error
}

// Submitter is implemented by steps that consume submitted credentials
// (login form fields, a 2FA code). The flow routes OnCredentialSubmitted
// calls to the active step.
type Submitter interface {
	// Submit delivers credential fields to the step while it is active.
	Submit(ctx context.Context, user string, fields map[string]string) error
}

// Finalizer is implemented by steps that want a post-flow notification. It is
// invoked only after the whole chain finished successfully, with the full
// record, so the step can check whether it personally ran.
type Finalizer interface {
	OnFlowComplete(ctx context.Context, user string, record Record)
}
