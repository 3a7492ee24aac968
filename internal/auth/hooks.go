// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

// LoginKind tags how a user authenticated.
type LoginKind string

// Login kinds recorded on the flow context and carried by the
// pre-authenticate hook.
const (
	LoginManual LoginKind = "manual"
	LoginAuto   LoginKind = "auto"
)

// Decision is the result of a cancellable hook. A cancelled decision may
// carry a reason shown to the user.
type Decision struct {
	Cancelled bool
	Reason    string
}

// Hooks is the synchronous notification boundary toward external
// collaborators (the game-server host, placeholder integrations, third-party
// modules). Cancellable hooks return a Decision that the caller consumes
// immediately; the rest are fire-and-forget. Implementations must be safe for
// concurrent use across different users.
type Hooks interface {
	// PreAuthenticate fires before a flow finalizes. Cancelling rejects the
	// authentication with the given reason.
	PreAuthenticate(user string, kind LoginKind) Decision

	// AuthenticationFailed fires on a credential mismatch. Cancelling
	// suppresses the failure, allowing an external module to substitute its
	// own success path.
	AuthenticationFailed(user string) Decision

	// Authenticated fires after a user is marked authenticated.
	Authenticated(user string)

	// Deauthenticated fires after logout or quit.
	Deauthenticated(user string)

	// Registered fires after a successful registration.
	Registered(user string)

	// PasswordChanged fires after any password change.
	PasswordChanged(user string)

	// Unregistered fires after an account is removed.
	Unregistered(user string)

	// SaveState asks the collaborator to freeze the user's world-state while
	// unauthenticated.
	SaveState(user string)

	// RestoreState asks the collaborator to restore frozen world-state.
	// Cancelling leaves the state untouched.
	RestoreState(user string) Decision
}

// NopHooks is a Hooks implementation that allows everything and does nothing.
type NopHooks struct{}

// PreAuthenticate allows the authentication.
func (NopHooks) PreAuthenticate(string, LoginKind) Decision { return Decision{} }

// AuthenticationFailed lets the failure stand.
func (NopHooks) AuthenticationFailed(string) Decision { return Decision{} }

// Authenticated does nothing.
func (NopHooks) Authenticated(string) {}

// Deauthenticated does nothing.
func (NopHooks) Deauthenticated(string) {}

// Registered does nothing.
func (NopHooks) Registered(string) {}

// PasswordChanged does nothing.
func (NopHooks) PasswordChanged(string) {}

// Unregistered does nothing.
func (NopHooks) Unregistered(string) {}

// SaveState does nothing.
func (NopHooks) SaveState(string) {}

// RestoreState allows the restore.
func (NopHooks) RestoreState(string) Decision { return Decision{} }
