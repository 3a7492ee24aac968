// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/wardstone/wardstone/internal/flow"
	"github.com/wardstone/wardstone/pkg/authstep"
)

// hostTable is the global table exposing engine functions to scripts.
const hostTable = "wardstone"

// AccountChecker is the slice of the authentication service scripts may query.
type AccountChecker interface {
	IsRegistered(ctx context.Context, name string) (bool, error)
}

// Env carries the engine surfaces a scripted step binds against.
type Env struct {
	Pipeline authstep.Pipeline
	Accounts AccountChecker
	Prompter flow.Prompter
	Logger   *slog.Logger
}

// Host loads scripted steps from disk and adapts them into the step pipeline.
// Each script invocation runs in a fresh sandboxed state so scripts cannot
// leak state between users or invocations.
type Host struct {
	env     Env
	factory *StateFactory
	logger  *slog.Logger
}

// NewHost creates a script host. A nil Prompter or Logger in env is replaced
// with a no-op.
func NewHost(env Env) *Host {
	if env.Prompter == nil {
		env.Prompter = flow.NopPrompter{}
	}
	if env.Logger == nil {
		env.Logger = slog.New(slog.DiscardHandler)
	}
	return &Host{
		env:     env,
		factory: NewStateFactory(),
		logger:  env.Logger,
	}
}

// LoadDir scans dir for step directories. Every subdirectory containing a
// step.yaml is loaded; anything else is skipped. A missing dir is an error.
func (h *Host) LoadDir(ctx context.Context, dir string) ([]*ScriptStep, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, oops.In("lua").Code("STEP_LOAD_FAILED").
			With("dir", dir).
			Wrap(err)
	}

	var steps []*ScriptStep
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stepDir := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(stepDir, ManifestFile)); err != nil {
			h.logger.Debug("skipping directory without manifest", "dir", stepDir)
			continue
		}
		step, err := h.Load(ctx, stepDir)
		if err != nil {
			return nil, err
		}
		h.logger.Info("loaded scripted step",
			"step", step.ID(),
			"version", step.manifest.Version,
			"interactive", step.hasSubmit)
		steps = append(steps, step)
	}
	return steps, nil
}

// Load loads a single step directory containing a step.yaml and its entry
// script. The script is syntax-checked in a throwaway state and must define a
// begin function; submit and on_flow_complete functions are optional.
func (h *Host) Load(ctx context.Context, dir string) (*ScriptStep, error) {
	manifestData, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, oops.In("lua").Code("STEP_LOAD_FAILED").
			With("dir", dir).
			Hint("failed to read manifest").
			Wrap(err)
	}
	manifest, err := ParseManifest(manifestData)
	if err != nil {
		return nil, oops.In("lua").With("dir", dir).Wrap(err)
	}

	code, err := os.ReadFile(filepath.Join(dir, manifest.Entry))
	if err != nil {
		return nil, oops.In("lua").Code("STEP_LOAD_FAILED").
			With("step", manifest.Name).
			With("entry", manifest.Entry).
			Hint("failed to read entry file").
			Wrap(err)
	}

	step := &ScriptStep{
		manifest: *manifest,
		code:     string(code),
		env:      h.env,
		factory:  h.factory,
		logger:   h.logger.With("step", manifest.Name),
	}

	// Validate syntax and discover which callbacks the script defines. The
	// validation state gets no-op host functions so top-level code may touch
	// the wardstone table.
	L, err := step.newState(ctx, "", nil)
	if err != nil {
		return nil, oops.In("lua").Code("STEP_LOAD_FAILED").
			With("step", manifest.Name).
			Hint("failed to create validation state").
			Wrap(err)
	}
	defer L.Close()
	if err := L.DoString(step.code); err != nil {
		return nil, oops.In("lua").Code("STEP_INVALID").
			With("step", manifest.Name).
			With("entry", manifest.Entry).
			Hint("syntax error").
			Wrap(err)
	}
	if L.GetGlobal("begin").Type() != lua.LTFunction {
		return nil, oops.In("lua").Code("STEP_INVALID").
			With("step", manifest.Name).
			Errorf("entry script must define a begin function")
	}
	step.hasSubmit = L.GetGlobal("submit").Type() == lua.LTFunction
	step.hasFinalize = L.GetGlobal("on_flow_complete").Type() == lua.LTFunction

	return step, nil
}

// ScriptStep adapts one Lua script into the step pipeline. It always
// implements Submitter and Finalizer; submissions to a script without a
// submit function fail, and a script without on_flow_complete is not
// notified.
type ScriptStep struct {
	manifest Manifest
	code     string
	env      Env
	factory  *StateFactory
	logger   *slog.Logger

	hasSubmit   bool
	hasFinalize bool
}

var (
	_ authstep.Step      = (*ScriptStep)(nil)
	_ authstep.Submitter = (*ScriptStep)(nil)
	_ authstep.Finalizer = (*ScriptStep)(nil)
)

// ID returns the step id from the manifest.
func (s *ScriptStep) ID() string { return s.manifest.Name }

// Begin runs the script's begin function in a fresh state.
func (s *ScriptStep) Begin(ctx context.Context, user string) error {
	return s.call(ctx, user, "begin", lua.LString(user))
}

// Submit delivers credential fields to the script's submit function.
func (s *ScriptStep) Submit(ctx context.Context, user string, fields map[string]string) error {
	if !s.hasSubmit {
		return oops.In("lua").Code("STEP_NOT_INTERACTIVE").
			With("step", s.manifest.Name).
			Errorf("step %q does not accept submissions", s.manifest.Name)
	}

	L, err := s.newState(ctx, user, nil)
	if err != nil {
		return s.wrapCallError(user, "submit", err)
	}
	defer L.Close()
	if err := L.DoString(s.code); err != nil {
		return s.wrapCallError(user, "submit", err)
	}

	tbl := L.NewTable()
	for key, value := range fields {
		L.SetField(tbl, key, lua.LString(value))
	}
	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("submit"),
		NRet:    0,
		Protect: true,
	}, lua.LString(user), tbl); err != nil {
		return s.wrapCallError(user, "submit", err)
	}
	return nil
}

// OnFlowComplete runs the script's on_flow_complete function, if defined. The
// record is queried through wardstone.outcome and wardstone.login_kind.
// Errors are logged, not propagated; the flow already finished.
func (s *ScriptStep) OnFlowComplete(ctx context.Context, user string, record authstep.Record) {
	if !s.hasFinalize {
		return
	}

	L, err := s.newState(ctx, user, record)
	if err != nil {
		s.logger.Warn("on_flow_complete failed", "user", user, "error", err)
		return
	}
	defer L.Close()
	if err := L.DoString(s.code); err != nil {
		s.logger.Warn("on_flow_complete failed", "user", user, "error", err)
		return
	}
	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("on_flow_complete"),
		NRet:    0,
		Protect: true,
	}, lua.LString(user)); err != nil {
		s.logger.Warn("on_flow_complete failed", "user", user, "error", err)
	}
}

// call loads the script in a fresh state and invokes one global function.
func (s *ScriptStep) call(ctx context.Context, user, fn string, args ...lua.LValue) error {
	L, err := s.newState(ctx, user, nil)
	if err != nil {
		return s.wrapCallError(user, fn, err)
	}
	defer L.Close()
	if err := L.DoString(s.code); err != nil {
		return s.wrapCallError(user, fn, err)
	}
	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(fn),
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		return s.wrapCallError(user, fn, err)
	}
	return nil
}

func (s *ScriptStep) wrapCallError(user, fn string, err error) error {
	return oops.In("lua").Code("STEP_SCRIPT_FAILED").
		With("step", s.manifest.Name).
		With("user", user).
		With("function", fn).
		Wrap(err)
}

// newState creates a sandboxed state with the wardstone host table bound to
// one user. With an empty user the host functions are inert no-ops, which is
// what load-time validation uses.
func (s *ScriptStep) newState(ctx context.Context, user string, record authstep.Record) (*lua.LState, error) {
	L, err := s.factory.NewState(ctx)
	if err != nil {
		return nil, err
	}

	tbl := L.NewTable()

	L.SetField(tbl, "complete", L.NewFunction(func(L *lua.LState) int {
		if user == "" {
			return 0
		}
		if err := s.env.Pipeline.CompleteStep(ctx, user, s.manifest.Name); err != nil {
			L.RaiseError("complete: %s", err.Error())
		}
		return 0
	}))

	L.SetField(tbl, "skip", L.NewFunction(func(L *lua.LState) int {
		if user == "" {
			return 0
		}
		if err := s.env.Pipeline.SkipStep(ctx, user, s.manifest.Name); err != nil {
			L.RaiseError("skip: %s", err.Error())
		}
		return 0
	}))

	L.SetField(tbl, "prompt", L.NewFunction(func(L *lua.LState) int {
		message := L.CheckString(1)
		if user != "" {
			s.env.Prompter.Prompt(user, message)
		}
		return 0
	}))

	L.SetField(tbl, "is_registered", L.NewFunction(func(L *lua.LState) int {
		if user == "" || s.env.Accounts == nil {
			L.Push(lua.LFalse)
			return 1
		}
		registered, err := s.env.Accounts.IsRegistered(ctx, user)
		if err != nil {
			L.RaiseError("is_registered: %s", err.Error())
		}
		L.Push(lua.LBool(registered))
		return 1
	}))

	L.SetField(tbl, "log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)
		logger := s.logger.With("user", user)
		switch level {
		case "debug":
			logger.Debug(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}))

	L.SetField(tbl, "outcome", L.NewFunction(func(L *lua.LState) int {
		stepID := L.CheckString(1)
		if record == nil {
			L.Push(lua.LNil)
			return 1
		}
		outcome, ok := record.Outcome(stepID)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(outcome))
		return 1
	}))

	L.SetField(tbl, "login_kind", L.NewFunction(func(L *lua.LState) int {
		if record == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(record.LoginKind()))
		return 1
	}))

	L.SetGlobal(hostTable, tbl)
	return L, nil
}
