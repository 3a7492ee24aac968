// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package lua_test

import (
	"context"
	"testing"

	pipelua "github.com/wardstone/wardstone/internal/flow/lua"
)

func TestStateFactory_SafeLibraries(t *testing.T) {
	factory := pipelua.NewStateFactory()
	L, err := factory.NewState(context.Background())
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	defer L.Close()

	if err := L.DoString(`return string.upper("pin") .. tostring(math.max(1, 2))`); err != nil {
		t.Errorf("safe libraries unavailable: %v", err)
	}
}

func TestStateFactory_BlocksUnsafeLibraries(t *testing.T) {
	factory := pipelua.NewStateFactory()
	L, err := factory.NewState(context.Background())
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	defer L.Close()

	for _, snippet := range []string{
		`os.exit(1)`,
		`io.open("/etc/passwd")`,
		`dofile("/tmp/x.lua")`,
		`loadstring("return 1")`,
		`load("return 1")`,
	} {
		if err := L.DoString(snippet); err == nil {
			t.Errorf("DoString(%q) expected error, got nil", snippet)
		}
	}
}
