// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package auth

import (
	"fmt"
	"unicode"
)

// PasswordPolicy holds the configurable complexity rules a new credential
// must satisfy. Each class requirement can be toggled independently.
type PasswordPolicy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy returns the built-in rules: 8-72 characters, no
// class requirements.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MaxLength: 72}
}

// Validate checks a password against the policy. It returns a
// *ValidationError describing the first violated rule, or nil when the
// password is acceptable.
func (p PasswordPolicy) Validate(password string) error {
	if p.MinLength > 0 && len(password) < p.MinLength {
		return &ValidationError{Message: fmt.Sprintf("password must be at least %d characters", p.MinLength)}
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		return &ValidationError{Message: fmt.Sprintf("password must be at most %d characters", p.MaxLength)}
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if p.RequireUpper && !hasUpper {
		return &ValidationError{Message: "password must contain an uppercase letter"}
	}
	if p.RequireLower && !hasLower {
		return &ValidationError{Message: "password must contain a lowercase letter"}
	}
	if p.RequireDigit && !hasDigit {
		return &ValidationError{Message: "password must contain a digit"}
	}
	if p.RequireSymbol && !hasSymbol {
		return &ValidationError{Message: "password must contain a symbol"}
	}
	return nil
}
