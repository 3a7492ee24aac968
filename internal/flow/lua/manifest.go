// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package lua

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/wardstone/wardstone/internal/flow"
)

// ManifestFile is the expected manifest file name inside a step directory.
const ManifestFile = "step.yaml"

// maxNameLength bounds step names.
const maxNameLength = 64

// namePattern validates step names: lowercase letter first, then lowercase
// letters, digits, or hyphens, not ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Manifest describes one scripted step.
type Manifest struct {
	// Name doubles as the step id referenced from the configured order.
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Entry   string `yaml:"entry"`
}

// ParseManifest parses and validates a step.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.Code("STEP_MANIFEST_INVALID").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code("STEP_MANIFEST_INVALID").Wrap(err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return oops.Code("STEP_MANIFEST_INVALID").
			With("name", m.Name).
			Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return oops.Code("STEP_MANIFEST_INVALID").
			Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}
	for _, reserved := range []string{flow.StepLogin, flow.StepRegister, flow.StepAutoLogin} {
		if m.Name == reserved {
			return oops.Code("STEP_MANIFEST_INVALID").
				With("name", m.Name).
				Errorf("name %q is reserved for a built-in step", m.Name)
		}
	}

	if m.Version == "" {
		return oops.Code("STEP_MANIFEST_INVALID").Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return oops.Code("STEP_MANIFEST_INVALID").
			With("version", m.Version).
			Errorf("version %q is not a semantic version", m.Version)
	}

	if m.Entry == "" {
		return oops.Code("STEP_MANIFEST_INVALID").Errorf("entry is required")
	}
	if strings.ContainsAny(m.Entry, `/\`) {
		return oops.Code("STEP_MANIFEST_INVALID").
			With("entry", m.Entry).
			Errorf("entry must be a bare file name inside the step directory")
	}
	return nil
}
