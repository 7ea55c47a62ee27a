package domain

import (
	"errors"
	"fmt"
)

// ModelSpec is the declarative, versioned description of a model: its
// identity, ordered parameter schema, result attachments, and the executable
// that produces them. Specs are produced by the registry and are immutable
// once loaded.
type ModelSpec struct {
	ShortName   string          `yaml:"shortName"`
	FullName    string          `yaml:"fullName"`
	Subtitle    string          `yaml:"subtitle,omitempty"`
	Version     string          `yaml:"version"`
	Parameters  []ParameterSpec `yaml:"parameters"`
	Attachments []string        `yaml:"attachments,omitempty"`
	Executable  string          `yaml:"executable"`
}

// Validate checks that a loaded descriptor is usable.
func (m *ModelSpec) Validate() error {
	if m.ShortName == "" {
		return errors.New("model shortName must not be empty")
	}
	if m.Version == "" {
		return errors.New("model version must not be empty")
	}
	if m.Executable == "" {
		return errors.New("model executable must not be empty")
	}
	seen := make(map[string]struct{}, len(m.Parameters))
	for _, p := range m.Parameters {
		if p.Name == "" {
			return errors.New("model parameter name must not be empty")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Parameter returns the spec for the named parameter, or nil.
func (m *ModelSpec) Parameter(name string) *ParameterSpec {
	for i := range m.Parameters {
		if m.Parameters[i].Name == name {
			return &m.Parameters[i]
		}
	}
	return nil
}

// ValidateAssignment checks a full parameter assignment against the schema:
// every supplied value must belong to a declared parameter and satisfy its
// constraints, and no declared parameter may be missing.
func (m *ModelSpec) ValidateAssignment(params map[string]ParameterValue) error {
	for name := range params {
		if m.Parameter(name) == nil {
			return fmt.Errorf("%w: model %s has no parameter %q", ErrParameterInvalid, m.ShortName, name)
		}
	}
	for _, p := range m.Parameters {
		v, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing parameter %q", ErrParameterInvalid, p.Name)
		}
		if err := p.Validate(v); err != nil {
			return err
		}
	}
	return nil
}
