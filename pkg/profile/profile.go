// Package profile loads named agreement ladders from YAML so operators can
// version and reuse policy configurations across deployments.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
)

// Profile is a named, versioned agreement ladder.
type Profile struct {
	Name string `yaml:"name" json:"name"`
	// MinEngine is a semver constraint the running engine version must
	// satisfy, e.g. ">= 0.2.0". Empty means no gate.
	MinEngine string           `yaml:"min_engine,omitempty" json:"min_engine,omitempty"`
	Replicas  int              `yaml:"replicas" json:"replicas"`
	Policies  []agreement.Spec `yaml:"policies" json:"policies"`
}

// Load reads one profile and validates it against the running engine
// version. Every failure here is a configuration error.
func Load(path, engineVersion string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	if p.Name == "" {
		// Extract name from filename: conservative.yaml -> conservative
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := p.validate(engineVersion); err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return &p, nil
}

// LoadDir loads every *.yaml profile in dir, keyed by name.
func LoadDir(dir, engineVersion string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		p, err := Load(path, engineVersion)
		if err != nil {
			return nil, err
		}
		if _, dup := profiles[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile name %q in %s", p.Name, dir)
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

func (p *Profile) validate(engineVersion string) error {
	if p.Replicas < 1 {
		return fmt.Errorf("replicas must be at least 1")
	}
	if err := agreement.ValidateLadder(p.Policies); err != nil {
		return err
	}

	if p.MinEngine != "" {
		constraint, err := semver.NewConstraint(p.MinEngine)
		if err != nil {
			return fmt.Errorf("invalid min_engine constraint %q: %w", p.MinEngine, err)
		}
		version, err := semver.NewVersion(strings.TrimPrefix(engineVersion, "v"))
		if err != nil {
			return fmt.Errorf("invalid engine version %q: %w", engineVersion, err)
		}
		if !constraint.Check(version) {
			return fmt.Errorf("requires engine %s, running %s", p.MinEngine, engineVersion)
		}
	}
	return nil
}

// Specs returns a copy of the ladder for request assembly.
func (p *Profile) Specs() []agreement.Spec {
	out := make([]agreement.Spec, len(p.Policies))
	copy(out, p.Policies)
	return out
}
