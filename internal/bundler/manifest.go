package bundler

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileMapping copies one template file into the project.
type FileMapping struct {
	Source string `yaml:"source" json:"source"`
	Dest   string `yaml:"dest" json:"dest"`
}

// Manifest lists the resources a connector stages into a project.
type Manifest struct {
	Files        []FileMapping     `yaml:"files" json:"files"`
	Scripts      map[string]string `yaml:"scripts,omitempty" json:"scripts,omitempty"`
	Dependencies map[string]string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// LoadManifest reads a YAML manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate rejects paths that are absolute or climb out of their root.
func (m *Manifest) Validate() error {
	for i, f := range m.Files {
		if err := checkRelative(f.Source); err != nil {
			return fmt.Errorf("files[%d].source: %w", i, err)
		}
		if err := checkRelative(f.Dest); err != nil {
			return fmt.Errorf("files[%d].dest: %w", i, err)
		}
	}
	for name := range m.Scripts {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("scripts: empty script name")
		}
	}
	for name := range m.Dependencies {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("dependencies: empty package name")
		}
	}
	return nil
}

func checkRelative(p string) error {
	if p == "" {
		return fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(p) || path.IsAbs(p) {
		return fmt.Errorf("path %q must be relative", p)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes its root", p)
	}
	return nil
}
