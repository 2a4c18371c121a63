package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/edgeconnect/internal/bundler"
)

//go:embed connectors.yaml
var builtinYAML []byte

// ErrUnknown is returned by Get for a name no connector uses.
var ErrUnknown = errors.New("unknown connector")

// Registry is the set of known connectors.
type Registry struct {
	Defaults   Defaults    `yaml:"defaults" json:"defaults"`
	Connectors []Connector `yaml:"connectors" json:"connectors"`
}

// Defaults fill connector fields left empty.
type Defaults struct {
	Timeout     string            `yaml:"timeout" json:"timeout"`           // e.g. "3m"; "0" waits forever
	GracePeriod string            `yaml:"grace_period" json:"grace_period"` // SIGTERM to SIGKILL delay
	PortEnv     []string          `yaml:"port_env" json:"port_env"`
	Templates   string            `yaml:"templates" json:"templates"`
	Resources   *bundler.Manifest `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// Builtin returns the embedded presets with defaults applied.
func Builtin() (*Registry, error) {
	r, err := Parse(builtinYAML)
	if err != nil {
		return nil, fmt.Errorf("builtin connectors: %w", err)
	}
	return r, nil
}

// LoadConfig reads a connectors file from disk.
func LoadConfig(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	r, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Load returns the builtin registry, overridden by the file at path when one
// is given. Defaults are applied after the merge so user defaults reach the
// builtin presets too.
func Load(path string) (*Registry, error) {
	r, err := parse(builtinYAML)
	if err != nil {
		return nil, fmt.Errorf("builtin connectors: %w", err)
	}
	if path != "" {
		user, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		r.Merge(user)
	}
	r.applyDefaults()
	if err := r.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, err
	}
	return r, nil
}

// Parse decodes a registry, applies defaults and validates it.
func Parse(data []byte) (*Registry, error) {
	r, err := parse(data)
	if err != nil {
		return nil, err
	}
	r.applyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func parse(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &r, nil
}

func (r *Registry) applyDefaults() {
	if r.Defaults.Timeout == "" {
		r.Defaults.Timeout = "3m"
	}
	if r.Defaults.GracePeriod == "" {
		r.Defaults.GracePeriod = "5s"
	}
	if len(r.Defaults.PortEnv) == 0 {
		r.Defaults.PortEnv = []string{"PORT"}
	}
	if r.Defaults.Templates == "" {
		r.Defaults.Templates = "default"
	}

	for i := range r.Connectors {
		c := &r.Connectors[i]
		if c.Label == "" {
			c.Label = c.Name
		}
		if c.Timeout == "" {
			c.Timeout = r.Defaults.Timeout
		}
		if c.GracePeriod == "" {
			c.GracePeriod = r.Defaults.GracePeriod
		}
		if len(c.PortEnv) == 0 {
			c.PortEnv = append([]string(nil), r.Defaults.PortEnv...)
		}
		if c.Templates == "" {
			c.Templates = r.Defaults.Templates
		}
		if c.Resources == nil && r.Defaults.Resources != nil {
			c.Resources = copyManifest(r.Defaults.Resources)
		}
	}
}

// Merge overlays other onto r. Connectors are matched by name; non-empty
// fields of the override win, unknown names are appended.
func (r *Registry) Merge(other *Registry) {
	if other.Defaults.Timeout != "" {
		r.Defaults.Timeout = other.Defaults.Timeout
	}
	if other.Defaults.GracePeriod != "" {
		r.Defaults.GracePeriod = other.Defaults.GracePeriod
	}
	if len(other.Defaults.PortEnv) > 0 {
		r.Defaults.PortEnv = other.Defaults.PortEnv
	}
	if other.Defaults.Templates != "" {
		r.Defaults.Templates = other.Defaults.Templates
	}
	if other.Defaults.Resources != nil {
		r.Defaults.Resources = other.Defaults.Resources
	}

	for _, o := range other.Connectors {
		i := r.index(o.Name)
		if i < 0 {
			r.Connectors = append(r.Connectors, o)
			continue
		}
		r.Connectors[i].overlay(o)
	}
}

func (r *Registry) index(name string) int {
	for i := range r.Connectors {
		if r.Connectors[i].Name == name {
			return i
		}
	}
	return -1
}

// Get returns a copy of the named connector.
func (r *Registry) Get(name string) (*Connector, error) {
	i := r.index(name)
	if i < 0 {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknown, name, r.Names())
	}
	c := r.Connectors[i]
	return &c, nil
}

// Names returns connector names sorted alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Connectors))
	for _, c := range r.Connectors {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every connector and rejects duplicate names.
func (r *Registry) Validate() error {
	seen := make(map[string]bool, len(r.Connectors))
	for i := range r.Connectors {
		c := &r.Connectors[i]
		if seen[c.Name] {
			return fmt.Errorf("duplicate connector %q", c.Name)
		}
		seen[c.Name] = true
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func copyManifest(m *bundler.Manifest) *bundler.Manifest {
	out := &bundler.Manifest{Files: append([]bundler.FileMapping(nil), m.Files...)}
	if m.Scripts != nil {
		out.Scripts = make(map[string]string, len(m.Scripts))
		for k, v := range m.Scripts {
			out.Scripts[k] = v
		}
	}
	if m.Dependencies != nil {
		out.Dependencies = make(map[string]string, len(m.Dependencies))
		for k, v := range m.Dependencies {
			out.Dependencies[k] = v
		}
	}
	return out
}

// ExampleConfig is a user override file.
const ExampleConfig = `# edgeconnect connector overrides
#
# Entries are matched by name against the built-in presets; fields set here
# replace the preset's. New names add connectors.

defaults:
  # How long to wait for a ready line before giving up ("0" waits forever)
  timeout: "3m"
  # Delay between SIGTERM and SIGKILL when stopping a dev server
  grace_period: "5s"

connectors:
  # Pin Next.js to a port and widen its readiness patterns
  - name: next
    port: 3000
    ready_patterns:
      - "ready - started server on"
      - "Ready in [0-9.]+m?s"

  # A framework without a preset
  - name: eleventy
    label: Eleventy
    command: "npx @11ty/eleventy --serve --port={{.Port}}"
    ready_patterns:
      - "Server at http"
    suppress:
      - "^\\[11ty\\] Writing"
    env:
      ELEVENTY_ENV: development
    service_worker:
      source: src/sw.js
      dest: _site/service-worker.js
`
