package connector

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/psantana5/edgeconnect/internal/assetwatch"
	"github.com/psantana5/edgeconnect/internal/bundler"
	"github.com/psantana5/edgeconnect/internal/devserver"
	"github.com/psantana5/edgeconnect/internal/port"
	"github.com/psantana5/edgeconnect/internal/readiness"
)

// Connector binds one web framework to the dev-server and bundling pipeline.
type Connector struct {
	Name          string            `yaml:"name" json:"name"`
	Label         string            `yaml:"label,omitempty" json:"label,omitempty"`
	Command       string            `yaml:"command,omitempty" json:"command,omitempty"` // text/template; sees {{.Port}} and {{.Host}}
	ReadyPatterns []string          `yaml:"ready_patterns,omitempty" json:"ready_patterns,omitempty"`
	Suppress      []string          `yaml:"suppress,omitempty" json:"suppress,omitempty"`
	Port          int               `yaml:"port,omitempty" json:"port,omitempty"`
	PortEnv       []string          `yaml:"port_env,omitempty" json:"port_env,omitempty"`
	Env           map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout       string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	GracePeriod   string            `yaml:"grace_period,omitempty" json:"grace_period,omitempty"`
	ServiceWorker *ServiceWorker    `yaml:"service_worker,omitempty" json:"service_worker,omitempty"`
	Templates     string            `yaml:"templates,omitempty" json:"templates,omitempty"`
	Resources     *bundler.Manifest `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// ServiceWorker is a browser-side asset rebuilt while the dev server runs.
type ServiceWorker struct {
	Source string `yaml:"source" json:"source"`
	Dest   string `yaml:"dest" json:"dest"`
	// Build is a rebuild command template; empty copies Source verbatim.
	Build string `yaml:"build,omitempty" json:"build,omitempty"`
}

type commandData struct {
	Port int
	Host string
}

// Validate checks that the connector can be turned into a dev server config.
func (c *Connector) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("connector without a name")
	}
	if c.Command == "" {
		return fmt.Errorf("connector %s: command is required", c.Name)
	}
	if _, err := c.commandTemplate(); err != nil {
		return err
	}
	if _, err := readiness.NewMatcher(c.ReadyPatterns); err != nil {
		return fmt.Errorf("connector %s: %w", c.Name, err)
	}
	if _, err := readiness.NewPatternFilter(c.Suppress); err != nil {
		return fmt.Errorf("connector %s: %w", c.Name, err)
	}
	if _, err := c.durations(); err != nil {
		return err
	}
	if c.Resources != nil {
		if err := c.Resources.Validate(); err != nil {
			return fmt.Errorf("connector %s: resources: %w", c.Name, err)
		}
	}
	return nil
}

func (c *Connector) commandTemplate() (*template.Template, error) {
	tmpl, err := template.New(c.Name).Option("missingkey=error").Parse(c.Command)
	if err != nil {
		return nil, fmt.Errorf("connector %s: invalid command template: %w", c.Name, err)
	}
	return tmpl, nil
}

func (c *Connector) durations() (timeout, grace time.Duration, err error) {
	if c.Timeout != "" && c.Timeout != "0" {
		if timeout, err = time.ParseDuration(c.Timeout); err != nil {
			return 0, 0, fmt.Errorf("connector %s: invalid timeout: %w", c.Name, err)
		}
	}
	if c.GracePeriod != "" {
		if grace, err = time.ParseDuration(c.GracePeriod); err != nil {
			return 0, 0, fmt.Errorf("connector %s: invalid grace_period: %w", c.Name, err)
		}
	}
	return timeout, grace, nil
}

// DevServerConfig renders the connector into a supervisor config.
func (c *Connector) DevServerConfig(dir string) (devserver.Config, error) {
	tmpl, err := c.commandTemplate()
	if err != nil {
		return devserver.Config{}, err
	}
	// Render once up front so template errors surface here, not in Start.
	if err := tmpl.Execute(&strings.Builder{}, commandData{Port: 1, Host: port.Host}); err != nil {
		return devserver.Config{}, fmt.Errorf("connector %s: %w", c.Name, err)
	}
	filter, err := readiness.NewPatternFilter(c.Suppress)
	if err != nil {
		return devserver.Config{}, fmt.Errorf("connector %s: %w", c.Name, err)
	}
	timeout, grace, err := c.durations()
	if err != nil {
		return devserver.Config{}, err
	}

	return devserver.Config{
		Label: c.Label,
		Command: func(p int) string {
			var b strings.Builder
			_ = tmpl.Execute(&b, commandData{Port: p, Host: port.Host})
			return b.String()
		},
		ReadyPatterns: append([]string(nil), c.ReadyPatterns...),
		OutputFilter:  readiness.AnyFilter(readiness.SuppressBlank, filter),
		Port:          c.Port,
		Timeout:       timeout,
		PortEnv:       append([]string(nil), c.PortEnv...),
		Env:           c.Env,
		Dir:           dir,
		GracePeriod:   grace,
	}, nil
}

// Rebuild returns the service worker rebuilder, or nil when there is no
// service worker.
func (c *Connector) Rebuild() (assetwatch.RebuildFunc, error) {
	if c.ServiceWorker == nil {
		return nil, nil
	}
	if c.ServiceWorker.Build == "" {
		return assetwatch.CopyRebuild, nil
	}
	return assetwatch.CommandRebuild(c.ServiceWorker.Build)
}

// Manifest returns the resource manifest with {{.Name}} expanded in scripts.
func (c *Connector) Manifest() (*bundler.Manifest, error) {
	if c.Resources == nil {
		return &bundler.Manifest{}, nil
	}
	m := copyManifest(c.Resources)
	for name, script := range m.Scripts {
		tmpl, err := template.New(name).Parse(script)
		if err != nil {
			return nil, fmt.Errorf("connector %s: script %s: %w", c.Name, name, err)
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, c); err != nil {
			return nil, fmt.Errorf("connector %s: script %s: %w", c.Name, name, err)
		}
		m.Scripts[name] = b.String()
	}
	return m, nil
}

// TemplateFS returns the embedded resource tree the manifest sources refer to.
func (c *Connector) TemplateFS() (fs.FS, error) {
	sub, err := fs.Sub(templateFS, path.Join("templates", c.Templates))
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", c.Name, err)
	}
	if _, err := fs.Stat(sub, "."); err != nil {
		return nil, fmt.Errorf("connector %s: no templates named %q", c.Name, c.Templates)
	}
	return sub, nil
}

// overlay copies the non-empty fields of o onto c.
func (c *Connector) overlay(o Connector) {
	if o.Label != "" {
		c.Label = o.Label
	}
	if o.Command != "" {
		c.Command = o.Command
	}
	if len(o.ReadyPatterns) > 0 {
		c.ReadyPatterns = o.ReadyPatterns
	}
	if len(o.Suppress) > 0 {
		c.Suppress = o.Suppress
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	if len(o.PortEnv) > 0 {
		c.PortEnv = o.PortEnv
	}
	if len(o.Env) > 0 {
		if c.Env == nil {
			c.Env = make(map[string]string, len(o.Env))
		}
		for k, v := range o.Env {
			c.Env[k] = v
		}
	}
	if o.Timeout != "" {
		c.Timeout = o.Timeout
	}
	if o.GracePeriod != "" {
		c.GracePeriod = o.GracePeriod
	}
	if o.ServiceWorker != nil {
		c.ServiceWorker = o.ServiceWorker
	}
	if o.Templates != "" {
		c.Templates = o.Templates
	}
	if o.Resources != nil {
		c.Resources = o.Resources
	}
}
