package devserver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/psantana5/edgeconnect/internal/readiness"
)

const (
	DefaultShell       = "/bin/sh"
	DefaultGracePeriod = 5 * time.Second
	DefaultRecentLines = 50
	DefaultPortEnv     = "PORT"
)

// CommandTemplate renders the shell command for a port. It must be pure.
type CommandTemplate func(port int) string

// Config describes one framework dev server. The supervisor copies it on
// Start, so later mutation by the caller has no effect on running sessions.
type Config struct {
	// Label names the framework in console prefixes and errors.
	Label string
	// Command builds the shell command from the resolved port.
	Command CommandTemplate
	// ReadyPatterns are case-insensitive regular expressions. Empty means the
	// server is ready as soon as it has been spawned.
	ReadyPatterns []string
	// OutputFilter hides noisy lines from the console. Matching is unaffected.
	OutputFilter readiness.Filter
	// Port pins the port; 0 allocates a free one.
	Port int
	// Timeout bounds the wait for readiness; 0 waits indefinitely.
	Timeout time.Duration

	// PortEnv lists environment variables that receive the port.
	PortEnv []string
	// Env is merged over the parent environment.
	Env map[string]string
	// Dir is the working directory of the child.
	Dir string
	// Shell runs Command with "-c".
	Shell string
	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// Output receives echoed child lines. Defaults to stdout.
	Output io.Writer
	// RecentLines is how many lines are kept for failure reports.
	RecentLines int
}

var errNoCommand = errors.New("command template is required")

// Validate checks the fields Start cannot default.
func (c Config) Validate() error {
	if c.Label == "" {
		return errors.New("label is required")
	}
	if c.Command == nil {
		return errNoCommand
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%s: negative timeout %v", c.Label, c.Timeout)
	}
	return nil
}

// normalized returns a defaulted deep copy.
func (c Config) normalized() Config {
	out := c
	out.ReadyPatterns = append([]string(nil), c.ReadyPatterns...)

	if len(c.PortEnv) == 0 {
		out.PortEnv = []string{DefaultPortEnv}
	} else {
		out.PortEnv = append([]string(nil), c.PortEnv...)
	}

	out.Env = make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		out.Env[k] = v
	}

	if out.Shell == "" {
		out.Shell = DefaultShell
	}
	if out.GracePeriod <= 0 {
		out.GracePeriod = DefaultGracePeriod
	}
	if out.Output == nil {
		out.Output = os.Stdout
	}
	if out.RecentLines <= 0 {
		out.RecentLines = DefaultRecentLines
	}
	return out
}

// environ builds the child environment: parent, then Env, then port variables.
func (c Config) environ(base []string, port int) []string {
	env := append([]string(nil), base...)
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	for _, name := range c.PortEnv {
		env = append(env, fmt.Sprintf("%s=%d", name, port))
	}
	return env
}
