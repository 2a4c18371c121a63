package devserver

import (
	"context"
	"fmt"
	"time"

	"github.com/psantana5/edgeconnect/internal/port"
	"github.com/psantana5/edgeconnect/internal/report"
)

// Handle is a dev server that became ready.
type Handle struct {
	s *session
}

func (h *Handle) ID() string      { return h.s.id }
func (h *Handle) Label() string   { return h.s.cfg.Label }
func (h *Handle) Port() int       { return h.s.port }
func (h *Handle) Command() string { return h.s.command }

func (h *Handle) PID() int {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.s.proc == nil {
		return 0
	}
	return h.s.proc.pid
}

// Upstream is the base URL the dev server listens on.
func (h *Handle) Upstream() string {
	return upstream(h.s.port)
}

func (h *Handle) State() State {
	return h.s.m.State()
}

func (h *Handle) Events() []Event {
	return h.s.m.Events()
}

func (h *Handle) StartedAt() time.Time {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.timing.StartedAt
}

// ExitCode returns the exit code once the process has exited.
func (h *Handle) ExitCode() (int, bool) {
	select {
	case <-h.s.done:
		h.s.mu.Lock()
		defer h.s.mu.Unlock()
		return h.s.exitCode, true
	default:
		return 0, false
	}
}

// Done is closed once the process has exited and been accounted for.
func (h *Handle) Done() <-chan struct{} {
	return h.s.done
}

// Result is the final session record, or nil while running.
func (h *Handle) Result() *report.Result {
	return h.s.Result()
}

// RecentOutput returns the last lines the process printed.
func (h *Handle) RecentOutput() []string {
	return h.s.recent.Lines()
}

// Stop sends SIGTERM to the process tree, escalates to SIGKILL after the grace
// period and waits for exit. Calling Stop on an exited server is a no-op.
func (h *Handle) Stop(ctx context.Context) error {
	return h.s.stop(ctx)
}

// Info is a point-in-time snapshot of a running session.
type Info struct {
	ID         string    `json:"id" yaml:"id"`
	Label      string    `json:"label" yaml:"label"`
	PID        int       `json:"pid" yaml:"pid"`
	Port       int       `json:"port" yaml:"port"`
	Upstream   string    `json:"upstream" yaml:"upstream"`
	State      State     `json:"state" yaml:"state"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	ReadyAfter string    `json:"ready_after" yaml:"ready_after"`
}

func (h *Handle) Info() Info {
	h.s.mu.Lock()
	started := h.s.timing.StartedAt
	after := h.s.timing.ReadyAfter()
	h.s.mu.Unlock()
	return Info{
		ID:         h.ID(),
		Label:      h.Label(),
		PID:        h.PID(),
		Port:       h.Port(),
		Upstream:   h.Upstream(),
		State:      h.State(),
		StartedAt:  started,
		ReadyAfter: after.Round(time.Millisecond).String(),
	}
}

func upstream(p int) string {
	return fmt.Sprintf("http://%s", port.Address(p))
}
