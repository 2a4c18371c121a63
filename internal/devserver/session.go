package devserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/edgeconnect/internal/observe"
	"github.com/psantana5/edgeconnect/internal/readiness"
	"github.com/psantana5/edgeconnect/internal/report"
	"github.com/psantana5/edgeconnect/pkg/logging"
)

// session is one supervised dev server from spawn to exit.
type session struct {
	id      string
	cfg     Config
	command string
	port    int
	prefix  string

	m       *machine
	matcher *readiness.Matcher
	recent  *recentLines
	logger  *logging.Logger
	metrics *report.Metrics

	mu       sync.Mutex
	timing   *observe.Timing
	proc     *process
	exitCode int
	result   *report.Result

	consumed chan struct{}
	// done closes after onExit has run.
	done     chan struct{}
	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error

	// onExit runs once the session has reached Exited.
	onExit func(*session, *report.Result)
}

// consume feeds every line through the matcher, then echoes it unless the
// output filter suppresses it. Suppression never hides a line from matching.
func (s *session) consume(lines <-chan Line) {
	defer close(s.consumed)
	for ln := range lines {
		s.recent.Add(ln.Text)
		if s.matcher.Feed(ln.Text) == readiness.Matched {
			s.toReady("matched " + s.matcher.Pattern())
		}
		if s.cfg.OutputFilter.ShouldSuppress(ln.Text) {
			continue
		}
		fmt.Fprintf(s.cfg.Output, "%s %s\n", s.prefix, ln.Raw)
	}
}

func (s *session) toReady(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.m.markReady(msg) {
		return
	}
	s.timing.MarkReady()
	s.metrics.RecordReady(s.cfg.Label, s.timing.ReadyAfter())
}

// awaitExit finalizes the session once the shell has been reaped. Scanners
// normally hit EOF right after; drain bounds the wait when a grandchild
// still holds a write end.
func (s *session) awaitExit(drain time.Duration) {
	<-s.proc.waited
	select {
	case <-s.consumed:
	case <-time.After(drain):
	}
	s.proc.closePipes()
	s.finish(s.proc.code)
}

func (s *session) finish(code int) {
	if s.m.State() == StatePending {
		s.m.fail(s.exitError(code))
	}

	s.mu.Lock()
	s.exitCode = code
	s.m.exit(fmt.Sprintf("exit code %d", code))
	s.timing.Complete()
	res := s.buildResult(code)
	s.result = res
	s.mu.Unlock()

	if s.onExit != nil {
		s.onExit(s, res)
	}
	close(s.done)
}

func (s *session) exitError(code int) *StartError {
	serr := &StartError{
		Kind:         KindPrematureExit,
		Label:        s.cfg.Label,
		Command:      s.command,
		ExitCode:     code,
		RecentOutput: s.recent.Lines(),
	}
	switch code {
	case 126:
		serr.Kind, serr.Err = KindSpawn, errors.New("command not executable")
	case 127:
		serr.Kind, serr.Err = KindSpawn, errors.New("command not found")
	}
	return serr
}

// buildResult must be called with s.mu held.
func (s *session) buildResult(code int) *report.Result {
	res := &report.Result{
		SessionID:  s.id,
		Label:      s.cfg.Label,
		Port:       s.port,
		Command:    s.command,
		StartTime:  s.timing.StartedAt,
		ReadyAfter: s.timing.ReadyAfter(),
		Duration:   s.timing.Duration(),
		Ready:      s.m.wasReady(),
		ExitCode:   code,
		Outcome:    report.OutcomeExited,
	}
	if s.proc != nil {
		res.PID = s.proc.pid
	}

	var serr *StartError
	err := s.m.Err()
	switch {
	case errors.As(err, &serr):
		res.Outcome = serr.Kind.outcome()
		res.Reason = firstLine(serr.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.Outcome = report.OutcomeCancelled
		res.Reason = err.Error()
	case s.stopping.Load():
		res.Outcome = report.OutcomeStopped
	}
	return res
}

// stop terminates the process tree and waits for the session to exit.
func (s *session) stop(ctx context.Context) error {
	if s.proc == nil {
		return nil
	}
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.logger.Info("Stopping dev server", map[string]interface{}{"pid": s.proc.pid, "grace": s.cfg.GracePeriod.String()})
		s.stopErr = s.proc.terminate(ctx, s.cfg.GracePeriod)
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.stopErr
}

func (s *session) Result() *report.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func firstLine(msg string) string {
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			return msg[:i]
		}
	}
	return msg
}
