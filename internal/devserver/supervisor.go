package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/psantana5/edgeconnect/internal/observe"
	"github.com/psantana5/edgeconnect/internal/port"
	"github.com/psantana5/edgeconnect/internal/readiness"
	"github.com/psantana5/edgeconnect/internal/report"
	"github.com/psantana5/edgeconnect/pkg/logging"
)

const defaultDrain = 250 * time.Millisecond

var prefixColors = []color.Attribute{
	color.FgCyan,
	color.FgMagenta,
	color.FgYellow,
	color.FgGreen,
	color.FgBlue,
}

// Supervisor starts dev servers and tracks the ones that are running.
type Supervisor struct {
	logger   *logging.Logger
	metrics  *report.Metrics
	failures *report.FailureLog
	output   io.Writer
	drain    time.Duration

	mu       sync.Mutex
	started  int
	sessions map[string]*session
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func WithMetrics(m *report.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

func WithFailureLog(f *report.FailureLog) Option {
	return func(s *Supervisor) { s.failures = f }
}

// WithOutput sets where child output goes when a Config leaves Output unset.
func WithOutput(w io.Writer) Option {
	return func(s *Supervisor) { s.output = w }
}

// New creates a supervisor. Without options it logs nowhere and records into
// the process-wide metrics and failure log.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:   logging.Discard(),
		metrics:  report.Global(),
		failures: report.GlobalFailures(),
		drain:    defaultDrain,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("devserver")
	return s
}

// Start spawns the dev server described by cfg and blocks until it is ready,
// it fails, or ctx is cancelled. On failure the child is no longer running
// when Start returns.
func (sv *Supervisor) Start(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Output == nil && sv.output != nil {
		cfg.Output = sv.output
	}
	cfg = cfg.normalized()

	matcher, err := readiness.NewMatcher(cfg.ReadyPatterns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Label, err)
	}

	p, err := port.Resolve(ctx, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Label, err)
	}
	if cfg.Port != 0 && !port.Available(p) {
		// Not fatal: the framework reports the conflict itself.
		sv.logger.Warn("Pinned port is already in use", map[string]interface{}{"label": cfg.Label, "port": p})
	}

	s := sv.newSession(cfg, matcher, p)
	sv.metrics.RecordStart(cfg.Label)
	s.logger.Info("Starting dev server", map[string]interface{}{"command": s.command, "port": p})

	proc, err := spawn(cfg, s.command, p)
	if err != nil {
		serr := &StartError{Kind: KindSpawn, Label: cfg.Label, Command: s.command, ExitCode: -1, Err: err}
		s.m.fail(serr)
		s.finish(-1)
		return nil, serr
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	sv.track(s)

	go s.consume(proc.lines)
	go s.awaitExit(sv.drain)

	if matcher.Empty() {
		s.toReady("no readiness patterns")
	}
	return sv.await(ctx, s)
}

func (sv *Supervisor) newSession(cfg Config, matcher *readiness.Matcher, p int) *session {
	id := uuid.New().String()

	sv.mu.Lock()
	attr := prefixColors[sv.started%len(prefixColors)]
	sv.started++
	sv.mu.Unlock()

	s := &session{
		id:       id,
		cfg:      cfg,
		command:  cfg.Command(p),
		port:     p,
		prefix:   color.New(attr).Sprintf("[%s]", cfg.Label),
		m:        newMachine(),
		matcher:  matcher,
		recent:   newRecentLines(cfg.RecentLines),
		logger:   sv.logger.WithField("label", cfg.Label).WithField("session", id[:8]),
		metrics:  sv.metrics,
		timing:   observe.NewTiming(),
		consumed: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.onExit = sv.onExit
	return s
}

func (sv *Supervisor) await(ctx context.Context, s *session) (*Handle, error) {
	var timeout <-chan time.Time
	if s.cfg.Timeout > 0 {
		t := time.NewTimer(s.cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-s.m.ready:
		return sv.ready(s), nil
	case <-s.m.failed:
		<-s.done
		return nil, s.m.Err()
	case <-timeout:
		return sv.abort(s, &StartError{
			Kind:         KindReadinessTimeout,
			Label:        s.cfg.Label,
			Command:      s.command,
			Timeout:      s.cfg.Timeout,
			ExitCode:     -1,
			RecentOutput: s.recent.Lines(),
		})
	case <-ctx.Done():
		return sv.abort(s, fmt.Errorf("%s: start cancelled: %w", s.cfg.Label, ctx.Err()))
	}
}

// abort fails a pending session and kills it. If readiness or exit won the
// race, that outcome is returned instead.
func (sv *Supervisor) abort(s *session, err error) (*Handle, error) {
	if !s.m.fail(err) {
		if s.m.wasReady() {
			return sv.ready(s), nil
		}
		<-s.done
		return nil, s.m.Err()
	}
	if stopErr := s.stop(context.Background()); stopErr != nil {
		s.logger.Warn("Failed to stop dev server", map[string]interface{}{"error": stopErr.Error()})
	}
	return nil, err
}

func (sv *Supervisor) ready(s *session) *Handle {
	s.mu.Lock()
	after := s.timing.ReadyAfter()
	s.mu.Unlock()
	s.logger.Info("Dev server ready", map[string]interface{}{
		"url":      upstream(s.port),
		"pid":      s.proc.pid,
		"ready_in": after.Round(time.Millisecond).String(),
	})
	return &Handle{s: s}
}

func (sv *Supervisor) track(s *session) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.sessions[s.id] = s
}

func (sv *Supervisor) onExit(s *session, res *report.Result) {
	sv.mu.Lock()
	delete(sv.sessions, s.id)
	sv.mu.Unlock()

	sv.metrics.RecordResult(res)
	sv.failures.Record(res)
	res.LogSummary(s.logger)
}

// Sessions returns handles for the sessions that are ready and have not
// exited, oldest first.
func (sv *Supervisor) Sessions() []*Handle {
	sv.mu.Lock()
	out := make([]*Handle, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		if s.m.wasReady() {
			out = append(out, &Handle{s: s})
		}
	}
	sv.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt().Before(out[j].StartedAt())
	})
	return out
}

// StopAll stops every tracked session concurrently, including ones still
// waiting for readiness.
func (sv *Supervisor) StopAll(ctx context.Context) error {
	sv.mu.Lock()
	sessions := make([]*session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()

	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *session) {
			defer wg.Done()
			if err := s.stop(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.cfg.Label, err)
			}
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Stop implements the shutdown stopper interface.
func (sv *Supervisor) Stop(ctx context.Context) error {
	return sv.StopAll(ctx)
}
