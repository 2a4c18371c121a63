package assetwatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/psantana5/edgeconnect/internal/report"
	"github.com/psantana5/edgeconnect/pkg/logging"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// BuildResult describes one rebuild attempt.
type BuildResult struct {
	Seq      int
	Trigger  string
	Started  time.Time
	Duration time.Duration
	Inputs   []string
	Err      error
}

// OK reports whether the rebuild succeeded.
func (r BuildResult) OK() bool {
	return r.Seq > 0 && r.Err == nil
}

// Option configures Watch.
type Option func(*Handle)

func WithDebounce(d time.Duration) Option {
	return func(h *Handle) { h.debounce = d }
}

// WithOnError replaces the default handler, which logs the failure.
func WithOnError(fn func(*RebuildError)) Option {
	return func(h *Handle) { h.onError = fn }
}

func WithLogger(l *logging.Logger) Option {
	return func(h *Handle) { h.logger = l }
}

func WithMetrics(m *report.Metrics) Option {
	return func(h *Handle) { h.metrics = m }
}

// Handle is a running watch on one asset.
type Handle struct {
	source  string
	dest    string
	rebuild RebuildFunc

	debounce time.Duration
	onError  func(*RebuildError)
	logger   *logging.Logger
	metrics  *report.Metrics

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	files    map[string]bool
	dirs     map[string]bool
	rebuilds int
	last     BuildResult
}

// Watch builds dest from source once, then rebuilds on every change to
// source or to an input the rebuild reported. A failed initial build is
// reported like any other and still returns a handle.
func Watch(ctx context.Context, source, dest string, rebuild RebuildFunc, opts ...Option) (*Handle, error) {
	if rebuild == nil {
		return nil, errors.New("rebuild function is required")
	}
	src, err := filepath.Abs(source)
	if err != nil {
		return nil, err
	}
	dst, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	h := &Handle{
		source:   src,
		dest:     dst,
		rebuild:  rebuild,
		debounce: DefaultDebounce,
		logger:   logging.Discard(),
		metrics:  report.Global(),
		watcher:  watcher,
		done:     make(chan struct{}),
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("assetwatch").WithField("source", src)
	if h.onError == nil {
		h.onError = func(e *RebuildError) {
			h.logger.Error("Asset rebuild failed, serving last good build", map[string]interface{}{"error": e.Error()})
		}
	}
	h.ctx, h.cancel = context.WithCancel(ctx)

	if err := h.follow(src); err != nil {
		h.cancel()
		watcher.Close()
		return nil, err
	}
	h.build("initial")

	go h.loop()
	return h, nil
}

// follow watches the parent directory of path; watching the file itself would
// lose it on editors that save by rename.
func (h *Handle) follow(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = true
	if h.dirs[dir] {
		return nil
	}
	if err := h.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	h.dirs[dir] = true
	return nil
}

func (h *Handle) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.files[filepath.Clean(ev.Name)]
}

func (h *Handle) loop() {
	defer close(h.done)

	var timer *time.Timer
	var fire <-chan time.Time
	trigger := ""
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if !h.relevant(ev) {
				continue
			}
			trigger = ev.Name
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("Watcher error", map[string]interface{}{"error": err.Error()})
		case <-fire:
			fire = nil
			if h.ctx.Err() != nil {
				return
			}
			h.build(trigger)
		}
	}
}

// build runs one rebuild and records it. A panicking rebuild counts as failed.
func (h *Handle) build(trigger string) {
	h.mu.Lock()
	h.rebuilds++
	seq := h.rebuilds
	h.mu.Unlock()

	res := BuildResult{Seq: seq, Trigger: trigger, Started: time.Now()}
	res.Inputs, res.Err = h.invoke()
	res.Duration = time.Since(res.Started)

	h.mu.Lock()
	h.last = res
	h.mu.Unlock()
	h.metrics.RecordRebuild(res.Err == nil)

	if res.Err != nil {
		h.onError(&RebuildError{Source: h.source, Dest: h.dest, Seq: seq, Trigger: trigger, Err: res.Err})
		return
	}
	h.logger.Info("Asset rebuilt", map[string]interface{}{
		"dest":     h.dest,
		"seq":      seq,
		"duration": res.Duration.Round(time.Millisecond).String(),
	})

	for _, in := range res.Inputs {
		if !filepath.IsAbs(in) {
			in = filepath.Join(filepath.Dir(h.source), in)
		}
		if err := h.follow(in); err != nil {
			h.logger.Warn("Cannot watch rebuild input", map[string]interface{}{"input": in, "error": err.Error()})
		}
	}
}

func (h *Handle) invoke() (inputs []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rebuild panicked: %v", r)
		}
	}()
	return h.rebuild(h.ctx, h.source, h.dest)
}

// Stop cancels the subscription and waits for the loop, including any
// rebuild in progress. No rebuild starts after Stop returns.
func (h *Handle) Stop() error {
	var err error
	h.once.Do(func() {
		h.cancel()
		err = h.watcher.Close()
		<-h.done
	})
	return err
}

// Rebuilds is the number of rebuild attempts so far, the initial one included.
func (h *Handle) Rebuilds() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rebuilds
}

func (h *Handle) LastResult() BuildResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Handle) Source() string { return h.source }
func (h *Handle) Dest() string   { return h.dest }
