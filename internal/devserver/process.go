package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/edgeconnect/internal/observe"
)

// killWait bounds how long we wait for the kernel to reap after SIGKILL.
const killWait = 5 * time.Second

// process is a spawned shell running the dev server command in its own
// process group, so signals reach everything the command starts.
type process struct {
	cmd   *exec.Cmd
	pid   int
	lines <-chan Line
	// waited is closed after cmd.Wait returns; code and waitErr are valid then.
	waited  chan struct{}
	code    int
	waitErr error

	pipes     []*os.File
	closeOnce sync.Once
}

func spawn(cfg Config, command string, port int) (*process, error) {
	cmd := exec.Command(cfg.Shell, "-c", command)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.environ(os.Environ(), port)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Hand the child real pipe fds instead of letting exec copy through
	// goroutines. cmd.Wait then returns on child exit even if a grandchild
	// keeps the write end open.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			f.Close()
		}
		return nil, err
	}
	outW.Close()
	errW.Close()

	p := &process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		lines:  mergeLines(map[Stream]io.Reader{Stdout: outR, Stderr: errR}),
		waited: make(chan struct{}),
		pipes:  []*os.File{outR, errR},
	}
	// The read ends stay open after Wait so the scanners can reach EOF on
	// whatever the child left buffered. closePipes releases them.
	go func() {
		p.waitErr = cmd.Wait()
		p.code = exitCode(p.waitErr)
		close(p.waited)
	}()
	return p, nil
}

// closePipes closes the read ends, unblocking scanners held open by a
// grandchild that inherited the write end.
func (p *process) closePipes() {
	p.closeOnce.Do(func() {
		for _, f := range p.pipes {
			f.Close()
		}
	})
}

// exitCode maps a Wait error to a shell-style code; signals become 128+n.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}

// terminate sends SIGTERM to the process group and every known descendant,
// waits up to grace for all of them to go away, then SIGKILLs survivors.
func (p *process) terminate(ctx context.Context, grace time.Duration) error {
	// Snapshot the tree before signalling; orphans get reparented once the
	// shell dies and can no longer be found through it.
	tree, _ := observe.Descendants(ctx, p.pid)

	p.signal(syscall.SIGTERM, tree)

	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	select {
	case <-p.waited:
		if survivors := p.awaitGone(ctx, tree, deadline.C); len(survivors) == 0 {
			return nil
		}
	case <-deadline.C:
	case <-ctx.Done():
	}

	survivors := observe.AnyAlive(context.Background(), tree)
	p.signal(syscall.SIGKILL, survivors)

	select {
	case <-p.waited:
	case <-time.After(killWait):
		return fmt.Errorf("pid %d still running %s after SIGKILL", p.pid, killWait)
	}
	if left := p.awaitGone(ctx, survivors, time.After(time.Second)); len(left) > 0 {
		return &orphanError{pids: left}
	}
	return nil
}

// signal delivers sig to the group led by the shell and to each pid, which
// covers descendants that moved to their own group.
func (p *process) signal(sig syscall.Signal, pids []int) {
	select {
	case <-p.waited:
	default:
		_ = syscall.Kill(-p.pid, sig)
	}
	for _, pid := range pids {
		_ = syscall.Kill(pid, sig)
	}
}

// awaitGone polls until none of pids are alive or until expires fires,
// returning whatever is still running.
func (p *process) awaitGone(ctx context.Context, pids []int, expires <-chan time.Time) []int {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		alive := observe.AnyAlive(ctx, pids)
		if len(alive) == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-expires:
			return alive
		case <-ctx.Done():
			return alive
		}
	}
}

type orphanError struct {
	pids []int
}

func (e *orphanError) Error() string {
	return fmt.Sprintf("processes %v survived SIGKILL", e.pids)
}
