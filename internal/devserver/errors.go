package devserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psantana5/edgeconnect/internal/report"
)

// ErrorKind classifies startup failures.
type ErrorKind string

const (
	KindSpawn            ErrorKind = "spawn_failure"
	KindPrematureExit    ErrorKind = "premature_exit"
	KindReadinessTimeout ErrorKind = "readiness_timeout"
)

// Sentinels for errors.Is.
var (
	ErrSpawn            = errors.New("spawn failure")
	ErrPrematureExit    = errors.New("premature exit")
	ErrReadinessTimeout = errors.New("readiness timeout")
)

// tailLines is how much recent output Error() prints.
const tailLines = 10

// StartError is returned by Start when the dev server never became ready.
type StartError struct {
	Kind         ErrorKind
	Label        string
	Command      string
	ExitCode     int
	Timeout      time.Duration
	RecentOutput []string
	Err          error
}

func (e *StartError) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindSpawn:
		fmt.Fprintf(&b, "%s: failed to launch dev server", e.Label)
		if e.Err != nil {
			fmt.Fprintf(&b, ": %v", e.Err)
		}
	case KindPrematureExit:
		fmt.Fprintf(&b, "%s: dev server exited with code %d before it was ready", e.Label, e.ExitCode)
	case KindReadinessTimeout:
		fmt.Fprintf(&b, "%s: dev server not ready after %s", e.Label, e.Timeout)
	default:
		fmt.Fprintf(&b, "%s: dev server failed", e.Label)
	}

	if n := len(e.RecentOutput); n > 0 {
		start := 0
		if n > tailLines {
			start = n - tailLines
		}
		b.WriteString("\nlast output:")
		for _, line := range e.RecentOutput[start:] {
			b.WriteString("\n  ")
			b.WriteString(line)
		}
	}
	return b.String()
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind. A shell that exited 126 or
// 127 also matches ErrPrematureExit since the child did run and exit.
func (e *StartError) Is(target error) bool {
	switch target {
	case ErrSpawn:
		return e.Kind == KindSpawn
	case ErrPrematureExit:
		return e.Kind == KindPrematureExit || (e.Kind == KindSpawn && e.ExitCode > 0)
	case ErrReadinessTimeout:
		return e.Kind == KindReadinessTimeout
	}
	return false
}

func (k ErrorKind) outcome() report.Outcome {
	switch k {
	case KindSpawn:
		return report.OutcomeSpawnFailed
	case KindPrematureExit:
		return report.OutcomePremature
	case KindReadinessTimeout:
		return report.OutcomeTimeout
	}
	return report.OutcomeExited
}
