package report

import (
	"time"

	"github.com/psantana5/edgeconnect/pkg/logging"
)

// Outcome is how a dev session ended (or that it is still serving).
type Outcome string

const (
	OutcomeServing     Outcome = "serving"
	OutcomeStopped     Outcome = "stopped"
	OutcomeExited      Outcome = "exited"
	OutcomeSpawnFailed Outcome = "spawn_failure"
	OutcomePremature   Outcome = "premature_exit"
	OutcomeTimeout     Outcome = "readiness_timeout"
	OutcomeCancelled   Outcome = "cancelled"
)

// Failed reports whether the outcome is a startup failure.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeSpawnFailed, OutcomePremature, OutcomeTimeout:
		return true
	}
	return false
}

// Result is the frozen record of one supervised dev session.
type Result struct {
	SessionID string `json:"session_id"`
	Label     string `json:"label"`
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	Command   string `json:"command"`

	StartTime  time.Time     `json:"start_time"`
	ReadyAfter time.Duration `json:"ready_after_ns"`
	Duration   time.Duration `json:"duration_ns"`

	Ready    bool    `json:"ready"`
	Outcome  Outcome `json:"outcome"`
	ExitCode int     `json:"exit_code"`
	Reason   string  `json:"reason,omitempty"`
}

// LogSummary emits the one-line session summary.
func (r *Result) LogSummary(logger *logging.Logger) {
	fields := map[string]interface{}{
		"session":  r.SessionID,
		"label":    r.Label,
		"outcome":  string(r.Outcome),
		"pid":      r.PID,
		"port":     r.Port,
		"exit":     r.ExitCode,
		"runtime":  r.Duration.Round(time.Millisecond).String(),
		"ready_in": r.ReadyAfter.Round(time.Millisecond).String(),
	}
	if r.Reason != "" {
		fields["reason"] = r.Reason
	}

	if r.Outcome.Failed() {
		logger.Error("DEV SESSION", fields)
		return
	}
	logger.Info("DEV SESSION", fields)
}
