package report

import "sync"

// FailureSample is a compact record of a failed startup.
type FailureSample struct {
	SessionID string  `json:"session_id"`
	Label     string  `json:"label"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason"`
	ExitCode  int     `json:"exit_code"`
	Duration  float64 `json:"duration_seconds"`
}

// FailureLog keeps the last N startup failures.
type FailureLog struct {
	samples []FailureSample
	maxSize int
	mu      sync.RWMutex
}

var globalFailureLog = NewFailureLog(50)

// NewFailureLog creates a failure log with fixed size
func NewFailureLog(maxSize int) *FailureLog {
	return &FailureLog{
		samples: make([]FailureSample, 0, maxSize),
		maxSize: maxSize,
	}
}

// GlobalFailures returns the process-wide failure log
func GlobalFailures() *FailureLog {
	return globalFailureLog
}

// Record adds r if it is a failure.
func (f *FailureLog) Record(r *Result) {
	if !r.Outcome.Failed() {
		return
	}

	sample := FailureSample{
		SessionID: r.SessionID,
		Label:     r.Label,
		Outcome:   r.Outcome,
		Reason:    r.Reason,
		ExitCode:  r.ExitCode,
		Duration:  r.Duration.Seconds(),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.samples) >= f.maxSize {
		f.samples = f.samples[1:]
	}
	f.samples = append(f.samples, sample)
}

// Recent returns up to n failures, newest first. n <= 0 returns all.
func (f *FailureLog) Recent(n int) []FailureSample {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n <= 0 || n > len(f.samples) {
		n = len(f.samples)
	}

	out := make([]FailureSample, n)
	for i := 0; i < n; i++ {
		out[i] = f.samples[len(f.samples)-1-i]
	}
	return out
}

// Count returns the number of retained failures.
func (f *FailureLog) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.samples)
}
