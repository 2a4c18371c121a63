package observe

import "time"

// Timing records the start, ready and completion instants of a dev session.
type Timing struct {
	StartedAt   time.Time
	ReadyAt     time.Time
	CompletedAt time.Time
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return &Timing{
		StartedAt: time.Now(),
	}
}

// MarkReady records when readiness was detected.
func (t *Timing) MarkReady() {
	t.ReadyAt = time.Now()
}

// Complete records completion time
func (t *Timing) Complete() {
	t.CompletedAt = time.Now()
}

// ReadyAfter returns the startup latency, or zero if never ready.
func (t *Timing) ReadyAfter() time.Duration {
	if t.ReadyAt.IsZero() {
		return 0
	}
	return t.ReadyAt.Sub(t.StartedAt)
}

// Duration returns execution duration
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
