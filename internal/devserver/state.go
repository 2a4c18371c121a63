package devserver

import (
	"sync"
	"time"
)

// State is the readiness state of a supervised process.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
	StateExited  State = "exited"
)

// Event records a state change.
type Event struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// machine enforces the transitions Pending->Ready, Pending->Failed and
// {Pending,Ready,Failed}->Exited. Each target channel closes exactly once.
type machine struct {
	mu     sync.Mutex
	state  State
	events []Event
	err    error

	ready  chan struct{}
	failed chan struct{}
	exited chan struct{}
}

func newMachine() *machine {
	return &machine{
		state:  StatePending,
		events: []Event{{State: StatePending, Timestamp: time.Now(), Message: "spawning"}},
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// markReady moves Pending to Ready. It reports whether the transition happened.
func (m *machine) markReady(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending {
		return false
	}
	m.set(StateReady, msg)
	close(m.ready)
	return true
}

// fail moves Pending to Failed and stores err for Start to return.
func (m *machine) fail(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending {
		return false
	}
	m.err = err
	m.set(StateFailed, err.Error())
	close(m.failed)
	return true
}

// exit supersedes any state. A Pending machine must fail before exiting.
func (m *machine) exit(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateExited || m.state == StatePending {
		return false
	}
	m.set(StateExited, msg)
	close(m.exited)
	return true
}

func (m *machine) set(s State, msg string) {
	m.state = s
	m.events = append(m.events, Event{State: s, Timestamp: time.Now(), Message: msg})
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *machine) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// wasReady reports whether the Ready state was ever entered.
func (m *machine) wasReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}
