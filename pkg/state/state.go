// Package state holds the run state shared between the archiving worker and
// the shell that may cancel it.
package state

import (
	"errors"
	"sync"

	"dirzip/pkg/fault"
)

// RunState is the lifecycle of the single archiving operation a process runs.
type RunState int

const (
	Idle RunState = iota
	Running
	Abort
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Errors returned by Machine. Both are KindConcurrency faults.
var (
	ErrBusy     = errors.New("an operation is already running")
	ErrPoisoned = errors.New("run state poisoned by a panicking operation")
)

// Machine guards a RunState. All methods are short critical sections and
// safe for concurrent use. The zero value is Idle and ready to use.
type Machine struct {
	mu       sync.Mutex
	state    RunState
	poisoned bool
}

// New returns an idle machine.
func New() *Machine {
	return &Machine{}
}

// SetRunning moves Idle to Running.
func (m *Machine) SetRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned {
		return fault.Concurrency("set running", ErrPoisoned)
	}
	if m.state != Idle {
		return fault.Concurrency("set running", ErrBusy)
	}
	m.state = Running
	return nil
}

// SetAbort moves Running to Abort. It reports whether the transition
// happened; in any other state the request has no effect.
func (m *Machine) SetAbort() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned {
		return false, fault.Concurrency("set abort", ErrPoisoned)
	}
	if m.state != Running {
		return false, nil
	}
	m.state = Abort
	return true, nil
}

// ResetIdle forces the state back to Idle. The reset happens even on a
// poisoned machine so nothing stays stuck in Running; the poison is still
// reported.
func (m *Machine) ResetIdle() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Idle
	if m.poisoned {
		return fault.Concurrency("reset idle", ErrPoisoned)
	}
	return nil
}

// IsAbortRequested reports whether the state is Abort.
func (m *Machine) IsAbortRequested() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned {
		return false, fault.Concurrency("check abort", ErrPoisoned)
	}
	return m.state == Abort, nil
}

// Current returns the current state.
func (m *Machine) Current() (RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned {
		return m.state, fault.Concurrency("read state", ErrPoisoned)
	}
	return m.state, nil
}

// Poison marks the machine inconsistent after a panic.
func (m *Machine) Poison() {
	m.mu.Lock()
	m.poisoned = true
	m.mu.Unlock()
}

// Poisoned reports whether Poison was called since the last ClearPoison.
func (m *Machine) Poisoned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poisoned
}

// ClearPoison makes a poisoned machine usable again.
func (m *Machine) ClearPoison() {
	m.mu.Lock()
	m.poisoned = false
	m.mu.Unlock()
}
