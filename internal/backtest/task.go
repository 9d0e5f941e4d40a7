package backtest

import (
	"context"
	"sync"
)

// State is the lifecycle of one simulation job.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateError    State = "error"
)

// Status is a point-in-time snapshot of a job. Safe to hand out by value.
type Status struct {
	State    State  `json:"state"`
	Progress string `json:"progress,omitempty"` // e.g. "day 412/756"
	RunID    string `json:"run_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Task is the handle for one running simulation. The runner goroutine is
// the only writer of status; everyone else polls Status or cancels.
type Task struct {
	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

func newTask(cancel context.CancelFunc) *Task {
	return &Task{
		status: Status{State: StateRunning},
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Status returns the latest snapshot.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Cancel requests a cooperative stop. The simulation exits between days;
// Done is closed once it has.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) setProgress(progress string) {
	t.mu.Lock()
	t.status.Progress = progress
	t.mu.Unlock()
}

// terminal states are written once; the channel close releases waiters.

func (t *Task) setComplete(runID string) {
	t.mu.Lock()
	t.status = Status{State: StateComplete, RunID: runID}
	t.mu.Unlock()
	close(t.done)
}

func (t *Task) setError(err error) {
	t.mu.Lock()
	t.status = Status{State: StateError, Error: err.Error()}
	t.mu.Unlock()
	close(t.done)
}
