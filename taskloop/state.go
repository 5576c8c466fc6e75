package taskloop

// State is the lifecycle state of a task.
type State string

const (
	// StatePending covers a created task waiting for its parent to start and
	// its dependencies to finish.
	StatePending State = "pending"
	// StateRunning means the task's body is executing.
	StateRunning State = "running"
	// StateWaiting means the body returned and the task waits for its
	// remaining children and background functions.
	StateWaiting State = "waiting"
	// StateDone is the successful terminal state.
	StateDone State = "done"
	// StateFailed means the task's body returned an error or a failure
	// propagated into the task.
	StateFailed State = "failed"
	// StateCancelled means the task was cancelled explicitly.
	StateCancelled State = "cancelled"
	// StateDiscarded means the task was torn down as a casualty of another
	// task's failure or cancellation.
	StateDiscarded State = "discarded"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateCancelled, StateDiscarded:
		return true
	}
	return false
}

// Aborted reports whether the state is a non-successful terminal state.
func (s State) Aborted() bool {
	switch s {
	case StateFailed, StateCancelled, StateDiscarded:
		return true
	}
	return false
}
