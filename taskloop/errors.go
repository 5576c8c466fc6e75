package taskloop

import (
	"errors"
	"fmt"
)

// ErrStreamDone is reported by Stream.Next once the stream's task reached a
// terminal state and all buffered events were consumed.
var ErrStreamDone = errors.New("event stream done")

// ErrTaskFinished interrupts suspensions still held by background functions
// of a task that finished successfully.
var ErrTaskFinished = errors.New("task finished")

// InvalidStateError reports an operation attempted in a task state that does
// not permit it, such as spawning a child of a terminal task.
type InvalidStateError struct {
	Task  *Task
	State State
	Op    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: task %s is %s", e.Op, e.Task.Path(), e.State)
}

// DependencyCycleError reports a DependsOn call that would close a cycle.
type DependencyCycleError struct {
	Task       *Task
	Dependency *Task
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s -> %s", e.Task.Path(), e.Dependency.Path())
}

// MissingContextError reports a context variable read that found no value and
// no default anywhere on the ancestor chain.
type MissingContextError struct {
	Name string
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("context variable %s is not set", e.Name)
}

// FailedError is the terminal outcome of a failed task. Cause is the error
// the body returned or the propagated failure that brought the task down.
type FailedError struct {
	Task  *Task
	Cause error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task.Path(), e.Cause)
}

func (e *FailedError) Unwrap() error { return e.Cause }

// CancelledError is the terminal outcome of a cancelled or discarded task.
type CancelledError struct {
	Task  *Task
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("task %s cancelled", e.Task.Path())
	}
	return fmt.Sprintf("task %s cancelled: %v", e.Task.Path(), e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// ChildFailedError propagates a child's failure into its parent.
type ChildFailedError struct {
	Child *Task
	Cause error
}

func (e *ChildFailedError) Error() string {
	return fmt.Sprintf("child task %s failed: %v", e.Child.Path(), e.Cause)
}

func (e *ChildFailedError) Unwrap() error { return e.Cause }

// ChildCancelledError propagates a child's cancellation into its parent.
type ChildCancelledError struct {
	Child *Task
	Cause error
}

func (e *ChildCancelledError) Error() string {
	return fmt.Sprintf("child task %s cancelled", e.Child.Path())
}

func (e *ChildCancelledError) Unwrap() error { return e.Cause }

// DependencyFailedError propagates a dependency's failure into a dependent.
type DependencyFailedError struct {
	Dependency *Task
	Cause      error
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dependency.Path(), e.Cause)
}

func (e *DependencyFailedError) Unwrap() error { return e.Cause }

// DependencyCancelledError propagates a dependency's cancellation into a
// dependent.
type DependencyCancelledError struct {
	Dependency *Task
	Cause      error
}

func (e *DependencyCancelledError) Error() string {
	return fmt.Sprintf("dependency %s cancelled", e.Dependency.Path())
}

func (e *DependencyCancelledError) Unwrap() error { return e.Cause }

// IsCancellation reports whether err stems from cancellation rather than a
// failure.
func IsCancellation(err error) bool {
	var ce *CancelledError
	var cc *ChildCancelledError
	var dc *DependencyCancelledError
	return errors.As(err, &ce) || errors.As(err, &cc) || errors.As(err, &dc)
}
