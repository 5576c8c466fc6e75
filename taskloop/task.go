package taskloop

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/loomkit/loom/internal/idgen"
	"github.com/loomkit/loom/taskloop/jobserver"
	"github.com/loomkit/loom/tracing"
)

// Body is the function a task executes while in StateRunning. A nil body is
// legal; such a task only groups children.
type Body func(t *Task) error

// Option configures a task at spawn time.
type Option func(*Task)

// WithName sets the task name. Names are made unique among siblings by
// suffixing a counter.
func WithName(name string) Option {
	return func(t *Task) { t.name = name }
}

// WithLease makes the task acquire a job slot before starting and hold it
// while running. Ignored when the loop has no jobserver client.
func WithLease() Option {
	return func(t *Task) { t.useLease = true }
}

// WithNoDiscard keeps the task alive when its last dependent aborts. By
// default a task that only existed to serve dependents is discarded together
// with them.
func WithNoDiscard() Option {
	return func(t *Task) { t.noDiscard = true }
}

// WithCleanup registers fn to run once when the task reaches any terminal
// state, while holding the turn. Used by subprocess tasks to kill the child
// process on cancellation.
func WithCleanup(fn func(*Task)) Option {
	return func(t *Task) { t.onCleanup = fn }
}

type edgeKind int

const (
	edgeDependency edgeKind = iota
	edgeChild
)

// Task is a node in the task tree. All methods that mutate task state must
// run while holding the loop turn: inside a task body, an event handler, a
// background function, or (*Loop).Do.
type Task struct {
	id     string
	name   string
	loop   *Loop
	parent *Task
	body   Body

	state   State
	failure error // own failure cause, nil unless StateFailed
	outcome error // terminal taxonomy error, nil when StateDone

	children        []*Task
	pendingChildren map[*Task]struct{}
	nameCount       map[string]int

	deps        []*Task
	pendingDeps map[*Task]struct{}
	dependents  []*Task

	errHandlers map[*Task]func(error) error
	errFallback func(error) error
	hasFallback bool

	eventRegs   map[reflect.Type][]*eventReg
	eventSeq    int
	cursorTails map[reflect.Type]*eventTail

	ctxValues map[any]any

	started  *Signal
	finished *Signal
	aborted  *Signal

	useLease  bool
	lease     *jobserver.Lease
	noDiscard bool

	bgWait      int
	blockFinish int

	cancelledBy *Task
	onCleanup   func(*Task)
	cleaned     bool
	notified    bool

	traceCtx context.Context
	span     *tracing.Span
}

func newTask(l *Loop, parent *Task, body Body) *Task {
	return &Task{
		id:              idgen.New(),
		loop:            l,
		parent:          parent,
		body:            body,
		state:           StatePending,
		pendingChildren: map[*Task]struct{}{},
		pendingDeps:     map[*Task]struct{}{},
		started:         NewSignal(),
		finished:        NewSignal(),
		aborted:         NewSignal(),
	}
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// Name returns the task's sibling-unique name.
func (t *Task) Name() string { return t.name }

// Parent returns the parent task, nil for the root.
func (t *Task) Parent() *Task { return t.parent }

// Loop returns the loop the task belongs to.
func (t *Task) Loop() *Loop { return t.loop }

// State returns the current state. Reliable only while holding the turn or
// after the task reached a terminal state.
func (t *Task) State() State { return t.state }

// Failure returns the task's own failure cause, nil unless StateFailed.
func (t *Task) Failure() error { return t.failure }

// Path returns the dot-joined names from the root to this task.
func (t *Task) Path() string {
	if t.parent == nil {
		return t.name
	}
	return t.parent.Path() + "." + t.name
}

// Do runs fn while holding the turn; shorthand for t.Loop().Do(fn). For use
// from goroutines outside the loop only.
func (t *Task) Do(fn func()) { t.loop.Do(fn) }

// Spawn creates a child task. The child starts once this task is running and
// all of the child's dependencies finished.
func (t *Task) Spawn(body Body, opts ...Option) (*Task, error) {
	if t.state.Terminal() || t.finished.done {
		return nil, &InvalidStateError{Task: t, State: t.state, Op: "spawn"}
	}
	c := newTask(t.loop, t, body)
	for _, opt := range opts {
		opt(c)
	}
	t.adopt(c)
	go c.main()
	return c, nil
}

func (t *Task) adopt(c *Task) {
	name := c.name
	if name == "" {
		name = "task"
	}
	if t.nameCount == nil {
		t.nameCount = map[string]int{}
	}
	t.nameCount[name]++
	if n := t.nameCount[name]; n > 1 {
		name = fmt.Sprintf("%s-%d", name, n)
	}
	c.name = name
	t.children = append(t.children, c)
	t.pendingChildren[c] = struct{}{}
}

// DependsOn declares that t must not start before dep finished successfully.
// Only legal before t started. When dep already aborted the propagation
// happens immediately.
func (t *Task) DependsOn(dep *Task) error {
	if t.state != StatePending {
		return &InvalidStateError{Task: t, State: t.state, Op: "add dependency"}
	}
	if dep == t || dependsTransitively(dep, t, nil) {
		return &DependencyCycleError{Task: t, Dependency: dep}
	}
	t.deps = append(t.deps, dep)
	if dep.state.Terminal() {
		t.propagateFrom(dep, edgeDependency)
		return nil
	}
	t.pendingDeps[dep] = struct{}{}
	dep.dependents = append(dep.dependents, t)
	return nil
}

func dependsTransitively(from, target *Task, seen map[*Task]struct{}) bool {
	if from == target {
		return true
	}
	if seen == nil {
		seen = map[*Task]struct{}{}
	}
	if _, ok := seen[from]; ok {
		return false
	}
	seen[from] = struct{}{}
	for _, d := range from.deps {
		if dependsTransitively(d, target, seen) {
			return true
		}
	}
	return false
}

// HandleErrorFrom installs an error handler for failures propagating from one
// specific child or dependency. A handler returning nil recovers the task;
// returning an error fails the task with that error instead.
func (t *Task) HandleErrorFrom(from *Task, h func(error) error) {
	if t.errHandlers == nil {
		t.errHandlers = map[*Task]func(error) error{}
	}
	t.errHandlers[from] = h
}

// HandleErrors installs the fallback error handler consulted for every edge
// without a specific handler.
func (t *Task) HandleErrors(h func(error) error) {
	t.errFallback = h
	t.hasFallback = true
}

// Cancel requests cooperative cancellation. Idempotent. The still-running
// subtree is cancelled with it. When the canceller is itself a dependent or
// the parent of t, the termination does not propagate back into it.
func (t *Task) Cancel() {
	t.cancelVia(t.loop.current, false, nil)
}

// Wait blocks until the task reached a terminal state and returns its
// outcome: nil for StateDone, otherwise the taxonomy error. For goroutines
// outside the loop; from inside a task body use WaitFor.
func (t *Task) Wait() error {
	<-t.finished.ch
	return t.finished.err
}

// WaitFor suspends the calling task t until other reached a terminal state
// and returns other's outcome. The suspension is interrupted when t itself
// aborts.
func (t *Task) WaitFor(other *Task) error {
	return t.Await(other.finished)
}

// Await suspends the calling task until s resolves, releasing the turn while
// blocked. It returns early with the task's own terminal error when the task
// aborts first.
func (t *Task) Await(s *Signal) error {
	if s.done {
		return s.err
	}
	l := t.loop
	l.release()
	select {
	case <-s.ch:
	case <-t.aborted.ch:
	}
	l.acquire()
	l.current = t
	if s.done {
		return s.err
	}
	return t.aborted.err
}

// Sleep suspends the calling task for d, or until the task aborts.
func (t *Task) Sleep(d time.Duration) error {
	l := t.loop
	l.release()
	timer := time.NewTimer(d)
	defer timer.Stop()
	var err error
	select {
	case <-timer.C:
	case <-t.aborted.ch:
		err = t.aborted.err
	}
	l.acquire()
	l.current = t
	return err
}

// Background runs fn under the loop discipline on its own goroutine. With
// wait the task stays in StateWaiting until fn returned. An error from fn
// fails the task.
func (t *Task) Background(fn func(*Task) error, wait bool) error {
	if (t.state != StateRunning && t.state != StateWaiting) || t.finished.done {
		return &InvalidStateError{Task: t, State: t.state, Op: "run background function"}
	}
	if wait {
		t.bgWait++
	}
	go func() {
		l := t.loop
		l.acquire()
		l.current = t
		err := fn(t)
		// Fail before dropping the hold, otherwise the last background
		// function would complete the task and its error would be lost.
		if err != nil && !t.state.Terminal() {
			t.fail(err)
		}
		if wait {
			t.bgWait--
			t.checkFinish()
		}
		l.release()
	}()
	return nil
}

// BlockFinishing holds the task open: it will not leave StateWaiting before
// the returned release function ran. The release function is idempotent and
// must be called while holding the turn.
func (t *Task) BlockFinishing() func() {
	t.blockFinish++
	var once sync.Once
	return func() {
		once.Do(func() {
			t.blockFinish--
			t.checkFinish()
		})
	}
}

// main drives the task lifecycle on its own goroutine.
func (t *Task) main() {
	l := t.loop
	l.acquire()
	l.current = t
	defer l.release()
	if t.state.Terminal() {
		return
	}
	emit(t, StateChange{To: StatePending})
	t.checkStart()
	if err := t.Await(t.started); err != nil {
		return
	}
	t.setState(StateRunning)
	if l.tracing {
		parentCtx := l.baseCtx
		if t.parent != nil && t.parent.traceCtx != nil {
			parentCtx = t.parent.traceCtx
		}
		t.traceCtx, t.span = tracing.StartSpan(parentCtx, "task "+t.Path(), "INTERNAL")
		t.span.WithAttributes(map[string]string{"task.id": t.id})
	}
	for _, c := range t.children {
		c.checkStart()
	}
	var err error
	if t.body != nil {
		err = t.body(t)
	}
	if t.state.Terminal() {
		return
	}
	if err != nil {
		t.fail(err)
		return
	}
	t.setState(StateWaiting)
	t.checkFinish()
	t.Await(t.finished)
}

// checkStart resolves the started signal once the parent is running, all
// dependencies finished and, when leased, a job slot was granted.
func (t *Task) checkStart() {
	if t.state != StatePending {
		return
	}
	if t.parent != nil && t.parent.state == StatePending {
		return
	}
	if len(t.pendingDeps) > 0 {
		return
	}
	if t.useLease && t.loop.jobs != nil {
		if t.lease == nil {
			t.lease = t.loop.jobs.Request()
			t.lease.OnReady(func() {
				t.loop.Do(t.checkStart)
			})
		}
		if !t.lease.Ready() {
			return
		}
	}
	t.started.Resolve(nil)
}

// checkFinish completes the task once nothing holds it open. The whole
// StateWaiting to StateDone transition runs while the resolver holds the
// turn, which may be the goroutine of the last finishing child; a waiter
// woken by the finished signal therefore never observes a pre-terminal
// state.
func (t *Task) checkFinish() {
	if t.state != StateWaiting {
		return
	}
	if len(t.pendingChildren) > 0 || t.bgWait > 0 || t.blockFinish > 0 {
		return
	}
	t.releaseLease()
	t.finished.Resolve(nil)
	t.setState(StateDone)
	t.cleanup()
	t.notifyFinished()
}

func (t *Task) setState(s State) {
	from := t.state
	t.state = s
	if s.Terminal() && t.span != nil {
		tracing.EndSpan(t.span, t.failure)
		t.span = nil
	}
	emit(t, StateChange{From: from, To: s})
}

// fail moves the task to StateFailed, discarding its children and notifying
// parent and dependents before any other task resumes.
func (t *Task) fail(cause error) {
	if cause == nil || t.state.Terminal() {
		return
	}
	var ce *CancelledError
	if errors.As(cause, &ce) && ce.Task == t {
		t.cancelVia(nil, false, ce.Cause)
		return
	}
	t.releaseLease()
	t.failure = cause
	fe := &FailedError{Task: t, Cause: cause}
	t.outcome = fe
	t.started.Resolve(fe)
	t.finished.Resolve(fe)
	t.aborted.Resolve(fe)
	t.setState(StateFailed)
	for _, c := range t.children {
		if !c.state.Terminal() {
			c.cancelVia(t, true, fe)
		}
	}
	t.cleanup()
	t.notifyFinished()
}

// cancelVia moves the task to StateCancelled (explicit request) or
// StateDiscarded (casualty of propagation), taking its subtree with it.
func (t *Task) cancelVia(by *Task, discard bool, cause error) {
	if t.state.Terminal() {
		return
	}
	t.releaseLease()
	t.cancelledBy = by
	ce := &CancelledError{Task: t, Cause: cause}
	t.outcome = ce
	t.started.Resolve(ce)
	t.finished.Resolve(ce)
	t.aborted.Resolve(ce)
	if discard {
		t.setState(StateDiscarded)
	} else {
		t.setState(StateCancelled)
	}
	for _, c := range t.children {
		if !c.state.Terminal() {
			c.cancelVia(by, discard, ce)
		}
	}
	t.cleanup()
	t.notifyFinished()
}

// notifyFinished tells the parent and all dependents that t reached a
// terminal state. Runs exactly once, while holding the turn, so propagation
// completes before any suspended task resumes.
func (t *Task) notifyFinished() {
	if t.notified {
		return
	}
	t.notified = true
	if t.parent != nil {
		t.parent.childFinished(t)
	}
	deps := append([]*Task(nil), t.dependents...)
	t.dependents = nil
	for _, d := range deps {
		d.dependencyFinished(t)
	}
}

func (t *Task) childFinished(c *Task) {
	delete(t.pendingChildren, c)
	if t.state.Terminal() {
		return
	}
	t.propagateFrom(c, edgeChild)
	t.checkFinish()
}

func (t *Task) dependencyFinished(dep *Task) {
	delete(t.pendingDeps, dep)
	if t.state.Terminal() {
		return
	}
	t.propagateFrom(dep, edgeDependency)
	t.checkStart()
}

// propagateFrom reacts to a terminal child or dependency: consult the error
// handlers, then fail on propagated failure or discard on propagated
// cancellation. A task that itself cancelled the other task is not affected
// by the resulting termination.
func (t *Task) propagateFrom(from *Task, kind edgeKind) {
	if t.state.Terminal() || !from.state.Aborted() {
		return
	}
	if from.cancelledBy == t {
		return
	}
	cancelled := from.state == StateCancelled || from.state == StateDiscarded
	var wrapped error
	switch {
	case kind == edgeChild && cancelled:
		wrapped = &ChildCancelledError{Child: from, Cause: from.outcome}
	case kind == edgeChild:
		wrapped = &ChildFailedError{Child: from, Cause: from.outcome}
	case cancelled:
		wrapped = &DependencyCancelledError{Dependency: from, Cause: from.outcome}
	default:
		wrapped = &DependencyFailedError{Dependency: from, Cause: from.outcome}
	}
	h, ok := t.errFallback, t.hasFallback
	if eh, found := t.errHandlers[from]; found {
		h, ok = eh, true
	}
	if ok {
		if h == nil {
			return
		}
		if herr := h(wrapped); herr != nil {
			t.fail(herr)
		}
		return
	}
	if cancelled {
		t.cancelVia(nil, true, wrapped)
	} else {
		t.fail(wrapped)
	}
}

func (t *Task) releaseLease() {
	if t.lease != nil {
		t.lease.Return()
		t.lease = nil
	}
}

// cleanup runs once per task at terminal state: release the job slot, run
// the cleanup hook, drop dependency registrations and close event streams.
// A dependency left with no dependents is discarded unless spawned with
// WithNoDiscard.
func (t *Task) cleanup() {
	if t.cleaned {
		return
	}
	t.cleaned = true
	t.releaseLease()
	t.aborted.Resolve(ErrTaskFinished)
	if t.onCleanup != nil {
		t.onCleanup(t)
	}
	for d := range t.pendingDeps {
		d.removeDependent(t)
		if !d.state.Terminal() && len(d.dependents) == 0 && !d.noDiscard {
			d.cancelVia(nil, true, nil)
		}
	}
	t.pendingDeps = map[*Task]struct{}{}
	for _, tail := range t.cursorTails {
		tail.sig.Resolve(ErrStreamDone)
	}
	if t.span != nil {
		tracing.EndSpan(t.span, t.failure)
		t.span = nil
	}
}

func (t *Task) removeDependent(d *Task) {
	for i, x := range t.dependents {
		if x == d {
			t.dependents = append(t.dependents[:i], t.dependents[i+1:]...)
			return
		}
	}
}
