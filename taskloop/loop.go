package taskloop

import (
	"context"

	"github.com/loomkit/loom/taskloop/jobserver"
)

// Loop owns the turn token that serialises all task logic. A loop runs one
// root task; everything else hangs off it.
type Loop struct {
	turn    chan struct{}
	root    *Task
	jobs    *jobserver.Client
	current *Task
	tracing bool
	baseCtx context.Context
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithJobs limits task concurrency through the supplied jobserver client.
// Tasks spawned with WithLease hold a job slot while running.
func WithJobs(c *jobserver.Client) LoopOption {
	return func(l *Loop) { l.jobs = c }
}

// WithTracing records an OpenTelemetry span per task lifetime.
func WithTracing(enabled bool) LoopOption {
	return func(l *Loop) { l.tracing = enabled }
}

// NewLoop creates an idle loop. The turn token starts available.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		turn:    make(chan struct{}, 1),
		baseCtx: context.Background(),
	}
	l.turn <- struct{}{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run creates and starts the root task. It returns immediately; use
// (*Task).Wait on the result to block until the root reached a terminal
// state.
func (l *Loop) Run(body Body, opts ...Option) *Task {
	root := newTask(l, nil, body)
	for _, opt := range opts {
		opt(root)
	}
	if root.name == "" {
		root.name = "root"
	}
	l.root = root
	go root.main()
	return root
}

// Root returns the root task, nil before Run.
func (l *Loop) Root() *Task { return l.root }

// Jobs returns the jobserver client, nil when concurrency is unlimited.
func (l *Loop) Jobs() *jobserver.Client { return l.jobs }

// Do runs fn while holding the turn token. It is the only safe way for
// goroutines outside the loop to touch task state. Calling Do while already
// holding the turn deadlocks.
func (l *Loop) Do(fn func()) {
	l.acquire()
	prev := l.current
	l.current = nil
	fn()
	l.current = prev
	l.release()
}

func (l *Loop) acquire() { <-l.turn }

func (l *Loop) release() { l.turn <- struct{}{} }
