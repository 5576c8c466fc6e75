package loom

import (
	"context"
	"os"
	"os/signal"

	"github.com/loomkit/loom/taskloop"
	"github.com/loomkit/loom/taskloop/jobserver"
	"github.com/loomkit/loom/tracing"
)

// Runtime runs one root task to completion.
type Runtime struct {
	config Config
	loop   *taskloop.Loop
	jobs   *jobserver.Client
}

// New builds a runtime from the default configuration and options.
func New(opts ...Option) *Runtime {
	r := &Runtime{config: DefaultConfig()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Runtime) Config() Config { return r.config }

// Loop returns the task loop, nil before Run.
func (r *Runtime) Loop() *taskloop.Loop { return r.loop }

// Run executes body as the root task and blocks until the whole tree
// reached a terminal state. It returns nil when the root finished, the
// taxonomy error otherwise. Cancelling ctx or receiving SIGINT cancels the
// root cooperatively; SIGINT additionally emits an Interrupted event first.
func (r *Runtime) Run(ctx context.Context, body taskloop.Body) error {
	if err := r.config.Validate(); err != nil {
		return err
	}
	if r.config.Tracing {
		if err := tracing.Init("loom", "0.1.0", r.config.TraceOutput); err != nil {
			return err
		}
	}
	if r.jobs == nil {
		jobs, err := jobserver.NewClient(jobserver.WithJobCount(r.config.JobCount))
		if err != nil {
			return err
		}
		r.jobs = jobs
		defer func() {
			_ = jobs.Close()
			r.jobs = nil
		}()
	}

	loop := taskloop.NewLoop(
		taskloop.WithJobs(r.jobs),
		taskloop.WithTracing(r.config.Tracing),
	)
	r.loop = loop
	root := loop.Run(body)

	done := make(chan struct{})
	defer close(done)
	var sigCh chan os.Signal
	if r.config.HandleSignals {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
	}
	go func() {
		select {
		case <-sigCh:
			loop.Do(func() {
				taskloop.Emit(root, taskloop.Interrupted{})
				root.Cancel()
			})
		case <-ctx.Done():
			loop.Do(root.Cancel)
		case <-done:
		}
	}()

	return root.Wait()
}
