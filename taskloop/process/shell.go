package process

import (
	"context"
	"strings"

	"github.com/loomkit/loom/taskloop"
	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
)

// ShellOption configures a shell task.
type ShellOption func(*shellTask)

// WithShellTimeout bounds the command line run time in milliseconds.
func WithShellTimeout(ms int) ShellOption {
	return func(s *shellTask) { s.timeoutMs = ms }
}

type shellTask struct {
	cmdline   string
	timeoutMs int
}

// Shell spawns a child task of parent that runs cmdline through a local
// shell session. Output is emitted as Stdout line events followed by an Exit
// event; a non-zero status fails the task.
func Shell(parent *taskloop.Task, cmdline string, opts ...ShellOption) (*taskloop.Task, error) {
	s := &shellTask{cmdline: cmdline, timeoutMs: 60_000}
	for _, opt := range opts {
		opt(s)
	}
	return parent.Spawn(s.run, taskloop.WithName("shell"), taskloop.WithLease())
}

func (s *shellTask) run(t *taskloop.Task) error {
	env := Env.Snapshot(t)
	cwd, err := Cwd.Get(t)
	if err != nil {
		return err
	}

	sig := taskloop.NewSignal()
	var out string
	var status int
	go func() {
		ctx := context.Background()
		envOptions := []runner.Option{}
		if len(env) > 0 {
			envOptions = append(envOptions, runner.WithEnvironment(env))
		}
		service, err := gosh.New(ctx, local.New(envOptions...))
		if err != nil {
			t.Do(func() { sig.Resolve(err) })
			return
		}
		defer service.Close()
		if cwd != "" {
			if _, _, err := service.Run(ctx, "cd "+cwd); err != nil {
				t.Do(func() { sig.Resolve(err) })
				return
			}
		}
		o, st, rerr := service.Run(ctx, s.cmdline, runner.WithTimeout(s.timeoutMs))
		t.Do(func() {
			out, status = o, st
			sig.Resolve(rerr)
		})
	}()
	if err := t.Await(sig); err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		taskloop.Emit(t, Stdout{Line: line})
	}
	taskloop.Emit(t, Exit{Code: status})
	if status != 0 {
		return &ExitError{Argv: []string{"sh", "-c", s.cmdline}, Code: status}
	}
	return nil
}
