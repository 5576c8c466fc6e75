package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/loomkit/loom/taskloop"
)

// Cwd is the working directory for process tasks, inherited along the task
// tree. Defaults to the driver process working directory.
var Cwd = taskloop.NewContextVar[string]("process.cwd",
	taskloop.WithDefaultFunc(func() string {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}))

// Env is the environment for process tasks. Keys set or deleted on a task
// apply to its whole subtree; the base mapping is the driver process
// environment.
var Env = taskloop.NewContextMap[string, string]("process.env",
	taskloop.WithMapDefault(environMap))

func environMap() map[string]string {
	m := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func flatten(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Option configures a process task.
type Option func(*Process)

// WithInteractive opens a stdin pipe. Data passed to Write before the
// command started is buffered and flushed on start.
func WithInteractive() Option {
	return func(p *Process) { p.interactive = true }
}

// WithExitHandler replaces the default non-zero-exit failure: fn receives
// the exit code and its return value becomes the task outcome.
func WithExitHandler(fn func(code int) error) Option {
	return func(p *Process) { p.exitHandler = fn }
}

// WithoutLease starts the command without acquiring a job slot.
func WithoutLease() Option {
	return func(p *Process) { p.useLease = false }
}

// Process is a task wrapping one subprocess.
type Process struct {
	task        *taskloop.Task
	argv        []string
	interactive bool
	exitHandler func(int) error
	useLease    bool

	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdinBuf    bytes.Buffer
	stdinClosed bool
	started     bool
	exited      bool
	exitCode    int
}

// New spawns a child task of parent that runs argv. The command does not
// start before the task started, so context variables set on ancestors after
// New but before the task runs are still honoured.
func New(parent *taskloop.Task, argv []string, opts ...Option) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("process: empty argv")
	}
	p := &Process{argv: argv, useLease: true, exitCode: -1}
	for _, opt := range opts {
		opt(p)
	}
	topts := []taskloop.Option{
		taskloop.WithName(filepath.Base(argv[0])),
		taskloop.WithCleanup(p.cleanup),
	}
	if p.useLease {
		topts = append(topts, taskloop.WithLease())
	}
	t, err := parent.Spawn(p.run, topts...)
	if err != nil {
		return nil, err
	}
	p.task = t
	return p, nil
}

// Task returns the underlying task.
func (p *Process) Task() *taskloop.Task { return p.task }

// ExitCode returns the command's exit status, -1 before exit.
func (p *Process) ExitCode() int { return p.exitCode }

func (p *Process) run(t *taskloop.Task) error {
	cwd, err := Cwd.Get(t)
	if err != nil {
		return err
	}
	env := Env.Snapshot(t)
	var extra []*os.File
	if jobs := t.Loop().Jobs(); jobs != nil {
		files, err := jobs.SubprocessEnv(env)
		if err != nil {
			return err
		}
		extra = files
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = flatten(env)
	cmd.ExtraFiles = extra
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if p.interactive {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return err
		}
		p.stdin = stdin
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.argv[0], err)
	}
	p.cmd = cmd
	p.started = true
	if p.interactive {
		if p.stdinBuf.Len() > 0 {
			if _, err := p.stdin.Write(p.stdinBuf.Bytes()); err != nil {
				return fmt.Errorf("write buffered stdin: %w", err)
			}
			p.stdinBuf.Reset()
		}
		if p.stdinClosed {
			_ = p.stdin.Close()
		}
	}

	// Both pipes must be drained before cmd.Wait closes them.
	var pumps sync.WaitGroup
	pumps.Add(2)
	go p.pump(t, stdout, &pumps, func(line string) any { return Stdout{Line: line} })
	go p.pump(t, stderr, &pumps, func(line string) any { return Stderr{Line: line} })

	exit := taskloop.NewSignal()
	go func() {
		pumps.Wait()
		werr := cmd.Wait()
		t.Do(func() {
			p.exited = true
			code := 0
			if werr != nil {
				var ee *exec.ExitError
				if !errors.As(werr, &ee) {
					exit.Resolve(fmt.Errorf("wait %s: %w", p.argv[0], werr))
					return
				}
				code = ee.ExitCode()
			}
			p.exitCode = code
			exit.Resolve(nil)
		})
	}()
	if err := t.Await(exit); err != nil {
		return err
	}
	taskloop.Emit(t, Exit{Code: p.exitCode})
	if p.exitHandler != nil {
		return p.exitHandler(p.exitCode)
	}
	if p.exitCode != 0 {
		return &ExitError{Argv: p.argv, Code: p.exitCode}
	}
	return nil
}

func (p *Process) pump(t *taskloop.Task, r io.Reader, wg *sync.WaitGroup, mk func(string) any) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		t.Do(func() {
			taskloop.Emit(t, mk(line))
		})
	}
}

// cleanup kills the command when the task aborts before the command exited.
func (p *Process) cleanup(t *taskloop.Task) {
	if p.started && !p.exited && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// Write sends data to the command's stdin. Before the command started the
// data is buffered. Requires WithInteractive.
func (p *Process) Write(data []byte) error {
	if !p.interactive {
		return fmt.Errorf("process %s is not interactive", p.task.Path())
	}
	if p.stdinClosed {
		return fmt.Errorf("stdin of %s already closed", p.task.Path())
	}
	if !p.started {
		p.stdinBuf.Write(data)
		return nil
	}
	_, err := p.stdin.Write(data)
	return err
}

// CloseStdin closes the command's stdin, flushing first when the command has
// not started yet.
func (p *Process) CloseStdin() error {
	if p.stdinClosed {
		return nil
	}
	p.stdinClosed = true
	if p.started && p.stdin != nil {
		return p.stdin.Close()
	}
	return nil
}
