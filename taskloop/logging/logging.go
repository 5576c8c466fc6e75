// Package logging routes log records through the task event bus. Records
// are Message events; rendering is a listener installed on the root task, so
// scope, verbosity and quietness follow context propagation.
package logging

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/loomkit/loom/sourcestr"
	"github.com/loomkit/loom/taskloop"
)

// Level orders log records by severity.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int8(l))
}

// Scope is a label prefixed to rendered records, inherited along the tree.
var Scope = taskloop.NewContextVar[string]("log.scope", taskloop.WithDefault(""))

// Quiet demotes info records to debug for a subtree.
var Quiet = taskloop.NewContextVar[bool]("log.quiet", taskloop.WithDefault(false))

// MinLevel is the per-subtree rendering threshold.
var MinLevel = taskloop.NewContextVar[Level]("log.level", taskloop.WithDefault(LevelInfo))

// Message is one log record published on the event bus.
type Message struct {
	Msg   string
	Level Level
	Scope string
	Time  time.Time
}

// Log emits a record at the given level on behalf of t.
func Log(t *taskloop.Task, level Level, msg string) {
	scope, _ := Scope.Get(t)
	if q, _ := Quiet.Get(t); q && level == LevelInfo {
		level = LevelDebug
	}
	taskloop.Emit(t, Message{Msg: msg, Level: level, Scope: scope, Time: time.Now()})
}

// Debugf emits a debug record.
func Debugf(t *taskloop.Task, format string, args ...any) {
	Log(t, LevelDebug, fmt.Sprintf(format, args...))
}

// Infof emits an info record.
func Infof(t *taskloop.Task, format string, args ...any) {
	Log(t, LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf emits a warning record.
func Warnf(t *taskloop.Task, format string, args ...any) {
	Log(t, LevelWarning, fmt.Sprintf(format, args...))
}

// Errorf emits an error record and returns it as an error, so a body can
// log and fail in one step.
func Errorf(t *taskloop.Task, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	Log(t, LevelError, msg)
	return &LoggedError{Msg: msg}
}

// LoggedError marks an error that already produced a log record; the root
// handler does not log it again.
type LoggedError struct {
	Msg string
}

func (e *LoggedError) Error() string { return e.Msg }

// StartOption configures the renderer installed by Start.
type StartOption func(*renderer)

// WithTimeFormat sets the timestamp layout, empty for no timestamps.
func WithTimeFormat(layout string) StartOption {
	return func(r *renderer) { r.timeFormat = layout }
}

type renderer struct {
	w          io.Writer
	timeFormat string
}

// Start installs a rendering listener on t, observing records from the
// whole subtree. The returned function removes it.
func Start(t *taskloop.Task, w io.Writer, opts ...StartOption) func() {
	r := &renderer{w: w, timeFormat: "15:04:05"}
	for _, opt := range opts {
		opt(r)
	}
	removeMsg := taskloop.Handle(t, func(src *taskloop.Task, m Message) error {
		min, _ := MinLevel.Get(src)
		if m.Level < min {
			return nil
		}
		r.render(m)
		return nil
	})
	removeInt := taskloop.Handle(t, func(src *taskloop.Task, _ taskloop.Interrupted) error {
		fmt.Fprintln(r.w, "interrupted")
		return nil
	})
	return func() {
		removeMsg()
		removeInt()
	}
}

func (r *renderer) render(m Message) {
	var prefix string
	if r.timeFormat != "" {
		prefix = m.Time.Format(r.timeFormat) + " "
	}
	if m.Scope != "" {
		prefix += m.Scope + ": "
	}
	switch m.Level {
	case LevelWarning:
		prefix += "warning: "
	case LevelError:
		prefix += "error: "
	case LevelDebug:
		prefix += "debug: "
	}
	fmt.Fprintf(r.w, "%s%s\n", prefix, m.Msg)
}

// InstallRootHandler makes root log any propagated failure before failing.
// Input diagnostics render with source locations and carets; errors already
// logged pass through untouched.
func InstallRootHandler(root *taskloop.Task) {
	root.HandleErrors(func(err error) error {
		var le *LoggedError
		if errors.As(err, &le) {
			return err
		}
		var ie *sourcestr.InputError
		if errors.As(err, &ie) {
			Log(root, LevelError, ie.Report())
			return err
		}
		if !taskloop.IsCancellation(err) {
			Log(root, LevelError, err.Error())
		}
		return err
	})
}
