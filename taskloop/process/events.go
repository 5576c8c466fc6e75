package process

import (
	"fmt"
	"strings"
)

// Output is implemented by both line event payloads, so a single
// interface-typed registration observes stdout and stderr together.
type Output interface {
	Text() string
}

// Stdout carries one line of standard output.
type Stdout struct {
	Line string
}

func (s Stdout) Text() string { return s.Line }

// Stderr carries one line of standard error.
type Stderr struct {
	Line string
}

func (s Stderr) Text() string { return s.Line }

// Exit is emitted once after the output streams drained.
type Exit struct {
	Code int
}

// ExitError fails a process task whose command exited with a non-zero
// status.
type ExitError struct {
	Argv []string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", strings.Join(e.Argv, " "), e.Code)
}
