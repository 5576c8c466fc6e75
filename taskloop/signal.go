package taskloop

// Signal is a one-shot completion cell. It is resolved at most once, while
// holding the loop turn, and awaited with (*Task).Await. External goroutines
// resolve signals inside (*Loop).Do.
type Signal struct {
	ch   chan struct{}
	err  error
	done bool
}

// NewSignal returns an unresolved signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Resolve completes the signal with err. Subsequent calls are no-ops. The
// caller must hold the loop turn.
func (s *Signal) Resolve(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.ch)
}

// Done reports whether the signal was resolved.
func (s *Signal) Done() bool { return s.done }

// Err returns the resolution error, nil until resolved.
func (s *Signal) Err() error { return s.err }
