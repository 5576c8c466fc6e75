package jobserver

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Client hands out job slots. Depending on the environment the slots come
// from an inherited make jobserver pipe or fifo, or from a local semaphore.
type Client struct {
	mu      sync.Mutex
	info    *EnvInfo
	slots   int
	local   *semaphore.Weighted
	readF   *os.File
	writeF  *os.File
	pending []*Lease
	reading bool
	server  *Server
	closed  bool
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	jobCount int
	env      *EnvInfo
	noEnv    bool
}

// WithJobCount sets the slot count used when no jobserver is inherited.
func WithJobCount(n int) ClientOption {
	return func(c *clientConfig) { c.jobCount = n }
}

// WithEnvInfo supplies a pre-parsed MAKEFLAGS configuration instead of
// reading the process environment.
func WithEnvInfo(info *EnvInfo) ClientOption {
	return func(c *clientConfig) { c.env = info }
}

// WithoutEnv ignores any inherited jobserver and always uses local slots.
func WithoutEnv() ClientOption {
	return func(c *clientConfig) { c.noEnv = true }
}

// NewClient builds a client. Order of preference: inherited fifo, inherited
// pipe fds, local semaphore sized by the configured job count, -jN from
// MAKEFLAGS, or the CPU count.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	info := cfg.env
	if info == nil && !cfg.noEnv {
		parsed, err := ParseEnv()
		if err != nil {
			return nil, err
		}
		info = parsed
	}
	c := &Client{info: info}
	if info != nil && info.FifoPath != "" {
		f, err := os.OpenFile(info.FifoPath, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("open jobserver fifo %s: %w", info.FifoPath, err)
		}
		c.readF, c.writeF = f, f
		c.slots = info.JobCount
		return c, nil
	}
	if info != nil && info.HasFDs {
		c.readF = os.NewFile(uintptr(info.ReadFD), "jobserver-r")
		c.writeF = os.NewFile(uintptr(info.WriteFD), "jobserver-w")
		if c.readF == nil || c.writeF == nil {
			return nil, fmt.Errorf("invalid jobserver fds %d,%d", info.ReadFD, info.WriteFD)
		}
		c.slots = info.JobCount
		return c, nil
	}
	n := cfg.jobCount
	if n <= 0 && info != nil {
		n = info.JobCount
	}
	if n <= 0 {
		n = runtime.NumCPU()
	}
	c.slots = n
	c.local = semaphore.NewWeighted(int64(n))
	return c, nil
}

// Slots returns the configured slot count, 0 when unknown.
func (c *Client) Slots() int { return c.slots }

// Request asks for a job slot without blocking. The returned lease becomes
// ready once a slot was granted; register interest with OnReady.
func (c *Client) Request() *Lease {
	l := &Lease{c: c}
	if c.local != nil {
		if c.local.TryAcquire(1) {
			l.grant(0, false)
			return l
		}
		ctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		go func() {
			if err := c.local.Acquire(ctx, 1); err != nil {
				return
			}
			if !l.grant(0, false) {
				c.local.Release(1)
			}
		}()
		return l
	}
	c.mu.Lock()
	c.pending = append(c.pending, l)
	if !c.reading {
		c.reading = true
		go c.readLoop()
	}
	c.mu.Unlock()
	return l
}

// readLoop pulls slot tokens off the jobserver pipe while leases are
// pending.
func (c *Client) readLoop() {
	buf := make([]byte, 1)
	for {
		c.mu.Lock()
		if len(c.pending) == 0 || c.closed {
			c.reading = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		n, err := c.readF.Read(buf)
		if err != nil {
			c.mu.Lock()
			c.reading = false
			c.mu.Unlock()
			return
		}
		if n == 0 {
			continue
		}
		var next *Lease
		c.mu.Lock()
		for len(c.pending) > 0 {
			next = c.pending[0]
			c.pending = c.pending[1:]
			if !next.isDone() {
				break
			}
			next = nil
		}
		c.mu.Unlock()
		if next == nil || !next.grant(buf[0], true) {
			c.writeToken(buf[0])
		}
	}
}

func (c *Client) writeToken(tok byte) {
	_, _ = c.writeF.Write([]byte{tok})
}

func (c *Client) dropPending(l *Lease) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.pending {
		if x == l {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// Server returns a jobserver server re-exporting this client's slot pool to
// child processes. In local mode one is created lazily; in inherited modes
// the original pipe is shared, so no separate server exists and nil is
// returned.
func (c *Client) Server() (*Server, error) {
	if c.local == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server == nil {
		s, err := NewServer(c.slots)
		if err != nil {
			return nil, err
		}
		c.server = s
	}
	return c.server, nil
}

// SubprocessEnv sets MAKEFLAGS in env so that a child process can join the
// slot pool, and returns the files to pass as ExtraFiles (fds 3 and 4 in the
// child).
func (c *Client) SubprocessEnv(env map[string]string) ([]*os.File, error) {
	if c.info != nil && c.info.FifoPath != "" {
		env["MAKEFLAGS"] = c.info.Raw
		return nil, nil
	}
	if c.readF != nil {
		flags := fmt.Sprintf("-j%d --jobserver-auth=3,4 --jobserver-fds=3,4", c.slots)
		env["MAKEFLAGS"] = flags
		return []*os.File{c.readF, c.writeF}, nil
	}
	s, err := c.Server()
	if err != nil {
		return nil, err
	}
	env["MAKEFLAGS"] = s.Makeflags()
	return s.ExtraFiles(), nil
}

// Close releases the pipe or fifo handles and the lazily created server.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	server := c.server
	c.server = nil
	c.mu.Unlock()
	var err error
	if c.readF != nil {
		err = c.readF.Close()
		if c.writeF != c.readF {
			if cerr := c.writeF.Close(); err == nil {
				err = cerr
			}
		}
	}
	if server != nil {
		if cerr := server.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Lease is one job slot grant. It starts not ready; once granted it stays
// ready until returned. Return is idempotent and safe to call before the
// grant, in which case the request is abandoned.
type Lease struct {
	c        *Client
	mu       sync.Mutex
	ready    bool
	done     bool
	readyFn  func()
	token    byte
	hasToken bool
	cancel   context.CancelFunc
}

// Ready reports whether the slot was granted.
func (l *Lease) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *Lease) isDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// OnReady registers fn to run once the slot is granted. The callback is
// invoked from a client goroutine, never synchronously from OnReady.
func (l *Lease) OnReady(fn func()) {
	l.mu.Lock()
	if l.ready {
		l.mu.Unlock()
		go fn()
		return
	}
	l.readyFn = fn
	l.mu.Unlock()
}

// grant marks the lease ready. It reports false when the lease was already
// returned, in which case the caller keeps the slot.
func (l *Lease) grant(tok byte, hasTok bool) bool {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return false
	}
	l.ready = true
	l.token, l.hasToken = tok, hasTok
	fn := l.readyFn
	l.readyFn = nil
	l.mu.Unlock()
	if fn != nil {
		go fn()
	}
	return true
}

// Return gives the slot back. Safe to call multiple times and before the
// slot was granted.
func (l *Lease) Return() {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return
	}
	l.done = true
	wasReady := l.ready
	hasTok, tok := l.hasToken, l.token
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !wasReady {
		if l.c.local == nil {
			l.c.dropPending(l)
		}
		return
	}
	if l.c.local != nil {
		l.c.local.Release(1)
		return
	}
	if hasTok {
		l.c.writeToken(tok)
	}
}
