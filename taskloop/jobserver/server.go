package jobserver

import (
	"bytes"
	"fmt"
	"os"
)

// Server owns a slot pipe that child processes join through MAKEFLAGS. The
// pipe is pre-filled with jobCount-1 tokens; per the make protocol every
// process holds one implicit slot.
type Server struct {
	jobCount int
	r, w     *os.File
}

// NewServer creates a slot pipe for jobCount concurrent jobs.
func NewServer(jobCount int) (*Server, error) {
	if jobCount < 1 {
		return nil, fmt.Errorf("job count must be at least 1, got %d", jobCount)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if jobCount > 1 {
		if _, err := w.Write(bytes.Repeat([]byte{'+'}, jobCount-1)); err != nil {
			_ = r.Close()
			_ = w.Close()
			return nil, err
		}
	}
	return &Server{jobCount: jobCount, r: r, w: w}, nil
}

// JobCount returns the slot count.
func (s *Server) JobCount() int { return s.jobCount }

// ExtraFiles returns the pipe ends to pass to exec.Cmd.ExtraFiles. They
// appear as fds 3 and 4 in the child, matching Makeflags.
func (s *Server) ExtraFiles() []*os.File {
	return []*os.File{s.r, s.w}
}

// Makeflags returns the MAKEFLAGS value announcing this server to a child
// started with ExtraFiles.
func (s *Server) Makeflags() string {
	return fmt.Sprintf("-j%d --jobserver-auth=3,4 --jobserver-fds=3,4", s.jobCount)
}

// Close closes both pipe ends.
func (s *Server) Close() error {
	err := s.r.Close()
	if werr := s.w.Close(); err == nil {
		err = werr
	}
	return err
}
