package loom

import "github.com/loomkit/loom/taskloop/jobserver"

// Option configures a Runtime.
type Option func(*Runtime)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) { r.config = cfg }
}

// WithJobCount caps concurrently running leased tasks.
func WithJobCount(n int) Option {
	return func(r *Runtime) { r.config.JobCount = n }
}

// WithoutSignalHandling leaves SIGINT to the caller.
func WithoutSignalHandling() Option {
	return func(r *Runtime) { r.config.HandleSignals = false }
}

// WithTracing records an OpenTelemetry span per task, exported to
// outputFile or stdout when empty.
func WithTracing(outputFile string) Option {
	return func(r *Runtime) {
		r.config.Tracing = true
		r.config.TraceOutput = outputFile
	}
}

// WithJobs supplies a pre-built jobserver client instead of deriving one
// from MAKEFLAGS and the job count.
func WithJobs(c *jobserver.Client) Option {
	return func(r *Runtime) { r.jobs = c }
}
