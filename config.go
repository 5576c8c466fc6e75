package loom

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the runtime configuration. It
// can be populated from YAML or JSON; the zero value inherits all defaults.
type Config struct {
	// JobCount caps concurrently running leased tasks. Zero means: use an
	// inherited make jobserver when present, otherwise the CPU count.
	JobCount int `json:"jobCount,omitempty" yaml:"jobCount,omitempty"`
	// HandleSignals makes Run translate SIGINT into root cancellation.
	HandleSignals bool `json:"handleSignals" yaml:"handleSignals"`
	// Tracing records an OpenTelemetry span per task.
	Tracing bool `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	// TraceOutput is the span export file, empty for stdout.
	TraceOutput string `json:"traceOutput,omitempty" yaml:"traceOutput,omitempty"`
}

// DefaultConfig returns the configuration used when no options override it.
func DefaultConfig() Config {
	return Config{HandleSignals: true}
}

// Validate returns an error describing invalid settings, or nil.
func (c *Config) Validate() error {
	if c.JobCount < 0 {
		return fmt.Errorf("jobCount must not be negative, got %d", c.JobCount)
	}
	return nil
}

// LoadConfig reads a YAML config from URL, overlaying the defaults. URL
// accepts anything the afs service handles.
func LoadConfig(ctx context.Context, URL string) (Config, error) {
	cfg := DefaultConfig()
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", URL, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", URL, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
