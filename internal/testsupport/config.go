package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"docflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = ""
	cfgVal.Queues.PollIntervalMillis = 10
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithMaxAutofixAttempts sets the verify/autofix bound. Zero removes it.
func WithMaxAutofixAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxAutofixAttempts = n
	}
}

// WithTaskTimeout sets the per-task deadline.
func WithTaskTimeout(d time.Duration) ConfigOption {
	return func(b *configBuilder) {
		seconds := int(d / time.Second)
		if seconds <= 0 {
			seconds = 1
		}
		b.cfg.Workflow.TaskTimeoutSeconds = seconds
	}
}

// WithQueueAttempts sets how many deliveries a job gets.
func WithQueueAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queues.Attempts = n
	}
}

// WithLogDir routes daemon logs into the test's temp directory.
func WithLogDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.LogDir = filepath.Join(b.baseDir, "logs")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
