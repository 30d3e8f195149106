package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Queues configures the job queue substrate and its worker pools.
type Queues struct {
	DefaultConcurrency int            `toml:"default_concurrency"`
	Concurrency        map[string]int `toml:"concurrency"`
	PollIntervalMillis int            `toml:"poll_interval_ms"`
	LeaseSeconds       int            `toml:"lease_seconds"`
	Attempts           int            `toml:"attempts"`
	RemoveOnComplete   bool           `toml:"remove_on_complete"`
	RemoveOnFail       bool           `toml:"remove_on_fail"`
}

// Workflow contains dispatcher limits and timing.
type Workflow struct {
	// MaxAutofixAttempts bounds the verify/autofix cycle per verify task.
	// Zero disables the bound.
	MaxAutofixAttempts   int `toml:"max_autofix_attempts"`
	TaskTimeoutSeconds   int `toml:"task_timeout_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for docflow.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Queues: job queue concurrency, polling, leases and retention
//   - Workflow: autofix bound, task deadlines and sweeper cadence
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Queues   Queues   `toml:"queues"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/docflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("docflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TaskDBPath is the task state database.
func (c *Config) TaskDBPath() string {
	return filepath.Join(c.Paths.DataDir, "tasks.db")
}

// JobDBPath is the job queue database.
func (c *Config) JobDBPath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// LockPath is the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "docflowd.lock")
}

// PIDPath is where a running daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "docflowd.pid")
}

// QueueConcurrency returns the worker count for a queue, falling back to the
// default concurrency.
func (c *Config) QueueConcurrency(queue string) int {
	if n, ok := c.Queues.Concurrency[queue]; ok && n > 0 {
		return n
	}
	return c.Queues.DefaultConcurrency
}

// PollInterval is how often an idle queue worker looks for new jobs.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queues.PollIntervalMillis) * time.Millisecond
}

// LeaseDuration is how long a claimed job stays invisible to other workers.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Queues.LeaseSeconds) * time.Second
}

// TaskTimeout is the deadline given to each dispatched task.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Workflow.TaskTimeoutSeconds) * time.Second
}

// SweepInterval is the cadence of the overdue task sweeper.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Workflow.SweepIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
