package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueues()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("DOCFLOW_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeQueues() {
	if c.Queues.DefaultConcurrency <= 0 {
		c.Queues.DefaultConcurrency = defaultQueueConcurrency
	}
	if len(c.Queues.Concurrency) > 0 {
		normalized := make(map[string]int, len(c.Queues.Concurrency))
		for name, n := range c.Queues.Concurrency {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			normalized[key] = n
		}
		c.Queues.Concurrency = normalized
	}
	if c.Queues.PollIntervalMillis <= 0 {
		c.Queues.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Queues.LeaseSeconds <= 0 {
		c.Queues.LeaseSeconds = defaultLeaseSeconds
	}
	if c.Queues.Attempts <= 0 {
		c.Queues.Attempts = defaultJobAttempts
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.TaskTimeoutSeconds <= 0 {
		c.Workflow.TaskTimeoutSeconds = defaultTaskTimeoutSeconds
	}
	if c.Workflow.SweepIntervalSeconds <= 0 {
		c.Workflow.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := os.LookupEnv("DOCFLOW_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
