package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQueues(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateQueues() error {
	if c.Queues.DefaultConcurrency <= 0 {
		return errors.New("queues.default_concurrency must be positive")
	}
	for name, n := range c.Queues.Concurrency {
		if n <= 0 {
			return fmt.Errorf("queues.concurrency.%s must be positive", name)
		}
	}
	if c.Queues.PollIntervalMillis <= 0 {
		return errors.New("queues.poll_interval_ms must be positive")
	}
	if c.Queues.LeaseSeconds <= 0 {
		return errors.New("queues.lease_seconds must be positive")
	}
	if c.Queues.Attempts <= 0 {
		return errors.New("queues.attempts must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxAutofixAttempts < 0 {
		return errors.New("workflow.max_autofix_attempts must be zero or positive")
	}
	if c.Workflow.TaskTimeoutSeconds <= 0 {
		return errors.New("workflow.task_timeout_seconds must be positive")
	}
	if c.Workflow.SweepIntervalSeconds <= 0 {
		return errors.New("workflow.sweep_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
