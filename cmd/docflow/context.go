package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/dispatcher"
	"docflow/internal/jobqueue"
	"docflow/internal/logging"
	"docflow/internal/taskstore"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	store *taskstore.Store
	jobs  *jobqueue.Store
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) taskStore() (*taskstore.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := taskstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	c.store = store
	return store, nil
}

func (c *commandContext) jobStore() (*jobqueue.Store, error) {
	if c.jobs != nil {
		return c.jobs, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	jobs, err := jobqueue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	c.jobs = jobs
	return jobs, nil
}

// dispatcher builds a dispatcher over both stores. CLI processes log warnings
// to stderr only.
func (c *commandContext) dispatcher(cmd *cobra.Command) (*dispatcher.Dispatcher, *taskstore.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := c.taskStore()
	if err != nil {
		return nil, nil, err
	}
	jobs, err := c.jobStore()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return dispatcher.NewFromConfig(cfg, store, jobs, logger), store, nil
}

func (c *commandContext) close() {
	if c.jobs != nil {
		c.jobs.Close()
		c.jobs = nil
	}
	if c.store != nil {
		c.store.Close()
		c.store = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
