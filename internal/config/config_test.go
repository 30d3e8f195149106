package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"docflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "docflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.TaskDBPath() != filepath.Join(wantData, "tasks.db") {
		t.Fatalf("unexpected task db path: %q", cfg.TaskDBPath())
	}
	if cfg.Workflow.MaxAutofixAttempts != 3 {
		t.Fatalf("expected default autofix bound 3, got %d", cfg.Workflow.MaxAutofixAttempts)
	}
	if cfg.TaskTimeout() != 10*time.Minute {
		t.Fatalf("unexpected task timeout: %s", cfg.TaskTimeout())
	}
	if cfg.QueueConcurrency("write") != 2 {
		t.Fatalf("unexpected default concurrency: %d", cfg.QueueConcurrency("write"))
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "from-env")
	t.Setenv("DOCFLOW_DATA_DIR", dataDir)
	t.Setenv("DOCFLOW_LOG_LEVEL", "DEBUG")

	path := filepath.Join(dir, "docflow.toml")
	body := `
[paths]
data_dir = "ignored-by-env"
log_dir = ""

[queues]
default_concurrency = 3
poll_interval_ms = 50

[queues.concurrency]
Write = 5

[workflow]
max_autofix_attempts = 0
task_timeout_seconds = 30

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != dataDir {
		t.Fatalf("expected env data dir, got %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.LogDir != "" {
		t.Fatalf("expected empty log dir, got %q", cfg.Paths.LogDir)
	}
	if cfg.QueueConcurrency("write") != 5 {
		t.Fatalf("expected per-queue override, got %d", cfg.QueueConcurrency("write"))
	}
	if cfg.QueueConcurrency("verify") != 3 {
		t.Fatalf("expected default concurrency fallback, got %d", cfg.QueueConcurrency("verify"))
	}
	if cfg.PollInterval() != 50*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.Workflow.MaxAutofixAttempts != 0 {
		t.Fatalf("expected explicit zero autofix bound, got %d", cfg.Workflow.MaxAutofixAttempts)
	}
	if cfg.TaskTimeout() != 30*time.Second {
		t.Fatalf("unexpected task timeout: %s", cfg.TaskTimeout())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestValidateRejectsNegativeAutofixBound(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.MaxAutofixAttempts = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for negative autofix bound")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if parsed.Workflow.MaxAutofixAttempts != config.Default().Workflow.MaxAutofixAttempts {
		t.Fatalf("sample autofix bound drifted from default: %d", parsed.Workflow.MaxAutofixAttempts)
	}
	if parsed.Queues.Concurrency["write"] != 4 {
		t.Fatalf("expected sample write concurrency, got %v", parsed.Queues.Concurrency)
	}
}
