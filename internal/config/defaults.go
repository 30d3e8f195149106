package config

const (
	defaultDataDir              = "~/.local/share/docflow"
	defaultLogDir               = "~/.local/share/docflow/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultQueueConcurrency     = 2
	defaultPollIntervalMillis   = 250
	defaultLeaseSeconds         = 900
	defaultJobAttempts          = 1
	defaultMaxAutofixAttempts   = 3
	defaultTaskTimeoutSeconds   = 600
	defaultSweepIntervalSeconds = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Queues: Queues{
			DefaultConcurrency: defaultQueueConcurrency,
			PollIntervalMillis: defaultPollIntervalMillis,
			LeaseSeconds:       defaultLeaseSeconds,
			Attempts:           defaultJobAttempts,
			RemoveOnComplete:   true,
		},
		Workflow: Workflow{
			MaxAutofixAttempts:   defaultMaxAutofixAttempts,
			TaskTimeoutSeconds:   defaultTaskTimeoutSeconds,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
