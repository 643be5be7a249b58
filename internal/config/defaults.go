package config

// Default values for configuration options. These are "layer 0" of the
// override chain. The file names match the layout the fixup workflow expects
// so a rerun against fix-up.csv works with no config file at all.
const (
	defaultWorkDir            = "."
	defaultInput              = "data.csv"
	defaultSuccessLog         = "success-output.txt"
	defaultErrorLog           = "error-output.txt"
	defaultFixup              = "fix-up.csv"
	defaultCheckpoint         = "current-execution-line.txt"
	defaultMaxOperations      = 5000
	defaultMaxRetries         = 5
	defaultRateLimitDelay     = "6m"
	defaultAuthChallengeDelay = "1m"
	defaultPaceEveryRows      = 100
	defaultPacePause          = "0s"
	defaultRemoteTimeout      = "30s"
	defaultUserAgent          = "bulkmutate/0.1"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// It is both the starting point for TOML decoding (so unset fields retain
// defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Files: FilesConfig{
			WorkDir:    defaultWorkDir,
			Input:      defaultInput,
			SuccessLog: defaultSuccessLog,
			ErrorLog:   defaultErrorLog,
			Fixup:      defaultFixup,
			Checkpoint: defaultCheckpoint,
		},
		Batch: BatchConfig{
			MaxOperations: defaultMaxOperations,
			MaxRetries:    defaultMaxRetries,
		},
		Backoff: BackoffConfig{
			RateLimitDelay:     defaultRateLimitDelay,
			AuthChallengeDelay: defaultAuthChallengeDelay,
		},
		Pacing: PacingConfig{
			EveryRows: defaultPaceEveryRows,
			Pause:     defaultPacePause,
		},
		Remote: RemoteConfig{
			Timeout:   defaultRemoteTimeout,
			UserAgent: defaultUserAgent,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
