// Package config implements TOML configuration loading, validation, and path
// resolution for bulkmutate. It supports a four-layer override chain
// (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Files   FilesConfig   `toml:"files"`
	Batch   BatchConfig   `toml:"batch"`
	Backoff BackoffConfig `toml:"backoff"`
	Pacing  PacingConfig  `toml:"pacing"`
	Remote  RemoteConfig  `toml:"remote"`
	Logging LoggingConfig `toml:"logging"`
}

// FilesConfig names the input, the three outputs, and the checkpoint file.
// Relative paths are resolved against WorkDir.
type FilesConfig struct {
	WorkDir    string `toml:"work_dir"`
	Input      string `toml:"input"`
	SuccessLog string `toml:"success_log"`
	ErrorLog   string `toml:"error_log"`
	Fixup      string `toml:"fixup"`
	Checkpoint string `toml:"checkpoint"`
}

// BatchConfig bounds each mutate call and the retries spent on one block.
type BatchConfig struct {
	MaxOperations int  `toml:"max_operations"`
	MaxRetries    int  `toml:"max_retries"`
	DryRun        bool `toml:"dry_run"`
}

// BackoffConfig holds the default waits applied when the remote signals a
// rate limit without a retry-after value, or asks for re-authentication.
type BackoffConfig struct {
	RateLimitDelay     string `toml:"rate_limit_delay"`
	AuthChallengeDelay string `toml:"auth_challenge_delay"`
}

// PacingConfig controls the voluntary pause taken every EveryRows rows.
type PacingConfig struct {
	EveryRows int    `toml:"every_rows"`
	Pause     string `toml:"pause"`
}

// RemoteConfig selects and configures the remote collaborator. Exactly one
// of Endpoint or SandboxDB is used; SandboxDB wins when both are set.
type RemoteConfig struct {
	Endpoint  string `toml:"endpoint"`
	SandboxDB string `toml:"sandbox_db"`
	TokenFile string `toml:"token_file"`
	TokenURL  string `toml:"token_url"`
	ClientID  string `toml:"client_id"`
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`

	// MaxCallsPerSecond caps outgoing API requests; 0 means no cap.
	MaxCallsPerSecond float64 `toml:"max_calls_per_second"`
}

// LoggingConfig controls log output level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath    string  // --config flag (empty = use default)
	Input         *string // --input flag
	MaxOperations *int    // --max-operations flag
	DryRun        *bool   // --dry-run flag
	SandboxDB     *string // --sandbox flag
}

// Resolved is the effective configuration after the override chain has been
// applied, with durations parsed and file paths made absolute.
type Resolved struct {
	InputPath      string
	SuccessLogPath string
	ErrorLogPath   string
	FixupPath      string
	CheckpointPath string

	MaxOperations int
	MaxRetries    int
	DryRun        bool

	RateLimitDelay     time.Duration
	AuthChallengeDelay time.Duration

	PaceEveryRows int
	PacePause     time.Duration

	Endpoint          string
	SandboxDB         string
	TokenFile         string
	TokenURL          string
	ClientID          string
	RemoteTimeout     time.Duration
	UserAgent         string
	MaxCallsPerSecond float64

	LogLevel  string
	LogFormat string
}
