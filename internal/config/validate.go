package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minMaxOperations = 1
	maxMaxOperations = 100_000
	minRetries       = 0
	maxRetries       = 100
	minEveryRows     = 0
	minRemoteTimeout = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateFiles(&cfg.Files)...)
	errs = append(errs, validateBatch(&cfg.Batch)...)
	errs = append(errs, validateBackoff(&cfg.Backoff)...)
	errs = append(errs, validatePacing(&cfg.Pacing)...)
	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks cross-field constraints on the fully resolved
// configuration, after env and CLI overrides have been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.InputPath == "" {
		errs = append(errs, errors.New("files.input: must not be empty"))
	}

	if !r.DryRun && r.Endpoint == "" && r.SandboxDB == "" {
		errs = append(errs, errors.New("remote: one of endpoint or sandbox_db is required unless dry_run is set"))
	}

	outputs := map[string]string{}
	for name, p := range map[string]string{
		"files.input":       r.InputPath,
		"files.success_log": r.SuccessLogPath,
		"files.error_log":   r.ErrorLogPath,
		"files.fixup":       r.FixupPath,
		"files.checkpoint":  r.CheckpointPath,
	} {
		if other, dup := outputs[p]; dup {
			errs = append(errs, fmt.Errorf("%s: same path as %s (%s)", name, other, p))
			continue
		}

		outputs[p] = name
	}

	return errors.Join(errs...)
}

func validateFiles(f *FilesConfig) []error {
	var errs []error

	required := []struct{ name, value string }{
		{"files.success_log", f.SuccessLog},
		{"files.error_log", f.ErrorLog},
		{"files.fixup", f.Fixup},
		{"files.checkpoint", f.Checkpoint},
	}

	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s: must not be empty", r.name))
		}
	}

	return errs
}

func validateBatch(b *BatchConfig) []error {
	var errs []error

	if b.MaxOperations < minMaxOperations || b.MaxOperations > maxMaxOperations {
		errs = append(errs, fmt.Errorf("batch.max_operations: must be between %d and %d, got %d",
			minMaxOperations, maxMaxOperations, b.MaxOperations))
	}

	if b.MaxRetries < minRetries || b.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("batch.max_retries: must be between %d and %d, got %d",
			minRetries, maxRetries, b.MaxRetries))
	}

	return errs
}

func validateBackoff(b *BackoffConfig) []error {
	var errs []error

	errs = append(errs, validateDurationNonNeg("backoff.rate_limit_delay", b.RateLimitDelay)...)
	errs = append(errs, validateDurationNonNeg("backoff.auth_challenge_delay", b.AuthChallengeDelay)...)

	return errs
}

func validatePacing(p *PacingConfig) []error {
	var errs []error

	if p.EveryRows < minEveryRows {
		errs = append(errs, fmt.Errorf("pacing.every_rows: must be >= %d (0 disables), got %d",
			minEveryRows, p.EveryRows))
	}

	errs = append(errs, validateDurationNonNeg("pacing.pause", p.Pause)...)

	return errs
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	if r.Endpoint != "" {
		u, err := url.Parse(r.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.endpoint: must be an http(s) URL, got %q", r.Endpoint))
		}
	}

	if err := validateDuration("remote.timeout", r.Timeout, minRemoteTimeout); err != nil {
		errs = append(errs, err)
	}

	if r.MaxCallsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("remote.max_calls_per_second: must be >= 0, got %g", r.MaxCallsPerSecond))
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
