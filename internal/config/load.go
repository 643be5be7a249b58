package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns a fully resolved and validated configuration ready for use.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.WorkDir != "" {
		cfg.Files.WorkDir = env.WorkDir
	}

	if env.Input != "" {
		cfg.Files.Input = env.Input
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.Input != nil {
		cfg.Files.Input = *cli.Input
	}

	if cli.MaxOperations != nil {
		cfg.Batch.MaxOperations = *cli.MaxOperations
	}

	if cli.DryRun != nil {
		cfg.Batch.DryRun = *cli.DryRun
	}

	if cli.SandboxDB != nil {
		cfg.Remote.SandboxDB = *cli.SandboxDB
	}

	// 5. Validate the merged result and build the resolved view
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// resolve converts a validated Config into a Resolved, parsing durations
// and making every file path absolute.
func resolve(cfg *Config) (*Resolved, error) {
	r := &Resolved{
		MaxOperations:     cfg.Batch.MaxOperations,
		MaxRetries:        cfg.Batch.MaxRetries,
		DryRun:            cfg.Batch.DryRun,
		PaceEveryRows:     cfg.Pacing.EveryRows,
		Endpoint:          cfg.Remote.Endpoint,
		TokenURL:          cfg.Remote.TokenURL,
		ClientID:          cfg.Remote.ClientID,
		UserAgent:         cfg.Remote.UserAgent,
		MaxCallsPerSecond: cfg.Remote.MaxCallsPerSecond,
		LogLevel:          cfg.Logging.LogLevel,
		LogFormat:         cfg.Logging.LogFormat,
	}

	paths := []struct {
		dst *string
		src string
	}{
		{&r.InputPath, cfg.Files.Input},
		{&r.SuccessLogPath, cfg.Files.SuccessLog},
		{&r.ErrorLogPath, cfg.Files.ErrorLog},
		{&r.FixupPath, cfg.Files.Fixup},
		{&r.CheckpointPath, cfg.Files.Checkpoint},
		{&r.SandboxDB, cfg.Remote.SandboxDB},
		{&r.TokenFile, cfg.Remote.TokenFile},
	}

	for _, p := range paths {
		abs, err := resolvePath(cfg.Files.WorkDir, p.src)
		if err != nil {
			return nil, fmt.Errorf("resolving path %q: %w", p.src, err)
		}

		*p.dst = abs
	}

	durations := []struct {
		dst *time.Duration
		src string
	}{
		{&r.RateLimitDelay, cfg.Backoff.RateLimitDelay},
		{&r.AuthChallengeDelay, cfg.Backoff.AuthChallengeDelay},
		{&r.PacePause, cfg.Pacing.Pause},
		{&r.RemoteTimeout, cfg.Remote.Timeout},
	}

	for _, d := range durations {
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return nil, fmt.Errorf("parsing duration %q: %w", d.src, err)
		}

		*d.dst = v
	}

	return r, nil
}
