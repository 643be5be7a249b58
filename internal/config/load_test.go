package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes content to a config.toml in a temp dir and
// returns its path.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Parallel()

	path := writeTestConfig(t, `
[files]
input = "campaigns.csv"

[batch]
max_operations = 250
max_retries = 2

[backoff]
rate_limit_delay = "90s"

[remote]
endpoint = "https://ads.example.com/api/v1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "campaigns.csv", cfg.Files.Input)
	assert.Equal(t, 250, cfg.Batch.MaxOperations)
	assert.Equal(t, 2, cfg.Batch.MaxRetries)
	assert.Equal(t, "90s", cfg.Backoff.RateLimitDelay)
	// Unset fields keep their defaults.
	assert.Equal(t, defaultAuthChallengeDelay, cfg.Backoff.AuthChallengeDelay)
	assert.Equal(t, defaultFixup, cfg.Files.Fixup)
}

func TestLoad_UnknownKeySuggestsClosest(t *testing.T) {
	t.Parallel()

	path := writeTestConfig(t, `
[batch]
max_operatons = 10
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "batch.max_operations"`)
}

func TestLoad_InvalidValuesAccumulate(t *testing.T) {
	t.Parallel()

	path := writeTestConfig(t, `
[batch]
max_operations = 0
max_retries = -1

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.max_operations")
	assert.Contains(t, err.Error(), "batch.max_retries")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_OverrideChain(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	path := writeTestConfig(t, `
[files]
input = "from-file.csv"

[batch]
max_operations = 100
`)

	input := "from-cli.csv"
	maxOps := 42
	dryRun := true

	r, err := Resolve(
		EnvOverrides{WorkDir: workDir, Input: "from-env.csv"},
		CLIOverrides{ConfigPath: path, Input: &input, MaxOperations: &maxOps, DryRun: &dryRun},
	)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(workDir, "from-cli.csv"), r.InputPath)
	assert.Equal(t, filepath.Join(workDir, defaultCheckpoint), r.CheckpointPath)
	assert.Equal(t, 42, r.MaxOperations)
	assert.True(t, r.DryRun)
	assert.Equal(t, 6*time.Minute, r.RateLimitDelay)
	assert.Equal(t, time.Minute, r.AuthChallengeDelay)
}

func TestResolve_RequiresRemoteUnlessDryRun(t *testing.T) {
	t.Parallel()

	_, err := Resolve(EnvOverrides{WorkDir: t.TempDir()},
		CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint or sandbox_db")

	sandbox := "sandbox.db"
	r, err := Resolve(EnvOverrides{WorkDir: t.TempDir()},
		CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml"), SandboxDB: &sandbox})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(r.SandboxDB))
}

func TestResolve_RejectsCollidingPaths(t *testing.T) {
	t.Parallel()

	path := writeTestConfig(t, `
[files]
success_log = "out.txt"
error_log = "out.txt"

[batch]
dry_run = true
`)

	_, err := Resolve(EnvOverrides{WorkDir: t.TempDir()}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same path")
}
