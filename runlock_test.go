package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRunLock_WritesCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.lock")

	cleanup, err := acquireRunLock(path)
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRunLock_SecondRunRefused(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.lock")

	cleanup1, err := acquireRunLock(path)
	require.NoError(t, err)

	defer cleanup1()

	cleanup2, err := acquireRunLock(path)
	require.Error(t, err)
	assert.Nil(t, cleanup2)
	assert.Contains(t, err.Error(), "PID "+strconv.Itoa(os.Getpid()))
}

func TestAcquireRunLock_CleanupReleases(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "checkpoint.lock")

	cleanup, err := acquireRunLock(path)
	require.NoError(t, err)
	cleanup()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	again, err := acquireRunLock(path)
	require.NoError(t, err)
	again()
}

func TestAcquireRunLock_EmptyPath(t *testing.T) {
	t.Parallel()

	cleanup, err := acquireRunLock("")
	assert.Error(t, err)
	assert.Nil(t, cleanup)
}

func TestReadLockPID_InvalidContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	_, err := readLockPID(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID")
}

func TestLockPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/w/current-execution-line.txt.lock", lockPath("/w/current-execution-line.txt"))
}
