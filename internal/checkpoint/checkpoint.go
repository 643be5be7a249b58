// Package checkpoint persists the last fully processed input line as plain
// text. The file's presence means a previous run was interrupted; a clean
// finish removes it.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

const filePerms = 0o644

// Store reads and writes one checkpoint file. Load, Advance and Clear are
// called by one goroutine; Current may be read from any.
type Store struct {
	path    string
	current atomic.Int64
}

// New returns a Store for path. Nothing is read until Load.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved line and true, or false when no checkpoint exists.
func (s *Store) Load() (int64, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("checkpoint: reading %s: %w", s.path, err)
	}

	line, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || line < 0 {
		return 0, false, fmt.Errorf("checkpoint: %s does not hold a line number: %q", s.path, strings.TrimSpace(string(data)))
	}

	s.current.Store(line)

	return line, true, nil
}

// Current returns the highest line recorded by Load or Advance.
func (s *Store) Current() int64 {
	return s.current.Load()
}

// Advance records line as completed. Values at or below the current
// checkpoint are ignored, so the stored value never decreases.
func (s *Store) Advance(line int64) error {
	if line <= s.current.Load() {
		return nil
	}

	if err := writeAtomic(s.path, []byte(strconv.FormatInt(line, 10)+"\n")); err != nil {
		return err
	}

	s.current.Store(line)

	return nil
}

// Clear removes the checkpoint file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checkpoint: removing %s: %w", s.path, err)
	}

	s.current.Store(0)

	return nil
}

// writeAtomic replaces path via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: closing: %w", err)
	}

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		return fmt.Errorf("checkpoint: setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("checkpoint: renaming: %w", err)
	}

	success = true

	return nil
}
