package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "bulkmutate"

// Config file name.
const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/bulkmutate).
// On macOS, uses ~/Library/Application Support/bulkmutate.
// Other platforms fall back to ~/.config/bulkmutate.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".config", appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultConfigPath returns the full path to the default config file.
// Returns "" when the home directory cannot be determined.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// resolvePath makes p absolute. Relative paths are joined onto base, which
// is itself made absolute against the current working directory.
func resolvePath(base, p string) (string, error) {
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	return filepath.Join(absBase, p), nil
}
