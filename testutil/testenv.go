// Package testutil provides shared helpers for the e2e tests, which drive
// the built binaries rather than importing the packages under internal/.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindModuleRoot walks up from the working directory to the directory
// holding go.mod.
func FindModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found above the working directory")
		}

		dir = parent
	}
}

// BuildBinary compiles the package at pkg (relative to root) into dir and
// returns the binary's path.
func BuildBinary(root, pkg, dir, name string) (string, error) {
	out := filepath.Join(dir, name)

	cmd := exec.Command("go", "build", "-o", out, pkg)
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building %s: %w", pkg, err)
	}

	return out, nil
}
