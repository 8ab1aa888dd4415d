// Package xdg provides XDG Base Directory paths for the flowfarm client.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "flowfarm"

// ConfigDir returns the XDG config directory for flowfarm.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for flowfarm.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	return appDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// StateDir returns the XDG state directory for flowfarm.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string {
	return appDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// RuntimeDir returns the XDG runtime directory for flowfarm.
// Checks XDG_RUNTIME_DIR first, falls back to StateDir()/run.
func RuntimeDir() string {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		return filepath.Join(StateDir(), "run")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

func appDir(env, homeRel string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), homeRel)
	}
	return filepath.Join(base, appName)
}
