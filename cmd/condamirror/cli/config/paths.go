// Package config provides configuration management for the condamirror CLI.
package config

import (
	"os"
	"path/filepath"
)

// CacheDir returns the condamirror cache directory.
// Uses XDG_CACHE_HOME/condamirror, defaulting to ~/.cache/condamirror.
func CacheDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "condamirror"), nil
}

// Dir returns the condamirror config directory.
// Uses XDG_CONFIG_HOME/condamirror, defaulting to ~/.config/condamirror.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "condamirror"), nil
}
