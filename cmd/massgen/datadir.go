// ABOUTME: XDG-based data directory resolution for the massgen CLI.
// ABOUTME: Checks XDG_DATA_HOME, falls back to ~/.local/share/massgen.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDataDir returns the default data directory for massgen's persistent
// state: per-agent workspaces and content-addressed snapshots. It checks
// XDG_DATA_HOME first, then falls back to ~/.local/share/massgen.
func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "massgen"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "massgen"), nil
}
