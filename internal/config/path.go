// Package config provides configuration utilities for the application.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDatabasePath is where the expense database lives when the config
// file does not say otherwise.
const DefaultDatabasePath = "$HOME/.local/share/expense-tracker/expenses.db"

// DatabasePath resolves the configured database path, falling back to the
// default location. The result has ~ and environment variables expanded.
func DatabasePath(configured string) string {
	if configured == "" {
		configured = DefaultDatabasePath
	}
	return ExpandPath(configured)
}

// ExpandPath expands ~ and environment variables in a file path.
// It handles both ~ for home directory and $VAR style environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand tilde first so $VARs inside the remainder still resolve
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}
