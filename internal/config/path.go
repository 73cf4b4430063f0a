package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the data directory used when none is configured:
// $XDG_DATA_HOME/kvdb when set, otherwise ./db relative to the working
// directory.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "kvdb")
	}
	return "./db"
}
