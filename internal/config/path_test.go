package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultDataDir(t *testing.T) {
	tests := []struct {
		name     string
		xdg      string
		expected string
	}{
		{name: "XDG_DATA_HOME override", xdg: "/custom/data", expected: "/custom/data/kvdb"},
		{name: "working directory fallback", xdg: "", expected: "./db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", tt.xdg)
			if got := DefaultDataDir(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestIsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "directory", path: dir, expected: false},
		{name: "regular file", path: file, expected: true},
		{name: "missing", path: filepath.Join(dir, "nope"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFile(tt.path); got != tt.expected {
				t.Errorf("isFile(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}
