// Package storage provides platform-native directory resolution with XDG
// support.
package storage

import (
	"os"
	"path/filepath"
)

// Dirs locates the per-user movierec directories.
type Dirs struct {
	Config string // User configuration (config.yaml)
	Data   string // Persistent data (experiment store, saved weights)
}

// Resolve returns platform-appropriate directories. XDG environment
// variables take precedence over the platform defaults.
func Resolve() Dirs {
	return Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
	}
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, "movierec")
	}
	return fallback
}

// ConfigDir returns the config subdirectory path.
func (d Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// DataDir returns the data subdirectory path.
func (d Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// EnsureDir creates a directory with the given permissions if it does not
// exist. A zero perm defaults to 0755.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o755
	}
	return os.MkdirAll(path, perm)
}
