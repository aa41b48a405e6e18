//go:build !windows

package storage

import (
	"os"
	"path/filepath"
)

func platformConfigDefault() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "movierec")
}

func platformDataDefault() string {
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "movierec")
}
