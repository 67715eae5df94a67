package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// ConfigDir returns $XDG_CONFIG_HOME/fitsync/ for the settings file,
// session token, and batch history.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "fitsync")
}

// CacheDir returns $XDG_CACHE_HOME/fitsync/ for the fingerprint cache.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, "fitsync")
}

// StateDir returns $XDG_STATE_HOME/fitsync/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "fitsync")
}

// DefaultSettingsPath returns the settings file location.
func DefaultSettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

// DefaultTokenPath returns the persisted session token location.
func DefaultTokenPath() string {
	return filepath.Join(ConfigDir(), "session.json")
}

// DefaultFingerprintCachePath returns the badger fingerprint cache location.
func DefaultFingerprintCachePath() string {
	return filepath.Join(CacheDir(), "fingerprints")
}

// DefaultHistoryDir returns the upload batch history directory.
func DefaultHistoryDir() string {
	return filepath.Join(ConfigDir(), "history")
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return nil
}

// EnsureCacheDir creates the cache directory if it doesn't exist.
func EnsureCacheDir() error {
	if err := os.MkdirAll(CacheDir(), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	return nil
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}
