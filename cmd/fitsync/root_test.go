package main

import (
	"path/filepath"
	"testing"

	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/spf13/viper"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{name: "short stays", input: "ride.fit", max: 20, want: "ride.fit"},
		{name: "exact stays", input: "12345", max: 5, want: "12345"},
		{name: "long is cut", input: "MyNewActivity-123456.fit", max: 10, want: "MyNewAc..."},
		{name: "tiny max", input: "abcdef", max: 2, want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateString(tt.input, tt.max); got != tt.want {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestMaxUploadsResolution(t *testing.T) {
	newStore := func(t *testing.T) *config.Store {
		t.Helper()
		store, err := config.Open(filepath.Join(t.TempDir(), "settings.json"))
		if err != nil {
			t.Fatalf("opening store: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	}

	t.Run("built-in default", func(t *testing.T) {
		viper.Reset()
		a := &app{store: newStore(t)}
		if got := a.maxUploads(); got != config.DefaultMaxUploads {
			t.Errorf("maxUploads() = %d, want %d", got, config.DefaultMaxUploads)
		}
	})

	t.Run("settings value", func(t *testing.T) {
		viper.Reset()
		a := &app{store: newStore(t)}
		a.store.Set(config.KeyMaxUploads, 4)
		if got := a.maxUploads(); got != 4 {
			t.Errorf("maxUploads() = %d, want 4", got)
		}
	})

	t.Run("flag overrides settings", func(t *testing.T) {
		viper.Reset()
		viper.Set("max_uploads", 8)
		defer viper.Reset()

		a := &app{store: newStore(t)}
		a.store.Set(config.KeyMaxUploads, 4)
		if got := a.maxUploads(); got != 8 {
			t.Errorf("maxUploads() = %d, want 8", got)
		}
	})
}

func TestSettingsPath(t *testing.T) {
	orig := settingsFile
	defer func() { settingsFile = orig }()

	settingsFile = ""
	if got := settingsPath(); got != config.DefaultSettingsPath() {
		t.Errorf("settingsPath() = %q, want default %q", got, config.DefaultSettingsPath())
	}

	settingsFile = "/tmp/alt.json"
	if got := settingsPath(); got != "/tmp/alt.json" {
		t.Errorf("settingsPath() = %q, want flag value", got)
	}
}
