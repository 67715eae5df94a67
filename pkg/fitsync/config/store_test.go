package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	s := openTestStore(t)

	if got := s.GetString(KeyLogLevel); got != "info" {
		t.Errorf("log_level default: got %q, want %q", got, "info")
	}
	if got := s.GetInt(KeyMaxUploads, 0); got != DefaultMaxUploads {
		t.Errorf("max_concurrent_uploads default: got %d, want %d", got, DefaultMaxUploads)
	}
	if got := len(s.GetMap(KeyProcessedFiles)); got != 0 {
		t.Errorf("processed_files default: got %d entries, want 0", got)
	}
}

func TestLoadDropsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{"username": "rider@example.com", "mystery_key": true}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if got := s.GetString(KeyUsername); got != "rider@example.com" {
		t.Errorf("username: got %q", got)
	}
	if v := s.Get("mystery_key", nil); v != nil {
		t.Errorf("unknown key survived load: %v", v)
	}
}

func TestLoadRepairsTypeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{"max_concurrent_uploads": "lots", "backup_path": 7}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if got := s.GetInt(KeyMaxUploads, -1); got != DefaultMaxUploads {
		t.Errorf("mismatched int: got %d, want default %d", got, DefaultMaxUploads)
	}
	if got := s.GetString(KeyBackupPath); got != "" {
		t.Errorf("mismatched string: got %q, want default", got)
	}
}

func TestLoadCorruptFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open should not fail on corrupt content: %v", err)
	}
	defer s.Close()

	if got := s.GetString(KeyLanguage); got != "en" {
		t.Errorf("language default: got %q", got)
	}
}

func TestSaveIsAtomicAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	s.Set(KeyUsername, "rider@example.com")
	s.Set(KeyMaxUploads, 4)
	if err := s.Save(false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(path) {
			t.Errorf("unexpected leftover file: %s", e.Name())
		}
	}

	// File is valid JSON holding what we set.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var loaded map[string]interface{}
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("settings file not valid JSON: %v", err)
	}
	if loaded[KeyUsername] != "rider@example.com" {
		t.Errorf("username not persisted: %v", loaded[KeyUsername])
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if got := reopened.GetInt(KeyMaxUploads, -1); got != 4 {
		t.Errorf("max uploads after reload: got %d, want 4", got)
	}
}

func TestSaveSkipsWhenClean(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save(false); err != nil {
		t.Fatalf("Save on clean store failed: %v", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("clean save should not have written a file")
	}

	if err := s.Save(true); err != nil {
		t.Fatalf("forced Save failed: %v", err)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("forced save should have written the file: %v", err)
	}
}

func TestDebouncedSaveCoalescesBursts(t *testing.T) {
	s := openTestStore(t)

	// A burst of important-key writes should not have saved yet.
	for i := 0; i < 5; i++ {
		s.Set(KeyBackupPath, "/backups")
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatal("debounced save fired before the delay elapsed")
	}

	deadline := time.Now().Add(2 * saveDebounce)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(s.Path()); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("debounced save never fired")
}

func TestUpdateAppliesChanges(t *testing.T) {
	s := openTestStore(t)

	s.Update(KeyProcessedFiles, func(m map[string]interface{}) bool {
		m["a_1"] = "x"
		return true
	})
	s.Update(KeyProcessedFiles, func(m map[string]interface{}) bool {
		m["b_2"] = "y"
		return true
	})

	got := s.GetMap(KeyProcessedFiles)
	if len(got) != 2 {
		t.Fatalf("entries after two updates: got %d, want 2", len(got))
	}
}

func TestUpdateWithoutChangeKeepsStoreClean(t *testing.T) {
	s := openTestStore(t)

	s.Update(KeyProcessedFiles, func(m map[string]interface{}) bool {
		return false
	})

	if err := s.Save(false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("no-op Update should not have dirtied the store")
	}
}

func TestUpdateIsAtomicUnderConcurrency(t *testing.T) {
	s := openTestStore(t)

	const workers = 4
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("file-%d-%d", w, i)
				s.Update(KeyProcessedFiles, func(m map[string]interface{}) bool {
					m[key] = "done"
					return true
				})
			}
		}(w)
	}
	wg.Wait()

	if got := len(s.GetMap(KeyProcessedFiles)); got != workers*perWorker {
		t.Errorf("entries after concurrent updates: got %d, want %d", got, workers*perWorker)
	}
}

func TestGetMapReturnsCopy(t *testing.T) {
	s := openTestStore(t)

	s.Set(KeyProcessedFiles, map[string]interface{}{"a_1": "x"})
	m := s.GetMap(KeyProcessedFiles)
	m["b_2"] = "y"

	if got := len(s.GetMap(KeyProcessedFiles)); got != 1 {
		t.Errorf("store map mutated through copy: %d entries", got)
	}
}
