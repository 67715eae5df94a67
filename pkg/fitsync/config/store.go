// Package config provides the durable settings store for fitsync.
//
// Settings live in a single JSON document. Loading validates every key
// against the Defaults schema so a hand-edited or corrupt file degrades to
// defaults instead of failing. Saving goes through a temp-file-plus-rename
// so a crash mid-write never leaves a truncated settings file behind.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/logging"
)

// saveDebounce is how long after the last important-key mutation the
// asynchronous save fires. Bursts of Set calls coalesce into one write.
const saveDebounce = 2 * time.Second

// Store is the durable key/value settings store. All access is serialized
// through an internal mutex; concurrent uploaders mutate the ledger through
// this single-writer path.
type Store struct {
	mu        sync.Mutex
	path      string
	values    map[string]interface{}
	dirty     bool
	saveTimer *time.Timer
	closed    bool
}

// Open loads the settings store from path, creating an in-memory default
// store when the file is absent or unreadable. It never fails on corrupt
// content; only directory creation errors are returned.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	s := &Store{path: path}
	s.Load()
	return s, nil
}

// Load (re)reads the settings file and validates it against the schema.
// Unknown keys are dropped; type-mismatched values are replaced by their
// defaults with a warning. A missing or unparseable file yields defaults.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := logging.Get("config")
	s.values = Defaults()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		logger.Debug("no settings file, using defaults", "path", s.path)
		return
	}
	if err != nil {
		logger.Warn("settings file unreadable, using defaults", "path", s.path, "error", err)
		return
	}

	// Decoded directly rather than through viper: ledger keys embed
	// filenames and must stay case-sensitive, which viper's key folding
	// would destroy.
	var loadedDoc map[string]interface{}
	if err := json.Unmarshal(data, &loadedDoc); err != nil {
		logger.Warn("settings file corrupt, using defaults", "path", s.path, "error", err)
		return
	}

	defaults := Defaults()
	for key, loaded := range loadedDoc {
		def, known := defaults[key]
		if !known {
			logger.Warn("dropping unknown settings key", "key", key)
			continue
		}
		val, ok := coerce(def, loaded)
		if !ok {
			logger.Warn("settings key has wrong type, using default", "key", key)
			continue
		}
		s.values[key] = val
	}
}

// coerce validates loaded against the default's type, normalizing the
// numeric representations JSON decoding produces.
func coerce(def, loaded interface{}) (interface{}, bool) {
	switch def.(type) {
	case string:
		v, ok := loaded.(string)
		return v, ok
	case bool:
		v, ok := loaded.(bool)
		return v, ok
	case int:
		switch n := loaded.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			return int(n), true
		}
		return nil, false
	case map[string]interface{}:
		v, ok := loaded.(map[string]interface{})
		return v, ok
	default:
		return loaded, true
	}
}

// Get returns the value for key, or fallback when the key is unset.
func (s *Store) Get(key string, fallback interface{}) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.values[key]; ok {
		return v
	}
	return fallback
}

// GetString returns the string value for key, or "" when unset or not a string.
func (s *Store) GetString(key string) string {
	v, _ := s.Get(key, "").(string)
	return v
}

// GetInt returns the int value for key, or fallback when unset or not an int.
func (s *Store) GetInt(key string, fallback int) int {
	if v, ok := s.Get(key, fallback).(int); ok {
		return v
	}
	return fallback
}

// GetMap returns a copy of the map value for key. Mutating the returned map
// does not affect the store; write changes back with Set.
func (s *Store) GetMap(key string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.values[key].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Set stores value under key and marks the store dirty. Mutations of
// important keys (credentials-adjacent, backup path, ledger) schedule a
// debounced asynchronous save.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	s.dirty = true

	if importantKeys[key] && !s.closed {
		s.scheduleSave()
	}
}

// Update mutates the map value under key atomically. fn runs under the
// store lock and edits the map in place, so concurrent updaters never
// lose each other's changes the way a GetMap/Set sequence would. fn
// returns whether it changed anything; the store stays clean otherwise.
func (s *Store) Update(key string, fn func(map[string]interface{}) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.values[key].(map[string]interface{})
	if !ok {
		m = map[string]interface{}{}
	}
	if !fn(m) {
		return
	}

	s.values[key] = m
	s.dirty = true

	if importantKeys[key] && !s.closed {
		s.scheduleSave()
	}
}

// scheduleSave arms (or re-arms) the debounced save timer.
// Must be called with s.mu held.
func (s *Store) scheduleSave() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		if err := s.Save(false); err != nil {
			logging.Get("config").Error("auto-save failed", "error", err)
		}
	})
}

// Save persists the settings atomically: marshal to a temp file in the same
// directory, then rename over the real file. A no-op when the store is
// clean unless force is set.
func (s *Store) Save(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(force)
}

func (s *Store) saveLocked(force bool) error {
	if !s.dirty && !force {
		return nil
	}

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp settings file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing settings file: %w", err)
	}

	s.dirty = false
	logging.Get("config").Debug("settings saved", "path", s.path)
	return nil
}

// Close cancels any pending debounced save and performs a final forced
// synchronous save. The store must not be used after Close.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}

	return s.saveLocked(true)
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}
