// Package history records upload batches to the filesystem so past
// runs can be inspected and audited.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/types"
)

// FileResult is the recorded outcome for one file in a batch.
type FileResult struct {
	Name        string              `json:"name"`
	Path        string              `json:"path"`
	Size        int64               `json:"size"`
	Fingerprint string              `json:"fingerprint"`
	Source      string              `json:"source,omitempty"`
	Outcome     types.UploadOutcome `json:"outcome"`
}

// Entry is one persisted upload batch.
type Entry struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Files     []FileResult     `json:"files"`
	Stats     types.BatchStats `json:"stats"`
}

// History manages batch records in a directory, one JSON file each.
type History struct {
	dir string
	mu  sync.Mutex
}

// New creates a History over dir. The directory is created lazily on
// the first write.
func New(dir string) (*History, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &History{dir: dir}, nil
}

// Record persists one finished batch.
func (h *History) Record(batchID string, when time.Time, files []FileResult, stats types.BatchStats) (*Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := &Entry{
		ID:        batchID,
		Timestamp: when.UTC(),
		Files:     files,
		Stats:     stats,
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return nil, err
	}
	if err := h.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("write history entry: %w", err)
	}
	return entry, nil
}

// writeEntry writes the entry atomically via temp file and rename.
func (h *History) writeEntry(entry *Entry) error {
	name := fmt.Sprintf("%s-%s.json", entry.Timestamp.Format("2006-01-02T15-04-05"), entry.ID)
	path := filepath.Join(h.dir, name)

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// List returns entries newest first. A non-positive limit returns
// everything.
func (h *History) List(limit int) ([]Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	files, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entry, err := h.readEntryFile(f.Name())
		if err != nil {
			// Unparseable records are skipped, not fatal.
			continue
		}
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Get retrieves one batch by ID.
func (h *History) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("batch ID cannot be empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	files, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entry, err := h.readEntryFile(f.Name())
		if err != nil {
			continue
		}
		if entry.ID == id {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("batch not found: %s", id)
}

func (h *History) readEntryFile(filename string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, filename))
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Cleanup removes records older than retentionDays.
func (h *History) Cleanup(retentionDays int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	files, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entry, err := h.readEntryFile(f.Name())
		if err != nil {
			continue
		}
		if entry.Timestamp.Before(cutoff) {
			_ = os.Remove(filepath.Join(h.dir, f.Name()))
		}
	}
	return nil
}
