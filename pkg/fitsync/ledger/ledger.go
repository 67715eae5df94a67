// Package ledger implements the processed-set tracker: the persistent
// mapping that decides whether a catalogued activity file was already
// uploaded. Entries exist only for confirmed uploads; a failed batch leaves
// the ledger untouched so the files stay retryable.
//
// The ledger holds no persistence of its own; every mutation goes through
// the settings store's atomic-write path.
package ledger

import (
	"strings"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/fitsync/fitsync/pkg/fitsync/logging"
	"github.com/fitsync/fitsync/pkg/fitsync/types"
)

// Entry is one ledger row, keyed in the store by "<name>_<size>".
type Entry struct {
	// Timestamp is when the upload was confirmed, RFC3339.
	Timestamp string

	// Fingerprint is the truncated content hash. Legacy entries may lack it.
	Fingerprint string

	// Size is the file size in bytes at upload time.
	Size int64

	// Path is the file's path at upload time, kept for display only.
	Path string
}

// Tracker is the processed-set tracker over the settings store.
type Tracker struct {
	store *config.Store
}

// New returns a tracker backed by the given settings store.
func New(store *config.Store) *Tracker {
	return &Tracker{store: store}
}

// IsProcessed reports whether a ledger entry matches the record. A
// fingerprint match takes precedence so renamed files are still recognized;
// the composite name+size key is the fallback for legacy entries that were
// written without a fingerprint.
func (t *Tracker) IsProcessed(r types.FileRecord) bool {
	entries := t.store.GetMap(config.KeyProcessedFiles)

	if r.Fingerprint != "" {
		for _, raw := range entries {
			if e, ok := decodeEntry(raw); ok && e.Fingerprint != "" && e.Fingerprint == r.Fingerprint {
				return true
			}
		}
	}

	_, ok := entries[r.LedgerKey()]
	return ok
}

// Mark inserts or overwrites the ledger entry for the record with the
// current timestamp. Idempotent: marking twice yields the same ledger state.
// The mutation runs atomically inside the store so concurrent upload
// workers never overwrite each other's entries.
func (t *Tracker) Mark(r types.FileRecord) {
	t.store.Update(config.KeyProcessedFiles, func(entries map[string]interface{}) bool {
		entries[r.LedgerKey()] = map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"hash":      r.Fingerprint,
			"size":      r.Size,
			"path":      r.Path,
		}
		return true
	})
	logging.Get("ledger").Debug("marked processed", "file", r.Name, "fingerprint", r.Fingerprint)
}

// Unmark removes every ledger entry matching the record by fingerprint or
// by name substring, supporting the manual "mark as new" override. A record
// with neither a fingerprint nor a name matches nothing. It is a no-op when
// nothing matches and has no remote side effects: a file the remote already
// has will simply come back as a duplicate on re-upload.
func (t *Tracker) Unmark(r types.FileRecord) {
	removed := 0
	t.store.Update(config.KeyProcessedFiles, func(entries map[string]interface{}) bool {
		for key, raw := range entries {
			e, structured := decodeEntry(raw)
			switch {
			case structured && r.Fingerprint != "" && e.Fingerprint == r.Fingerprint:
			case r.Name != "" && strings.Contains(key, r.Name):
			default:
				continue
			}
			delete(entries, key)
			removed++
		}
		return removed > 0
	})
	if removed == 0 {
		return
	}
	logging.Get("ledger").Info("marked as new", "file", r.Name, "entries_removed", removed)
}

// Clear wipes the entire ledger. Explicit user action only.
func (t *Tracker) Clear() {
	t.store.Set(config.KeyProcessedFiles, map[string]interface{}{})
	logging.Get("ledger").Info("ledger cleared")
}

// Entries returns the decoded ledger contents keyed by composite key.
// Legacy bare-string entries decode to zero-valued rows.
func (t *Tracker) Entries() map[string]Entry {
	raw := t.store.GetMap(config.KeyProcessedFiles)
	out := make(map[string]Entry, len(raw))
	for key, v := range raw {
		e, _ := decodeEntry(v)
		out[key] = e
	}
	return out
}

// decodeEntry normalizes a stored ledger value. Values written by this
// process are map[string]interface{}; values read back from JSON carry
// float64 sizes; very old ledgers held bare strings.
func decodeEntry(raw interface{}) (Entry, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return Entry{}, false
	}

	var e Entry
	if ts, ok := m["timestamp"].(string); ok {
		e.Timestamp = ts
	}
	if h, ok := m["hash"].(string); ok {
		e.Fingerprint = h
	}
	if p, ok := m["path"].(string); ok {
		e.Path = p
	}
	switch n := m["size"].(type) {
	case int64:
		e.Size = n
	case int:
		e.Size = int64(n)
	case float64:
		e.Size = int64(n)
	}
	return e, true
}
