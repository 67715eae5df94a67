// Package catalog discovers activity files in a source directory and
// computes their content fingerprints.
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/logging"
	"github.com/fitsync/fitsync/pkg/fitsync/types"
)

// scanTTL is how long a scan result stays fresh.
const scanTTL = 30 * time.Second

type cachedScan struct {
	records []types.FileRecord
	when    time.Time
}

// Catalog scans source directories for activity files. Scan results
// are cached per source path for a short TTL; fingerprints are reused
// from the persistent store when the file's size and mtime match.
type Catalog struct {
	mu    sync.Mutex
	scans map[string]cachedScan
	ttl   time.Duration
	store *Store // optional; nil disables persistent caching
	log   *logging.Logger
	now   func() time.Time
}

// New creates a catalog. store may be nil, in which case every scan
// rehashes.
func New(store *Store) *Catalog {
	return &Catalog{
		scans: make(map[string]cachedScan),
		ttl:   scanTTL,
		store: store,
		log:   logging.Get("catalog"),
		now:   time.Now,
	}
}

// Scan lists activity files under source, newest first. Zero-length
// and unreadable files are skipped. A fresh cached result for the same
// path is returned without touching the filesystem.
func (c *Catalog) Scan(ctx context.Context, source types.SourceDirectory) ([]types.FileRecord, error) {
	c.mu.Lock()
	if cached, ok := c.scans[source.Path]; ok && c.now().Sub(cached.when) < c.ttl {
		records := append([]types.FileRecord(nil), cached.records...)
		c.mu.Unlock()
		return records, nil
	}
	c.mu.Unlock()

	paths, err := matchActivities(source.Path)
	if err != nil {
		return nil, err
	}

	records := make([]types.FileRecord, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			c.log.Debug("skipping unreadable file", "path", path, "error", err)
			continue
		}
		if info.Size() == 0 {
			c.log.Debug("skipping zero-length file", "path", path)
			continue
		}

		fp, err := c.fingerprint(path, info.Size(), info.ModTime().UnixNano())
		if err != nil {
			c.log.Debug("skipping unhashable file", "path", path, "error", err)
			continue
		}

		records = append(records, types.FileRecord{
			Name:        info.Name(),
			Path:        path,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Fingerprint: fp,
			Source:      source.Label,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ModTime.After(records[j].ModTime)
	})

	c.mu.Lock()
	c.scans[source.Path] = cachedScan{records: records, when: c.now()}
	c.mu.Unlock()

	c.log.Debug("scanned source", "path", source.Path, "files", len(records))
	return append([]types.FileRecord(nil), records...), nil
}

// Refresh drops all cached scan results so the next Scan hits the
// filesystem.
func (c *Catalog) Refresh() {
	c.mu.Lock()
	c.scans = make(map[string]cachedScan)
	c.mu.Unlock()
}

// fingerprint returns the stored fingerprint when the stat signature
// matches, computing and storing it otherwise.
func (c *Catalog) fingerprint(path string, size, mtimeNano int64) (string, error) {
	if c.store != nil {
		if fp, err := c.store.Get(path, size, mtimeNano); err == nil {
			return fp, nil
		}
	}

	fp, err := Fingerprint(path)
	if err != nil {
		return "", err
	}

	if c.store != nil {
		if err := c.store.Put(path, size, mtimeNano, fp, c.now().UnixNano()); err != nil {
			c.log.Warn("fingerprint cache write failed", "path", path, "error", err)
		}
	}
	return fp, nil
}

// matchActivities globs for activity files, trying the primary naming
// pattern first and falling back to broader ones only when it matches
// nothing.
func matchActivities(dir string) ([]string, error) {
	patterns := append([]string{types.ActivityPattern}, types.FallbackPatterns...)
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}
	return nil, nil
}
