// Package engine ties discovery, deduplication, transformation and
// upload together into the sync operations the CLI exposes.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/catalog"
	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/fitsync/fitsync/pkg/fitsync/fit"
	"github.com/fitsync/fitsync/pkg/fitsync/history"
	"github.com/fitsync/fitsync/pkg/fitsync/ledger"
	"github.com/fitsync/fitsync/pkg/fitsync/logging"
	"github.com/fitsync/fitsync/pkg/fitsync/sources"
	"github.com/fitsync/fitsync/pkg/fitsync/types"
	"github.com/fitsync/fitsync/pkg/fitsync/uploader"
)

// historyRetentionDays is how long batch records are kept.
const historyRetentionDays = 90

// transformRetries is how many times a transient transform failure is
// retried before the file is given up on for this run.
const transformRetries = 2

// Engine runs the sync pipeline.
type Engine struct {
	store      *config.Store
	locator    *sources.Locator
	catalog    *catalog.Catalog
	tracker    *ledger.Tracker
	dispatcher *uploader.Dispatcher
	hist       *history.History
	log        *logging.Logger
	now        func() time.Time
}

// Options collects the engine's collaborators. History is optional.
type Options struct {
	Store      *config.Store
	Locator    *sources.Locator
	Catalog    *catalog.Catalog
	Tracker    *ledger.Tracker
	Dispatcher *uploader.Dispatcher
	History    *history.History
}

// New assembles an engine.
func New(opts Options) *Engine {
	return &Engine{
		store:      opts.Store,
		locator:    opts.Locator,
		catalog:    opts.Catalog,
		tracker:    opts.Tracker,
		dispatcher: opts.Dispatcher,
		hist:       opts.History,
		log:        logging.Get("engine"),
		now:        time.Now,
	}
}

// ScanAll catalogs every available source and flags already-processed
// files. The combined list is sorted newest first.
func (e *Engine) ScanAll(ctx context.Context) ([]types.FileRecord, error) {
	var all []types.FileRecord
	for _, src := range e.locator.Available() {
		records, err := e.catalog.Scan(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			e.log.Warn("scan failed", "source", src.Label, "error", err)
			continue
		}
		all = append(all, records...)
	}

	for i := range all {
		all[i].Processed = e.tracker.IsProcessed(all[i])
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].ModTime.After(all[j].ModTime)
	})
	return all, nil
}

// Sync uploads every unprocessed file from every source. Each file is
// transformed into the backup directory first; the upload sends the
// transformed bytes under the original activity name so the remote
// dedup check and the local ledger agree.
func (e *Engine) Sync(ctx context.Context, progress chan<- types.Progress) (*uploader.Result, error) {
	records, err := e.ScanAll(ctx)
	if err != nil {
		return nil, err
	}

	var pending []types.FileRecord
	for _, rec := range records {
		if rec.Processed {
			e.log.Debug("already processed", "file", rec.Name)
			continue
		}
		pending = append(pending, rec)
	}

	return e.process(ctx, pending, progress)
}

// UploadPaths uploads the explicitly named files, still honoring the
// processed-set and content transform.
func (e *Engine) UploadPaths(ctx context.Context, paths []string, progress chan<- types.Progress) (*uploader.Result, error) {
	dirs := e.locator.Available()

	var pending []types.FileRecord
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() == 0 {
			e.log.Warn("skipping empty file", "path", path)
			continue
		}

		fp, err := catalog.Fingerprint(path)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", path, err)
		}

		rec := types.FileRecord{
			Name:        info.Name(),
			Path:        path,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Fingerprint: fp,
			Source:      e.locator.DetectProducer(path, dirs),
		}
		if e.tracker.IsProcessed(rec) {
			e.log.Info("already processed, skipping", "file", rec.Name)
			continue
		}
		pending = append(pending, rec)
	}

	return e.process(ctx, pending, progress)
}

// process transforms and uploads the pending records and writes the
// batch to history.
func (e *Engine) process(ctx context.Context, pending []types.FileRecord, progress chan<- types.Progress) (*uploader.Result, error) {
	backupDir, err := e.backupDir()
	if err != nil {
		return nil, err
	}

	var (
		uploads []types.FileRecord
		failed  []types.FileRecord
	)
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dest := e.backupPath(backupDir, rec)
		if err := e.transform(rec.Path, dest); err != nil {
			e.log.Error("transform failed, skipping file", "file", rec.Name, "error", err)
			failed = append(failed, rec)
			continue
		}

		upload := rec
		upload.Path = dest
		uploads = append(uploads, upload)
	}

	result, err := e.dispatcher.UploadAll(ctx, uploads, progress)
	if result != nil {
		for _, rec := range failed {
			result.Outcomes[rec.Path] = types.OutcomeFailed
		}
		result.Stats.Total += len(failed)
		result.Stats.Failed += len(failed)

		e.recordHistory(result, uploads, failed)
	}
	if err != nil {
		return result, err
	}

	// New uploads landed; the next scan must see fresh processed flags.
	e.catalog.Refresh()
	return result, nil
}

// transform runs the content transform, retrying transient I/O
// failures. Structural failures are final.
func (e *Engine) transform(src, dest string) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fit.Transform(src, dest)
		if err == nil || fit.IsStructural(err) || attempt >= transformRetries {
			return err
		}
		e.log.Warn("transform I/O error, retrying", "source", src, "error", err)
	}
}

// backupDir resolves the directory transformed files are written to.
// Without a configured backup path, a staging area under the state
// directory is used.
func (e *Engine) backupDir() (string, error) {
	if dir := e.store.GetString(config.KeyBackupPath); dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
		e.log.Warn("configured backup path unavailable, using staging", "path", dir)
	}

	staging := filepath.Join(config.StateDir(), "staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", err
	}
	return staging, nil
}

// backupPath builds the destination name for a transformed file:
// producer prefix, timestamp, activity number when present, and a
// collision counter.
func (e *Engine) backupPath(dir string, rec types.FileRecord) string {
	prefix := "MW_"
	if rec.Source == types.ProducerTrainingPeaks {
		prefix = "TPV_"
	}

	stem := prefix + e.now().Format("2006-01-02_150405")
	if num := activityNumber(rec.Name); num != "" {
		stem += "_" + num
	}

	candidate := filepath.Join(dir, stem+".fit")
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d.fit", stem, n))
	}
}

var activityNumberRe = regexp.MustCompile(`MyNewActivity-(\d+)\.fit`)

// activityNumber pulls the numeric suffix out of a MyWhoosh activity
// filename, or returns "" when the name has no number.
func activityNumber(name string) string {
	if m := activityNumberRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}

// recordHistory persists the batch outcome; failures to do so are
// logged rather than surfaced.
func (e *Engine) recordHistory(result *uploader.Result, uploads, failed []types.FileRecord) {
	if e.hist == nil {
		return
	}

	results := make([]history.FileResult, 0, len(uploads)+len(failed))
	for _, rec := range uploads {
		results = append(results, history.FileResult{
			Name:        rec.Name,
			Path:        rec.Path,
			Size:        rec.Size,
			Fingerprint: rec.Fingerprint,
			Source:      rec.Source,
			Outcome:     result.Outcomes[rec.Path],
		})
	}
	for _, rec := range failed {
		results = append(results, history.FileResult{
			Name:        rec.Name,
			Path:        rec.Path,
			Size:        rec.Size,
			Fingerprint: rec.Fingerprint,
			Source:      rec.Source,
			Outcome:     types.OutcomeFailed,
		})
	}

	if _, err := e.hist.Record(result.BatchID, result.Started, results, result.Stats); err != nil {
		e.log.Error("history write failed", "batch", result.BatchID, "error", err)
	}
	if err := e.hist.Cleanup(historyRetentionDays); err != nil {
		e.log.Warn("history cleanup failed", "error", err)
	}
}

// Close flushes pending settings writes. Call on shutdown.
func (e *Engine) Close() error {
	return e.store.Close()
}
