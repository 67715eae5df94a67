// Package uploader pushes activity files to the remote platform with
// a bounded worker pool and per-status retry handling.
package uploader

import (
	"context"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitsync/fitsync/pkg/fitsync/garmin"
	"github.com/fitsync/fitsync/pkg/fitsync/ledger"
	"github.com/fitsync/fitsync/pkg/fitsync/logging"
	"github.com/fitsync/fitsync/pkg/fitsync/types"
)

// DefaultMaxWorkers bounds concurrent uploads unless configured
// otherwise.
const DefaultMaxWorkers = 2

// Rate limiting gets its own counter so a throttling server cannot
// burn through the fatal attempt budget.
const (
	rateLimitBase  = 2 * time.Second
	rateLimitMax   = 60 * time.Second
	rateLimitWaits = 5
)

// networkBackoffMax caps the delay between retries of transport
// failures.
const networkBackoffMax = 30 * time.Second

// otherBackoff is the fixed delay after an unclassified server error.
const otherBackoff = 2 * time.Second

// RetryPolicy controls how upload attempts are spaced.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the platform's observed tolerance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    networkBackoffMax,
	}
}

// backoff returns the delay before retry n (0-based), growing
// geometrically and capped at MaxDelay.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= time.Duration(p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Remote is the slice of the platform session the dispatcher needs.
// *garmin.Session satisfies it.
type Remote interface {
	Upload(ctx context.Context, name string, data io.Reader) error
	Invalidate() error
	Valid() bool
}

var _ Remote = (*garmin.Session)(nil)

// Result is the outcome of one batch.
type Result struct {
	BatchID  string
	Started  time.Time
	Outcomes map[string]types.UploadOutcome // keyed by file path
	Stats    types.BatchStats
}

// Dispatcher uploads batches of files.
type Dispatcher struct {
	remote  Remote
	tracker *ledger.Tracker
	policy  RetryPolicy
	workers int
	log     *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithMaxWorkers sets the configured worker bound. The effective pool
// size never exceeds the CPU count.
func WithMaxWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// New creates a dispatcher. tracker may be nil to skip ledger writes.
func New(remote Remote, tracker *ledger.Tracker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		remote:  remote,
		tracker: tracker,
		policy:  DefaultRetryPolicy(),
		workers: DefaultMaxWorkers,
		log:     logging.Get("uploader"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// UploadAll uploads every file, at most poolSize at a time. Progress
// snapshots are offered to progress after each file completes and are
// dropped if the receiver lags; progress may be nil.
func (d *Dispatcher) UploadAll(ctx context.Context, files []types.FileRecord, progress chan<- types.Progress) (*Result, error) {
	result := &Result{
		BatchID:  uuid.NewString(),
		Started:  time.Now(),
		Outcomes: make(map[string]types.UploadOutcome, len(files)),
	}
	result.Stats.Total = len(files)
	if len(files) == 0 {
		return result, nil
	}

	d.log.Info("starting upload batch", "batch", result.BatchID, "files", len(files))

	jobs := make(chan types.FileRecord)
	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)

	for i := 0; i < d.poolSize(len(files)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				outcome := d.uploadOne(ctx, rec)

				mu.Lock()
				result.Outcomes[rec.Path] = outcome
				switch outcome {
				case types.OutcomeSuccess:
					result.Stats.Success++
				case types.OutcomeDuplicate:
					result.Stats.Duplicates++
				default:
					result.Stats.Failed++
				}
				done++
				pct := float64(done) / float64(len(files)) * 100
				// Sent before unlocking so delivered percentages
				// stay in increasing order across workers. The send
				// never blocks; a lagging receiver drops snapshots.
				if progress != nil {
					select {
					case progress <- types.Progress{Percent: pct, Label: rec.Name}:
					default:
					}
				}
				mu.Unlock()

				if outcome.Accepted() && d.tracker != nil {
					d.tracker.Mark(rec)
				}
			}
		}()
	}

	for _, rec := range files {
		select {
		case jobs <- rec:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return result, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	d.log.Info("upload batch finished", "batch", result.BatchID,
		"success", result.Stats.Success, "duplicates", result.Stats.Duplicates,
		"failed", result.Stats.Failed)
	return result, ctx.Err()
}

func (d *Dispatcher) poolSize(pending int) int {
	n := d.workers
	if cpus := runtime.NumCPU(); n > cpus {
		n = cpus
	}
	if n > pending {
		n = pending
	}
	if n < 1 {
		n = 1
	}
	return n
}

// uploadOne runs the retry loop for a single file.
func (d *Dispatcher) uploadOne(ctx context.Context, rec types.FileRecord) types.UploadOutcome {
	if !d.remote.Valid() {
		d.log.Warn("skipping upload, session not usable", "file", rec.Name)
		return types.OutcomeFailed
	}

	attempts := 0
	throttled := 0
	for {
		if err := ctx.Err(); err != nil {
			return types.OutcomeFailed
		}

		err := d.attempt(ctx, rec)
		switch {
		case err == nil:
			d.log.Info("uploaded", "file", rec.Name)
			return types.OutcomeSuccess

		case garmin.IsDuplicate(err):
			d.log.Info("already on remote", "file", rec.Name)
			return types.OutcomeDuplicate

		case garmin.IsUnauthorized(err):
			d.log.Warn("session rejected, forcing re-login", "file", rec.Name)
			if ierr := d.remote.Invalidate(); ierr != nil {
				d.log.Error("session invalidation failed", "error", ierr)
			}
			return types.OutcomeFailed

		case garmin.IsRateLimited(err):
			if throttled >= rateLimitWaits {
				d.log.Error("rate limited too long, giving up", "file", rec.Name)
				return types.OutcomeFailed
			}
			delay := rateLimitBase << throttled
			if delay > rateLimitMax {
				delay = rateLimitMax
			}
			throttled++
			d.log.Warn("rate limited", "file", rec.Name, "wait", delay)
			if d.sleep(ctx, delay) != nil {
				return types.OutcomeFailed
			}

		case garmin.IsNetwork(err):
			attempts++
			if attempts >= d.policy.MaxAttempts {
				d.log.Error("upload failed", "file", rec.Name, "error", err)
				return types.OutcomeFailed
			}
			delay := d.policy.backoff(attempts - 1)
			if delay > networkBackoffMax {
				delay = networkBackoffMax
			}
			d.log.Warn("transport error, retrying", "file", rec.Name, "attempt", attempts, "error", err)
			if d.sleep(ctx, delay) != nil {
				return types.OutcomeFailed
			}

		default:
			attempts++
			if attempts >= d.policy.MaxAttempts {
				d.log.Error("upload failed", "file", rec.Name, "error", err)
				return types.OutcomeFailed
			}
			d.log.Warn("upload error, retrying", "file", rec.Name, "attempt", attempts, "error", err)
			if d.sleep(ctx, otherBackoff) != nil {
				return types.OutcomeFailed
			}
		}
	}
}

// attempt streams the file to the remote once.
func (d *Dispatcher) attempt(ctx context.Context, rec types.FileRecord) error {
	f, err := os.Open(rec.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.remote.Upload(ctx, rec.Name, f)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
