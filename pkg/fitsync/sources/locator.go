// Package sources discovers the directories virtual-cycling apps
// write their activity files to.
package sources

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/fitsync/fitsync/pkg/fitsync/logging"
	"github.com/fitsync/fitsync/pkg/fitsync/types"
)

// sourcesTTL is how long a probe result stays fresh.
const sourcesTTL = 60 * time.Second

// Locator probes the filesystem for activity source directories. The
// MyWhoosh locations are OS-specific and probed automatically; the
// TrainingPeaks Virtual directory comes from settings.
type Locator struct {
	mu        sync.Mutex
	cached    []types.SourceDirectory
	cachedSet bool
	cachedAt  time.Time
	ttl       time.Duration

	store *config.Store
	log   *logging.Logger

	// Overridden in tests.
	home string
	goos string
	now  func() time.Time
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithHome overrides the home directory the probe lists are built
// from. Used by tests.
func WithHome(home string) LocatorOption {
	return func(l *Locator) { l.home = home }
}

// WithGOOS overrides the probed operating system. Used by tests.
func WithGOOS(goos string) LocatorOption {
	return func(l *Locator) { l.goos = goos }
}

// NewLocator creates a locator reading the TrainingPeaks directory
// from store. store may be nil when only MyWhoosh probing is wanted.
func NewLocator(store *config.Store, opts ...LocatorOption) *Locator {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	l := &Locator{
		ttl:   sourcesTTL,
		store: store,
		log:   logging.Get("sources"),
		home:  home,
		goos:  runtime.GOOS,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Available returns the qualifying source directories. Results are
// cached briefly; use Refresh to force a re-probe.
func (l *Locator) Available() []types.SourceDirectory {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cachedSet && l.now().Sub(l.cachedAt) < l.ttl {
		return append([]types.SourceDirectory(nil), l.cached...)
	}

	found := l.probe()
	l.cached = found
	l.cachedSet = true
	l.cachedAt = l.now()
	return append([]types.SourceDirectory(nil), found...)
}

// Refresh drops the cached probe result.
func (l *Locator) Refresh() {
	l.mu.Lock()
	l.cached = nil
	l.cachedSet = false
	l.mu.Unlock()
}

// probe walks the candidate lists. A candidate qualifies only when
// the directory exists and holds at least one activity file.
func (l *Locator) probe() []types.SourceDirectory {
	patterns := append([]string{types.ActivityPattern}, types.FallbackPatterns...)

	var found []types.SourceDirectory
	counts := make(map[string]int)

	for _, cand := range candidatePaths(l.home, l.goos) {
		info, err := os.Stat(cand.path)
		if err != nil {
			if !os.IsNotExist(err) {
				l.log.Debug("source probe failed", "path", cand.path, "error", err)
			}
			continue
		}
		if !info.IsDir() || !containsActivities(cand.path, patterns) {
			continue
		}

		counts[cand.label]++
		label := cand.label
		if counts[cand.label] > 1 {
			label = fmt.Sprintf("%s %d", cand.label, counts[cand.label])
		}
		found = append(found, types.SourceDirectory{Label: label, Path: cand.path, Exists: true})
		l.log.Info("source detected", "label", label, "path", cand.path)
	}

	if tp := l.trainingPeaksDir(); tp != "" {
		info, err := os.Stat(tp)
		if err == nil && info.IsDir() {
			found = append(found, types.SourceDirectory{
				Label:  types.ProducerTrainingPeaks,
				Path:   tp,
				Exists: true,
			})
			l.log.Info("source detected", "label", types.ProducerTrainingPeaks, "path", tp)
		} else {
			l.log.Warn("configured TrainingPeaks directory unavailable", "path", tp)
		}
	}

	if len(found) == 0 {
		l.log.Warn("no activity sources detected")
	}
	return found
}

// trainingPeaksDir returns the configured TrainingPeaks Virtual
// directory, or "" when unset.
func (l *Locator) trainingPeaksDir() string {
	if l.store == nil {
		return ""
	}
	return l.store.GetString(config.KeyTPDirectory)
}
