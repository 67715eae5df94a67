package main

import (
	"context"
	"errors"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/garmin"
	"github.com/fitsync/fitsync/pkg/fitsync/watcher"
	"github.com/spf13/cobra"
)

var (
	watchUpload   bool
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch source directories for new activities",
	Long: `Watch every source directory and react when activity files appear
or change. Bursts of filesystem events, such as an app writing a file
in several chunks, are coalesced into a single notification.

With --upload each settled change triggers the same sync an explicit
'fitsync upload' would run. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchUpload, "upload", "u", false, "upload new files as they appear")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "quiet period before reacting to a burst of changes")
	rootCmd.AddCommand(watchCmd)
}

// runWatch is the watch command handler.
func runWatch(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var session *garmin.Session
	if watchUpload {
		session, err = resumeSession()
		if err != nil {
			return err
		}
	}

	dirs := a.locator.Available()
	if len(dirs) == 0 {
		return errors.New("no activity sources to watch")
	}

	w, err := watcher.New(watcher.WithDebounce(watchDebounce))
	if err != nil {
		return err
	}
	defer w.Close()

	for _, src := range dirs {
		if err := w.Watch(src.Path); err != nil {
			printError("cannot watch %s: %v", src.Path, err)
			continue
		}
		printInfo("Watching %s (%s)", src.Path, src.Label)
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng := a.newEngine(session)
	w.Run(ctx, func() {
		// The event that woke us may be newer than the scan cache.
		a.catalog.Refresh()

		if !watchUpload {
			records, err := eng.ScanAll(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					printError("rescan failed: %v", err)
				}
				return
			}
			fresh := 0
			for _, rec := range records {
				if !rec.Processed {
					fresh++
				}
			}
			if fresh > 0 {
				printInfo("%d new activity file(s); run 'fitsync upload' to sync.", fresh)
			}
			return
		}

		result, err := eng.Sync(ctx, nil)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				printError("sync failed: %v", err)
			}
			return
		}
		if result.Stats.Total > 0 {
			printSummary(result)
		}
	})

	printInfo("\nStopped watching.")
	return nil
}
