package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitsync/fitsync/pkg/fitsync/garmin"
	"github.com/fitsync/fitsync/pkg/fitsync/types"
	"github.com/fitsync/fitsync/pkg/fitsync/uploader"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file...]",
	Short: "Upload new activities to Garmin Connect",
	Long: `Upload activity files that have not been uploaded before.

With no arguments every source directory is scanned and all new files
are uploaded. With file arguments only those files are considered,
still skipping any the ledger already knows about.

Each file is cleaned up before upload and a copy of the cleaned file
is kept in the backup directory.`,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

// runUpload is the upload command handler.
func runUpload(_ *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := resumeSession()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng := a.newEngine(session)

	progress := make(chan types.Progress, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			printInfo("[%3.0f%%] %s", p.Percent, p.Label)
		}
	}()

	var result *uploader.Result
	if len(args) == 0 {
		result, err = eng.Sync(ctx, progress)
	} else {
		result, err = eng.UploadPaths(ctx, args, progress)
	}
	close(progress)
	<-done

	if err != nil {
		if errors.Is(err, context.Canceled) {
			printInfo("Upload cancelled")
			return nil
		}
		if errors.Is(err, garmin.ErrSessionInvalid) {
			return fmt.Errorf("session expired, run 'fitsync login' again")
		}
		return err
	}

	printSummary(result)
	if result.Stats.Failed > 0 {
		return fmt.Errorf("%d upload(s) failed", result.Stats.Failed)
	}
	return nil
}

// printSummary reports the batch outcome.
func printSummary(result *uploader.Result) {
	if result == nil || result.Stats.Total == 0 {
		printInfo("Nothing to upload.")
		return
	}

	stats := result.Stats
	printInfo("%d file(s): %d uploaded, %d duplicate(s), %d failed",
		stats.Total, stats.Success, stats.Duplicates, stats.Failed)
	printVerbose("batch %s", result.BatchID)
}
