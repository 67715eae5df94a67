package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List discovered activity files",
	Long: `Scan every known source directory for activity files and show
which ones have already been uploaded. This is the same listing the
bare 'fitsync' invocation produces.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

// runScan is the root command handler.
func runScan(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	dirs := a.locator.Available()
	for _, src := range dirs {
		printVerbose("source %q at %s", src.Label, src.Path)
	}

	records, err := a.newEngine(nil).ScanAll(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			printInfo("Scan cancelled")
			return nil
		}
		return fmt.Errorf("scan failed: %w", err)
	}

	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(dirs) == 0 {
		printInfo("No activity sources found.")
		printInfo("Use 'fitsync sources --tp-dir <path>' to register a TrainingPeaks directory.")
		return nil
	}

	if len(records) == 0 {
		printInfo("No activity files found in %d source(s).", len(dirs))
		return nil
	}

	newCount := 0
	fmt.Printf("%-6s  %-32s  %10s  %-16s  %s\n", "STATUS", "NAME", "SIZE", "MODIFIED", "SOURCE")
	fmt.Println(strings.Repeat("-", 90))
	for _, rec := range records {
		status := "new"
		if rec.Processed {
			status = "sent"
		} else {
			newCount++
		}
		fmt.Printf("%-6s  %-32s  %10s  %-16s  %s\n",
			status,
			truncateString(rec.Name, 32),
			rec.HumanSize(),
			rec.ModTime.Format("2006-01-02 15:04"),
			rec.Source)
	}

	printInfo("\n%d activity file(s), %d new.", len(records), newCount)
	if newCount > 0 {
		printInfo("Run 'fitsync upload' to upload the new ones.")
	}
	return nil
}

// truncateString truncates s to max characters, marking the cut.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
