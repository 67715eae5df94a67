package main

import (
	"fmt"
	"strings"

	"github.com/fitsync/fitsync/pkg/fitsync/types"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past upload batches",
	Long: `View the recorded outcome of past upload batches, newest first.
Each batch lists the files it contained and how each one fared.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of one batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of batches to show")

	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

// runHistory lists recent batches.
func runHistory(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.hist == nil {
		return fmt.Errorf("history is unavailable")
	}

	entries, err := a.hist.List(historyLimit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	if len(entries) == 0 {
		printInfo("No upload batches recorded yet.")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %5s  %8s  %10s  %6s\n",
		"ID", "WHEN", "FILES", "UPLOADED", "DUPLICATES", "FAILED")
	fmt.Println(strings.Repeat("-", 94))
	for _, entry := range entries {
		fmt.Printf("%-36s  %-20s  %5d  %8d  %10d  %6d\n",
			entry.ID,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Stats.Total,
			entry.Stats.Success,
			entry.Stats.Duplicates,
			entry.Stats.Failed)
	}
	return nil
}

// runHistoryShow prints one batch in full.
func runHistoryShow(_ *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.hist == nil {
		return fmt.Errorf("history is unavailable")
	}

	entry, err := a.hist.Get(args[0])
	if err != nil {
		return fmt.Errorf("batch %s: %w", args[0], err)
	}

	printInfo("Batch %s at %s", entry.ID, entry.Timestamp.Format("2006-01-02 15:04:05"))
	printInfo("%d file(s): %d uploaded, %d duplicate(s), %d failed\n",
		entry.Stats.Total, entry.Stats.Success, entry.Stats.Duplicates, entry.Stats.Failed)

	fmt.Printf("%-10s  %-32s  %-10s  %s\n", "OUTCOME", "NAME", "SIZE", "SOURCE")
	fmt.Println(strings.Repeat("-", 80))
	for _, file := range entry.Files {
		fmt.Printf("%-10s  %-32s  %-10s  %s\n",
			file.Outcome.String(),
			truncateString(file.Name, 32),
			humanOrEmpty(file.Size),
			file.Source)
	}
	return nil
}

func humanOrEmpty(size int64) string {
	if size <= 0 {
		return ""
	}
	return types.FormatSize(size)
}
