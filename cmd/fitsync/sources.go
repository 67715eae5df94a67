package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/spf13/cobra"
)

var (
	sourcesRefresh bool
	sourcesTPDir   string
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List detected activity source directories",
	Long: `Show the directories fitsync watches for activity files.

MyWhoosh locations are probed automatically per platform. A
TrainingPeaks Virtual directory can be registered with --tp-dir since
its location is not discoverable.`,
	Args: cobra.NoArgs,
	RunE: runSources,
}

func init() {
	sourcesCmd.Flags().BoolVarP(&sourcesRefresh, "refresh", "r", false, "re-probe instead of using the cached result")
	sourcesCmd.Flags().StringVar(&sourcesTPDir, "tp-dir", "", "register a TrainingPeaks Virtual directory")
	rootCmd.AddCommand(sourcesCmd)
}

// runSources is the sources command handler.
func runSources(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if sourcesTPDir != "" {
		abs, err := filepath.Abs(sourcesTPDir)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", sourcesTPDir, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("cannot access %s: %w", abs, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("not a directory: %s", abs)
		}
		a.store.Set(config.KeyTPDirectory, abs)
		printInfo("Registered TrainingPeaks directory: %s", abs)
		sourcesRefresh = true
	}

	if sourcesRefresh {
		a.locator.Refresh()
	}

	dirs := a.locator.Available()
	if len(dirs) == 0 {
		printInfo("No activity sources found.")
		printInfo("Install MyWhoosh or register a directory with --tp-dir.")
		return nil
	}

	for _, src := range dirs {
		fmt.Printf("%-24s  %s\n", src.Label, src.Path)
	}
	return nil
}
