package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fitsync/fitsync/pkg/fitsync/types"
	"github.com/spf13/cobra"
)

var ledgerClearForce bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and edit the uploaded-files ledger",
	Long: `The ledger records which activity files have already been uploaded
so they are skipped on later runs. Files are identified by name and
size together with a content fingerprint.`,
	Args: cobra.NoArgs,
	RunE: runLedgerList,
}

var ledgerMarkNewCmd = &cobra.Command{
	Use:   "mark-new <name>",
	Short: "Forget a file so it uploads again",
	Long: `Remove every ledger entry whose key contains the given name. The
file will be treated as new on the next upload; the remote still
reports a duplicate if it already has the content.`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerMarkNew,
}

var ledgerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe the entire ledger",
	Args:  cobra.NoArgs,
	RunE:  runLedgerClear,
}

func init() {
	ledgerClearCmd.Flags().BoolVar(&ledgerClearForce, "force", false, "confirm wiping the ledger")

	ledgerCmd.AddCommand(ledgerMarkNewCmd)
	ledgerCmd.AddCommand(ledgerClearCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// runLedgerList prints the ledger contents newest first.
func runLedgerList(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries := a.tracker.Entries()
	if len(entries) == 0 {
		printInfo("Ledger is empty.")
		return nil
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return entries[keys[i]].Timestamp > entries[keys[j]].Timestamp
	})

	fmt.Printf("%-44s  %-20s  %-16s  %s\n", "FILE", "UPLOADED", "FINGERPRINT", "SIZE")
	fmt.Println(strings.Repeat("-", 96))
	for _, key := range keys {
		e := entries[key]
		size := ""
		if e.Size > 0 {
			size = types.FormatSize(e.Size)
		}
		fmt.Printf("%-44s  %-20s  %-16s  %s\n",
			truncateString(key, 44), e.Timestamp, e.Fingerprint, size)
	}
	printInfo("\n%d entry(ies).", len(entries))
	return nil
}

// runLedgerMarkNew forgets entries matching the given name.
func runLedgerMarkNew(_ *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	before := len(a.tracker.Entries())
	a.tracker.Unmark(types.FileRecord{Name: args[0]})
	removed := before - len(a.tracker.Entries())

	if removed == 0 {
		printInfo("No ledger entries match %q.", args[0])
		return nil
	}
	printInfo("Removed %d entry(ies); %q will upload again.", removed, args[0])
	return nil
}

// runLedgerClear wipes the ledger when --force is passed.
func runLedgerClear(_ *cobra.Command, _ []string) error {
	if !ledgerClearForce {
		return fmt.Errorf("refusing to wipe the ledger without --force")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	count := len(a.tracker.Entries())
	a.tracker.Clear()
	printInfo("Cleared %d ledger entry(ies).", count)
	return nil
}
