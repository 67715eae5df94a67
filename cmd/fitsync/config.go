package main

import (
	"fmt"
	"strconv"

	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage settings",
	Long: `Manage the fitsync settings file.

Settings live in a single JSON document under the XDG config
directory. Environment variables with the FITSYNC_ prefix override
the command-line flags, e.g. FITSYNC_MAX_UPLOADS=4.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Long: `Change a setting and save it immediately.

Settable keys:
  username                 Garmin Connect account email
  backup_path              directory cleaned copies are written to
  tp_directory             TrainingPeaks Virtual activity directory
  max_concurrent_uploads   upload worker count
  auto_save_interval       settings autosave interval in seconds
  log_level                debug, info, warn or error
  language                 interface language code`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the settings file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// intKeys are the settings that hold numbers.
var intKeys = map[string]bool{
	config.KeyMaxUploads:   true,
	config.KeyAutoSaveSecs: true,
}

// runConfigShow displays the current settings.
func runConfigShow(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Settings file: %s\n\n", a.store.Path())
	fmt.Printf("%-24s %s\n", config.KeyUsername+":", a.store.GetString(config.KeyUsername))
	fmt.Printf("%-24s %s\n", config.KeyBackupPath+":", a.store.GetString(config.KeyBackupPath))
	fmt.Printf("%-24s %s\n", config.KeyTPDirectory+":", a.store.GetString(config.KeyTPDirectory))
	fmt.Printf("%-24s %d\n", config.KeyMaxUploads+":", a.store.GetInt(config.KeyMaxUploads, config.DefaultMaxUploads))
	fmt.Printf("%-24s %d\n", config.KeyAutoSaveSecs+":", a.store.GetInt(config.KeyAutoSaveSecs, 30))
	fmt.Printf("%-24s %s\n", config.KeyLogLevel+":", a.store.GetString(config.KeyLogLevel))
	fmt.Printf("%-24s %s\n", config.KeyLanguage+":", a.store.GetString(config.KeyLanguage))
	fmt.Printf("%-24s %d entry(ies)\n", config.KeyProcessedFiles+":", len(a.store.GetMap(config.KeyProcessedFiles)))
	return nil
}

// runConfigSet changes one setting.
func runConfigSet(_ *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if key == config.KeyProcessedFiles {
		return fmt.Errorf("use 'fitsync ledger' to edit the uploaded-files ledger")
	}
	if _, known := config.Defaults()[key]; !known {
		return fmt.Errorf("unknown setting %q", key)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if intKeys[key] {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s needs a positive number, got %q", key, value)
		}
		a.store.Set(key, n)
	} else {
		a.store.Set(key, value)
	}

	if err := a.store.Save(true); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	printInfo("%s = %s", key, value)
	return nil
}

// runConfigPath prints the settings file location.
func runConfigPath(_ *cobra.Command, _ []string) error {
	fmt.Println(settingsPath())
	return nil
}
