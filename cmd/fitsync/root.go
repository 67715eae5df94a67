package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fitsync/fitsync/pkg/fitsync/catalog"
	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/fitsync/fitsync/pkg/fitsync/engine"
	"github.com/fitsync/fitsync/pkg/fitsync/garmin"
	"github.com/fitsync/fitsync/pkg/fitsync/history"
	"github.com/fitsync/fitsync/pkg/fitsync/ledger"
	"github.com/fitsync/fitsync/pkg/fitsync/logging"
	"github.com/fitsync/fitsync/pkg/fitsync/sources"
	"github.com/fitsync/fitsync/pkg/fitsync/uploader"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	settingsFile string
	rootCmd      = &cobra.Command{
		Use:   "fitsync",
		Short: "Upload virtual-cycling activities to Garmin Connect",
		Long: `Fitsync finds the FIT activity files produced by MyWhoosh and
TrainingPeaks Virtual, cleans them up, and uploads the new ones to
Garmin Connect.

Running fitsync with no arguments lists the activities it found and
whether each one has already been uploaded.

Examples:
  fitsync                    # List discovered activities
  fitsync login              # Sign in to Garmin Connect
  fitsync upload             # Upload everything new
  fitsync upload ride.fit    # Upload a specific file
  fitsync watch --upload     # Upload automatically as files appear`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "settings file (default: ~/.config/fitsync/settings.json)")
	rootCmd.PersistentFlags().IntP("max-uploads", "w", 0, "override concurrent upload count (0=from settings)")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "output JSON format")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	// Bind flags to viper
	_ = viper.BindPFlag("max_uploads", rootCmd.PersistentFlags().Lookup("max-uploads"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig enables environment variable overrides.
func initConfig() {
	viper.SetEnvPrefix("FITSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("max_uploads", 0)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// settingsPath resolves the settings file location.
func settingsPath() string {
	if settingsFile != "" {
		return settingsFile
	}
	return config.DefaultSettingsPath()
}

// app bundles the long-lived collaborators the commands share.
type app struct {
	store   *config.Store
	fps     *catalog.Store
	locator *sources.Locator
	catalog *catalog.Catalog
	tracker *ledger.Tracker
	hist    *history.History
}

// newApp opens the settings store, initializes logging, and wires the
// discovery and tracking components. The fingerprint cache and history
// are best-effort; the commands work without them.
func newApp() (*app, error) {
	store, err := config.Open(settingsPath())
	if err != nil {
		return nil, fmt.Errorf("opening settings: %w", err)
	}

	if err := setupLogging(store); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	a := &app{store: store}

	fps, err := catalog.OpenStore(config.DefaultFingerprintCachePath())
	if err != nil {
		printVerbose("fingerprint cache unavailable: %v", err)
	} else {
		a.fps = fps
	}

	hist, err := history.New(config.DefaultHistoryDir())
	if err != nil {
		printVerbose("history unavailable: %v", err)
	} else {
		a.hist = hist
	}

	a.locator = sources.NewLocator(store)
	a.catalog = catalog.New(a.fps)
	a.tracker = ledger.New(store)
	return a, nil
}

// Close flushes settings and releases the cache and log file.
func (a *app) Close() {
	if a.fps != nil {
		_ = a.fps.Close()
	}
	if err := a.store.Close(); err != nil {
		printError("saving settings: %v", err)
	}
	_ = logging.Close()
}

// maxUploads resolves the worker count: flag or env first, settings
// second, built-in default last.
func (a *app) maxUploads() int {
	if n := viper.GetInt("max_uploads"); n > 0 {
		return n
	}
	return a.store.GetInt(config.KeyMaxUploads, config.DefaultMaxUploads)
}

// newEngine assembles the sync engine. A nil session builds an engine
// that can scan but not upload.
func (a *app) newEngine(session *garmin.Session) *engine.Engine {
	var dispatcher *uploader.Dispatcher
	if session != nil {
		dispatcher = uploader.New(session, a.tracker, uploader.WithMaxWorkers(a.maxUploads()))
	}
	return engine.New(engine.Options{
		Store:      a.store,
		Locator:    a.locator,
		Catalog:    a.catalog,
		Tracker:    a.tracker,
		Dispatcher: dispatcher,
		History:    a.hist,
	})
}

// setupLogging initializes the shared logging system. The file level
// comes from the settings; --verbose and --quiet adjust what also
// reaches the console.
func setupLogging(store *config.Store) error {
	level := store.GetString(config.KeyLogLevel)
	if level == "" {
		level = "info"
	}
	if getVerbose() {
		level = "debug"
	}

	console := "warn"
	switch {
	case getQuiet():
		console = "error"
	case getVerbose():
		console = "debug"
	}

	return logging.Init(logging.Config{
		Level:        level,
		Path:         logging.DefaultLogPath(),
		Rotation:     logging.DefaultRotationConfig(),
		ConsoleLevel: console,
	})
}

// resumeSession restores the persisted Garmin Connect session.
func resumeSession() (*garmin.Session, error) {
	session, err := garmin.Resume(garmin.NewClient(), config.DefaultTokenPath())
	if errors.Is(err, garmin.ErrNoSession) {
		return nil, fmt.Errorf("not logged in, run 'fitsync login' first")
	}
	if err != nil {
		return nil, fmt.Errorf("restoring session: %w", err)
	}
	return session, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
