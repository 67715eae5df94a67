package config

// Settings keys. The ledger and source paths live alongside plain
// preferences in one document, as the original settings file did.
const (
	KeyUsername       = "username"
	KeyBackupPath     = "backup_path"
	KeyTPDirectory    = "tp_directory"
	KeyProcessedFiles = "processed_files"
	KeyMaxUploads     = "max_concurrent_uploads"
	KeyAutoSaveSecs   = "auto_save_interval"
	KeyLogLevel       = "log_level"
	KeyLanguage       = "language"
)

// DefaultMaxUploads bounds the upload worker pool. The remote API rate
// limits aggressively, so the default stays small.
const DefaultMaxUploads = 2

// importantKeys trigger a debounced asynchronous save when mutated.
var importantKeys = map[string]bool{
	KeyUsername:       true,
	KeyBackupPath:     true,
	KeyProcessedFiles: true,
}

// Defaults returns the settings schema: every known key with its default
// value. Loaded values are validated against this map: unknown keys are
// dropped and type mismatches are replaced by the default.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		KeyUsername:       "",
		KeyBackupPath:     "",
		KeyTPDirectory:    "",
		KeyProcessedFiles: map[string]interface{}{},
		KeyMaxUploads:     DefaultMaxUploads,
		KeyAutoSaveSecs:   30,
		KeyLogLevel:       "info",
		KeyLanguage:       "en",
	}
}
