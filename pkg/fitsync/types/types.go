// Package types provides core data types for the fitsync activity uploader.
// It includes structures for discovered source directories, catalogued
// activity files, and upload outcomes, along with size formatting helpers.
package types

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ActivityPattern is the filename glob produced by the virtual-cycling apps.
const ActivityPattern = "MyNewActivity-*.fit"

// Producer labels for the supported virtual-cycling apps.
const (
	ProducerMyWhoosh      = "MyWhoosh"
	ProducerTrainingPeaks = "TrainingPeaks Virtual"
)

// FallbackPatterns are tried when probing a directory that has no files
// matching ActivityPattern. They exist only for source detection; the
// catalog itself matches ActivityPattern exclusively.
var FallbackPatterns = []string{"*.fit", "Activity-*.fit", "workout-*.fit"}

// SourceDirectory is a filesystem location believed to contain activity
// files for one producing application. Instances are re-derived on each
// probe and never mutated.
type SourceDirectory struct {
	// Label identifies the producer (e.g. "MyWhoosh", "TrainingPeaks Virtual").
	Label string `json:"label"`

	// Path is the absolute directory path.
	Path string `json:"path"`

	// Exists reports whether the directory was present at probe time.
	Exists bool `json:"exists"`
}

// FileRecord is one candidate activity file discovered during a scan.
// Two records with equal Fingerprint are the same logical activity
// regardless of name.
type FileRecord struct {
	// Name is the base filename.
	Name string `json:"name"`

	// Path is the absolute path to the file.
	Path string `json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// ModTime is the last modification time of the file.
	ModTime time.Time `json:"mod_time"`

	// Fingerprint is the truncated SHA-256 of the file contents.
	Fingerprint string `json:"fingerprint"`

	// Source is the label of the source directory the file came from.
	Source string `json:"source"`

	// Processed is derived from the ledger at scan time; it is never
	// persisted on the record itself.
	Processed bool `json:"processed"`
}

// HumanSize returns the file size formatted as a human-readable string.
func (r *FileRecord) HumanSize() string {
	return FormatSize(r.Size)
}

// LedgerKey returns the composite identity key used by the processed-set
// ledger: name and byte size joined with an underscore.
func (r *FileRecord) LedgerKey() string {
	return fmt.Sprintf("%s_%d", r.Name, r.Size)
}

// UploadOutcome is the per-file result of an upload attempt sequence.
type UploadOutcome int

const (
	// OutcomeFailed means every attempt was exhausted without success.
	OutcomeFailed UploadOutcome = iota

	// OutcomeSuccess means the remote accepted the file.
	OutcomeSuccess

	// OutcomeDuplicate means the remote already had the file. Treated as
	// success for ledger purposes but reported separately.
	OutcomeDuplicate
)

// String returns the human-readable outcome name.
func (o UploadOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Accepted reports whether the outcome counts as a confirmed upload for
// ledger purposes.
func (o UploadOutcome) Accepted() bool {
	return o == OutcomeSuccess || o == OutcomeDuplicate
}

// BatchStats aggregates the results of one upload batch.
type BatchStats struct {
	// Total is the number of files in the batch.
	Total int `json:"total"`

	// Success is the number of files the remote accepted.
	Success int `json:"success"`

	// Duplicates is the number of files the remote already had.
	Duplicates int `json:"duplicates"`

	// Failed is the number of files that exhausted all attempts.
	Failed int `json:"failed"`
}

// Progress is a snapshot reported after each file in a batch completes.
type Progress struct {
	// Percent is the monotonically increasing completion percentage.
	Percent float64 `json:"percent"`

	// Label is a human-readable description of the completed file.
	Label string `json:"label"`
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units.
func FormatSize(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}
