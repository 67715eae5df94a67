package sources

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// windowsPackagePrefixes are the Microsoft Store package directory
// names MyWhoosh has shipped under.
var windowsPackagePrefixes = []string{
	"TheWhooshGame",
	"MyWhoosh",
	"Whoosh",
	"com.whoosh",
}

// candidate is a probed location before content filtering.
type candidate struct {
	label string
	path  string
}

// candidatePaths returns the per-OS locations MyWhoosh is known to
// write activity files to, in preference order. Paths are returned
// whether or not they exist; the locator filters.
func candidatePaths(home, goos string) []candidate {
	switch goos {
	case "darwin":
		return []candidate{
			{"MyWhoosh (App Store)", filepath.Join(home, "Library", "Containers", "com.whoosh.whooshgame",
				"Data", "Library", "Application Support", "Epic", "MyWhoosh", "Content", "Data")},
			{"MyWhoosh", filepath.Join(home, "Library", "Application Support", "MyWhoosh", "Content", "Data")},
			{"MyWhoosh", filepath.Join(home, "Library", "Application Support", "Epic", "MyWhoosh", "Content", "Data")},
			{"MyWhoosh", filepath.Join(home, "Applications", "MyWhoosh.app", "Contents", "Resources", "Data")},
			{"MyWhoosh", filepath.Join(home, "Documents", "MyWhoosh")},
			{"MyWhoosh", filepath.Join(home, "MyWhoosh")},
		}

	case "windows":
		cands := windowsPackageCandidates(filepath.Join(home, "AppData", "Local", "Packages"))
		cands = append(cands,
			candidate{"MyWhoosh", filepath.Join(home, "AppData", "Local", "MyWhoosh", "Data")},
			candidate{"MyWhoosh", filepath.Join(home, "AppData", "Roaming", "MyWhoosh", "Data")},
			candidate{"MyWhoosh", filepath.Join(home, "Documents", "MyWhoosh")},
			candidate{"MyWhoosh", filepath.Join(`C:\`, "Program Files", "MyWhoosh", "Data")},
			candidate{"MyWhoosh", filepath.Join(`C:\`, "Program Files (x86)", "MyWhoosh", "Data")},
		)
		return cands

	default: // linux and friends
		return []candidate{
			{"MyWhoosh", filepath.Join(home, ".local", "share", "MyWhoosh")},
			{"MyWhoosh", filepath.Join(home, "MyWhoosh")},
			{"MyWhoosh", "/opt/MyWhoosh"},
			{"MyWhoosh", filepath.Join(home, ".config", "MyWhoosh", "Data")},
			{"MyWhoosh", filepath.Join(home, "snap", "mywhoosh", "common", "Data")},
			{"MyWhoosh", "/var/lib/snapd/snap/mywhoosh/common/Data"},
			{"MyWhoosh", "/usr/share/MyWhoosh/Data"},
		}
	}
}

// windowsPackageCandidates scans the Microsoft Store packages
// directory for MyWhoosh package installs. The directory routinely
// holds hundreds of entries, hence the parallel walk.
func windowsPackageCandidates(packagesBase string) []candidate {
	if _, err := os.Stat(packagesBase); err != nil {
		return nil
	}

	// Data locations relative to a package directory, across app versions.
	subPaths := [][]string{
		{"LocalCache", "Local", "MyWhoosh", "Content", "Data"},
		{"LocalState", "MyWhoosh", "Data"},
		{"AC", "INetCache", "MyWhoosh", "Data"},
	}

	var (
		mu    sync.Mutex
		cands []candidate
	)
	conf := fastwalk.Config{Follow: false}
	_ = fastwalk.Walk(&conf, packagesBase, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == packagesBase {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		matched := false
		for _, prefix := range windowsPackagePrefixes {
			if strings.HasPrefix(name, prefix) {
				matched = true
				break
			}
		}
		if matched {
			for _, sub := range subPaths {
				target := filepath.Join(append([]string{path}, sub...)...)
				if info, err := os.Stat(target); err == nil && info.IsDir() {
					mu.Lock()
					cands = append(cands, candidate{"MyWhoosh Store", target})
					mu.Unlock()
				}
			}
		}
		return fastwalk.SkipDir
	})

	sort.Slice(cands, func(i, j int) bool { return cands[i].path < cands[j].path })
	return cands
}

// containsActivities reports whether the directory holds at least one
// FIT file matching the known naming patterns.
func containsActivities(dir string, patterns []string) bool {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err == nil && len(matches) > 0 {
			return true
		}
	}
	return false
}
