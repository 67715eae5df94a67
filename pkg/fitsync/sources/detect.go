package sources

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fitsync/fitsync/pkg/fitsync/fit"
	"github.com/fitsync/fitsync/pkg/fitsync/types"
)

// fieldSessionSubSport is the sub-sport enum in a session message.
const fieldSessionSubSport = 6

// subSportVirtualActivity is the sub-sport value MyWhoosh records.
const subSportVirtualActivity = 58

// DetectProducer determines which app produced the file at path.
// Best effort, in decreasing confidence: directory containment,
// content sniffing, then modification-time proximity to the most
// recent activity in each source. Returns "" only when nothing at
// all can be determined.
func (l *Locator) DetectProducer(path string, dirs []types.SourceDirectory) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	var myWhoosh, trainingPeaks []types.SourceDirectory
	for _, d := range dirs {
		if d.Label == types.ProducerTrainingPeaks {
			trainingPeaks = append(trainingPeaks, d)
		} else {
			myWhoosh = append(myWhoosh, d)
		}
	}

	for _, d := range myWhoosh {
		if within(abs, d.Path) {
			return types.ProducerMyWhoosh
		}
	}
	for _, d := range trainingPeaks {
		if within(abs, d.Path) {
			return types.ProducerTrainingPeaks
		}
	}

	if producer, ok := sniffProducer(abs); ok {
		return producer
	}

	// Neither path nor content settles it: attribute to whichever
	// source produced a file closest in time.
	info, err := os.Stat(abs)
	if err != nil {
		return ""
	}
	myDiff := mtimeProximity(info.ModTime().Unix(), myWhoosh)
	tpDiff := mtimeProximity(info.ModTime().Unix(), trainingPeaks)
	switch {
	case myDiff < 0 && tpDiff < 0:
		return ""
	case tpDiff < 0 || (myDiff >= 0 && myDiff < tpDiff):
		return types.ProducerMyWhoosh
	default:
		return types.ProducerTrainingPeaks
	}
}

// sniffProducer decodes the file and inspects the session sub-sport.
func sniffProducer(path string) (string, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	f, err := fit.Decode(raw)
	if err != nil {
		return "", false
	}
	for i := range f.Messages {
		m := &f.Messages[i]
		if m.IsDefinition || m.Kind != fit.KindSessionSummary {
			continue
		}
		if sub, ok := m.Field(fieldSessionSubSport); ok {
			if sub == subSportVirtualActivity {
				return types.ProducerMyWhoosh, true
			}
			return types.ProducerTrainingPeaks, true
		}
	}
	return "", false
}

// mtimeProximity returns the smallest absolute difference in seconds
// between t and the newest activity in any of the dirs, or -1 when no
// activity exists.
func mtimeProximity(t int64, dirs []types.SourceDirectory) int64 {
	best := int64(-1)
	for _, d := range dirs {
		newest := newestActivityTime(d.Path)
		if newest == 0 {
			continue
		}
		diff := t - newest
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < best {
			best = diff
		}
	}
	return best
}

func newestActivityTime(dir string) int64 {
	matches, err := filepath.Glob(filepath.Join(dir, types.ActivityPattern))
	if err != nil || len(matches) == 0 {
		return 0
	}
	var newest int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if ts := info.ModTime().Unix(); ts > newest {
			newest = ts
		}
	}
	return newest
}

// within reports whether path sits under dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
