package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitsync/fitsync/pkg/fitsync/types"
)

func testResults() []FileResult {
	return []FileResult{
		{Name: "MyNewActivity-1.fit", Path: "/tmp/MyNewActivity-1.fit", Size: 1024,
			Fingerprint: "aaaa111122223333", Source: "MyWhoosh", Outcome: types.OutcomeSuccess},
		{Name: "MyNewActivity-2.fit", Path: "/tmp/MyNewActivity-2.fit", Size: 2048,
			Fingerprint: "bbbb111122223333", Source: "MyWhoosh", Outcome: types.OutcomeDuplicate},
	}
}

func TestRecordAndGet(t *testing.T) {
	h, err := New(t.TempDir())
	require.NoError(t, err)

	stats := types.BatchStats{Total: 2, Success: 1, Duplicates: 1}
	entry, err := h.Record("batch-1", time.Now(), testResults(), stats)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", entry.ID)

	got, err := h.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, stats, got.Stats)
	require.Len(t, got.Files, 2)
	assert.Equal(t, types.OutcomeDuplicate, got.Files[1].Outcome)
}

func TestGetUnknownBatch(t *testing.T) {
	h, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = h.Record("batch-1", time.Now(), testResults(), types.BatchStats{Total: 2})
	require.NoError(t, err)

	_, err = h.Get("nope")
	assert.ErrorContains(t, err, "not found")
}

func TestListNewestFirst(t *testing.T) {
	h, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		_, err := h.Record(id, base.Add(time.Duration(i)*time.Minute), nil, types.BatchStats{})
		require.NoError(t, err)
	}

	entries, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "new", entries[0].ID)
	assert.Equal(t, "old", entries[2].ID)

	limited, err := h.List(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListEmptyDir(t *testing.T) {
	h, err := New(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, err)

	entries, err := h.List(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordAtomic(t *testing.T) {
	dir := t.TempDir()
	h, err := New(dir)
	require.NoError(t, err)

	_, err = h.Record("batch-1", time.Now(), testResults(), types.BatchStats{Total: 2})
	require.NoError(t, err)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, f := range files {
		assert.False(t, strings.HasSuffix(f.Name(), ".tmp"))
	}
}

func TestCleanupRetention(t *testing.T) {
	h, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = h.Record("ancient", time.Now().AddDate(0, 0, -40), nil, types.BatchStats{})
	require.NoError(t, err)
	_, err = h.Record("recent", time.Now(), nil, types.BatchStats{})
	require.NoError(t, err)

	require.NoError(t, h.Cleanup(30))

	entries, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].ID)
}
