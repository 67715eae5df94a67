package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string) (*Watcher, *atomic.Int32, context.CancelFunc) {
	t.Helper()

	w, err := New(WithDebounce(50 * time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Watch(dir))

	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func() { fired.Add(1) })
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return w, &fired, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBurstFiresOnce(t *testing.T) {
	dir := t.TempDir()
	_, fired, _ := startWatcher(t, dir)

	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, "MyNewActivity-"+string(rune('1'+i))+".fit")
		require.NoError(t, os.WriteFile(name, []byte("data"), 0o644))
	}

	waitFor(t, func() bool { return fired.Load() >= 1 })
	// Let any stray timers fire.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "burst coalesced to one notification")
}

func TestSeparateBurstsFireSeparately(t *testing.T) {
	dir := t.TempDir()
	_, fired, _ := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "MyNewActivity-1.fit"), []byte("a"), 0o644))
	waitFor(t, func() bool { return fired.Load() == 1 })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "MyNewActivity-2.fit"), []byte("b"), 0o644))
	waitFor(t, func() bool { return fired.Load() == 2 })
}

func TestIgnoresNonActivityFiles(t *testing.T) {
	dir := t.TempDir()
	_, fired, _ := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestWatchesCreatedSubdirectories(t *testing.T) {
	dir := t.TempDir()
	_, fired, _ := startWatcher(t, dir)

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "MyNewActivity-9.fit"), []byte("x"), 0o644))
	waitFor(t, func() bool { return fired.Load() >= 1 })
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	w, err := New(WithDebounce(50 * time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Watch(dir))
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
