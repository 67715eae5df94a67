package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/fitsync/fitsync/pkg/fitsync/garmin"
	"github.com/fitsync/fitsync/pkg/fitsync/ledger"
	"github.com/fitsync/fitsync/pkg/fitsync/types"
)

// fakeRemote replays a scripted error sequence per file name.
type fakeRemote struct {
	mu          sync.Mutex
	script      map[string][]error
	calls       map[string]int
	invalid     bool
	invalidated int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{script: make(map[string][]error), calls: make(map[string]int)}
}

func (f *fakeRemote) respond(name string, errs ...error) {
	f.mu.Lock()
	f.script[name] = errs
	f.mu.Unlock()
}

func (f *fakeRemote) Upload(_ context.Context, name string, data io.Reader) error {
	io.Copy(io.Discard, data) //nolint:errcheck
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[name]
	f.calls[name] = n + 1
	seq := f.script[name]
	if n < len(seq) {
		return seq[n]
	}
	return nil
}

func (f *fakeRemote) Invalidate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid = true
	f.invalidated++
	return nil
}

func (f *fakeRemote) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid
}

func (f *fakeRemote) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func statusErr(code int) error { return &garmin.StatusError{Code: code} }

func netErr() error {
	return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
}

// testDispatcher records sleeps instead of waiting.
func testDispatcher(t *testing.T, remote Remote, tracker *ledger.Tracker, opts ...Option) (*Dispatcher, *[]time.Duration) {
	t.Helper()
	d := New(remote, tracker, opts...)
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, dur)
		mu.Unlock()
		return ctx.Err()
	}
	return d, &sleeps
}

func testFile(t *testing.T, name string) types.FileRecord {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("activity bytes"), 0o644))
	return types.FileRecord{Name: name, Path: path, Size: 14, Fingerprint: "fp-" + name}
}

func testTracker(t *testing.T) *ledger.Tracker {
	t.Helper()
	store, err := config.Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ledger.New(store)
}

func TestUploadAllSuccessMarksLedger(t *testing.T) {
	remote := newFakeRemote()
	tracker := testTracker(t)
	d, _ := testDispatcher(t, remote, tracker)

	rec := testFile(t, "MyNewActivity-1.fit")
	result, err := d.UploadAll(context.Background(), []types.FileRecord{rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, result.Outcomes[rec.Path])
	assert.Equal(t, types.BatchStats{Total: 1, Success: 1}, result.Stats)
	assert.NotEmpty(t, result.BatchID)
	assert.True(t, tracker.IsProcessed(rec))
}

func TestUploadAllDuplicateCountsAndMarks(t *testing.T) {
	remote := newFakeRemote()
	tracker := testTracker(t)
	d, _ := testDispatcher(t, remote, tracker)

	rec := testFile(t, "MyNewActivity-2.fit")
	remote.respond(rec.Name, statusErr(http.StatusConflict))

	result, err := d.UploadAll(context.Background(), []types.FileRecord{rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeDuplicate, result.Outcomes[rec.Path])
	assert.Equal(t, 1, result.Stats.Duplicates)
	assert.True(t, tracker.IsProcessed(rec), "remote duplicate still enters the ledger")
}

func TestUploadAllUnauthorizedInvalidatesSession(t *testing.T) {
	remote := newFakeRemote()
	tracker := testTracker(t)
	d, _ := testDispatcher(t, remote, tracker)

	rec := testFile(t, "MyNewActivity-3.fit")
	remote.respond(rec.Name, statusErr(http.StatusUnauthorized))

	result, err := d.UploadAll(context.Background(), []types.FileRecord{rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeFailed, result.Outcomes[rec.Path])
	assert.False(t, remote.Valid())
	assert.Equal(t, 1, remote.invalidated)
	assert.False(t, tracker.IsProcessed(rec), "failures never enter the ledger")
	assert.Equal(t, 1, remote.callCount(rec.Name), "no retry on auth failure")
}

func TestUploadAllNetworkErrorsExhaustAttempts(t *testing.T) {
	remote := newFakeRemote()
	d, sleeps := testDispatcher(t, remote, nil)

	rec := testFile(t, "MyNewActivity-4.fit")
	remote.respond(rec.Name, netErr(), netErr(), netErr(), netErr())

	result, err := d.UploadAll(context.Background(), []types.FileRecord{rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeFailed, result.Outcomes[rec.Path])
	assert.Equal(t, 3, remote.callCount(rec.Name))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestUploadAllNetworkErrorThenSuccess(t *testing.T) {
	remote := newFakeRemote()
	d, _ := testDispatcher(t, remote, nil)

	rec := testFile(t, "MyNewActivity-5.fit")
	remote.respond(rec.Name, netErr())

	result, err := d.UploadAll(context.Background(), []types.FileRecord{rec}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Outcomes[rec.Path])
}

func TestUploadAllRateLimitDoesNotConsumeAttempts(t *testing.T) {
	remote := newFakeRemote()
	d, sleeps := testDispatcher(t, remote, nil)

	rec := testFile(t, "MyNewActivity-6.fit")
	remote.respond(rec.Name,
		statusErr(http.StatusTooManyRequests),
		statusErr(http.StatusTooManyRequests),
		statusErr(http.StatusTooManyRequests),
		statusErr(http.StatusTooManyRequests),
	)

	result, err := d.UploadAll(context.Background(), []types.FileRecord{rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, result.Outcomes[rec.Path],
		"throttling waits are not fatal attempts")
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, *sleeps)
}

func TestUploadAllRateLimitGivesUpEventually(t *testing.T) {
	remote := newFakeRemote()
	d, sleeps := testDispatcher(t, remote, nil)

	rec := testFile(t, "MyNewActivity-7.fit")
	var forever []error
	for i := 0; i < 10; i++ {
		forever = append(forever, statusErr(http.StatusTooManyRequests))
	}
	remote.respond(rec.Name, forever...)

	result, err := d.UploadAll(context.Background(), []types.FileRecord{rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeFailed, result.Outcomes[rec.Path])
	assert.Len(t, *sleeps, rateLimitWaits)
}

func TestUploadAllInvalidSessionFailsFast(t *testing.T) {
	remote := newFakeRemote()
	remote.invalid = true
	d, _ := testDispatcher(t, remote, nil)

	rec := testFile(t, "MyNewActivity-8.fit")
	result, err := d.UploadAll(context.Background(), []types.FileRecord{rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeFailed, result.Outcomes[rec.Path])
	assert.Equal(t, 0, remote.callCount(rec.Name))
}

func TestUploadAllProgressReachesFull(t *testing.T) {
	remote := newFakeRemote()
	d, _ := testDispatcher(t, remote, nil, WithMaxWorkers(1))

	files := []types.FileRecord{
		testFile(t, "MyNewActivity-10.fit"),
		testFile(t, "MyNewActivity-11.fit"),
	}

	progress := make(chan types.Progress, 16)
	result, err := d.UploadAll(context.Background(), files, progress)
	require.NoError(t, err)
	close(progress)

	assert.Equal(t, 2, result.Stats.Success)
	var last types.Progress
	count := 0
	for p := range progress {
		last = p
		count++
	}
	assert.Equal(t, 2, count)
	assert.InDelta(t, 100.0, last.Percent, 0.001)
}

func TestUploadAllProgressIsMonotonicAcrossWorkers(t *testing.T) {
	remote := newFakeRemote()
	d, _ := testDispatcher(t, remote, nil, WithMaxWorkers(2))

	var files []types.FileRecord
	for i := 0; i < 8; i++ {
		files = append(files, testFile(t, fmt.Sprintf("MyNewActivity-%d.fit", 20+i)))
	}

	progress := make(chan types.Progress, len(files))
	_, err := d.UploadAll(context.Background(), files, progress)
	require.NoError(t, err)
	close(progress)

	last := 0.0
	for p := range progress {
		assert.Greater(t, p.Percent, last, "delivered percentages must increase")
		last = p.Percent
	}
	assert.InDelta(t, 100.0, last, 0.001)
}

func TestUploadAllMoreFilesThanWorkers(t *testing.T) {
	remote := newFakeRemote()
	d, _ := testDispatcher(t, remote, nil, WithMaxWorkers(2))

	var files []types.FileRecord
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		files = append(files, testFile(t, "MyNewActivity-"+n+".fit"))
	}

	result, err := d.UploadAll(context.Background(), files, nil)
	require.NoError(t, err)
	assert.Len(t, result.Outcomes, 5)
	assert.Equal(t, 5, result.Stats.Success)
}

func TestUploadAllCancelled(t *testing.T) {
	remote := newFakeRemote()
	d, _ := testDispatcher(t, remote, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.UploadAll(ctx, []types.FileRecord{testFile(t, "MyNewActivity-9.fit")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, networkBackoffMax},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.backoff(tt.n))
	}
}
