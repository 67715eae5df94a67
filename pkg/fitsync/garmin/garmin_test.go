package garmin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer stands in for the platform API.
func fakeServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123"})
	})
	mux.HandleFunc(profilePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"userName": "rider42"})
	})
	mux.HandleFunc(uploadPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		if strings.Contains(hdr.Filename, "dup") {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewClient(WithBaseURL(srv.URL))
}

func TestAuthenticateAndProbe(t *testing.T) {
	_, client := fakeServer(t)

	sess, err := Authenticate(context.Background(), client, "rider@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "rider@example.com", sess.Email())

	name, err := sess.Username(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rider42", name)
}

func TestAuthenticateBadPassword(t *testing.T) {
	_, client := fakeServer(t)

	_, err := Authenticate(context.Background(), client, "rider@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestUploadDuplicate(t *testing.T) {
	_, client := fakeServer(t)
	sess, err := Authenticate(context.Background(), client, "rider@example.com", "hunter2")
	require.NoError(t, err)

	err = sess.Upload(context.Background(), "dup-activity.fit", strings.NewReader("bytes"))
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
	assert.False(t, IsUnauthorized(err))

	require.NoError(t, sess.Upload(context.Background(), "fresh.fit", strings.NewReader("bytes")))
}

func TestPersistResumeRoundTrip(t *testing.T) {
	_, client := fakeServer(t)
	sess, err := Authenticate(context.Background(), client, "rider@example.com", "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, sess.Persist(path))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	resumed, err := Resume(client, path)
	require.NoError(t, err)
	name, err := resumed.Username(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rider42", name)
}

func TestResumeMissingToken(t *testing.T) {
	_, client := fakeServer(t)
	_, err := Resume(client, filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestInvalidateRemovesToken(t *testing.T) {
	_, client := fakeServer(t)
	sess, err := Authenticate(context.Background(), client, "rider@example.com", "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, sess.Persist(path))
	require.NoError(t, sess.Invalidate())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assert.False(t, sess.Valid())

	err = sess.Upload(context.Background(), "any.fit", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestIsNetwork(t *testing.T) {
	client := NewClient(WithBaseURL("http://127.0.0.1:1"))
	_, err := Authenticate(context.Background(), client, "a", "b")
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.False(t, IsDuplicate(err))
}
