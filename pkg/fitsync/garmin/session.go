package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Session is an authenticated connection shared by concurrent upload
// workers. Once invalidated it refuses further work; attempts already
// in flight finish with the credentials they started with.
type Session struct {
	mu      sync.Mutex
	client  *Client
	token   *Token
	path    string
	invalid bool
}

// Authenticate logs in with the given credentials and returns a live
// session.
func Authenticate(ctx context.Context, client *Client, email, password string) (*Session, error) {
	tok, err := client.login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return &Session{client: client, token: tok}, nil
}

// Resume loads a previously persisted token. The session is not
// probed here; call Username to verify it is still accepted.
func Resume(client *Client, tokenPath string) (*Session, error) {
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", tokenPath, err)
	}
	if tok.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &Session{client: client, token: &tok, path: tokenPath}, nil
}

// Persist writes the session token to path with owner-only
// permissions. The session remembers the path so Invalidate can
// remove it.
func (s *Session) Persist(path string) error {
	s.mu.Lock()
	tok := *s.token
	s.path = path
	s.mu.Unlock()

	data, err := json.MarshalIndent(&tok, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Username probes the platform for the account name, confirming the
// session is still accepted.
func (s *Session) Username(ctx context.Context) (string, error) {
	tok, err := s.currentToken()
	if err != nil {
		return "", err
	}
	return s.client.username(ctx, tok)
}

// Email returns the account the token was issued for, without a
// network round trip.
func (s *Session) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.Email
}

// Upload sends one activity file under the given remote name.
func (s *Session) Upload(ctx context.Context, name string, data io.Reader) error {
	tok, err := s.currentToken()
	if err != nil {
		return err
	}
	return s.client.upload(ctx, tok, name, data)
}

// Invalidate marks the session unusable and removes the persisted
// token, forcing a fresh login next run. Safe to call repeatedly.
func (s *Session) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invalid = true
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Valid reports whether the session may still be used for new work.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.invalid
}

func (s *Session) currentToken() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return nil, ErrSessionInvalid
	}
	tok := *s.token
	return &tok, nil
}
