// Package garmin talks to the Garmin Connect upload API: login,
// session liveness and FIT activity uploads.
package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/logging"
)

const (
	defaultBaseURL = "https://connectapi.garmin.com"

	loginPath   = "/oauth-service/login"
	profilePath = "/userprofile-service/socialProfile"
	uploadPath  = "/upload-service/upload/.fit"

	defaultTimeout = 60 * time.Second
)

// Token is the persisted credential blob. Its contents are opaque to
// everything outside this package.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Email       string    `json:"email"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Client issues authenticated requests against the platform API.
type Client struct {
	http    *http.Client
	baseURL string
	log     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a platform API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		baseURL: defaultBaseURL,
		log:     logging.Get("garmin"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// login exchanges credentials for a token.
func (c *Client) login(ctx context.Context, email, password string) (*Token, error) {
	body, err := json.Marshal(map[string]string{
		"username": email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tok Token
	if err := c.do(req, &tok); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	tok.Email = email
	tok.IssuedAt = time.Now().UTC()
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	return &tok, nil
}

// username fetches the profile name for the token. It doubles as a
// cheap liveness probe.
func (c *Client) username(ctx context.Context, tok *Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+profilePath, nil)
	if err != nil {
		return "", err
	}
	authorize(req, tok)

	var profile struct {
		UserName string `json:"userName"`
	}
	if err := c.do(req, &profile); err != nil {
		return "", fmt.Errorf("profile: %w", err)
	}
	return profile.UserName, nil
}

// upload sends one FIT activity as a multipart form.
func (c *Client) upload(ctx context.Context, tok *Token, name string, data io.Reader) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	authorize(req, tok)

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	c.log.Debug("upload accepted", "file", name)
	return nil
}

func authorize(req *http.Request, tok *Token) {
	req.Header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
}

// do executes the request, maps non-2xx responses to StatusError and
// decodes a JSON body into out when provided.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bodies are short error descriptions; cap the read anyway.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
