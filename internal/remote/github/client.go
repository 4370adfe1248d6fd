// Package github implements the remote object store against the GitHub
// Contents API. The file's blob sha is the version token: writes fetch it
// immediately before the PUT and a stale sha comes back as a conflict.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/umutcrkn/petshop/internal/errs"
)

const defaultBaseURL = "https://api.github.com"

// Config carries the repository coordinates and auth token.
type Config struct {
	BaseURL string // empty means api.github.com
	Owner   string
	Repo    string
	Token   string
	Branch  string // empty means the repository default branch
	Timeout time.Duration
}

// Client talks to one GitHub repository acting as the shared object store.
type Client struct {
	httpc  *http.Client
	base   string
	owner  string
	repo   string
	token  string
	branch string
	log    *zap.Logger
}

// New constructs a Client. The token may be empty; operations then fail
// with errs.ErrNoConnection so callers can fall back to the local cache.
func New(cfg Config, log *zap.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpc:  &http.Client{Timeout: timeout},
		base:   strings.TrimSuffix(base, "/"),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		token:  cfg.Token,
		branch: cfg.Branch,
		log:    log,
	}
}

type fileResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// Read returns the decoded file content, or nil when the file does not exist.
func (c *Client) Read(ctx context.Context, path string) ([]byte, error) {
	content, _, err := c.fetch(ctx, path)
	return content, err
}

// Write uploads data under path with the given change note. The current sha
// is fetched right before the PUT; if it went stale in between, the API
// answers 409 and the error maps to errs.ErrConflict.
func (c *Client) Write(ctx context.Context, path string, data []byte, message string) error {
	if c.token == "" {
		return errs.ErrNoConnection
	}
	_, sha, err := c.fetch(ctx, path)
	if err != nil {
		return err
	}

	body, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     sha,
		Branch:  c.branch,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		c.log.Warn("github write conflict", zap.String("path", path))
		return errs.ErrConflict
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: github status %d", errs.ErrTransient, resp.StatusCode)
	default:
		return fmt.Errorf("github put %s: status %d", path, resp.StatusCode)
	}
}

// fetch reads one file and its sha. A 404 yields (nil, "", nil).
func (c *Client) fetch(ctx context.Context, path string) ([]byte, string, error) {
	if c.token == "" {
		return nil, "", errs.ErrNoConnection
	}
	u := c.contentsURL(path)
	if c.branch != "" {
		u += "?ref=" + url.QueryEscape(c.branch)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errs.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", nil
	case resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("%w: github status %d", errs.ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("github get %s: status %d", path, resp.StatusCode)
	}

	var fr fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errs.ErrDecoding, err)
	}
	// the API wraps base64 content with newlines
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(fr.Content, "\n", ""))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errs.ErrDecoding, err)
	}
	return raw, fr.SHA, nil
}

func (c *Client) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.base, c.owner, c.repo, path)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}
