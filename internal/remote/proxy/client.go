// Package proxy implements the remote object store against a backend that
// exposes `{baseURL}/api/file` and holds the GitHub token server-side.
// Semantics match the direct client; auth is a single shared API key.
package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/umutcrkn/petshop/internal/errs"
)

// Config carries the backend endpoint and optional shared API key.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a remote.Store backed by the file proxy endpoint.
type Client struct {
	httpc  *http.Client
	base   string
	apiKey string
}

// New constructs a Client. An empty base URL means not configured.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpc:  &http.Client{Timeout: timeout},
		base:   strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey: cfg.APIKey,
	}
}

type putRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"` // base64
	Message string `json:"message"`
}

// Read returns the file content, or nil when the file does not exist.
func (c *Client) Read(ctx context.Context, path string) ([]byte, error) {
	if c.base == "" {
		return nil, errs.ErrNoConnection
	}
	u := c.base + "/api/file?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: proxy status %d", errs.ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("proxy get %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Write uploads data under path. Upstream version conflicts come back as 409.
func (c *Client) Write(ctx context.Context, path string, data []byte, message string) error {
	if c.base == "" {
		return errs.ErrNoConnection
	}
	body, err := json.Marshal(putRequest{
		Path:    path,
		Content: base64.StdEncoding.EncodeToString(data),
		Message: message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base+"/api/file", bytes.NewReader(body))
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
	case resp.StatusCode == http.StatusConflict:
		return errs.ErrConflict
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: proxy status %d", errs.ErrTransient, resp.StatusCode)
	default:
		return fmt.Errorf("proxy put %s: status %d", path, resp.StatusCode)
	}
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}
