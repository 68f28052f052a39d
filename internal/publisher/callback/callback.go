// Package callback delivers job results to caller-supplied URLs over HTTP.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
)

const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failing response is echoed into errors.
const maxErrorBody = 512

// Config controls Client behavior.
type Config struct {
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

// Client POSTs JSON bodies and treats any non-2xx reply as a failure.
type Client struct {
	http      *http.Client
	userAgent string
}

// New constructs a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mangalib-parser"
	}
	return &Client{http: httpClient, userAgent: cfg.UserAgent}
}

// Send POSTs the job result to callbackURL.
func (c *Client) Send(ctx context.Context, callbackURL string, result manga.JobResult) error {
	return c.PostJSON(ctx, callbackURL, result)
}

// PostJSON marshals body and POSTs it to url.
func (c *Client) PostJSON(ctx context.Context, url string, body any) error {
	if url == "" {
		return errors.New("callback url is empty")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("post %s: unexpected status %d: %s", url, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
