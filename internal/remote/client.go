// Package remote is the shared HTTP transport for the document-management,
// derivative and viewer-host services.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Response limits per payload kind.
const (
	responseLimitDefault   = 2 << 20  // 2MB
	responseLimitThumbnail = 4 << 20  // 4MB
	responseLimitManifest  = 16 << 20 // 16MB
)

// Options configures a Client. Zero values receive defaults.
type Options struct {
	Timeout     time.Duration // HTTP client timeout (default 30s)
	MaxAttempts int           // retry attempts (default 3)
	Backoff     time.Duration // first retry delay, doubled per attempt (default 500ms)
	HTTPClient  *http.Client  // overrides Timeout when set
}

// Client issues authenticated requests against one service base URL.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	token       string
	maxAttempts int
	backoff     time.Duration
}

// NewClient validates baseURL and returns a client for it.
func NewClient(baseURL string, opts Options) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("service URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse service URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("service URL must include scheme and host")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL:     strings.TrimRight(u.String(), "/"),
		httpClient:  httpClient,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
	}, nil
}

// WithToken returns a copy of the client that sends token as a Bearer credential.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = strings.TrimSpace(token)
	return &clone
}

// BaseURL returns the normalized service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON fetches path and decodes the JSON body into target.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, target any) error {
	body, err := c.get(ctx, path, query, responseLimitManifest)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &ServiceError{Status: http.StatusOK, Message: fmt.Sprintf("decode %s: %v", path, err)}
	}
	return nil
}

// GetText fetches path and returns the body as trimmed text.
func (c *Client) GetText(ctx context.Context, path string, query url.Values) (string, error) {
	body, err := c.get(ctx, path, query, responseLimitThumbnail)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// PostJSON sends payload as JSON and decodes the response into target when non-nil.
// POSTs are not retried: the viewer host may not treat them idempotently.
func (c *Client) PostJSON(ctx context.Context, path string, payload, target any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return &ServiceError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := readLimited(resp, responseLimitDefault)
	if err != nil {
		return err
	}
	if target == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &ServiceError{Status: resp.StatusCode, Message: fmt.Sprintf("decode %s: %v", path, err)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, maxBytes int64) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &ServiceError{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	resp, err := retryDo(ctx, c.httpClient, req, c.maxAttempts, c.backoff)
	if err != nil {
		return nil, &ServiceError{Message: fmt.Sprintf("GET %s: %v", path, err)}
	}
	defer resp.Body.Close()
	return readLimited(resp, maxBytes)
}

func readLimited(resp *http.Response, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, &ServiceError{Status: resp.StatusCode, Message: fmt.Sprintf("read body: %v", err)}
	}
	over := int64(len(body)) > maxBytes
	if over {
		body = body[:maxBytes]
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{Status: resp.StatusCode, Message: errorMessage(body, resp.StatusCode)}
	}
	if over {
		return nil, &ServiceError{Status: resp.StatusCode, Message: fmt.Sprintf("response exceeds %d bytes", maxBytes)}
	}
	return body, nil
}

// errorMessage prefers a JSON {"error"|"message"} field, then the raw body.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return msg
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
