package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coursegen/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("coursegen/%s", version.Version)

// maxErrorBody caps how much of an error response is kept in StatusError.
const maxErrorBody = 4096

// StatusError is returned for HTTP responses with status >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// Client performs HTTP calls for the LLM backends. POST calls are single
// attempts; retry policy belongs to the caller. GET calls retry on 429/5xx.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// New creates a Client. timeout bounds a whole exchange, including reading
// a streamed body; 0 means no limit.
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  defaultUserAgent,
	}
}

// Get performs a GET request with backoff on 429 and 5xx responses.
func (c *Client) Get(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.applyHeaders(req, headers)
	return c.executeWithBackoff(req)
}

// PostJSON sends payload as JSON and returns the response body.
func (c *Client) PostJSON(ctx context.Context, u string, payload any, headers map[string]string) ([]byte, error) {
	resp, err := c.post(ctx, u, payload, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	return body, nil
}

// PostStream sends payload as JSON and returns the open response body for
// incremental reading. The caller must close it.
func (c *Client) PostStream(ctx context.Context, u string, payload any, headers map[string]string) (io.ReadCloser, error) {
	resp, err := c.post(ctx, u, payload, headers)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, u string, payload any, headers map[string]string) (*http.Response, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req, headers)

	slog.Debug("Network Request", "provider", normalizeProvider(parsed.Host), "path", parsed.Path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func (c *Client) applyHeaders(req *http.Request, headers map[string]string) {
	uaSet := false
	for k, v := range headers {
		req.Header.Set(k, v)
		if http.CanonicalHeaderKey(k) == "User-Agent" {
			uaSet = true
		}
	}
	if !uaSet {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	const maxAttempts = 3
	baseDelay := 500 * time.Millisecond
	ctx := req.Context()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.Debug("Network Request", "provider", normalizeProvider(req.URL.Host), "path", req.URL.Path, "attempt", attempt)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			slog.Warn("Request failed, retrying", "url", req.URL.Redacted(), "attempt", attempt, "error", err)
			if err := Sleep(ctx, Exponential(baseDelay, attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = statusError(resp)
			resp.Body.Close()
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL.Redacted(), "attempt", attempt)
			if err := Sleep(ctx, Exponential(baseDelay, attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return nil, statusError(resp)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func statusError(resp *http.Response) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// normalizeProvider maps API hosts to short provider names for logs.
func normalizeProvider(host string) string {
	host = strings.ToLower(host)
	switch {
	case strings.HasSuffix(host, "googleapis.com"):
		return "gemini"
	case strings.Contains(host, "groq"):
		return "groq"
	case strings.Contains(host, "deepseek"):
		return "deepseek"
	case strings.HasSuffix(host, "openai.com"):
		return "openai"
	}
	return host
}
