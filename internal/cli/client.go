package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the dispatcher API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to the dispatcher HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API rooted at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UserVideos queues a job for username and waits for the result
func (c *Client) UserVideos(ctx context.Context, username string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/user/videos", url.Values{"username": {username}}, nil)
}

// Batch queues one job per username
func (c *Client) Batch(ctx context.Context, usernames []string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/batch/videos", nil, map[string][]string{"usernames": usernames})
}

// Job returns a job snapshot
func (c *Client) Job(ctx context.Context, jobID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, nil)
}

// Queue returns queue counts and the state of every slot
func (c *Client) Queue(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/queue", nil, nil)
}

// Session returns the detail of one slot
func (c *Client) Session(ctx context.Context, slot int) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/sessions/"+strconv.Itoa(slot), nil, nil)
}

// Rotate replaces an idle slot's session
func (c *Client) Rotate(ctx context.Context, slot int) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+strconv.Itoa(slot)+"/rotate", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return json.RawMessage(data), nil
}
