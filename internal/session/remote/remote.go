// Package remote implements session.Handle on top of a browser-automation
// sidecar that exposes each browser instance over HTTP/JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/session"
)

// Config holds the sidecar endpoint and the browser options sent on creation
type Config struct {
	BaseURL        string
	Browser        string
	Headless       bool
	RequestDelay   time.Duration
	RequestTimeout time.Duration
	PageSize       int
}

// Factory creates sessions on the sidecar
type Factory struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewFactory creates a Factory. The http.Client is shared by every session it creates.
func NewFactory(config Config, logger *slog.Logger) *Factory {
	if config.PageSize <= 0 {
		config.PageSize = 30
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Factory{
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
		logger: logger,
	}
}

type createRequest struct {
	SessionID      string `json:"session_id"`
	Browser        string `json:"browser"`
	Headless       bool   `json:"headless"`
	RequestDelayMS int64  `json:"request_delay_ms"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
	UserAgent string `json:"user_agent"`
}

// Create starts a browser instance on the sidecar under sessionID
func (f *Factory) Create(ctx context.Context, sessionID string) (session.Handle, error) {
	body, err := json.Marshal(createRequest{
		SessionID:      sessionID,
		Browser:        f.config.Browser,
		Headless:       f.config.Headless,
		RequestDelayMS: f.config.RequestDelay.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	var resp createResponse
	if err := doJSON(ctx, f.client, http.MethodPost, f.config.BaseURL+"/sessions", bytes.NewReader(body), &resp); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	f.logger.Debug("Remote session created",
		slog.String("session_id", sessionID),
		slog.String("user_agent", resp.UserAgent),
	)

	return &Session{
		id:        sessionID,
		baseURL:   f.config.BaseURL + "/sessions/" + url.PathEscape(sessionID),
		userAgent: resp.UserAgent,
		config:    f.config,
		client:    f.client,
	}, nil
}

// Session is one remote browser instance
type Session struct {
	id        string
	baseURL   string
	userAgent string
	config    Config
	client    *http.Client
}

// Info reports the browser options this session was created with
func (s *Session) Info() session.Info {
	return session.Info{
		Browser:      s.config.Browser,
		Headless:     s.config.Headless,
		RequestDelay: s.config.RequestDelay.String(),
		UserAgent:    s.userAgent,
	}
}

// Profile fetches the subject's profile
func (s *Session) Profile(ctx context.Context, identifier string) (session.Profile, error) {
	var profile session.Profile
	if err := doJSON(ctx, s.client, http.MethodGet, s.userURL(identifier), nil, &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch profile for %q: %w", identifier, err)
	}
	return profile, nil
}

type page struct {
	Items      []json.RawMessage `json:"items"`
	Errors     []string          `json:"errors"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// Records pages through the subject's records. Per-item errors reported by
// the sidecar are yielded wrapped in session.ErrRecord; a failed page request
// ends the stream.
func (s *Session) Records(ctx context.Context, identifier string) iter.Seq2[session.Record, error] {
	return func(yield func(session.Record, error) bool) {
		cursor := ""
		for first := true; ; first = false {
			if !first && s.config.RequestDelay > 0 {
				select {
				case <-time.After(s.config.RequestDelay):
				case <-ctx.Done():
					yield(session.Record{}, ctx.Err())
					return
				}
			}

			q := url.Values{}
			q.Set("count", strconv.Itoa(s.config.PageSize))
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			var p page
			if err := doJSON(ctx, s.client, http.MethodGet, s.userURL(identifier)+"/videos?"+q.Encode(), nil, &p); err != nil {
				yield(session.Record{}, fmt.Errorf("failed to fetch records page: %w", err))
				return
			}

			for _, msg := range p.Errors {
				if !yield(session.Record{}, fmt.Errorf("%w: %s", session.ErrRecord, msg)) {
					return
				}
			}

			for _, item := range p.Items {
				rec, err := toRecord(item)
				if !yield(rec, err) {
					return
				}
			}

			if !p.HasMore || p.NextCursor == "" {
				return
			}
			cursor = p.NextCursor
		}
	}
}

// Probe round-trips the sidecar's ping endpoint for this session
func (s *Session) Probe(ctx context.Context) error {
	return doJSON(ctx, s.client, http.MethodGet, s.baseURL+"/ping", nil, nil)
}

// Close tears down the browser instance
func (s *Session) Close(ctx context.Context) error {
	return doJSON(ctx, s.client, http.MethodDelete, s.baseURL, nil, nil)
}

func (s *Session) userURL(identifier string) string {
	return s.baseURL + "/users/" + url.PathEscape(identifier)
}

// toRecord extracts the record id; ids may be JSON strings or numbers
func toRecord(item json.RawMessage) (session.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return session.Record{}, fmt.Errorf("%w: malformed item: %v", session.ErrRecord, err)
	}

	id, ok := fields["id"]
	if !ok || id == nil {
		return session.Record{}, fmt.Errorf("%w: item without id", session.ErrRecord)
	}

	return session.Record{ID: fmt.Sprint(id), Data: item}, nil
}

func doJSON(ctx context.Context, client *http.Client, method, target string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
