package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	body   string
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()

	got := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*got = recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			body:   string(body),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", server}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantMethod string
		wantPath   string
		wantQuery  string
		wantBody   string
	}{
		{
			name:       "enqueue",
			args:       []string{"enqueue", "alice"},
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/user/videos",
			wantQuery:  "username=alice",
		},
		{
			name:       "batch",
			args:       []string{"batch", "alice", "bob"},
			wantMethod: http.MethodPost,
			wantPath:   "/api/v1/batch/videos",
			wantBody:   `{"usernames":["alice","bob"]}`,
		},
		{
			name:       "status",
			args:       []string{"status", "3f2a"},
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/jobs/3f2a",
		},
		{
			name:       "pool",
			args:       []string{"pool"},
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/queue",
		},
		{
			name:       "slot",
			args:       []string{"slot", "1"},
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/sessions/1",
		},
		{
			name:       "rotate",
			args:       []string{"rotate", "0"},
			wantMethod: http.MethodPost,
			wantPath:   "/api/v1/sessions/0/rotate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newTestServer(t, http.StatusOK, `{"ok":true}`)

			out, err := execute(t, srv.URL, tt.args...)
			require.NoError(t, err)

			assert.Equal(t, tt.wantMethod, got.method)
			assert.Equal(t, tt.wantPath, got.path)
			assert.Equal(t, tt.wantQuery, got.query)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, got.body)
			}
			assert.Equal(t, "{\n  \"ok\": true\n}\n", out)
		})
	}
}

func TestCommands_APIError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNotFound, `{"error":"Job not found"}`)

	_, err := execute(t, srv.URL, "status", "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "Job not found")
}

func TestCommands_InvalidArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		errString string
	}{
		{name: "negative slot", args: []string{"slot", "--", "-1"}, errString: "invalid slot index"},
		{name: "non-numeric slot", args: []string{"rotate", "abc"}, errString: "invalid slot index"},
		{name: "enqueue without username", args: []string{"enqueue"}, errString: "accepts 1 arg"},
		{name: "batch without usernames", args: []string{"batch"}, errString: "requires at least 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "http://127.0.0.1:0", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestPrintJSON_NonJSONBody(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, json.RawMessage("plain text")))
	assert.Equal(t, "plain text", out.String())
}
