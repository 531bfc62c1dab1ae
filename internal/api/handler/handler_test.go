package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/scrape-dispatcher/internal/api/handler"
	"github.com/cuongbtq/scrape-dispatcher/internal/api/router"
	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	waitJob   domain.Job
	waitErr   error
	waited    string
	batchIDs  []string
	batchErr  error
	batched   []string
	jobs      map[string]domain.Job
	pool      domain.PoolStatus
	detail    domain.SlotDetail
	detailErr error
	rotate    domain.RotateResult
	rotateErr error

	rotateCtxErr      error
	rotateHasDeadline bool
}

func (f *fakeDispatcher) EnqueueAndWait(_ context.Context, identifier string) (domain.Job, error) {
	f.waited = identifier
	return f.waitJob, f.waitErr
}

func (f *fakeDispatcher) EnqueueBatch(identifiers []string) ([]string, error) {
	f.batched = identifiers
	return f.batchIDs, f.batchErr
}

func (f *fakeDispatcher) Status(jobID string) (domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeDispatcher) PoolStatus() domain.PoolStatus { return f.pool }
func (f *fakeDispatcher) PoolSize() int                 { return 2 }

func (f *fakeDispatcher) SlotDetail(index int) (domain.SlotDetail, error) {
	if index < 0 || index >= 2 {
		return domain.SlotDetail{}, domain.ErrSlotOutOfRange
	}
	return f.detail, f.detailErr
}

func (f *fakeDispatcher) ForceRotate(ctx context.Context, index int) (domain.RotateResult, error) {
	f.rotateCtxErr = ctx.Err()
	_, f.rotateHasDeadline = ctx.Deadline()
	if index < 0 || index >= 2 {
		return domain.RotateResult{}, domain.ErrSlotOutOfRange
	}
	return f.rotate, f.rotateErr
}

func setup(d *fakeDispatcher, checks map[string]handler.HealthCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return router.SetupRouter(&handler.Dependencies{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dispatcher:   d,
		ServiceName:  "scrape-dispatcher-test",
		HealthChecks: checks,
	})
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestGetUserVideos(t *testing.T) {
	slot := 0
	tests := []struct {
		name       string
		path       string
		waitJob    domain.Job
		waitErr    error
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "missing username",
			path:       "/api/v1/user/videos",
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Username parameter is required", body["error"])
			},
		},
		{
			name: "completed",
			path: "/api/v1/user/videos?username=alice",
			waitJob: domain.Job{
				ID:           "job-1",
				Identifier:   "alice",
				Status:       domain.JobStatusCompleted,
				AssignedSlot: &slot,
				RecordCount:  2,
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "job-1", body["job_id"])
				assert.Equal(t, "completed", body["status"])
				assert.Equal(t, float64(2), body["record_count"])
			},
		},
		{
			name:       "failed job",
			path:       "/api/v1/user/videos?username=ghost",
			waitJob:    domain.Job{ID: "job-2", Status: domain.JobStatusFailed, Error: "failed to fetch profile: 404"},
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "failed", body["status"])
				assert.Equal(t, "failed to fetch profile: 404", body["error"])
			},
		},
		{
			name:       "wait timeout",
			path:       "/api/v1/user/videos?username=slow",
			waitJob:    domain.Job{ID: "job-3", Status: domain.JobStatusTimeout},
			waitErr:    domain.ErrWaitTimeout,
			wantStatus: http.StatusGatewayTimeout,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "job-3", body["job_id"])
				assert.Equal(t, "timeout", body["status"])
				assert.Equal(t, "job processing timed out", body["error"])
			},
		},
		{
			name:       "shutting down",
			path:       "/api/v1/user/videos?username=late",
			waitErr:    domain.ErrDispatcherStopped,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "client went away",
			path:       "/api/v1/user/videos?username=gone",
			waitErr:    context.Canceled,
			wantStatus: http.StatusRequestTimeout,
		},
		{
			name:       "request deadline exceeded",
			path:       "/api/v1/user/videos?username=late",
			waitErr:    context.DeadlineExceeded,
			wantStatus: http.StatusRequestTimeout,
		},
		{
			name:       "unexpected error",
			path:       "/api/v1/user/videos?username=x",
			waitErr:    errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{waitJob: tt.waitJob, waitErr: tt.waitErr}
			w, body := do(t, setup(d, nil), http.MethodGet, tt.path, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestBatchVideos(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		batchIDs   []string
		batchErr   error
		wantStatus int
		wantError  string
	}{
		{
			name:       "queued",
			body:       map[string]any{"usernames": []string{"a", "b"}},
			batchIDs:   []string{"j1", "j2"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty",
			body:       map[string]any{"usernames": []string{}},
			batchErr:   domain.ErrEmptyBatch,
			wantStatus: http.StatusBadRequest,
			wantError:  "No usernames provided",
		},
		{
			name:       "invalid entry",
			body:       map[string]any{"usernames": []string{"a", ""}},
			batchErr:   fmt.Errorf("%w: entry 1 is empty", domain.ErrInvalidIdentifier),
			wantStatus: http.StatusBadRequest,
			wantError:  "identifier is required: entry 1 is empty",
		},
		{
			name:       "malformed body",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{batchIDs: tt.batchIDs, batchErr: tt.batchErr}
			w, body := do(t, setup(d, nil), http.MethodPost, "/api/v1/batch/videos", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, float64(2), body["batch_size"])
			assert.Equal(t, []any{"j1", "j2"}, body["job_ids"])
			assert.Equal(t, "queued", body["status"])
			assert.Equal(t, []string{"a", "b"}, d.batched)
		})
	}
}

func TestGetJob(t *testing.T) {
	position := 3
	d := &fakeDispatcher{jobs: map[string]domain.Job{
		"job-1": {ID: "job-1", Identifier: "alice", Status: domain.JobStatusQueued, Position: &position},
	}}
	r := setup(d, nil)

	w, body := do(t, r, http.MethodGet, "/api/v1/jobs/job-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, float64(3), body["position"])

	w, body = do(t, r, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Job not found", body["error"])
}

func TestGetQueue(t *testing.T) {
	d := &fakeDispatcher{pool: domain.PoolStatus{
		QueueLength: 4,
		Slots:       []domain.SlotStatus{{Index: 0, SessionID: "s0", Busy: true}, {Index: 1, SessionID: "s1"}},
		JobCounts:   domain.JobCounts{Queued: 4, Processing: 1, Completed: 7, Failed: 2},
	}}

	w, body := do(t, setup(d, nil), http.MethodGet, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, float64(4), body["queue_length"])
	assert.Equal(t, float64(1), body["jobs_in_progress"])
	assert.Equal(t, float64(7), body["jobs_completed"])
	assert.Equal(t, float64(2), body["jobs_failed"])
	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 2)
	first := sessions[0].(map[string]any)
	assert.Equal(t, "s0", first["session_id"])
	assert.Equal(t, true, first["active"])
}

func TestGetSession(t *testing.T) {
	d := &fakeDispatcher{detail: domain.SlotDetail{
		SlotStatus:  domain.SlotStatus{Index: 1, SessionID: "s1"},
		CurrentJobs: []domain.InFlightJob{{JobID: "job-9", Identifier: "bob"}},
	}}
	r := setup(d, nil)

	w, body := do(t, r, http.MethodGet, "/api/v1/sessions/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", body["session_id"])
	jobs := body["current_jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-9", jobs[0].(map[string]any)["job_id"])

	for _, path := range []string{"/api/v1/sessions/2", "/api/v1/sessions/-1", "/api/v1/sessions/abc"} {
		w, body = do(t, r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "Invalid session id. Must be between 0 and 1", body["error"])
	}
}

func TestRotateSession(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		rotateErr   error
		wantStatus  int
		wantError   string
		wantSuccess bool
		wantIDs     bool
	}{
		{name: "rotated", path: "/api/v1/sessions/0/rotate", wantStatus: http.StatusOK, wantSuccess: true, wantIDs: true},
		{name: "busy", path: "/api/v1/sessions/0/rotate", rotateErr: domain.ErrSlotBusy, wantStatus: http.StatusBadRequest, wantError: "Cannot rotate session while it is processing a job"},
		{name: "out of range", path: "/api/v1/sessions/5/rotate", wantStatus: http.StatusBadRequest, wantError: "Invalid session id. Must be between 0 and 1"},
		{name: "recreate failed", path: "/api/v1/sessions/1/rotate", rotateErr: errors.New("failed to create replacement session: launch failed"), wantStatus: http.StatusInternalServerError, wantError: "failed to create replacement session: launch failed", wantIDs: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{
				rotate:    domain.RotateResult{Slot: 0, OldSessionID: "old", NewSessionID: "new"},
				rotateErr: tt.rotateErr,
			}
			w, body := do(t, setup(d, nil), http.MethodPost, tt.path, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
			if tt.wantIDs {
				assert.Equal(t, tt.wantSuccess, body["success"])
				assert.Equal(t, "old", body["old_session_id"])
				assert.Equal(t, "new", body["new_session_id"])
			}
		})
	}
}

func TestRotateSession_OutlivesRequest(t *testing.T) {
	d := &fakeDispatcher{rotate: domain.RotateResult{OldSessionID: "old", NewSessionID: "new"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/0/rotate", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	setup(d, nil).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, d.rotateCtxErr)
	assert.True(t, d.rotateHasDeadline)
}

func TestHealth(t *testing.T) {
	t.Run("healthy without checks", func(t *testing.T) {
		w, body := do(t, setup(&fakeDispatcher{}, nil), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "scrape-dispatcher-test", body["service"])
	})

	t.Run("failing dependency", func(t *testing.T) {
		checks := map[string]handler.HealthCheck{
			"database": func(context.Context) error { return nil },
			"rabbitmq": func(context.Context) error { return errors.New("not connected") },
		}
		w, body := do(t, setup(&fakeDispatcher{}, checks), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unhealthy", body["status"])
		assert.Equal(t, map[string]any{"database": "ok", "rabbitmq": "not connected"}, body["checks"])
	})
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/queue", nil)
	w := httptest.NewRecorder()
	setup(&fakeDispatcher{}, nil).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	r := setup(&fakeDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}
