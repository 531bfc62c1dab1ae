package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/cuongbtq/scrape-dispatcher/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	routingKey  string
	body        []byte
	contentType string
	err         error
}

func (b *fakeBroker) PublishWithRetry(_ context.Context, routingKey string, body []byte, contentType string) error {
	b.routingKey = routingKey
	b.body = body
	b.contentType = contentType
	return b.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_JobFinished(t *testing.T) {
	slot := 1
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)
	job := domain.Job{
		ID:                  "job-1",
		Identifier:          "alice",
		Status:              domain.JobStatusCompleted,
		QueuedAt:            started.Add(-time.Second),
		ProcessingStartedAt: &started,
		CompletedAt:         &completed,
		AssignedSlot:        &slot,
		SessionID:           "sess-1",
		Records:             []session.Record{{ID: "1"}, {ID: "2"}},
		RecordCount:         2,
		RecordErrors:        1,
	}

	broker := &fakeBroker{}
	p := NewPublisher(broker, "", discardLogger())

	require.NoError(t, p.JobFinished(context.Background(), job))

	assert.Equal(t, "job.finished", broker.routingKey)
	assert.Equal(t, "application/json", broker.contentType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(broker.body, &body))
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "alice", body["identifier"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(1), body["slot"])
	assert.Equal(t, "sess-1", body["session_id"])
	assert.Equal(t, float64(2), body["record_count"])
	assert.Equal(t, float64(1), body["record_errors"])
	assert.NotContains(t, body, "records")
	assert.NotContains(t, body, "error")
}

func TestPublisher_JobFinishedFailure(t *testing.T) {
	broker := &fakeBroker{err: errors.New("channel closed")}
	p := NewPublisher(broker, "scrape.jobs.finished", discardLogger())

	err := p.JobFinished(context.Background(), domain.Job{
		ID:     "job-2",
		Status: domain.JobStatusFailed,
		Error:  "profile fetch failed",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish job event")
	assert.Equal(t, "scrape.jobs.finished", broker.routingKey)

	var body map[string]any
	require.NoError(t, json.Unmarshal(broker.body, &body))
	assert.Equal(t, "profile fetch failed", body["error"])
	assert.NotContains(t, body, "slot")
}
