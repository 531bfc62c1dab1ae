// Package events publishes job lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
)

// Broker is the part of the RabbitMQ client the publisher needs
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// JobEvent is the message body published for a terminal job. Records are
// left out; consumers fetch them from a sink or the status API.
type JobEvent struct {
	JobID               string           `json:"job_id"`
	Identifier          string           `json:"identifier"`
	Status              domain.JobStatus `json:"status"`
	Slot                *int             `json:"slot,omitempty"`
	SessionID           string           `json:"session_id,omitempty"`
	RecordCount         int              `json:"record_count"`
	RecordErrors        int              `json:"record_errors"`
	Error               string           `json:"error,omitempty"`
	QueuedAt            time.Time        `json:"queued_at"`
	ProcessingStartedAt *time.Time       `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
}

// NewJobEvent builds the event for a job snapshot
func NewJobEvent(job domain.Job) JobEvent {
	return JobEvent{
		JobID:               job.ID,
		Identifier:          job.Identifier,
		Status:              job.Status,
		Slot:                job.AssignedSlot,
		SessionID:           job.SessionID,
		RecordCount:         job.RecordCount,
		RecordErrors:        job.RecordErrors,
		Error:               job.Error,
		QueuedAt:            job.QueuedAt,
		ProcessingStartedAt: job.ProcessingStartedAt,
		CompletedAt:         job.CompletedAt,
	}
}

// Publisher sends a JobEvent for every finished job
type Publisher struct {
	broker     Broker
	routingKey string
	logger     *slog.Logger
}

// NewPublisher creates a publisher. An empty routingKey defaults to "job.finished".
func NewPublisher(broker Broker, routingKey string, logger *slog.Logger) *Publisher {
	if routingKey == "" {
		routingKey = "job.finished"
	}
	return &Publisher{
		broker:     broker,
		routingKey: routingKey,
		logger:     logger,
	}
}

// JobFinished publishes the job's terminal state
func (p *Publisher) JobFinished(ctx context.Context, job domain.Job) error {
	body, err := json.Marshal(NewJobEvent(job))
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, p.routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	p.logger.Debug("Job event published",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.String("routing_key", p.routingKey),
	)
	return nil
}
