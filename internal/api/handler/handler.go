package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
)

const defaultRotateTimeout = 60 * time.Second

// Dispatcher is the job dispatcher as seen by the HTTP layer
type Dispatcher interface {
	EnqueueAndWait(ctx context.Context, identifier string) (domain.Job, error)
	EnqueueBatch(identifiers []string) ([]string, error)
	Status(jobID string) (domain.Job, error)
	PoolStatus() domain.PoolStatus
	PoolSize() int
	SlotDetail(index int) (domain.SlotDetail, error)
	ForceRotate(ctx context.Context, index int) (domain.RotateResult, error)
}

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Dispatcher   Dispatcher
	ServiceName  string
	HealthChecks map[string]HealthCheck

	// RotateTimeout bounds a manual rotation, which outlives the request
	RotateTimeout time.Duration
}

// JobHandler handles job and pool HTTP requests
type JobHandler struct {
	logger        *slog.Logger
	dispatcher    Dispatcher
	rotateTimeout time.Duration
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	rotateTimeout := deps.RotateTimeout
	if rotateTimeout <= 0 {
		rotateTimeout = defaultRotateTimeout
	}

	return &JobHandler{
		logger:        deps.Logger,
		dispatcher:    deps.Dispatcher,
		rotateTimeout: rotateTimeout,
	}
}
