// Package dispatcher runs scraping jobs on a fixed pool of reusable,
// periodically rotated sessions.
//
// Each slot gets one worker goroutine and one health-check goroutine. Workers
// pull from a shared FIFO queue; a slot's mutex serializes session
// acquisition, rotation and health resets, while the slot's busy flag keeps
// a second job off the slot during the (unlocked) scrape.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/cuongbtq/scrape-dispatcher/internal/session"
)

// Config holds the pool sizing, rotation policy and loop timings
type Config struct {
	PoolSize            int
	RotationLimit       int
	MaxRecordsPerJob    int
	PacingDelay         time.Duration
	IdleBackoff         time.Duration
	BusyBackoff         time.Duration
	ErrorCooldown       time.Duration
	HealthCheckInterval time.Duration
	ProbeTimeout        time.Duration
	WaitTimeout         time.Duration
	CloseTimeout        time.Duration
}

// DefaultConfig returns the settings the service runs with when nothing is configured
func DefaultConfig() Config {
	return Config{
		PoolSize:            2,
		RotationLimit:       20,
		MaxRecordsPerJob:    10000,
		PacingDelay:         2 * time.Second,
		IdleBackoff:         5 * time.Second,
		BusyBackoff:         5 * time.Second,
		ErrorCooldown:       10 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		ProbeTimeout:        10 * time.Second,
		WaitTimeout:         300 * time.Second,
		CloseTimeout:        15 * time.Second,
	}
}

// RecordSink persists fetched records
type RecordSink interface {
	Store(ctx context.Context, jobID, identifier string, rec session.Record) error
}

// Notifier is told about every job that reaches a terminal status
type Notifier interface {
	JobFinished(ctx context.Context, job domain.Job) error
}

// Options holds the dispatcher's collaborators
type Options struct {
	Config   Config
	Factory  session.Factory
	Sink     RecordSink // optional
	Notifier Notifier   // optional
	Logger   *slog.Logger
}

// Dispatcher owns the queue, the pool and their loops
type Dispatcher struct {
	cfg      Config
	queue    *Queue
	pool     *Pool
	sink     RecordSink
	notifier Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once
}

// New validates the configuration and builds an idle dispatcher
func New(opts Options) (*Dispatcher, error) {
	cfg := opts.Config
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}
	if cfg.RotationLimit <= 0 {
		return nil, fmt.Errorf("rotation limit must be greater than 0")
	}
	if cfg.MaxRecordsPerJob <= 0 {
		return nil, fmt.Errorf("max records per job must be greater than 0")
	}
	if cfg.HealthCheckInterval <= 0 {
		return nil, fmt.Errorf("health check interval must be greater than 0")
	}
	if cfg.WaitTimeout <= 0 {
		return nil, fmt.Errorf("wait timeout must be greater than 0")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("session factory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		cfg:      cfg,
		queue:    NewQueue(),
		pool:     NewPool(cfg.PoolSize, cfg.RotationLimit, opts.Factory, cfg.CloseTimeout, logger),
		sink:     opts.Sink,
		notifier: opts.Notifier,
		logger:   logger,
		stopped:  make(chan struct{}),
	}, nil
}

// Start launches one worker and one health checker per slot
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return fmt.Errorf("dispatcher already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, s := range d.pool.slots {
		d.wg.Add(2)
		go d.workerLoop(runCtx, s)
		go d.healthLoop(runCtx, s)
	}

	d.logger.Info("Dispatcher started",
		slog.Int("pool_size", d.cfg.PoolSize),
		slog.Int("rotation_limit", d.cfg.RotationLimit),
	)
	return nil
}

// Stop cancels the loops, waits for them and closes every live session
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("Stopping dispatcher...")

		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		close(d.stopped)
		d.wg.Wait()
		d.pool.Close()

		d.logger.Info("Dispatcher stopped")
	})
}

// PoolSize returns the number of slots
func (d *Dispatcher) PoolSize() int {
	return d.pool.Size()
}

// Enqueue adds one job
func (d *Dispatcher) Enqueue(identifier string) (string, error) {
	id, err := d.queue.Enqueue(identifier)
	if err != nil {
		return "", err
	}

	d.logger.Info("Job queued",
		slog.String("job_id", id),
		slog.String("identifier", identifier),
	)
	return id, nil
}

// EnqueueBatch adds jobs in input order
func (d *Dispatcher) EnqueueBatch(identifiers []string) ([]string, error) {
	ids, err := d.queue.EnqueueBatch(identifiers)
	if err != nil {
		return nil, err
	}

	d.logger.Info("Batch queued",
		slog.Int("batch_size", len(ids)),
	)
	return ids, nil
}

// EnqueueAndWait adds a job and blocks until it is terminal or the wait
// timeout passes. On timeout the returned job reports JobStatusTimeout and
// the error is ErrWaitTimeout; the job itself keeps running.
func (d *Dispatcher) EnqueueAndWait(ctx context.Context, identifier string) (domain.Job, error) {
	id, err := d.Enqueue(identifier)
	if err != nil {
		return domain.Job{}, err
	}

	done, err := d.queue.Done(id)
	if err != nil {
		return domain.Job{}, err
	}

	timer := time.NewTimer(d.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return d.queue.Status(id)

	case <-timer.C:
		job, err := d.queue.Status(id)
		if err != nil {
			return domain.Job{}, err
		}
		d.logger.Warn("Wait for job timed out, job continues in background",
			slog.String("job_id", id),
			slog.String("status", string(job.Status)),
		)
		job.Status = domain.JobStatusTimeout
		return job, domain.ErrWaitTimeout

	case <-ctx.Done():
		job, _ := d.queue.Status(id)
		return job, ctx.Err()

	case <-d.stopped:
		job, _ := d.queue.Status(id)
		return job, domain.ErrDispatcherStopped
	}
}

// Status returns a snapshot of a job
func (d *Dispatcher) Status(jobID string) (domain.Job, error) {
	return d.queue.Status(jobID)
}

// PoolStatus returns per-slot summaries and job counts
func (d *Dispatcher) PoolStatus() domain.PoolStatus {
	return domain.PoolStatus{
		QueueLength: d.queue.Len(),
		Slots:       d.pool.Snapshots(),
		JobCounts:   d.queue.Counts(),
	}
}

// SlotDetail returns one slot's summary with its in-flight jobs
func (d *Dispatcher) SlotDetail(index int) (domain.SlotDetail, error) {
	status, info, err := d.pool.Snapshot(index)
	if err != nil {
		return domain.SlotDetail{}, err
	}

	now := time.Now()
	detail := domain.SlotDetail{
		SlotStatus:  status,
		Session:     info,
		CurrentJobs: []domain.InFlightJob{},
	}
	for _, job := range d.queue.Processing(index) {
		started := *job.ProcessingStartedAt
		detail.CurrentJobs = append(detail.CurrentJobs, domain.InFlightJob{
			JobID:           job.ID,
			Identifier:      job.Identifier,
			StartedAt:       started,
			DurationSeconds: now.Sub(started).Seconds(),
		})
	}
	return detail, nil
}

// ForceRotate replaces an idle slot's session
func (d *Dispatcher) ForceRotate(ctx context.Context, index int) (domain.RotateResult, error) {
	result, err := d.pool.ForceRotate(ctx, index)
	if err != nil {
		var sessErr *domain.SessionError
		if errors.As(err, &sessErr) {
			return result, fmt.Errorf("failed to create replacement session: %w", err)
		}
		return result, err
	}

	d.logger.Info("Slot rotated manually",
		slog.Int("slot", index),
		slog.String("old_session_id", result.OldSessionID),
		slog.String("new_session_id", result.NewSessionID),
	)
	return result, nil
}
