package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/cuongbtq/scrape-dispatcher/internal/session"
)

// workerLoop drives one slot until ctx is canceled. It never exits on a job
// or session error.
func (d *Dispatcher) workerLoop(ctx context.Context, s *Slot) {
	defer d.wg.Done()

	d.logger.Info("Worker started", slog.Int("slot", s.index))

	for {
		delay, wake := d.runIteration(ctx, s)
		if !sleep(ctx, delay, wake) {
			d.logger.Info("Worker stopped", slog.Int("slot", s.index))
			return
		}
	}
}

// runIteration claims and executes at most one job. It returns how long to
// wait before the next iteration and, when idle, a channel that cuts the
// wait short as soon as work arrives.
func (d *Dispatcher) runIteration(ctx context.Context, s *Slot) (delay time.Duration, wake <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Worker iteration panicked",
				slog.Int("slot", s.index),
				slog.Any("panic", r),
			)
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
			delay, wake = d.cfg.ErrorCooldown, nil
		}
	}()

	if s.isBusy() {
		return d.cfg.BusyBackoff, nil
	}

	c, err := d.claim(ctx, s)
	if err != nil {
		return d.cfg.ErrorCooldown, nil
	}
	if c.busy {
		return d.cfg.BusyBackoff, nil
	}
	if c.handle == nil {
		return d.cfg.IdleBackoff, c.ready
	}

	job := c.job
	d.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("identifier", job.Identifier),
		slog.Int("slot", s.index),
		slog.String("session_id", job.SessionID),
	)

	outcome := d.executeJob(ctx, c.handle, job)

	finished, err := d.queue.Finish(job.ID, outcome)
	if err != nil {
		d.logger.Error("Failed to record job outcome",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
	d.release(s, job.SessionID, outcome)

	if outcome.Err != nil {
		d.logger.Error("Job failed",
			slog.String("job_id", job.ID),
			slog.String("identifier", job.Identifier),
			slog.Int("slot", s.index),
			slog.Any("error", outcome.Err),
		)
	} else {
		d.logger.Info("Job completed",
			slog.String("job_id", job.ID),
			slog.String("identifier", job.Identifier),
			slog.Int("slot", s.index),
			slog.Int("record_count", len(outcome.Records)),
			slog.Int("record_errors", outcome.RecordErrors),
		)
	}

	if err == nil {
		d.notify(ctx, finished)
	}
	return d.cfg.PacingDelay, nil
}

type claimed struct {
	handle session.Handle
	job    domain.Job
	ready  <-chan struct{}
	busy   bool
}

// claim acquires the slot's session and pops the next job under the slot
// lock, marking the slot busy when a job was taken.
func (d *Dispatcher) claim(ctx context.Context, s *Slot) (claimed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return claimed{busy: true}, nil
	}

	handle, err := d.pool.acquireLocked(ctx, s)
	if err != nil {
		return claimed{}, err
	}

	job, ok, ready := d.queue.Claim(s.index, s.sessionID)
	if !ok {
		return claimed{ready: ready}, nil
	}

	s.busy = true
	s.requestCount++
	return claimed{handle: handle, job: job}, nil
}

// release clears busy and charges the job to the session that ran it. A
// session replaced mid-job by a health reset is not charged.
func (d *Dispatcher) release(s *Slot, sessionID string, outcome domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == sessionID {
		s.accountsProcessed++
		if outcome.Err != nil {
			s.failedRequests++
		} else {
			s.successfulRequests++
		}
		s.recordErrors += outcome.RecordErrors
	}
	s.busy = false
}

func (d *Dispatcher) notify(ctx context.Context, job domain.Job) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.JobFinished(ctx, job); err != nil {
		d.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}

// sleep waits for delay, an early wake-up or cancellation. It reports
// whether the caller should continue.
func sleep(ctx context.Context, delay time.Duration, wake <-chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		return true
	}
}
