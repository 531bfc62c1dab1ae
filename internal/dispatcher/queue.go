package dispatcher

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/google/uuid"
)

type jobEntry struct {
	job  domain.Job
	done chan struct{} // closed on the terminal transition
}

// Queue holds pending jobs in FIFO order together with the status table of
// every job ever enqueued. One mutex guards both. Status entries live for
// the lifetime of the process.
type Queue struct {
	mu      sync.Mutex
	pending []*jobEntry
	jobs    map[string]*jobEntry

	// ready is closed and replaced on every enqueue to wake idle workers
	ready chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		jobs:  make(map[string]*jobEntry),
		ready: make(chan struct{}),
	}
}

// Enqueue appends one job and returns its id
func (q *Queue) Enqueue(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", domain.ErrInvalidIdentifier
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.enqueueLocked(identifier, time.Now())
	q.signalLocked()
	return id, nil
}

// EnqueueBatch appends all identifiers under one lock acquisition, in input
// order. Nothing is enqueued if any identifier is invalid.
func (q *Queue) EnqueueBatch(identifiers []string) ([]string, error) {
	if len(identifiers) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	cleaned := make([]string, len(identifiers))
	for i, identifier := range identifiers {
		cleaned[i] = strings.TrimSpace(identifier)
		if cleaned[i] == "" {
			return nil, fmt.Errorf("%w: entry %d is empty", domain.ErrInvalidIdentifier, i)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	ids := make([]string, len(cleaned))
	for i, identifier := range cleaned {
		ids[i] = q.enqueueLocked(identifier, now)
	}
	q.signalLocked()
	return ids, nil
}

func (q *Queue) enqueueLocked(identifier string, now time.Time) string {
	position := len(q.pending)
	e := &jobEntry{
		job: domain.Job{
			ID:         uuid.NewString(),
			Identifier: identifier,
			Status:     domain.JobStatusQueued,
			Position:   &position,
			QueuedAt:   now,
		},
		done: make(chan struct{}),
	}

	q.pending = append(q.pending, e)
	q.jobs[e.job.ID] = e
	return e.job.ID
}

func (q *Queue) signalLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}

// Claim pops the front job and marks it processing on the given slot in the
// same critical section. When the queue is empty it returns the channel that
// the next enqueue will close, captured under the lock so the wake-up cannot
// be missed.
func (q *Queue) Claim(slot int, sessionID string) (domain.Job, bool, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return domain.Job{}, false, q.ready
	}

	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	now := time.Now()
	e.job.Status = domain.JobStatusProcessing
	e.job.Position = nil
	e.job.ProcessingStartedAt = &now
	e.job.AssignedSlot = &slot
	e.job.SessionID = sessionID

	return copyJob(e.job), true, nil
}

// Finish records the terminal state of a processing job and wakes its waiters
func (q *Queue) Finish(jobID string, outcome domain.Outcome) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if e.job.Status != domain.JobStatusProcessing {
		return copyJob(e.job), fmt.Errorf("job %s is %s, not processing", jobID, e.job.Status)
	}

	now := time.Now()
	e.job.CompletedAt = &now
	e.job.RecordErrors = outcome.RecordErrors
	if outcome.Err != nil {
		e.job.Status = domain.JobStatusFailed
		e.job.Error = outcome.Err.Error()
	} else {
		e.job.Status = domain.JobStatusCompleted
		e.job.Profile = outcome.Profile
		e.job.Records = outcome.Records
		e.job.RecordCount = len(outcome.Records)
	}
	close(e.done)

	return copyJob(e.job), nil
}

// Status returns a copy of the job with a freshly computed queue position
func (q *Queue) Status(jobID string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	job := copyJob(e.job)
	if job.Status == domain.JobStatusQueued {
		position := q.positionLocked(jobID)
		job.Position = &position
	}
	return job, nil
}

// PositionOf returns the 0-based index of a pending job, or -1
func (q *Queue) PositionOf(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.positionLocked(jobID)
}

func (q *Queue) positionLocked(jobID string) int {
	for i, e := range q.pending {
		if e.job.ID == jobID {
			return i
		}
	}
	return -1
}

// Done returns a channel closed when the job reaches a terminal status
func (q *Queue) Done(jobID string) (<-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return e.done, nil
}

// Len returns the number of pending jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Counts tallies stored jobs by status
func (q *Queue) Counts() domain.JobCounts {
	q.mu.Lock()
	defer q.mu.Unlock()

	var c domain.JobCounts
	for _, e := range q.jobs {
		switch e.job.Status {
		case domain.JobStatusQueued:
			c.Queued++
		case domain.JobStatusProcessing:
			c.Processing++
		case domain.JobStatusCompleted:
			c.Completed++
		case domain.JobStatusFailed:
			c.Failed++
		}
	}
	return c
}

// Processing returns copies of the jobs currently running on a slot
func (q *Queue) Processing(slot int) []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []domain.Job
	for _, e := range q.jobs {
		if e.job.Status == domain.JobStatusProcessing && e.job.AssignedSlot != nil && *e.job.AssignedSlot == slot {
			jobs = append(jobs, copyJob(e.job))
		}
	}
	return jobs
}

// copyJob detaches a stored job from the status table: pointers, the profile
// map and the records are duplicated.
func copyJob(job domain.Job) domain.Job {
	job.Position = clonePtr(job.Position)
	job.ProcessingStartedAt = clonePtr(job.ProcessingStartedAt)
	job.CompletedAt = clonePtr(job.CompletedAt)
	job.AssignedSlot = clonePtr(job.AssignedSlot)
	job.Profile = maps.Clone(job.Profile)
	job.Records = slices.Clone(job.Records)
	for i := range job.Records {
		job.Records[i].Data = slices.Clone(job.Records[i].Data)
	}
	return job
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
