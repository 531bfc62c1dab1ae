package dispatcher

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/cuongbtq/scrape-dispatcher/internal/session"
	"github.com/stretchr/testify/require"
)

type fakeItem struct {
	rec session.Record
	err error
}

// fakeFactory hands out fakeSessions that all share its scripted behavior.
// Script fields must be set before the dispatcher starts.
type fakeFactory struct {
	profileErr error
	items      []fakeItem
	gate       chan struct{} // when set, Profile blocks until it yields
	started    chan string   // when set, receives each identifier as its job starts

	mu        sync.Mutex
	failures  int
	attempted []string
	sessions  []*fakeSession
	order     []string
}

func (f *fakeFactory) Create(_ context.Context, sessionID string) (session.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempted = append(f.attempted, sessionID)
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("browser launch failed")
	}

	s := &fakeSession{id: sessionID, factory: f}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeFactory) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempted...)
}

func (f *fakeFactory) processed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type fakeSession struct {
	id      string
	factory *fakeFactory

	active    atomic.Int32
	maxActive atomic.Int32
	probes    atomic.Int32
	failProbe atomic.Bool
	closed    atomic.Bool
}

func (s *fakeSession) Profile(ctx context.Context, identifier string) (session.Profile, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f := s.factory
	f.mu.Lock()
	f.order = append(f.order, identifier)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- identifier
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return session.Profile{"username": identifier}, nil
}

func (s *fakeSession) Records(_ context.Context, _ string) iter.Seq2[session.Record, error] {
	return func(yield func(session.Record, error) bool) {
		for _, it := range s.factory.items {
			if !yield(it.rec, it.err) {
				return
			}
		}
	}
}

func (s *fakeSession) Probe(context.Context) error {
	s.probes.Add(1)
	if s.failProbe.Load() {
		return errors.New("page crashed")
	}
	return nil
}

func (s *fakeSession) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) Info() session.Info {
	return session.Info{Browser: "chromium", Headless: true, RequestDelay: "0s"}
}

type fakeSink struct {
	mu      sync.Mutex
	records []session.Record
}

func (s *fakeSink) Store(_ context.Context, _, _ string, rec session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) stored() []session.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Record(nil), s.records...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (n *fakeNotifier) JobFinished(_ context.Context, job domain.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
	return nil
}

func (n *fakeNotifier) finished() []domain.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Job(nil), n.jobs...)
}

func record(id string) fakeItem {
	return fakeItem{rec: session.Record{ID: id, Data: []byte(`{"id":"` + id + `"}`)}}
}

func recordErr(msg string) fakeItem {
	return fakeItem{err: errors.Join(session.ErrRecord, errors.New(msg))}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		PoolSize:            1,
		RotationLimit:       20,
		MaxRecordsPerJob:    100,
		PacingDelay:         time.Millisecond,
		IdleBackoff:         20 * time.Millisecond,
		BusyBackoff:         5 * time.Millisecond,
		ErrorCooldown:       10 * time.Millisecond,
		HealthCheckInterval: time.Hour,
		ProbeTimeout:        100 * time.Millisecond,
		WaitTimeout:         5 * time.Second,
		CloseTimeout:        100 * time.Millisecond,
	}
}

func newTestDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	d, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(d.Stop)
	return d
}

func startTestDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()

	d := newTestDispatcher(t, opts)
	require.NoError(t, d.Start(context.Background()))
	return d
}

func waitDone(t *testing.T, d *Dispatcher, jobID string) domain.Job {
	t.Helper()

	done, err := d.queue.Done(jobID)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", jobID)
	}

	job, err := d.Status(jobID)
	require.NoError(t, err)
	return job
}

func waitStarted(t *testing.T, f *fakeFactory) string {
	t.Helper()

	select {
	case identifier := <-f.started:
		return identifier
	case <-time.After(5 * time.Second):
		t.Fatal("no job started")
		return ""
	}
}
