package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/cuongbtq/scrape-dispatcher/internal/session"
	"github.com/google/uuid"
)

// Slot is one fixed pool position. It exclusively owns at most one session.
// All fields are guarded by mu.
type Slot struct {
	mu    sync.Mutex
	index int

	handle            session.Handle
	sessionID         string
	accountsProcessed int
	busy              bool

	// statistics of the current session, reset on replacement
	createdAt          time.Time
	requestCount       int
	successfulRequests int
	failedRequests     int
	recordErrors       int
}

func (s *Slot) isBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Pool owns the slots and enforces the rotation policy
type Pool struct {
	slots         []*Slot
	factory       session.Factory
	rotationLimit int
	closeTimeout  time.Duration
	logger        *slog.Logger
}

// NewPool creates size empty slots, each with a fresh session id
func NewPool(size, rotationLimit int, factory session.Factory, closeTimeout time.Duration, logger *slog.Logger) *Pool {
	p := &Pool{
		slots:         make([]*Slot, size),
		factory:       factory,
		rotationLimit: rotationLimit,
		closeTimeout:  closeTimeout,
		logger:        logger,
	}
	for i := range p.slots {
		p.slots[i] = &Slot{index: i, sessionID: uuid.NewString()}
	}
	return p
}

// Size returns the number of slots
func (p *Pool) Size() int {
	return len(p.slots)
}

// Slot returns the slot at index
func (p *Pool) Slot(index int) (*Slot, error) {
	if index < 0 || index >= len(p.slots) {
		return nil, domain.ErrSlotOutOfRange
	}
	return p.slots[index], nil
}

// acquireLocked returns the slot's live session, rotating it first when the
// rotation limit has been reached and creating it when the slot is empty.
// The caller holds s.mu.
func (p *Pool) acquireLocked(ctx context.Context, s *Slot) (session.Handle, error) {
	if s.handle != nil && s.accountsProcessed >= p.rotationLimit {
		p.logger.Info("Session reached rotation limit, rotating",
			slog.Int("slot", s.index),
			slog.String("session_id", s.sessionID),
			slog.Int("accounts_processed", s.accountsProcessed),
		)
		p.resetLocked(s, "rotation")
	}

	if s.handle != nil {
		return s.handle, nil
	}

	sessionID := s.sessionID
	p.logger.Info("Creating session",
		slog.Int("slot", s.index),
		slog.String("session_id", sessionID),
	)

	h, err := p.factory.Create(ctx, sessionID)
	if err != nil {
		p.logger.Error("Failed to create session",
			slog.Int("slot", s.index),
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		p.clearLocked(s)
		return nil, &domain.SessionError{Slot: s.index, SessionID: sessionID, Err: err}
	}

	s.handle = h
	s.createdAt = time.Now()

	p.logger.Info("Session initialized",
		slog.Int("slot", s.index),
		slog.String("session_id", sessionID),
	)
	return h, nil
}

// resetLocked closes the slot's session (best-effort) and clears the slot.
// The caller holds s.mu.
func (p *Pool) resetLocked(s *Slot, reason string) {
	if s.handle != nil {
		p.closeHandle(s.index, s.sessionID, s.handle, reason)
	}
	p.clearLocked(s)
}

// clearLocked empties the slot and assigns the identity its next session will use
func (p *Pool) clearLocked(s *Slot) {
	s.handle = nil
	s.sessionID = uuid.NewString()
	s.accountsProcessed = 0
	s.busy = false
	s.createdAt = time.Time{}
	s.requestCount = 0
	s.successfulRequests = 0
	s.failedRequests = 0
	s.recordErrors = 0
}

func (p *Pool) closeHandle(slot int, sessionID string, h session.Handle, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.closeTimeout)
	defer cancel()

	if err := h.Close(ctx); err != nil {
		p.logger.Error("Error closing session",
			slog.Int("slot", slot),
			slog.String("session_id", sessionID),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		return
	}

	p.logger.Info("Session closed",
		slog.Int("slot", slot),
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
	)
}

// ForceRotate replaces an idle slot's session and creates the replacement
// immediately. Busy slots are left untouched.
func (p *Pool) ForceRotate(ctx context.Context, index int) (domain.RotateResult, error) {
	s, err := p.Slot(index)
	if err != nil {
		return domain.RotateResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return domain.RotateResult{}, domain.ErrSlotBusy
	}

	result := domain.RotateResult{Slot: index, OldSessionID: s.sessionID}
	p.resetLocked(s, "manual rotation")
	result.NewSessionID = s.sessionID

	if _, err := p.acquireLocked(ctx, s); err != nil {
		// the failed session's id is discarded; report the one the slot retries with
		result.NewSessionID = s.sessionID
		return result, err
	}
	return result, nil
}

// MarkHealthFailure resets a slot whose session failed a liveness probe. It
// does nothing if the slot no longer holds sessionID. The slot is left empty
// for lazy recreation.
func (p *Pool) MarkHealthFailure(index int, sessionID string, cause error) bool {
	s, err := p.Slot(index)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil || s.sessionID != sessionID {
		return false
	}

	p.logger.Error("Session health check failed, resetting slot",
		slog.Int("slot", index),
		slog.String("session_id", sessionID),
		slog.Any("error", cause),
	)
	p.resetLocked(s, "health check failure")
	return true
}

// Snapshot copies one slot's state
func (p *Pool) Snapshot(index int) (domain.SlotStatus, *session.Info, error) {
	s, err := p.Slot(index)
	if err != nil {
		return domain.SlotStatus{}, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var info *session.Info
	if d, ok := s.handle.(session.Describer); ok {
		i := d.Info()
		info = &i
	}
	return p.snapshotLocked(s, time.Now()), info, nil
}

// Snapshots copies every slot's state
func (p *Pool) Snapshots() []domain.SlotStatus {
	now := time.Now()
	out := make([]domain.SlotStatus, len(p.slots))
	for i, s := range p.slots {
		s.mu.Lock()
		out[i] = p.snapshotLocked(s, now)
		s.mu.Unlock()
	}
	return out
}

func (p *Pool) snapshotLocked(s *Slot, now time.Time) domain.SlotStatus {
	st := domain.SlotStatus{
		Index:                 s.index,
		SessionID:             s.sessionID,
		Busy:                  s.busy,
		Initialized:           s.handle != nil,
		AccountsProcessed:     s.accountsProcessed,
		AccountsUntilRotation: max(p.rotationLimit-s.accountsProcessed, 0),
		RequestCount:          s.requestCount,
		SuccessfulRequests:    s.successfulRequests,
		FailedRequests:        s.failedRequests,
		RecordErrors:          s.recordErrors,
	}
	if s.handle != nil {
		created := s.createdAt
		st.CreatedAt = &created
		st.UptimeSeconds = now.Sub(created).Seconds()
	}
	if s.requestCount > 0 {
		st.SuccessRate = float64(s.successfulRequests) / float64(s.requestCount)
	}
	return st
}

// Close shuts down every live session
func (p *Pool) Close() {
	for _, s := range p.slots {
		s.mu.Lock()
		if s.handle != nil {
			p.closeHandle(s.index, s.sessionID, s.handle, "shutdown")
			s.handle = nil
		}
		s.mu.Unlock()
	}
}
