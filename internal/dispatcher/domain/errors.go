package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentifier is returned when an identifier is empty
	ErrInvalidIdentifier = errors.New("identifier is required")

	// ErrEmptyBatch is returned when a batch contains no identifiers
	ErrEmptyBatch = errors.New("no identifiers provided")

	// ErrJobNotFound is returned for an unknown job id
	ErrJobNotFound = errors.New("job not found")

	// ErrSlotOutOfRange is returned for a slot index outside the pool
	ErrSlotOutOfRange = errors.New("slot index out of range")

	// ErrSlotBusy is returned when an administrative operation targets a slot that is running a job
	ErrSlotBusy = errors.New("slot is processing a job")

	// ErrWaitTimeout is returned when a synchronous caller's deadline passes; the job keeps running
	ErrWaitTimeout = errors.New("job processing timed out")

	// ErrDispatcherStopped is returned when waiting is cut short by shutdown
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

// SessionError wraps a failure to create a slot's session
type SessionError struct {
	Slot      int
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s on slot %d: %v", e.SessionID, e.Slot, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
