// Package session defines the contract between the dispatcher and the
// expensive, stateful scraping sessions it pools.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
)

// ErrRecord marks a failure to fetch a single record. Streams yield errors
// wrapping it for records that should be skipped; any other yielded error
// ends the stream.
var ErrRecord = errors.New("record fetch failed")

// Record is one fetched item belonging to a subject. Data is passed through
// untouched.
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Profile is the subject's profile as returned by the session.
type Profile map[string]any

// Handle is a live session owned by exactly one pool slot.
type Handle interface {
	// Profile fetches the subject's profile. An error fails the whole job.
	Profile(ctx context.Context, identifier string) (Profile, error)

	// Records streams the subject's records.
	Records(ctx context.Context, identifier string) iter.Seq2[Record, error]

	// Probe is a cheap liveness round-trip.
	Probe(ctx context.Context) error

	// Close releases the session. Callers treat failures as best-effort.
	Close(ctx context.Context) error
}

// Info describes how a session was configured, for slot detail output.
type Info struct {
	Browser      string `json:"browser"`
	Headless     bool   `json:"headless"`
	RequestDelay string `json:"request_delay"`
	UserAgent    string `json:"user_agent,omitempty"`
}

// Describer is implemented by handles that can report their configuration.
type Describer interface {
	Info() Info
}

// Factory creates sessions. sessionID is the identity the pool assigned to
// the slot and is passed through so both sides log the same id.
type Factory interface {
	Create(ctx context.Context, sessionID string) (Handle, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, sessionID string) (Handle, error)

func (f FactoryFunc) Create(ctx context.Context, sessionID string) (Handle, error) {
	return f(ctx, sessionID)
}
