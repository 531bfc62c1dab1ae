// Package sink persists fetched records. The dispatcher treats records as
// opaque; sinks store the raw JSON keyed by identifier and record id.
package sink

import (
	"context"
	"errors"

	"github.com/cuongbtq/scrape-dispatcher/internal/session"
)

// Driver names accepted in sink.drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongoDB  = "mongodb"
	DriverRedis    = "redis"
)

// Sink stores records as they are fetched
type Sink interface {
	Store(ctx context.Context, jobID, identifier string, rec session.Record) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Nop discards everything
type Nop struct{}

func (Nop) Store(context.Context, string, string, session.Record) error { return nil }
func (Nop) HealthCheck(context.Context) error                            { return nil }
func (Nop) Close() error                                                 { return nil }

// Multi fans each record out to every sink
type Multi []Sink

// Store writes to all sinks and joins their errors
func (m Multi) Store(ctx context.Context, jobID, identifier string, rec session.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Store(ctx, jobID, identifier, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthCheck checks every sink and joins their errors
func (m Multi) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.HealthCheck(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks and joins their errors
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
