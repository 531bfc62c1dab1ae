package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/session"
	"github.com/cuongbtq/scrape-dispatcher/shared/database"
	"github.com/jmoiron/sqlx"
)

const createRecordsTable = `
	CREATE TABLE IF NOT EXISTS records (
		identifier TEXT NOT NULL,
		record_id  TEXT NOT NULL,
		job_id     TEXT NOT NULL,
		data       TEXT NOT NULL,
		stored_at  TIMESTAMP NOT NULL,
		PRIMARY KEY (identifier, record_id)
	)
`

// Both Postgres and SQLite accept ON CONFLICT ... DO NOTHING.
const insertRecord = `
	INSERT INTO records (identifier, record_id, job_id, data, stored_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (identifier, record_id) DO NOTHING
`

// SQLStore writes records to a Postgres or SQLite table
type SQLStore struct {
	client *database.Client
	db     *sqlx.DB
	insert string
	logger *slog.Logger
}

// NewSQLStore creates the records table if needed. The store takes
// ownership of client.
func NewSQLStore(ctx context.Context, client *database.Client, logger *slog.Logger) (*SQLStore, error) {
	db := client.GetDB()

	if _, err := db.ExecContext(ctx, createRecordsTable); err != nil {
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}

	logger.Info("SQL record sink ready",
		slog.String("driver", db.DriverName()),
	)

	return &SQLStore{
		client: client,
		db:     db,
		insert: db.Rebind(insertRecord),
		logger: logger,
	}, nil
}

// Store inserts a record, ignoring one already stored for the same identifier
func (s *SQLStore) Store(ctx context.Context, jobID, identifier string, rec session.Record) error {
	_, err := s.db.ExecContext(ctx, s.insert,
		identifier,
		rec.ID,
		jobID,
		string(rec.Data),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	return nil
}

// HealthCheck pings the database
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

// Close closes the underlying database client
func (s *SQLStore) Close() error {
	return s.client.Close()
}
