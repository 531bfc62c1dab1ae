package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/cuongbtq/scrape-dispatcher/internal/session"
)

// executeJob fetches the subject's profile and drains its record stream.
// Only a profile failure (or a panic) fails the job; per-record errors are
// counted and skipped, and any other stream error keeps what was collected.
func (d *Dispatcher) executeJob(ctx context.Context, handle session.Handle, job domain.Job) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = domain.Outcome{Err: fmt.Errorf("panic while processing job: %v", r)}
		}
	}()

	profile, err := handle.Profile(ctx, job.Identifier)
	if err != nil {
		return domain.Outcome{Err: fmt.Errorf("failed to fetch profile: %w", err)}
	}
	outcome.Profile = profile

	seen := make(map[string]struct{})
	records := make([]session.Record, 0)

	for rec, err := range handle.Records(ctx, job.Identifier) {
		if err != nil {
			if errors.Is(err, session.ErrRecord) {
				outcome.RecordErrors++
				d.logger.Debug("Skipping record",
					slog.String("job_id", job.ID),
					slog.Any("error", err),
				)
				continue
			}
			d.logger.Warn("Record stream ended early, keeping partial results",
				slog.String("job_id", job.ID),
				slog.Int("records", len(records)),
				slog.Any("error", err),
			)
			break
		}

		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
		d.store(ctx, job, rec)

		if len(records) >= d.cfg.MaxRecordsPerJob {
			d.logger.Info("Reached record limit for job",
				slog.String("job_id", job.ID),
				slog.Int("max_records", d.cfg.MaxRecordsPerJob),
			)
			break
		}
	}

	outcome.Records = records
	return outcome
}

// store hands one record to the sink. Sink failures never fail the job.
func (d *Dispatcher) store(ctx context.Context, job domain.Job, rec session.Record) {
	if d.sink == nil {
		return
	}
	if err := d.sink.Store(ctx, job.ID, job.Identifier, rec); err != nil {
		d.logger.Warn("Failed to store record",
			slog.String("job_id", job.ID),
			slog.String("record_id", rec.ID),
			slog.Any("error", err),
		)
	}
}
