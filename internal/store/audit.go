package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/persistorai/docmigrate/internal/idmap"
)

// maxIDMapBatchSize keeps each INSERT well inside PostgreSQL's parameter limit.
const maxIDMapBatchSize = 1000

// RunSummary is the bookkeeping row of one migration run.
type RunSummary struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Status     string
	Attempted  int
	Succeeded  int
	Failed     int
	Report     []byte // report.json
}

// AuditStore records migration runs and their identifier mapping.
type AuditStore struct {
	Base
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(base Base) *AuditStore {
	return &AuditStore{Base: base}
}

// StartRun inserts a run in the "running" state.
func (s *AuditStore) StartRun(ctx context.Context, id uuid.UUID, started time.Time, dryRun bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		"INSERT INTO migration_runs (id, started_at, dry_run, status) VALUES ($1, $2, $3, 'running')",
		id, started, dryRun,
	)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}

	return nil
}

// FinishRun stores a run's terminal summary.
func (s *AuditStore) FinishRun(ctx context.Context, run RunSummary) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	report := run.Report
	if len(report) == 0 {
		report = []byte("{}")
	}

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO migration_runs (id, started_at, finished_at, dry_run, status, attempted, succeeded, failed, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			attempted = EXCLUDED.attempted,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			report = EXCLUDED.report`,
		run.ID, run.StartedAt, run.FinishedAt, run.DryRun, run.Status,
		run.Attempted, run.Succeeded, run.Failed, report,
	)
	if err != nil {
		return fmt.Errorf("recording run summary: %w", err)
	}

	return nil
}

// SaveIDMap upserts every mapping entry under runID in one transaction, each
// batch bounded by the default query timeout.
// Entries already recorded by an earlier run are re-pointed at this run.
func (s *AuditStore) SaveIDMap(ctx context.Context, runID uuid.UUID, entries []idmap.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning id map transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	total := 0

	for i := 0; i < len(entries); i += maxIDMapBatchSize {
		end := min(i+maxIDMapBatchSize, len(entries))
		batch := entries[i:end]

		var b strings.Builder
		b.WriteString("INSERT INTO migration_id_map (collection, source_id, destination_id, run_id) VALUES ")

		args := make([]any, 0, len(batch)*3+1)
		args = append(args, runID)

		for j, e := range batch {
			if j > 0 {
				b.WriteString(", ")
			}

			n := len(args)
			b.WriteString("($" + strconv.Itoa(n+1) + ", $" + strconv.Itoa(n+2) + ", $" + strconv.Itoa(n+3) + ", $1)")
			args = append(args, e.Collection, e.SourceID, e.DestinationID)
		}

		b.WriteString(` ON CONFLICT (collection, source_id) DO UPDATE SET
			destination_id = EXCLUDED.destination_id,
			run_id = EXCLUDED.run_id`)

		bctx, cancel := withTimeout(ctx)
		tag, err := tx.Exec(bctx, b.String(), args...)
		cancel()

		if err != nil {
			return 0, fmt.Errorf("saving id map batch %d: %w", i/maxIDMapBatchSize+1, err)
		}

		total += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing id map: %w", err)
	}

	return total, nil
}
