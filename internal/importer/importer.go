// Package importer loads one collection's transformed records into the
// destination in transactional batches.
//
// Every batch goes through an explicit two-phase strategy: a BulkAttempt that
// upserts the whole batch in one transaction and, only when that attempt is
// rejected by a data error, a PerRecordAttempt that retries each record in its
// own transaction. Both phases return a BatchOutcome so they can be tested on
// their own. Upserts overwrite the non-key columns a record carries on
// primary-key conflict, so re-running a load converges on the same end state.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/persistorai/docmigrate/internal/domain"
	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/store"
)

// Options configures batch sizes and the optional foreign-key relaxation.
type Options struct {
	BatchSize           int
	HighVolumeBatchSize int
	RelaxForeignKeys    bool
	MaxBatchesPerSecond float64 // 0 means unthrottled
}

// BatchOutcome is the uniform result of either attempt phase.
type BatchOutcome struct {
	Attempted int
	Succeeded int
	Failures  []models.RecordFailure
	// Rejected is the data error that made a BulkAttempt roll back.
	Rejected error
	// Err is an infrastructure error. It aborts the collection.
	Err error
}

// Importer loads collections through a LoadBeginner.
type Importer struct {
	db      domain.LoadBeginner
	opts    Options
	limiter *rate.Limiter
	log     *logrus.Logger
}

// New creates an Importer.
func New(db domain.LoadBeginner, opts Options, log *logrus.Logger) *Importer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	if opts.HighVolumeBatchSize < opts.BatchSize {
		opts.HighVolumeBatchSize = opts.BatchSize
	}

	im := &Importer{db: db, opts: opts, log: log}
	if opts.MaxBatchesPerSecond > 0 {
		im.limiter = rate.NewLimiter(rate.Limit(opts.MaxBatchesPerSecond), 1)
	}

	return im
}

// batchSize returns the effective batch size for a step.
func (im *Importer) batchSize(step models.CollectionImportPlan, cols []string) int {
	size := im.opts.BatchSize
	if step.Strategy == models.StrategyHighVolume {
		size = im.opts.HighVolumeBatchSize
	} else if limit := maxRowsPerStatement(cols); size > limit {
		size = limit
	}

	return max(size, 1)
}

// ImportCollection loads records in fixed-size batches, sequentially. Batch
// N+1 starts only after batch N committed or fully fell back. The returned
// error is non-nil only for infrastructure failures; the result is always
// populated and balanced.
func (im *Importer) ImportCollection(
	ctx context.Context,
	step models.CollectionImportPlan,
	cols []string,
	records []models.TransformedRecord,
) (*models.ImportResult, error) {
	start := time.Now()
	res := &models.ImportResult{
		Collection: step.Collection,
		Table:      step.Table,
		Strategy:   step.Strategy,
	}

	defer func() { res.Duration = time.Since(start) }()

	size := im.batchSize(step, cols)
	log := im.log.WithFields(logrus.Fields{
		"collection": step.Collection,
		"table":      step.Table,
		"strategy":   step.Strategy,
	})

	for i := 0; i < len(records); i += size {
		end := min(i+size, len(records))
		batch := records[i:end]
		batchNo := i/size + 1

		if im.limiter != nil {
			if err := im.limiter.Wait(ctx); err != nil {
				return res, im.abort(res, log, batch, fmt.Errorf("waiting for rate limiter: %w", err))
			}
		}

		res.Batches++

		out := im.BulkAttempt(ctx, step, cols, batch)

		if out.Rejected != nil {
			res.Fallbacks++

			log.WithFields(logrus.Fields{
				"batch":   batchNo,
				"records": len(batch),
			}).WithError(out.Rejected).Warn("batch rejected, retrying records individually")

			out = im.PerRecordAttempt(ctx, step, cols, batch)
		}

		merge(res, out)

		if out.Err != nil {
			return res, im.abort(res, log, batch[out.Attempted:], out.Err)
		}

		log.WithFields(logrus.Fields{
			"batch":     batchNo,
			"succeeded": res.Succeeded,
			"failed":    res.Failed,
		}).Debug("batch done")
	}

	log.WithFields(logrus.Fields{
		"attempted": res.Attempted,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"batches":   res.Batches,
		"fallbacks": res.Fallbacks,
	}).Info("collection loaded")

	return res, nil
}

// abort records an infrastructure error. Records of the interrupted batch that
// were not individually settled are counted as failed so the result stays
// balanced; later batches are never attempted.
func (im *Importer) abort(res *models.ImportResult, log *logrus.Entry, unsettled []models.TransformedRecord, err error) error {
	reason := "not loaded: " + err.Error()
	for i := range unsettled {
		res.AddFailure(models.RecordFailure{ID: unsettled[i].ID, SourceID: unsettled[i].SourceID, Reason: reason})
	}

	res.Error = err.Error()

	log.WithError(err).Error("collection load aborted by infrastructure error")

	return fmt.Errorf("loading %s: %w", res.Collection, err)
}

func merge(res *models.ImportResult, out BatchOutcome) {
	res.Attempted += out.Attempted
	res.Succeeded += out.Succeeded
	res.Failed += len(out.Failures)
	res.Failures = append(res.Failures, out.Failures...)
}

// BulkAttempt upserts the whole batch in one transaction. A data error rolls
// the transaction back and is reported in Rejected; nothing is counted.
func (im *Importer) BulkAttempt(ctx context.Context, step models.CollectionImportPlan, cols []string, batch []models.TransformedRecord) BatchOutcome {
	err := im.inTx(ctx, func(tx domain.LoadTx) error {
		if step.Strategy == models.StrategyHighVolume {
			return copyUpsert(ctx, tx, step.Table, cols, batch)
		}

		return valuesUpsert(ctx, tx, step.Table, cols, batch)
	})

	switch {
	case err == nil:
		return BatchOutcome{Attempted: len(batch), Succeeded: len(batch)}
	case store.IsDataError(err):
		return BatchOutcome{Rejected: err}
	default:
		return BatchOutcome{Err: err}
	}
}

// PerRecordAttempt upserts each record in its own transaction, isolating the
// invalid ones while admitting their valid siblings. An infrastructure error
// stops the attempt; Attempted then covers only the records settled so far.
func (im *Importer) PerRecordAttempt(ctx context.Context, step models.CollectionImportPlan, cols []string, batch []models.TransformedRecord) BatchOutcome {
	var out BatchOutcome

	for i := range batch {
		rec := batch[i : i+1]

		err := im.inTx(ctx, func(tx domain.LoadTx) error {
			return valuesUpsert(ctx, tx, step.Table, cols, rec)
		})

		switch {
		case err == nil:
			out.Attempted++
			out.Succeeded++
		case store.IsDataError(err):
			out.Attempted++
			out.Failures = append(out.Failures, models.RecordFailure{
				ID:       rec[0].ID,
				SourceID: rec[0].SourceID,
				Reason:   err.Error(),
			})

			im.log.WithFields(logrus.Fields{
				"collection": step.Collection,
				"id":         rec[0].ID,
				"source_id":  rec[0].SourceID,
			}).WithError(err).Warn("record rejected")
		default:
			out.Err = err
			return out
		}
	}

	return out
}

// inTx runs fn in one load transaction, relaxing foreign-key enforcement for
// that transaction only when configured. SET LOCAL ends with the transaction,
// so enforcement is always back on before verification.
func (im *Importer) inTx(ctx context.Context, fn func(tx domain.LoadTx) error) error {
	tx, err := im.db.BeginLoad(ctx)
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	if im.opts.RelaxForeignKeys {
		if _, err := tx.Exec(ctx, "SET LOCAL session_replication_role = replica"); err != nil {
			return fmt.Errorf("relaxing foreign keys: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	return nil
}

func valuesUpsert(ctx context.Context, tx domain.LoadTx, table string, cols []string, batch []models.TransformedRecord) error {
	for _, g := range groupByColumns(cols, batch) {
		args := make([]any, 0, len(g.records)*(len(g.cols)+1))
		for i := range g.records {
			args = append(args, rowValues(&g.records[i], g.cols)...)
		}

		if _, err := tx.Exec(ctx, upsertValuesSQL(table, g.cols, len(g.records)), args...); err != nil {
			return fmt.Errorf("upserting into %s: %w", table, err)
		}
	}

	return nil
}

// copyUpsert streams the batch into a temp table with COPY, then upserts from
// it, one pass per column group.
func copyUpsert(ctx context.Context, tx domain.LoadTx, table string, cols []string, batch []models.TransformedRecord) error {
	if _, err := tx.Exec(ctx, createStagingSQL(table)); err != nil {
		return fmt.Errorf("creating staging table for %s: %w", table, err)
	}

	for n, g := range groupByColumns(cols, batch) {
		if n > 0 {
			if _, err := tx.Exec(ctx, truncateStagingSQL(table)); err != nil {
				return fmt.Errorf("clearing staging for %s: %w", table, err)
			}
		}

		rows := make([][]any, len(g.records))
		for i := range g.records {
			rows[i] = rowValues(&g.records[i], g.cols)
		}

		copied, err := tx.CopyFrom(ctx, pgx.Identifier{stagingTable(table)}, allColumns(g.cols), pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copying into staging for %s: %w", table, err)
		}

		if int(copied) != len(g.records) {
			return errors.New("staging copy row count mismatch")
		}

		if _, err := tx.Exec(ctx, upsertFromStagingSQL(table, g.cols)); err != nil {
			return fmt.Errorf("upserting %s from staging: %w", table, err)
		}
	}

	return nil
}
