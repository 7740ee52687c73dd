// Package reconcile resynchronises auto-increment counters after a bulk load,
// so rows the application creates later never collide with migrated values.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/store"
)

// Sequencer is the destination access the reconciler needs.
type Sequencer interface {
	SerialColumns(ctx context.Context, table string) ([]models.SerialColumn, error)
	ResetSequence(ctx context.Context, sequence, table, column string) (int64, error)
}

// Reconciler resets counters table by table.
type Reconciler struct {
	seq Sequencer
	log *logrus.Logger
}

// New creates a Reconciler.
func New(seq Sequencer, log *logrus.Logger) *Reconciler {
	return &Reconciler{seq: seq, log: log}
}

// Reconcile resets every counter-backed column of the given tables to the
// column's current maximum. Tables without a counter, or whose counter object
// is gone, are recorded as skipped. Other errors are collected and returned
// after every table has been tried.
func (r *Reconciler) Reconcile(ctx context.Context, tables []string) ([]models.SequenceReset, error) {
	var (
		out  []models.SequenceReset
		errs []error
	)

	for _, table := range tables {
		log := r.log.WithField("table", table)

		cols, err := r.seq.SerialColumns(ctx, table)
		if err != nil {
			errs = append(errs, fmt.Errorf("discovering counters on %s: %w", table, err))
			continue
		}

		if len(cols) == 0 {
			out = append(out, models.SequenceReset{Table: table, Skipped: true, Reason: "no auto-increment column"})
			log.Debug("no counter to reconcile")

			continue
		}

		for _, col := range cols {
			reset := models.SequenceReset{Table: table, Column: col.Column, Sequence: col.Sequence}

			if col.Sequence == "" {
				reset.Skipped = true
				reset.Reason = "counter object does not exist"
				out = append(out, reset)

				log.WithField("column", col.Column).Warn("counter missing, skipping")

				continue
			}

			value, err := r.seq.ResetSequence(ctx, col.Sequence, table, col.Column)

			switch {
			case err == nil:
				reset.Value = value
				log.WithFields(logrus.Fields{
					"column":   col.Column,
					"sequence": col.Sequence,
					"value":    value,
				}).Info("counter reset")
			case store.IsUndefinedTable(err):
				reset.Skipped = true
				reset.Reason = "counter object does not exist"
				log.WithField("sequence", col.Sequence).Warn("counter vanished, skipping")
			default:
				errs = append(errs, fmt.Errorf("resetting %s: %w", col.Sequence, err))
				reset.Skipped = true
				reset.Reason = err.Error()
			}

			out = append(out, reset)
		}
	}

	return out, errors.Join(errs...)
}
