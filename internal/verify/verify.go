// Package verify compares live destination row counts with what the importer
// reports as loaded. Mismatches are surfaced, never corrected.
package verify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/models"
)

// RowCounter counts rows in one destination table.
type RowCounter interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// Verifier checks each loaded table.
type Verifier struct {
	rows RowCounter
	log  *logrus.Logger
}

// New creates a Verifier.
func New(rows RowCounter, log *logrus.Logger) *Verifier {
	return &Verifier{rows: rows, log: log}
}

// Verify compares each table's live row count with the collection's
// succeeded count. A table that cannot be counted is reported as unverified.
func (v *Verifier) Verify(ctx context.Context, results []*models.ImportResult) []models.TableVerification {
	out := make([]models.TableVerification, 0, len(results))

	for _, res := range results {
		tv := models.TableVerification{
			Collection: res.Collection,
			Table:      res.Table,
			Expected:   int64(res.Succeeded),
		}

		log := v.log.WithFields(logrus.Fields{"collection": res.Collection, "table": res.Table})

		actual, err := v.rows.CountRows(ctx, res.Table)
		if err != nil {
			tv.Error = err.Error()
			log.WithError(err).Error("row count failed")
			out = append(out, tv)

			continue
		}

		tv.Actual = actual
		tv.Delta = actual - tv.Expected
		tv.Match = tv.Delta == 0

		fields := logrus.Fields{"expected": tv.Expected, "actual": tv.Actual, "delta": tv.Delta}
		if tv.Match {
			log.WithFields(fields).Info("row count verified")
		} else {
			log.WithFields(fields).Warn("row count mismatch: " + tv.Direction())
		}

		out = append(out, tv)
	}

	return out
}

// ExpectedOnly reports expected counts without touching the destination, for
// dry runs.
func ExpectedOnly(results []*models.ImportResult) []models.TableVerification {
	out := make([]models.TableVerification, 0, len(results))
	for _, res := range results {
		out = append(out, models.TableVerification{
			Collection: res.Collection,
			Table:      res.Table,
			Expected:   int64(res.Succeeded),
			Error:      "dry run: not verified",
		})
	}

	return out
}
