package store

import (
	"context"
	"fmt"

	"github.com/persistorai/docmigrate/internal/models"
)

// Invariant is a named query returning the number of rows that violate it.
type Invariant struct {
	Name string
	SQL  string
}

// OrphanedForeignKey counts child rows whose foreign key points at no parent row.
func OrphanedForeignKey(child, column, parent string) Invariant {
	return Invariant{
		Name: fmt.Sprintf("orphaned %s.%s -> %s", child, column, parent),
		SQL: fmt.Sprintf(
			"SELECT count(*) FROM %s c WHERE c.%s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s)",
			tableIdent(child).Sanitize(), quoteCol(column), tableIdent(parent).Sanitize(), quoteCol(models.PrimaryKeyColumn), quoteCol(column),
		),
	}
}

// NegativeAmount counts rows with a negative value in a column that must not be negative.
func NegativeAmount(table, column string) Invariant {
	return Invariant{
		Name: fmt.Sprintf("negative %s.%s", table, column),
		SQL:  fmt.Sprintf("SELECT count(*) FROM %s WHERE %s < 0", tableIdent(table).Sanitize(), quoteCol(column)),
	}
}

// BlankRequired counts rows where a required column is NULL or only whitespace.
func BlankRequired(table, column string) Invariant {
	return Invariant{
		Name: fmt.Sprintf("blank %s.%s", table, column),
		SQL: fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NULL OR btrim(%s::text) = ''",
			tableIdent(table).Sanitize(), quoteCol(column), quoteCol(column)),
	}
}

// InvariantStore runs invariant queries against the live destination.
type InvariantStore struct {
	Base
}

// NewInvariantStore creates an InvariantStore.
func NewInvariantStore(base Base) *InvariantStore {
	return &InvariantStore{Base: base}
}

// Check runs every invariant. A failing query is reported in its result and
// does not stop the others.
func (s *InvariantStore) Check(ctx context.Context, invariants []Invariant) []models.InvariantResult {
	out := make([]models.InvariantResult, 0, len(invariants))

	for _, inv := range invariants {
		res := models.InvariantResult{Name: inv.Name}

		qctx, cancel := withTimeout(ctx)
		err := s.Pool.QueryRow(qctx, inv.SQL).Scan(&res.Violations)
		cancel()

		if err != nil {
			res.Error = err.Error()
			s.Log.WithError(err).WithField("invariant", inv.Name).Error("invariant query failed")
		}

		out = append(out, res)
	}

	return out
}
