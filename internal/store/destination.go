package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/docmigrate/internal/domain"
	"github.com/persistorai/docmigrate/internal/models"
)

// DestinationStore reads and writes the destination tables being migrated into.
type DestinationStore struct {
	Base
}

// NewDestinationStore creates a DestinationStore.
func NewDestinationStore(base Base) *DestinationStore {
	return &DestinationStore{Base: base}
}

// BeginLoad opens one load transaction. The caller bounds its lifetime;
// batches run under the pool's statement timeout rather than defaultQueryTimeout.
func (s *DestinationStore) BeginLoad(ctx context.Context) (domain.LoadTx, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// Ping checks that the destination is reachable.
func (s *DestinationStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return s.Pool.Ping(ctx)
}

// MissingTables returns the tables that do not exist in the destination.
func (s *DestinationStore) MissingTables(ctx context.Context, tables []string) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var missing []string

	for _, t := range tables {
		var exists bool

		err := s.Pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", tableIdent(t).Sanitize()).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("checking table %s: %w", t, err)
		}

		if !exists {
			missing = append(missing, t)
		}
	}

	return missing, nil
}

// CountRows returns the live row count of a table.
func (s *DestinationStore) CountRows(ctx context.Context, table string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int64

	err := s.Pool.QueryRow(ctx, "SELECT count(*) FROM "+tableIdent(table).Sanitize()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}

	return n, nil
}

// SerialColumns lists the columns of a table whose default draws from a
// sequence, identity columns included. Sequence is empty when the column
// default names a sequence that has since been dropped.
func (s *DestinationStore) SerialColumns(ctx context.Context, table string) ([]models.SerialColumn, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ident := tableIdent(table)
	schema, name := "", ident[len(ident)-1]
	if len(ident) > 1 {
		schema = ident[0]
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT c.column_name,
		       COALESCE(pg_get_serial_sequence($3, c.column_name), '')
		FROM information_schema.columns c
		WHERE c.table_name = $1
		  AND c.table_schema = COALESCE(NULLIF($2, ''), current_schema())
		  AND (c.column_default LIKE 'nextval(%' OR c.is_identity = 'YES')
		ORDER BY c.ordinal_position`,
		name, schema, ident.Sanitize(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing serial columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []models.SerialColumn

	for rows.Next() {
		var c models.SerialColumn
		if err := rows.Scan(&c.Column, &c.Sequence); err != nil {
			return nil, fmt.Errorf("scanning serial column: %w", err)
		}

		cols = append(cols, c)
	}

	return cols, rows.Err()
}

// ResetSequence sets sequence so the next value follows the column's current
// maximum. On an empty table the next value is 1. Returns the maximum.
func (s *DestinationStore) ResetSequence(ctx context.Context, sequence, table, column string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var maxVal int64

	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0)::bigint FROM %s",
		pgx.Identifier{column}.Sanitize(), tableIdent(table).Sanitize())

	if err := s.Pool.QueryRow(ctx, query).Scan(&maxVal); err != nil {
		return 0, fmt.Errorf("reading max %s.%s: %w", table, column, err)
	}

	if _, err := s.Pool.Exec(ctx, "SELECT setval($1::regclass, GREATEST($2::bigint, 1), $3)", sequence, maxVal, maxVal > 0); err != nil {
		return 0, fmt.Errorf("resetting %s: %w", sequence, err)
	}

	return maxVal, nil
}

// errNoRows reports whether err is pgx.ErrNoRows.
func errNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
