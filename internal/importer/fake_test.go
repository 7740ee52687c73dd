package importer_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/persistorai/docmigrate/internal/domain"
)

// fakeDB is an in-memory destination keyed by table then primary key. It
// understands exactly the statements the importer issues; an upsert only
// touches the columns it names.
type fakeDB struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]any
	begins   int
	commits  int
	relaxed  int
	copies   int
	beginErr func(n int) error // called with the 1-based begin count
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: map[string]map[string]map[string]any{}}
}

func (db *fakeDB) BeginLoad(_ context.Context) (domain.LoadTx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.begins++
	if db.beginErr != nil {
		if err := db.beginErr(db.begins); err != nil {
			return nil, err
		}
	}

	return &fakeTx{db: db}, nil
}

func (db *fakeDB) count(table string) int {
	db.mu.Lock()
	defer db.mu.Unlock()

	return len(db.tables[table])
}

func (db *fakeDB) row(table, id string) map[string]any {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.tables[table][id]
}

type pendingRow struct {
	table string
	row   map[string]any
}

type fakeTx struct {
	db      *fakeDB
	pending []pendingRow
	staged  []map[string]any
	done    bool
}

// checkRow mimics the destination's column types: amount is numeric and email
// is NOT NULL.
func checkRow(row map[string]any) error {
	if v, ok := row["amount"].(string); ok {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type numeric: "` + v + `"`}
		}
	}

	if v, ok := row["email"]; ok && v == nil {
		return &pgconn.PgError{Code: "23502", Message: `null value in column "email" violates not-null constraint`}
	}

	return nil
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// parseInsert extracts the table and column list of an INSERT statement.
func parseInsert(sql string) (string, []string) {
	rest := strings.TrimPrefix(sql, "INSERT INTO ")
	open := strings.Index(rest, " (")
	table := unquote(rest[:open])
	closing := strings.Index(rest, ")")
	cols := strings.Split(rest[open+2:closing], ",")

	for i := range cols {
		cols[i] = unquote(cols[i])
	}

	return table, cols
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.HasPrefix(sql, "SET LOCAL session_replication_role"):
		tx.db.mu.Lock()
		tx.db.relaxed++
		tx.db.mu.Unlock()

		return pgconn.NewCommandTag("SET"), nil
	case strings.HasPrefix(sql, "CREATE TEMP TABLE"):
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	case strings.HasPrefix(sql, "TRUNCATE "):
		tx.staged = nil

		return pgconn.NewCommandTag("TRUNCATE TABLE"), nil
	case strings.HasPrefix(sql, "INSERT INTO") && strings.Contains(sql, ") SELECT "):
		table, cols := parseInsert(sql)
		for _, staged := range tx.staged {
			row := make(map[string]any, len(cols))
			for _, c := range cols {
				row[c] = staged[c]
			}

			tx.pending = append(tx.pending, pendingRow{table: table, row: row})
		}

		return pgconn.NewCommandTag("INSERT 0 " + strconv.Itoa(len(tx.staged))), nil
	case strings.HasPrefix(sql, "INSERT INTO"):
		table, cols := parseInsert(sql)
		for i := 0; i+len(cols) <= len(args); i += len(cols) {
			row := make(map[string]any, len(cols))
			for j, c := range cols {
				row[c] = args[i+j]
			}

			if err := checkRow(row); err != nil {
				return pgconn.CommandTag{}, err
			}

			tx.pending = append(tx.pending, pendingRow{table: table, row: row})
		}

		return pgconn.NewCommandTag("INSERT 0 " + strconv.Itoa(len(args)/len(cols))), nil
	}

	return pgconn.CommandTag{}, errors.New("fake: unexpected statement: " + sql)
}

func (tx *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	tx.db.mu.Lock()
	tx.db.copies++
	tx.db.mu.Unlock()

	var n int64

	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}

		row := make(map[string]any, len(cols))
		for j, c := range cols {
			row[c] = vals[j]
		}

		if err := checkRow(row); err != nil {
			return n, err
		}

		tx.staged = append(tx.staged, row)
		n++
	}

	return n, src.Err()
}

func (tx *fakeTx) Commit(_ context.Context) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()

	for _, p := range tx.pending {
		if tx.db.tables[p.table] == nil {
			tx.db.tables[p.table] = map[string]map[string]any{}
		}

		id, _ := p.row["id"].(string)

		stored := tx.db.tables[p.table][id]
		if stored == nil {
			stored = map[string]any{}
			tx.db.tables[p.table][id] = stored
		}

		for c, v := range p.row {
			stored[c] = v
		}
	}

	tx.db.commits++
	tx.done = true

	return nil
}

func (tx *fakeTx) Rollback(_ context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}

	tx.pending = nil
	tx.done = true

	return nil
}
