package runner_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/persistorai/docmigrate/internal/domain"
	"github.com/persistorai/docmigrate/internal/idmap"
	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/store"
)

// fakeDest keeps one id set per table and accepts the VALUES upserts the
// importer issues.
type fakeDest struct {
	mu      sync.Mutex
	rows    map[string]map[string]bool
	missing []string
	pingErr error
	resets  map[string]int64
}

func newFakeDest() *fakeDest {
	return &fakeDest{rows: map[string]map[string]bool{}, resets: map[string]int64{}}
}

func (d *fakeDest) BeginLoad(_ context.Context) (domain.LoadTx, error) {
	return &fakeTx{dest: d}, nil
}

func (d *fakeDest) Ping(_ context.Context) error { return d.pingErr }

func (d *fakeDest) MissingTables(_ context.Context, _ []string) ([]string, error) {
	return d.missing, nil
}

func (d *fakeDest) CountRows(_ context.Context, table string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return int64(len(d.rows[table])), nil
}

func (d *fakeDest) SerialColumns(_ context.Context, table string) ([]models.SerialColumn, error) {
	if table != "users" {
		return nil, nil
	}

	return []models.SerialColumn{{Column: "legacy_number", Sequence: "users_legacy_number_seq"}}, nil
}

func (d *fakeDest) ResetSequence(ctx context.Context, sequence, table, _ string) (int64, error) {
	n, _ := d.CountRows(ctx, table)

	d.mu.Lock()
	d.resets[sequence] = n
	d.mu.Unlock()

	return n, nil
}

type fakeTx struct {
	dest    *fakeDest
	table   string
	pending []string
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if !strings.HasPrefix(sql, "INSERT INTO ") {
		return pgconn.CommandTag{}, errors.New("fake: unexpected statement: " + sql)
	}

	rest := strings.TrimPrefix(sql, "INSERT INTO ")
	open := strings.Index(rest, " (")
	tx.table = strings.Trim(rest[:open], `"`)
	width := strings.Count(rest[open:strings.Index(rest, ")")], ",") + 1

	for i := 0; i < len(args); i += width {
		tx.pending = append(tx.pending, fmt.Sprint(args[i]))
	}

	return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", len(args)/width)), nil
}

func (tx *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("fake: copy not supported")
}

func (tx *fakeTx) Commit(_ context.Context) error {
	tx.dest.mu.Lock()
	defer tx.dest.mu.Unlock()

	if tx.dest.rows[tx.table] == nil {
		tx.dest.rows[tx.table] = map[string]bool{}
	}

	for _, id := range tx.pending {
		tx.dest.rows[tx.table][id] = true
	}

	tx.pending = nil

	return nil
}

func (tx *fakeTx) Rollback(_ context.Context) error {
	tx.pending = nil
	return nil
}

type fakeAudit struct {
	started  bool
	mappings int
	finished *store.RunSummary
}

func (a *fakeAudit) StartRun(_ context.Context, _ uuid.UUID, _ time.Time, _ bool) error {
	a.started = true
	return nil
}

func (a *fakeAudit) SaveIDMap(_ context.Context, _ uuid.UUID, entries []idmap.Entry) (int, error) {
	a.mappings = len(entries)
	return len(entries), nil
}

func (a *fakeAudit) FinishRun(_ context.Context, run store.RunSummary) error {
	a.finished = &run
	return nil
}
