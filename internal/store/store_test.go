package store_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/db"
	"github.com/persistorai/docmigrate/internal/db/migrations"
	"github.com/persistorai/docmigrate/internal/dbpool"
	"github.com/persistorai/docmigrate/internal/idmap"
	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/store"
)

// testEnv holds shared test infrastructure (single pool across all tests).
type testEnv struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

var sharedEnv *testEnv

func getTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if sharedEnv != nil {
		return sharedEnv
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := dbpool.NewPool(ctx, dbURL, 4)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	sharedEnv = &testEnv{pool: pool, log: log}

	return sharedEnv
}

func testBase(t *testing.T) store.Base {
	t.Helper()

	env := getTestEnv(t)

	return store.Base{Pool: env.pool, Log: env.log}
}

// createTable creates a throwaway table with a serial legacy column and drops it after the test.
func createTable(t *testing.T, base store.Base) string {
	t.Helper()

	ctx := context.Background()
	name := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	_, err := base.Pool.Exec(ctx, `CREATE TABLE `+name+` (
		id UUID PRIMARY KEY,
		legacy_number BIGSERIAL,
		email TEXT,
		amount NUMERIC(14,2)
	)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}

	t.Cleanup(func() {
		base.Pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+name) //nolint:errcheck // test cleanup.
	})

	return name
}

func TestDestinationStore_CountAndReset(t *testing.T) {
	base := testBase(t)
	s := store.NewDestinationStore(base)
	ctx := context.Background()
	table := createTable(t, base)

	for i := int64(1); i <= 3; i++ {
		if _, err := base.Pool.Exec(ctx, "INSERT INTO "+table+" (id, legacy_number, email) VALUES ($1, $2, 'x@example.com')", uuid.New(), i*10); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.CountRows(ctx, table)
	if err != nil || n != 3 {
		t.Fatalf("CountRows = %d, %v", n, err)
	}

	cols, err := s.SerialColumns(ctx, table)
	if err != nil {
		t.Fatalf("SerialColumns: %v", err)
	}

	if len(cols) != 1 || cols[0].Column != "legacy_number" || cols[0].Sequence == "" {
		t.Fatalf("SerialColumns = %+v", cols)
	}

	maxVal, err := s.ResetSequence(ctx, cols[0].Sequence, table, cols[0].Column)
	if err != nil || maxVal != 30 {
		t.Fatalf("ResetSequence = %d, %v", maxVal, err)
	}

	var next int64
	if err := base.Pool.QueryRow(ctx, "SELECT nextval($1::regclass)", cols[0].Sequence).Scan(&next); err != nil {
		t.Fatal(err)
	}

	if next != 31 {
		t.Errorf("nextval = %d, want 31", next)
	}
}

func TestDestinationStore_MissingTables(t *testing.T) {
	base := testBase(t)
	s := store.NewDestinationStore(base)
	table := createTable(t, base)

	missing, err := s.MissingTables(context.Background(), []string{table, "no_such_table_xyz"})
	if err != nil {
		t.Fatal(err)
	}

	if len(missing) != 1 || missing[0] != "no_such_table_xyz" {
		t.Errorf("missing = %v", missing)
	}
}

func TestLedgerStore_Latest(t *testing.T) {
	base := testBase(t)
	s := store.NewLedgerStore(base)
	ctx := context.Background()

	now := time.Now().UTC().Add(time.Hour) // newer than anything already recorded
	prefix := uuid.NewString()[:8]

	arts := []*models.BackupArtifact{
		{ID: prefix + "-full-old", Kind: models.BackupFull, StorageKey: "a", Checksum: "00", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: prefix + "-full", Kind: models.BackupFull, StorageKey: "b", Checksum: "00", CreatedAt: now},
		{ID: prefix + "-inc-old", Kind: models.BackupIncremental, StorageKey: "c", Checksum: "00", CreatedAt: now.Add(-time.Hour)},
		{ID: prefix + "-inc", Kind: models.BackupIncremental, StorageKey: "d", Checksum: "00", CreatedAt: now.Add(time.Minute)},
	}

	for _, a := range arts {
		if err := s.RecordArtifact(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	t.Cleanup(func() {
		base.Pool.Exec(context.Background(), "DELETE FROM backup_metadata WHERE id LIKE $1", prefix+"%") //nolint:errcheck // test cleanup.
	})

	full, err := s.LatestFull(ctx)
	if err != nil || full.ID != prefix+"-full" {
		t.Fatalf("LatestFull = %+v, %v", full, err)
	}

	inc, err := s.LatestIncrementalSince(ctx, full.CreatedAt)
	if err != nil || inc == nil || inc.ID != prefix+"-inc" {
		t.Fatalf("LatestIncrementalSince = %+v, %v", inc, err)
	}

	if _, err := s.GetArtifact(ctx, prefix+"-missing"); err == nil {
		t.Error("expected ErrArtifactNotFound")
	}
}

func TestLedgerStore_Verifications(t *testing.T) {
	s := store.NewLedgerStore(testBase(t))
	ctx := context.Background()
	finished := time.Now().UTC().Add(24 * time.Hour)

	res := &models.VerificationResult{
		ArtifactID: "artifact-" + uuid.NewString()[:8],
		Kind:       models.BackupFull,
		Integrity:  false,
		Restorable: true,
		Encryption: true,
		Errors:     []string{"integrity: checksum mismatch"},
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}

	if err := s.SaveVerification(ctx, res); err != nil {
		t.Fatal(err)
	}

	got, err := s.LatestVerification(ctx)
	if err != nil || got == nil {
		t.Fatalf("LatestVerification = %v, %v", got, err)
	}

	if got.ArtifactID != res.ArtifactID || got.Integrity || !got.Restorable {
		t.Errorf("got %+v", got)
	}
}

func TestAuditStore_Run(t *testing.T) {
	s := store.NewAuditStore(testBase(t))
	ctx := context.Background()
	runID := uuid.New()
	started := time.Now().UTC()

	if err := s.StartRun(ctx, runID, started, false); err != nil {
		t.Fatal(err)
	}

	b := idmap.NewBuilder()
	for _, sid := range []string{"u1", "u2", "u3"} {
		if _, err := b.Add("users-"+runID.String()[:8], sid); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.SaveIDMap(ctx, runID, b.Build().Entries())
	if err != nil || n != 3 {
		t.Fatalf("SaveIDMap = %d, %v", n, err)
	}

	err = s.FinishRun(ctx, store.RunSummary{
		ID: runID, StartedAt: started, FinishedAt: time.Now().UTC(),
		Status: "success", Attempted: 3, Succeeded: 3, Report: []byte(`{"run_id":"x"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		base := testBase(t)
		base.Pool.Exec(context.Background(), "DELETE FROM migration_runs WHERE id = $1", runID) //nolint:errcheck // test cleanup.
	})
}

func TestInvariantStore_Check(t *testing.T) {
	base := testBase(t)
	s := store.NewInvariantStore(base)
	ctx := context.Background()
	table := createTable(t, base)

	if _, err := base.Pool.Exec(ctx, "INSERT INTO "+table+" (id, email, amount) VALUES ($1, ' ', -1), ($2, 'a@example.com', 5)", uuid.New(), uuid.New()); err != nil {
		t.Fatal(err)
	}

	got := s.Check(ctx, []store.Invariant{
		store.BlankRequired(table, "email"),
		store.NegativeAmount(table, "amount"),
		store.NegativeAmount("no_such_table_xyz", "amount"),
	})

	if got[0].Violations != 1 || got[1].Violations != 1 {
		t.Errorf("violations = %+v", got)
	}

	if got[2].Error == "" {
		t.Error("expected error for missing table")
	}
}

func TestScratchStore_ReplayAndDrop(t *testing.T) {
	base := testBase(t)
	s := store.NewScratchStore(base)
	ctx := context.Background()

	scratch, err := s.Create(ctx, "docmigrate_test")
	if err != nil {
		t.Skipf("cannot create databases with this role: %v", err)
	}

	dump := `-- dump
SET statement_timeout = 0;
SELECT pg_catalog.set_config('search_path', '', false);
\restrict abc
CREATE TABLE public.users (id uuid PRIMARY KEY, name text);
COPY public.users (id, name) FROM stdin;
6f1c2a9e-7b4d-5e38-9a41-0c3d8e5f2b17	Ada
6f1c2a9e-7b4d-5e38-9a41-0c3d8e5f2b18	\N
\.
CREATE INDEX users_name ON public.users (name);
`

	replayErr := scratch.Replay(ctx, strings.NewReader(dump))

	var n int64
	if replayErr == nil {
		n, replayErr = scratch.CountRows(ctx, "users")
	}

	if err := s.Drop(ctx, scratch); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	if replayErr != nil {
		t.Fatalf("replay: %v", replayErr)
	}

	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	var exists bool
	if err := base.Pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", scratch.Name).Scan(&exists); err != nil {
		t.Fatal(err)
	}

	if exists {
		t.Error("scratch database still exists after Drop")
	}
}
