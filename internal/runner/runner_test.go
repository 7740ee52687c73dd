package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/config"
	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/report"
	"github.com/persistorai/docmigrate/internal/rules"
	"github.com/persistorai/docmigrate/internal/runner"
)

const (
	usersJSON = `[
  {"_id": "u1", "fullName": "Ada", "emailAddress": "ada@example.com", "legacyId": 1},
  {"_id": "u2", "fullName": "Bob", "emailAddress": "bob@example.com", "legacyId": 2},
  {"_id": "u3", "fullName": "Cy", "emailAddress": "cy@example.com", "legacyId": 3}
]`
	accountsJSON = `[
  {"_id": "a1", "userId": "u1", "accountNumber": "ACC-1", "balance": "12.50"}
]`
	transactionsJSON = `[
  {"_id": "t1", "accountId": "a1", "userId": "u1", "amount": "110.00", "txnType": "sale"},
  {"_id": "t2", "accountId": "a1", "userId": "u1", "amount": "5.00"},
  {"_id": "t3", "accountId": "a1", "userId": "u1", "amount": "abc"}
]`
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}

func writeExports(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	return dir
}

func newRunner(t *testing.T, dataDir string, dest runner.Destination, audit runner.Audit, dryRun bool) (*runner.Runner, string) {
	t.Helper()

	set, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	opts := runner.Options{
		DataDir:        dataDir,
		OutputDir:      out,
		DryRun:         dryRun,
		Concurrency:    2,
		DanglingPolicy: config.DanglingNull,
	}

	return runner.New(set, dest, audit, opts, testLogger()), out
}

func result(t *testing.T, rep *report.Report, collection string) *models.ImportResult {
	t.Helper()

	for _, r := range rep.Results {
		if r.Collection == collection {
			return r
		}
	}

	t.Fatalf("no result for %s", collection)

	return nil
}

func TestRun_LoadsReconcilesAndVerifies(t *testing.T) {
	data := writeExports(t, map[string]string{
		"users":        usersJSON,
		"accounts":     accountsJSON,
		"transactions": transactionsJSON,
	})
	dest := newFakeDest()
	audit := &fakeAudit{}
	r, out := newRunner(t, data, dest, audit, false)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	users := result(t, rep, "users")
	if users.Succeeded != 3 || users.Failed != 0 {
		t.Errorf("users: succeeded=%d failed=%d, want 3/0", users.Succeeded, users.Failed)
	}

	txns := result(t, rep, "transactions")
	if txns.Attempted != 3 || txns.Succeeded != 2 || txns.Failed != 1 {
		t.Errorf("transactions: attempted=%d succeeded=%d failed=%d, want 3/2/1", txns.Attempted, txns.Succeeded, txns.Failed)
	}

	if len(txns.Failures) != 1 || txns.Failures[0].SourceID != "t3" {
		t.Errorf("expected t3 to fail, got %+v", txns.Failures)
	}

	if got := dest.resets["users_legacy_number_seq"]; got < 3 {
		t.Errorf("users counter = %d, want >= 3", got)
	}

	if len(rep.Verification) != 3 {
		t.Fatalf("expected 3 verifications, got %d", len(rep.Verification))
	}

	for _, v := range rep.Verification {
		if !v.Match {
			t.Errorf("%s: expected match, got %+v", v.Table, v)
		}
	}

	if rep.Success() {
		t.Error("run with a failed record must not report success")
	}

	if !audit.started || audit.mappings != 7 {
		t.Errorf("audit: started=%v mappings=%d", audit.started, audit.mappings)
	}

	if audit.finished == nil || audit.finished.Status != "completed_with_failures" {
		t.Errorf("unexpected run summary %+v", audit.finished)
	}

	for _, name := range []string{report.JSONFile, report.MarkdownFile, runner.IDMapJSONFile, runner.IDMapSQLiteFile} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestRun_MissingPrerequisiteSkipsDependents(t *testing.T) {
	data := writeExports(t, map[string]string{
		"accounts":     accountsJSON,
		"transactions": transactionsJSON,
	})
	dest := newFakeDest()
	r, _ := newRunner(t, data, dest, nil, false)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.Results) != 0 {
		t.Fatalf("expected nothing loaded, got %d results", len(rep.Results))
	}

	reasons := map[string]string{}
	for _, s := range rep.Skipped {
		reasons[s.Collection] = s.Reason
	}

	if !strings.Contains(reasons["transactions"], models.ErrDependencyNotSatisfied.Error()) {
		t.Errorf("transactions skip reason = %q", reasons["transactions"])
	}

	if rep.Totals.SkippedRecords == 0 {
		t.Errorf("skipped records missing from totals: %+v", rep.Totals)
	}

	if rep.Success() {
		t.Error("run that dropped every dependent record reported success")
	}

	if len(dest.rows) != 0 {
		t.Errorf("nothing should be written, got %v", dest.rows)
	}
}

func TestRun_DryRunWritesArtifactsOnly(t *testing.T) {
	data := writeExports(t, map[string]string{"users": usersJSON})
	r, out := newRunner(t, data, nil, nil, true)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !rep.DryRun || result(t, rep, "users").Succeeded != 3 {
		t.Errorf("unexpected dry run report %+v", rep.Totals)
	}

	for _, v := range rep.Verification {
		if v.Error == "" {
			t.Errorf("%s: dry run verification should be marked unverified", v.Table)
		}
	}

	for _, p := range []string{
		filepath.Join(report.TransformedDir, "users.json"),
		filepath.Join(report.BulkDir, "users.csv"),
		filepath.Join(report.BulkDir, "users.parquet"),
	} {
		if _, err := os.Stat(filepath.Join(out, p)); err != nil {
			t.Errorf("expected artifact %s: %v", p, err)
		}
	}
}

func TestRun_FatalErrorStillWritesReport(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(d *fakeDest)
		want    error
	}{
		{"missing table", func(d *fakeDest) { d.missing = []string{"accounts"} }, models.ErrMissingTable},
		{"unreachable", func(d *fakeDest) { d.pingErr = errors.New("connection refused") }, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := writeExports(t, map[string]string{"users": usersJSON})
			dest := newFakeDest()
			tc.prepare(dest)
			r, out := newRunner(t, data, dest, nil, false)

			_, err := r.Run(context.Background())
			if err == nil {
				t.Fatal("expected a fatal error")
			}

			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}

			raw, err := os.ReadFile(filepath.Join(out, report.JSONFile))
			if err != nil {
				t.Fatalf("report not written: %v", err)
			}

			var rep report.Report
			if err := json.Unmarshal(raw, &rep); err != nil {
				t.Fatal(err)
			}

			if rep.Error == "" {
				t.Error("report should carry the fatal error")
			}
		})
	}
}
