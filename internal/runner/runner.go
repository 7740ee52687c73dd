// Package runner drives one migration run through every stage: identifier
// mapping, transformation, planning, batch loading, sequence reconciliation,
// verification and reporting. A report is written for every run, including
// runs that stop on a fatal error.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/persistorai/docmigrate/internal/domain"
	"github.com/persistorai/docmigrate/internal/idmap"
	"github.com/persistorai/docmigrate/internal/importer"
	"github.com/persistorai/docmigrate/internal/metrics"
	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/planner"
	"github.com/persistorai/docmigrate/internal/reconcile"
	"github.com/persistorai/docmigrate/internal/report"
	"github.com/persistorai/docmigrate/internal/rules"
	"github.com/persistorai/docmigrate/internal/source"
	"github.com/persistorai/docmigrate/internal/store"
	"github.com/persistorai/docmigrate/internal/transform"
	"github.com/persistorai/docmigrate/internal/verify"
)

// Artifact file names inside the output directory.
const (
	IDMapJSONFile   = "idmap.json"
	IDMapSQLiteFile = "idmap.sqlite"
)

// Destination is the destination store as the runner uses it.
type Destination interface {
	domain.LoadBeginner
	reconcile.Sequencer
	verify.RowCounter
	Ping(ctx context.Context) error
	MissingTables(ctx context.Context, tables []string) ([]string, error)
}

// Audit records runs and the identifier mapping in bookkeeping tables.
type Audit interface {
	StartRun(ctx context.Context, id uuid.UUID, started time.Time, dryRun bool) error
	SaveIDMap(ctx context.Context, runID uuid.UUID, entries []idmap.Entry) (int, error)
	FinishRun(ctx context.Context, run store.RunSummary) error
}

// Options configures a run.
type Options struct {
	DataDir        string
	OutputDir      string
	DryRun         bool
	SkipPreflight  bool
	Concurrency    int // collections loaded at once within a dependency level
	DanglingPolicy string
	Planner        planner.Options
	Importer       importer.Options
	Destination    string // redacted, for the report
}

// Runner executes migration runs.
type Runner struct {
	rules *rules.Set
	dest  Destination
	audit Audit
	opts  Options
	log   *logrus.Logger
	now   func() time.Time
}

// New creates a Runner. dest and audit may be nil for dry runs and planning.
func New(set *rules.Set, dest Destination, audit Audit, opts Options, log *logrus.Logger) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	return &Runner{rules: set, dest: dest, audit: audit, opts: opts, log: log, now: time.Now}
}

// Prepared is everything computed before the first write to the destination.
type Prepared struct {
	Mapping     *idmap.Mapping
	Transformed map[string]*transform.Result
	Plan        *models.ImportPlan
}

// Prepare validates the dependency graph, runs pre-flight checks, reads every
// export file, builds the identifier mapping, transforms each collection and
// plans the load. It never writes.
func (r *Runner) Prepare(ctx context.Context) (*Prepared, error) {
	pl := planner.New(r.rules, r.opts.Planner, r.log)
	if err := pl.CheckGraph(); err != nil {
		return nil, err
	}

	missingTables, err := r.preflight(ctx)
	if err != nil {
		return nil, err
	}

	docs := make(map[string][]models.SourceDocument)
	builder := idmap.NewBuilder()

	for _, name := range r.rules.Names() {
		rule, _ := r.rules.Rule(name)

		loaded, err := source.Load(r.opts.DataDir, name, source.Options{IDField: rule.IDField, ExportedAtField: rule.ExportedAtField})
		if errors.Is(err, models.ErrMissingSource) {
			r.log.WithField("collection", name).Warn("source file missing")
			continue
		}

		if err != nil {
			return nil, err
		}

		if err := builder.AddDocuments(loaded); err != nil {
			return nil, err
		}

		docs[name] = loaded
	}

	mapping := builder.Build()
	r.log.WithField("mappings", mapping.Len()).Info("identifier mapping built")

	tr := transform.New(r.rules, mapping, r.opts.DanglingPolicy, r.log)
	transformed := make(map[string]*transform.Result, len(docs))
	datasets := make([]planner.Dataset, 0, len(docs))

	for _, name := range r.rules.Names() {
		d, ok := docs[name]
		if !ok {
			continue
		}

		res, err := tr.Collection(name, d)
		if err != nil {
			return nil, err
		}

		transformed[name] = res

		ds := planner.Dataset{Collection: name, Records: len(d)}
		for i := range d {
			ds.Bytes += int64(d[i].Size)
		}

		if missingTables[res.Table] {
			ds.SkipReason = planner.ReasonMissingTable
		}

		datasets = append(datasets, ds)
	}

	plan, err := pl.Analyze(datasets)
	if err != nil {
		return nil, err
	}

	return &Prepared{Mapping: mapping, Transformed: transformed, Plan: plan}, nil
}

// preflight pings the destination and looks for missing target tables. A
// missing table is fatal unless pre-flight is skipped, in which case the
// affected collections are skipped instead.
func (r *Runner) preflight(ctx context.Context) (map[string]bool, error) {
	if r.dest == nil || r.opts.DryRun {
		return nil, nil
	}

	if !r.opts.SkipPreflight {
		if err := r.dest.Ping(ctx); err != nil {
			return nil, fmt.Errorf("pre-flight: destination unreachable: %w", err)
		}
	}

	tables := make([]string, 0, len(r.rules.Collections))
	for _, name := range r.rules.Names() {
		tables = append(tables, r.rules.Collections[name].Table)
	}

	missing, err := r.dest.MissingTables(ctx, tables)
	if err != nil {
		if r.opts.SkipPreflight {
			r.log.WithError(err).Warn("pre-flight skipped: could not check target tables")
			return nil, nil
		}

		return nil, fmt.Errorf("pre-flight: %w", err)
	}

	if len(missing) > 0 && !r.opts.SkipPreflight {
		return nil, fmt.Errorf("pre-flight: %w: %s", models.ErrMissingTable, strings.Join(missing, ", "))
	}

	out := make(map[string]bool, len(missing))
	for _, t := range missing {
		out[t] = true
	}

	return out, nil
}

// Run executes a full run and returns its report. The report is written to
// the output directory before Run returns, whatever happened. The error is
// the fatal error that stopped the run, if any; record failures and
// verification mismatches are in the report.
func (r *Runner) Run(ctx context.Context) (rep *report.Report, err error) {
	runID := uuid.New()
	started := r.now().UTC()

	rep = report.New(runID.String(), r.opts.DryRun, started)
	rep.DataDir = r.opts.DataDir
	rep.Destination = r.opts.Destination

	log := r.log.WithField("run_id", runID.String())
	log.WithField("dry_run", r.opts.DryRun).Info("migration run started")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
		}

		rep.Finish(r.now().UTC(), err)

		if werr := rep.WriteFiles(r.opts.OutputDir); werr != nil {
			log.WithError(werr).Error("writing run report failed")
			err = errors.Join(err, werr)
		}

		r.finishAudit(ctx, runID, rep, log)

		log.WithFields(logrus.Fields{
			"attempted": rep.Totals.Attempted,
			"succeeded": rep.Totals.Succeeded,
			"failed":    rep.Totals.Failed,
			"success":   rep.Success(),
		}).Info("migration run finished")
	}()

	prep, err := r.Prepare(ctx)
	if err != nil {
		return rep, err
	}

	rep.Plan = prep.Plan
	rep.IDMappings = prep.Mapping.Len()
	rep.Skipped = append(rep.Skipped, prep.Plan.Skipped...)

	if err := r.writeArtifacts(ctx, prep); err != nil {
		return rep, err
	}

	if r.opts.DryRun {
		for _, step := range prep.Plan.Steps {
			rep.AddResult(dryRunResult(step, prep.Transformed[step.Collection]))
		}

		rep.Verification = verify.ExpectedOnly(rep.Results)

		return rep, nil
	}

	if r.dest == nil {
		return rep, errors.New("no destination configured")
	}

	if r.audit != nil {
		if err := r.audit.StartRun(ctx, runID, started, false); err != nil {
			return rep, err
		}

		if _, err := r.audit.SaveIDMap(ctx, runID, prep.Mapping.Entries()); err != nil {
			return rep, err
		}
	}

	results, err := r.load(ctx, prep, rep)
	for _, res := range results {
		rep.AddResult(res)
	}

	if err != nil {
		return rep, err
	}

	tables := make([]string, 0, len(results))
	for _, res := range results {
		tables = append(tables, res.Table)
	}

	seqs, err := reconcile.New(r.dest, r.log).Reconcile(ctx, tables)
	rep.Sequences = seqs

	if err != nil {
		return rep, err
	}

	rep.Verification = verify.New(r.dest, r.log).Verify(ctx, results)

	return rep, nil
}

func (r *Runner) writeArtifacts(ctx context.Context, prep *Prepared) error {
	if err := os.MkdirAll(r.opts.OutputDir, 0o750); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	if err := prep.Mapping.WriteJSON(filepath.Join(r.opts.OutputDir, IDMapJSONFile)); err != nil {
		return err
	}

	if err := prep.Mapping.WriteSQLite(ctx, filepath.Join(r.opts.OutputDir, IDMapSQLiteFile)); err != nil {
		return err
	}

	for _, name := range r.rules.Names() {
		res, ok := prep.Transformed[name]
		if !ok {
			continue
		}

		if err := report.WriteArtifacts(r.opts.OutputDir, name, res.Columns, res.Records); err != nil {
			return fmt.Errorf("writing artifacts for %s: %w", name, err)
		}
	}

	return nil
}

// load runs the plan level by level. Collections within a level share no
// dependency and load concurrently up to the configured limit. Results come
// back in plan order.
func (r *Runner) load(ctx context.Context, prep *Prepared, rep *report.Report) ([]*models.ImportResult, error) {
	im := importer.New(r.dest, r.opts.Importer, r.log)

	var (
		mu   sync.Mutex
		done = make(map[string]*models.ImportResult)
	)

	for _, level := range prep.Plan.Levels() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Concurrency)

		for _, step := range level {
			mu.Lock()
			blocked := unsatisfied(step.Prerequisites, done)
			mu.Unlock()

			tr := prep.Transformed[step.Collection]

			if blocked != "" {
				reason := fmt.Sprintf("%v: %s", models.ErrDependencyNotSatisfied, blocked)
				records := len(tr.Records) + len(tr.Failures)
				rep.Skip(step.Collection, reason, records)
				r.log.WithFields(logrus.Fields{
					"collection": step.Collection,
					"records":    records,
					"reason":     reason,
				}).Warn("collection skipped")

				continue
			}

			g.Go(func() error {
				res, err := im.ImportCollection(gctx, step, tr.Columns, tr.Records)
				withTransformFailures(res, tr)
				metrics.ObserveImport(res)

				mu.Lock()
				done[step.Collection] = res
				mu.Unlock()

				return err
			})
		}

		if err := g.Wait(); err != nil {
			return ordered(prep.Plan, done), err
		}
	}

	return ordered(prep.Plan, done), nil
}

// unsatisfied returns a description of the first prerequisite that was not
// loaded, or "". A prerequisite with no records counts as satisfied.
func unsatisfied(prereqs []string, done map[string]*models.ImportResult) string {
	for _, p := range prereqs {
		res, ok := done[p]
		if !ok {
			return p + " was not loaded"
		}

		if res.Attempted > 0 && res.Succeeded == 0 {
			return p + " loaded no records"
		}
	}

	return ""
}

// withTransformFailures folds validation failures into a load result so
// succeeded + failed == attempted covers every record read.
func withTransformFailures(res *models.ImportResult, tr *transform.Result) {
	for _, f := range tr.Failures {
		res.AddFailure(f)
	}

	res.Dangling = tr.Dangling
}

func dryRunResult(step models.CollectionImportPlan, tr *transform.Result) *models.ImportResult {
	res := &models.ImportResult{
		Collection: step.Collection,
		Table:      step.Table,
		Strategy:   step.Strategy,
		Attempted:  len(tr.Records),
		Succeeded:  len(tr.Records),
	}

	withTransformFailures(res, tr)

	return res
}

func ordered(plan *models.ImportPlan, done map[string]*models.ImportResult) []*models.ImportResult {
	out := make([]*models.ImportResult, 0, len(done))

	for _, s := range plan.Steps {
		if res, ok := done[s.Collection]; ok {
			out = append(out, res)
		}
	}

	return out
}

func (r *Runner) finishAudit(ctx context.Context, runID uuid.UUID, rep *report.Report, log *logrus.Entry) {
	if r.audit == nil || r.opts.DryRun {
		return
	}

	data, err := json.Marshal(rep)
	if err != nil {
		log.WithError(err).Warn("encoding report for run record failed")
	}

	status := "success"
	switch {
	case rep.Error != "":
		status = "failed"
	case !rep.Success():
		status = "completed_with_failures"
	}

	err = r.audit.FinishRun(context.WithoutCancel(ctx), store.RunSummary{
		ID:         runID,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Status:     status,
		Attempted:  rep.Totals.Attempted,
		Succeeded:  rep.Totals.Succeeded,
		Failed:     rep.Totals.Failed,
		Report:     data,
	})
	if err != nil {
		log.WithError(err).Warn("recording run summary failed")
	}
}
