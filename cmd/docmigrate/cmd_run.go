package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/persistorai/docmigrate/internal/importer"
	"github.com/persistorai/docmigrate/internal/planner"
	"github.com/persistorai/docmigrate/internal/report"
	"github.com/persistorai/docmigrate/internal/runner"
	"github.com/persistorai/docmigrate/internal/store"
)

var errDeclined = errors.New("aborted: confirmation declined")

type runFlags struct {
	dataDir       string
	outputDir     string
	databaseURL   string
	dryRun        bool
	skipPreflight bool
	yes           bool
}

func (f *runFlags) register(cmd *cobra.Command, withWrites bool) {
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "directory holding <collection>.json exports (env: DATA_DIR)")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "directory for reports and artifacts (env: OUTPUT_DIR)")
	cmd.Flags().StringVar(&f.databaseURL, "database-url", "", "destination Postgres connection string (env: DATABASE_URL)")

	if withWrites {
		cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "transform and plan only; write artifacts but never touch the destination")
		cmd.Flags().BoolVar(&f.skipPreflight, "skip-preflight", false, "continue when target tables are missing, skipping the affected collections")
		cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "do not ask for confirmation")
	}
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate every exported collection into the destination",
		Long: "Reads <data-dir>/<collection>.json for every collection in the rules, maps ids,\n" +
			"transforms, loads in dependency order, resets counters and verifies row counts.\n" +
			"A report is written to the output directory whatever the outcome.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(f.dataDir, f.outputDir, f.databaseURL); err != nil {
				return err
			}

			return a.run(cmd, f)
		},
	}
	f.register(cmd, true)

	return cmd
}

func (a *app) runnerOptions(f runFlags) runner.Options {
	return runner.Options{
		DataDir:        a.cfg.DataDir,
		OutputDir:      a.cfg.OutputDir,
		DryRun:         f.dryRun,
		SkipPreflight:  f.skipPreflight,
		Concurrency:    a.cfg.LoadConcurrency,
		DanglingPolicy: a.cfg.DanglingPolicy,
		Planner:        planner.Options{HighVolumeThreshold: a.cfg.HighVolumeThreshold},
		Importer: importer.Options{
			BatchSize:           a.cfg.BatchSize,
			HighVolumeBatchSize: a.cfg.HighVolumeBatchSize,
			RelaxForeignKeys:    a.cfg.RelaxForeignKeys,
			MaxBatchesPerSecond: a.cfg.MaxBatchesPerSecond,
		},
	}
}

func (a *app) run(cmd *cobra.Command, f runFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	set, err := a.rules()
	if err != nil {
		return err
	}

	opts := a.runnerOptions(f)

	var (
		dest  runner.Destination
		audit runner.Audit
	)

	if !f.dryRun {
		if err := a.cfg.RequireDatabase(); err != nil {
			return usage(err)
		}

		opts.Destination = redactURL(a.cfg.DatabaseURL.Value())

		if !f.yes {
			prompt := fmt.Sprintf("This will upsert into %s from %s.", opts.Destination, opts.DataDir)
			if err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), prompt); err != nil {
				return err
			}
		}

		pool, err := a.openPool(ctx, a.cfg.DatabaseURL.Value(), true)
		if err != nil {
			return err
		}
		defer pool.Close()

		base := store.Base{Pool: pool, Log: a.log}
		dest = store.NewDestinationStore(base)
		audit = store.NewAuditStore(base)
	}

	rep, runErr := runner.New(set, dest, audit, opts, a.log).Run(ctx)
	a.pushMetrics(ctx, "docmigrate_run")

	printRunSummary(cmd.OutOrStdout(), rep, opts.OutputDir)

	if runErr != nil {
		return runErr
	}

	if !rep.Success() {
		return failure("run completed with %d failed records, %d skipped records or unverified tables",
			rep.Totals.Failed, rep.Totals.SkippedRecords)
	}

	return nil
}

// confirm asks the operator before a destructive operation. Anything but
// y or yes declines, which exits as a usage error since nothing was attempted.
func confirm(in io.Reader, out io.Writer, prompt string) error {
	fmt.Fprintf(out, "%s Continue? [y/N]: ", prompt)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return usage(errDeclined)
	}
}

func printRunSummary(w io.Writer, rep *report.Report, outputDir string) {
	if rep == nil {
		return
	}

	status := "SUCCESS"
	switch {
	case rep.Error != "":
		status = "FAILED"
	case !rep.Success():
		status = "COMPLETED WITH FAILURES"
	}

	if rep.DryRun {
		status += " (dry run)"
	}

	t := rep.Totals
	fmt.Fprintf(w, "%s: %s records attempted, %s succeeded, %s failed (%s%%) in %s\n",
		status,
		humanize.Comma(int64(t.Attempted)),
		humanize.Comma(int64(t.Succeeded)),
		humanize.Comma(int64(t.Failed)),
		humanize.FormatFloat("#,###.##", t.SuccessRate),
		rep.Duration.Round(time.Millisecond),
	)

	for _, s := range rep.Skipped {
		fmt.Fprintf(w, "  skipped %s (%d records): %s\n", s.Collection, s.Records, s.Reason)
	}

	for _, v := range rep.Verification {
		if !v.Match {
			fmt.Fprintf(w, "  %s: expected %d rows, found %d (%s)\n", v.Table, v.Expected, v.Actual, v.Direction())
		}
	}

	if rep.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", rep.Error)
	}

	fmt.Fprintf(w, "Report: %s/%s\n", strings.TrimRight(outputDir, "/"), report.MarkdownFile)
}

// prepare is shared with the plan command.
func (a *app) prepare(ctx context.Context, f runFlags) (*runner.Prepared, error) {
	set, err := a.rules()
	if err != nil {
		return nil, err
	}

	opts := a.runnerOptions(f)
	opts.DryRun = true

	return runner.New(set, nil, nil, opts, a.log).Prepare(ctx)
}
