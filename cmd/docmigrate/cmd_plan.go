package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/persistorai/docmigrate/internal/models"
)

func newPlanCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the load order, strategies and estimates without writing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(f.dataDir, "", ""); err != nil {
				return err
			}

			prep, err := a.prepare(cmd.Context(), f)
			if err != nil {
				return err
			}

			if a.format == "json" {
				return formatJSON(cmd.OutOrStdout(), prep.Plan)
			}

			printPlan(cmd.OutOrStdout(), prep.Plan)

			return nil
		},
	}
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "directory holding <collection>.json exports (env: DATA_DIR)")

	return cmd
}

func printPlan(w io.Writer, plan *models.ImportPlan) {
	rows := make([][]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		rows = append(rows, []string{
			strconv.Itoa(s.Level),
			s.Collection,
			s.Table,
			humanize.Comma(int64(s.RecordCount)),
			humanize.Bytes(uint64(max(s.ByteSize, 0))),
			string(s.Strategy),
			s.EstimatedDuration.Round(time.Second).String(),
		})
	}

	formatTable(w, []string{"LEVEL", "COLLECTION", "TABLE", "RECORDS", "SIZE", "STRATEGY", "ESTIMATE"}, rows)

	for _, s := range plan.Skipped {
		fmt.Fprintf(w, "skipped %s (%d records): %s\n", s.Collection, s.Records, s.Reason)
	}

	fmt.Fprintf(w, "estimated total: %s\n", plan.EstimatedTotal.Round(time.Second))
}
