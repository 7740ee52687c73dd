package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/persistorai/docmigrate/internal/models"
)

func newVerifyBackupCmd(a *app) *cobra.Command {
	var (
		artifact    string
		latest      bool
		databaseURL string
	)

	cmd := &cobra.Command{
		Use:   "verify-backup",
		Short: "Verify a backup artifact: integrity, restorability, consistency and encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup("", "", databaseURL); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := a.backupService(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			var results []*models.VerificationResult

			if latest {
				results, err = deps.service.VerifyLatest(ctx)
			} else {
				var res *models.VerificationResult
				if res, err = deps.service.VerifyArtifact(ctx, artifact); err == nil {
					results = append(results, res)
				}
			}

			a.pushMetrics(ctx, "docmigrate_backup_verification")

			if err != nil && len(results) == 0 {
				return err
			}

			if a.format == "json" {
				if err := formatJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				printVerifications(cmd.OutOrStdout(), results)
			}

			if err != nil {
				return failure("verification incomplete: %v", err)
			}

			for _, r := range results {
				if !r.Passed() {
					return failure("backup %s failed: %s", r.ArtifactID, joinChecks(r.FailedChecks()))
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&artifact, "artifact", "", "backup artifact id from the metadata ledger")
	cmd.Flags().BoolVar(&latest, "latest", false, "verify the latest full backup and the latest incremental after it")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres holding the backup ledger (env: DATABASE_URL)")
	cmd.MarkFlagsMutuallyExclusive("artifact", "latest")
	cmd.MarkFlagsOneRequired("artifact", "latest")

	return cmd
}

func printVerifications(w io.Writer, results []*models.VerificationResult) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.ArtifactID,
			string(r.Kind),
			r.Status(),
			passFail(r.Integrity),
			passFail(r.Restorable),
			passFail(r.DataConsistency),
			passFail(r.Encryption),
		})
	}

	formatTable(w, []string{"ARTIFACT", "KIND", "STATUS", "INTEGRITY", "RESTORE", "CONSISTENCY", "ENCRYPTION"}, rows)

	for _, r := range results {
		for _, e := range r.Errors {
			fmt.Fprintf(w, "%s: %s\n", r.ArtifactID, e)
		}
	}
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}

	return "FAIL"
}

func joinChecks(checks []models.VerificationCheck) string {
	parts := make([]string, len(checks))
	for i, c := range checks {
		parts[i] = string(c)
	}

	return strings.Join(parts, ", ")
}
