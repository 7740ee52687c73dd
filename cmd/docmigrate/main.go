// Command docmigrate migrates document-store exports into Postgres and
// verifies Postgres backups.
//
// Exit codes: 0 success; 1 fatal error, failed records, verification
// mismatches or failed backup checks; 2 usage or configuration error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/persistorai/docmigrate/internal/config"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func failure(format string, args ...any) error {
	return &exitError{code: exitFailure, err: fmt.Errorf(format, args...)}
}

func usage(err error) error {
	if err == nil {
		return nil
	}

	return &exitError{code: exitUsage, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	return exitFailure
}

func versionString() string {
	return "docmigrate version " + config.Version
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "docmigrate",
		Short:         "Migrate document-store exports into Postgres and verify backups",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usage(err) })

	root.PersistentFlags().StringVar(&a.rulesPath, "rules", "", "transformation rules YAML (env: RULES_FILE; built-in rules when empty)")
	root.PersistentFlags().StringVar(&a.format, "format", "table", "output format: table|json")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newPlanCmd(a))
	root.AddCommand(newVerifyBackupCmd(a))
	root.AddCommand(newIDMapCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

func main() {
	err := newRootCmd(&app{}).Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	os.Exit(exitCode(err))
}
