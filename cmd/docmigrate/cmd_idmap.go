package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/persistorai/docmigrate/internal/idmap"
)

func newIDMapCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idmap",
		Short: "Inspect identifier mapping artifacts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <idmap.sqlite> <destination-id>",
		Short: "Print the collection and source id behind a destination id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid destination id %q: %w", args[1], err)
			}

			key, err := idmap.ResolveSQLite(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}

			if a.format == "json" {
				return formatJSON(cmd.OutOrStdout(), key)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key.Collection, key.SourceID)

			return nil
		},
	})

	return cmd
}
