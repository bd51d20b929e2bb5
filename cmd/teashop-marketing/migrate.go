package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the marketing tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := load(cmd)
			if err != nil {
				return err
			}
			mgr, err := rt.openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", mgr.Driver())
			return err
		},
	}
}
