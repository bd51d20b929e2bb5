package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/marketing"
)

func newSeedCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the built-in default triggers that are missing",
		Long:  "Insert the built-in default triggers that are missing. Seeded triggers start inactive.",
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

			created, err := marketing.SeedDefaults(cmd.Context(), repository.NewTriggerRepository(mgr.DB()), rt.log)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d default triggers\n", created)
			return err
		},
	}
}
