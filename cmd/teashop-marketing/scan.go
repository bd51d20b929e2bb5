package main

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/teashop/storefront/internal/marketing"
)

func newScanCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:       "scan <churn|birthday|scheduled>",
		Short:     "Run one scheduler scan now and print its report",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"churn", "birthday", "scheduled", "scheduled_time"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := marketing.ParseScanKind(args[0])
			if err != nil {
				return err
			}
			rt, err := load(cmd)
			if err != nil {
				return err
			}

			mgr, err := rt.openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			eng, err := rt.buildEngine(cmd.Context(), mgr, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			defer marketing.SetGlobalDispatcher(nil)

			report, scanErr := eng.Scheduler.RunScan(cmd.Context(), kind)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return scanErr
		},
	}
}
