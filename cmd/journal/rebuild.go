package main

import (
	"github.com/spf13/cobra"

	"github.com/slurrr/trade-journal/internal/application/ledger"
)

func newRebuildCmd(opts *rootOptions) *cobra.Command {
	var venue, account string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Reconstruct trades, funding attribution and excursions from stored fills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			svc := ledger.NewService(store, priceSources(opts.cfg), ledgerConfig(opts.cfg))

			var reports []ledger.Report
			if venue != "" && account != "" {
				rep, err := svc.Rebuild(ctx, venue, account)
				if err != nil {
					return err
				}
				reports = []ledger.Report{rep}
			} else {
				reports, err = svc.RebuildAll(ctx)
				if err != nil {
					return err
				}
			}
			opts.console().PrintRebuild(reports)
			return nil
		},
	}
	cmd.Flags().StringVar(&venue, "venue", "", "rebuild a single venue (requires --account)")
	cmd.Flags().StringVar(&account, "account", "", "rebuild a single account (requires --venue)")
	cmd.MarkFlagsRequiredTogether("venue", "account")
	return cmd
}
