package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/slurrr/trade-journal/internal/application/reconcile"
	"github.com/slurrr/trade-journal/internal/ports"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var venue, account string
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare rebuilt trades with the closed PnL reported by the venue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			refs := []ports.AccountRef{{Venue: venue, Account: account}}
			if venue == "" || account == "" {
				refs = refs[:0]
				for _, a := range opts.cfg.Accounts {
					if venue == "" || a.Venue == venue {
						refs = append(refs, ports.AccountRef{Venue: a.Venue, Account: a.Account})
					}
				}
			}

			svc := reconcile.NewService(store, window)
			for _, ref := range refs {
				rec, err := svc.Reconcile(ctx, ref.Venue, ref.Account)
				if err != nil {
					return err
				}
				opts.console().PrintReconciliation(rec)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&venue, "venue", "", "filter by venue")
	cmd.Flags().StringVar(&account, "account", "", "account id (with --venue)")
	cmd.Flags().DurationVar(&window, "window", reconcile.DefaultWindow, "max distance between trade exit and venue close")
	return cmd
}
