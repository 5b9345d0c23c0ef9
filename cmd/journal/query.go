package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

func newTradesCmd(opts *rootOptions) *cobra.Command {
	var (
		filter   ports.TradeFilter
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List reconstructed trades",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if filter.From, err = parseTimeFlag(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if filter.To, err = parseTimeFlag(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			trades, err := store.ListTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			opts.console().PrintTrades(trades)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.Venue, "venue", "", "filter by venue")
	f.StringVar(&filter.Account, "account", "", "filter by account")
	f.StringVar(&filter.Symbol, "symbol", "", "filter by symbol (BTC-USDC)")
	f.StringVar(&from, "from", "", "exit time lower bound (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&to, "to", "", "exit time upper bound, exclusive")
	f.IntVar(&filter.Limit, "limit", 0, "max trades, 0 = all")
	return cmd
}

func newTradeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trade <id>",
		Short: "Show one trade with its legs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTrade(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("trade %q not found", args[0])
			}
			if err != nil {
				return err
			}
			opts.console().PrintTrade(t)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint and last run per sync key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			statuses, err := store.ListSyncStatus(cmd.Context())
			if err != nil {
				return err
			}
			opts.console().PrintSyncStatus(statuses)
			return nil
		},
	}
}

func newLiquidationsCmd(opts *rootOptions) *cobra.Command {
	var venue, account string
	cmd := &cobra.Command{
		Use:   "liquidations",
		Short: "List stored forced closes",
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

			var all []domain.Liquidation
			for _, ref := range refs {
				events, err := store.ListLiquidations(ctx, ref.Venue, ref.Account)
				if err != nil {
					return err
				}
				all = append(all, events...)
			}
			opts.console().PrintLiquidations(all)
			return nil
		},
	}
	cmd.Flags().StringVar(&venue, "venue", "", "filter by venue")
	cmd.Flags().StringVar(&account, "account", "", "account id (with --venue)")
	return cmd
}

// parseTimeFlag acepta RFC3339 o una fecha YYYY-MM-DD en UTC. Vacío = sin límite.
func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", s)
	}
	return t.UTC(), nil
}
