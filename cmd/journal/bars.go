package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/slurrr/trade-journal/internal/application/ledger"
	"github.com/slurrr/trade-journal/internal/domain"
)

func newBarsCmd(opts *rootOptions) *cobra.Command {
	var (
		venue, from, to, timeframe string
		offline                    bool
	)
	cmd := &cobra.Command{
		Use:   "bars <symbol>",
		Short: "Show cached 1m bars for a symbol, fetching gaps, resampled to --timeframe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := domain.ParseTimeframe(timeframe)
			if err != nil {
				return fmt.Errorf("--timeframe: %w", err)
			}
			start, err := parseTimeFlag(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := parseTimeFlag(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if end.IsZero() {
				end = time.Now().UTC()
			}
			if start.IsZero() {
				start = end.Add(-24 * time.Hour)
			}
			if !start.Before(end) {
				return fmt.Errorf("--from must be before --to")
			}

			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			prices := priceSources(opts.cfg)
			if offline {
				prices = nil
			}
			svc := ledger.NewService(store, prices, ledgerConfig(opts.cfg))
			bars, err := svc.EnsureBars(cmd.Context(), venue, args[0], start, end)
			if err != nil {
				return err
			}
			if tf != domain.CanonicalTimeframe {
				bars = domain.Resample(bars, tf)
			}
			opts.console().PrintBars(bars)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&venue, "venue", "hyperliquid", "price venue")
	f.StringVar(&from, "from", "", "range start (default: 24h before --to)")
	f.StringVar(&to, "to", "", "range end (default: now)")
	f.StringVar(&timeframe, "timeframe", "1m", "output timeframe (1m, 5m, 15m, 1h, 4h, 1d)")
	f.BoolVar(&offline, "offline", false, "only read the local cache")
	return cmd
}
