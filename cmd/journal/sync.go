package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/slurrr/trade-journal/config"
	"github.com/slurrr/trade-journal/internal/application/ledger"
	"github.com/slurrr/trade-journal/internal/application/syncer"
	"github.com/slurrr/trade-journal/internal/domain"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch fills, funding, liquidations, closed PnL and snapshots for every configured account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := opts.cfg

			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, buildErr := buildTasks(cfg, store)
			if buildErr != nil {
				slog.Warn("some accounts were skipped", "err", buildErr)
			}

			coord := syncer.NewCoordinator(store, syncer.NewLimiters(cfg.Sync.RatePerVenue, 0), coordinatorConfig(cfg))
			pool := syncer.NewPool(coord, cfg.Sync.Workers)

			start := time.Now()
			reports := pool.RunAll(ctx, tasks)

			runs := make([]domain.SyncRun, 0, len(reports))
			failed := 0
			for _, r := range reports {
				runs = append(runs, r.Run)
				if r.Err != nil {
					failed++
				}
			}
			if err := opts.console().NotifySyncRuns(ctx, runs); err != nil {
				slog.Warn("notifier error", "err", err)
			}
			slog.Info("sync finished", "tasks", len(tasks), "failed", failed, "elapsed", time.Since(start).Round(time.Millisecond))

			if rebuild && ctx.Err() == nil {
				svc := ledger.NewService(store, priceSources(cfg), ledgerConfig(cfg))
				reps, err := svc.RebuildAll(ctx)
				if err != nil {
					return err
				}
				opts.console().PrintRebuild(reps)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d sync tasks failed", failed, len(tasks))
			}
			return buildErr
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "rebuild the trade ledger after syncing")
	return cmd
}

func coordinatorConfig(cfg *config.Config) syncer.Config {
	return syncer.Config{
		Overlap:   cfg.Overlap(),
		MaxPages:  cfg.Sync.MaxPages,
		PageLimit: cfg.Sync.PageLimit,
		Retry: syncer.RetryPolicy{
			Attempts:  cfg.Sync.RetryAttempts,
			BaseDelay: time.Duration(cfg.Sync.RetryBaseMS) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.Sync.RetryMaxMS) * time.Millisecond,
		},
		StallLimit: cfg.Sync.StallLimit,
	}
}

func ledgerConfig(cfg *config.Config) ledger.Config {
	return ledger.Config{
		OpenHorizon: cfg.OpenHorizon(),
		PriceVenue:  cfg.Pricing.Source,
	}
}
