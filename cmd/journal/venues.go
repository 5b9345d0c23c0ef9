package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/slurrr/trade-journal/config"
	"github.com/slurrr/trade-journal/internal/adapters/apex"
	"github.com/slurrr/trade-journal/internal/adapters/binance"
	"github.com/slurrr/trade-journal/internal/adapters/hyperliquid"
	"github.com/slurrr/trade-journal/internal/application/syncer"
	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

// taskStore es lo que necesitan las tareas de sync.
type taskStore interface {
	ports.RecordStorage
	ports.SnapshotStorage
}

// buildTasks crea una tarea por (cuenta, dataset) habilitado. Las cuentas mal
// configuradas se saltan con un error acumulado; el resto sincroniza igual.
func buildTasks(cfg *config.Config, store taskStore) ([]syncer.Task, error) {
	var (
		tasks []syncer.Task
		errs  []error
	)
	// Hyperliquid no tiene credenciales: un cliente sirve a todas las cuentas.
	var hl *hyperliquid.Client

	for _, acc := range cfg.Accounts {
		var srcs []any
		switch acc.Venue {
		case hyperliquid.Name:
			if hl == nil {
				hl = hyperliquid.NewClient(cfg.Venues.HyperliquidBase, cfg.Timeout(), cfg.Sync.RatePerVenue[hyperliquid.Name])
			}
			srcs = []any{hl}
		case apex.Name:
			c, err := apex.NewClient(cfg.Venues.ApexBase, apex.Credentials{
				APIKey:     acc.APIKey,
				Secret:     acc.APISecret,
				Passphrase: acc.Passphrase,
			}, cfg.Timeout(), cfg.Sync.RatePerVenue[apex.Name])
			if err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", acc.Name, err))
				continue
			}
			srcs = []any{c}
		case binance.Name:
			c, err := binance.New(binance.Config{
				APIKey:    acc.APIKey,
				SecretKey: acc.APISecret,
				BaseURL:   cfg.Venues.BinanceBase,
				Timeout:   cfg.Timeout(),
				Symbols:   acc.Symbols,
				// Cero usa el arranque de USDⓈ-M.
				HistoryStart: acc.HistoryStart,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", acc.Name, err))
				continue
			}
			// Un stream de fills por símbolo, cada uno con su checkpoint.
			srcs = []any{c}
			for _, sym := range c.Symbols() {
				srcs = append(srcs, c.Fills(sym))
			}
			if len(c.Symbols()) == 0 && acc.WantsDataset(string(domain.EndpointFills)) {
				slog.Warn("binance account has no symbols, fills skipped", "account", acc.Name)
			}
		default:
			errs = append(errs, fmt.Errorf("account %s: unknown venue %q", acc.Name, acc.Venue))
			continue
		}

		tasks = append(tasks, accountTasks(acc, srcs, store)...)
	}
	return tasks, errors.Join(errs...)
}

// accountTasks crea las tareas que soportan las fuentes de la cuenta. Pedir un
// dataset explícito que ninguna expone se loguea como domain.ErrUnsupported.
func accountTasks(acc config.AccountConfig, srcs []any, store taskStore) []syncer.Task {
	var tasks []syncer.Task

	add := func(ep domain.Endpoint, build func(src any) (syncer.Task, bool)) {
		if !acc.WantsDataset(string(ep)) {
			return
		}
		found := false
		for _, src := range srcs {
			if task, ok := build(src); ok {
				tasks = append(tasks, task)
				found = true
			}
		}
		if !found && len(acc.Datasets) > 0 {
			slog.Warn("dataset skipped", "account", acc.Name, "dataset", ep, "err", domain.ErrUnsupported)
		}
	}

	add(domain.EndpointFills, func(src any) (syncer.Task, bool) {
		s, ok := src.(ports.FillSource)
		if !ok {
			return nil, false
		}
		return syncer.FillsTask(s, store, acc.Account), true
	})
	add(domain.EndpointFunding, func(src any) (syncer.Task, bool) {
		s, ok := src.(ports.FundingSource)
		if !ok {
			return nil, false
		}
		return syncer.FundingTask(s, store, acc.Account), true
	})
	add(domain.EndpointLiquidations, func(src any) (syncer.Task, bool) {
		s, ok := src.(ports.LiquidationSource)
		if !ok {
			return nil, false
		}
		return syncer.LiquidationsTask(s, store, acc.Account), true
	})
	add(domain.EndpointClosedPnL, func(src any) (syncer.Task, bool) {
		s, ok := src.(ports.ClosedPnLSource)
		if !ok {
			return nil, false
		}
		return syncer.ClosedPnLTask(s, store, acc.Account), true
	})
	add(domain.EndpointSnapshots, func(src any) (syncer.Task, bool) {
		s, ok := src.(ports.SnapshotSource)
		if !ok {
			return nil, false
		}
		return syncer.SnapshotTask(s, store, acc.Account), true
	})
	return tasks
}

// priceSources devuelve los venues que sirven velas. ApeX no las expone y se
// valora vía pricing.source.
func priceSources(cfg *config.Config) map[string]ports.PriceBarSource {
	sources := map[string]ports.PriceBarSource{
		hyperliquid.Name: hyperliquid.NewClient(cfg.Venues.HyperliquidBase, cfg.Timeout(), cfg.Sync.RatePerVenue[hyperliquid.Name]),
	}
	// Las klines son públicas: no hacen falta claves.
	bn, err := binance.New(binance.Config{BaseURL: cfg.Venues.BinanceBase, Timeout: cfg.Timeout()})
	if err != nil {
		slog.Warn("binance price source disabled", "err", err)
		return sources
	}
	sources[binance.Name] = bn
	return sources
}
