// Package reconcile compara los trades reconstruidos con los cierres que
// reporta el venue.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

// DefaultWindow es la distancia máxima entre el cierre del trade y el del venue.
const DefaultWindow = 15 * time.Minute

// Store es lo que lee una conciliación.
type Store interface {
	ListTrades(ctx context.Context, filter ports.TradeFilter) ([]domain.Trade, error)
	ListClosedPnL(ctx context.Context, venue, account string) ([]domain.ClosedPnL, error)
}

// Match empareja cada trade, en orden de cierre, con el registro restante del
// mismo símbolo y lado, mismo tamaño de salida y cierre más cercano dentro de
// window. Cada registro se usa una sola vez.
func Match(trades []domain.Trade, records []domain.ClosedPnL, window time.Duration) (matches []domain.TradeMatch, unmatched []domain.ClosedPnL) {
	if window <= 0 {
		window = DefaultWindow
	}
	ordered := make([]domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ExitTime.Before(ordered[j].ExitTime) })

	remaining := make([]domain.ClosedPnL, len(records))
	copy(remaining, records)

	matches = make([]domain.TradeMatch, 0, len(ordered))
	for _, t := range ordered {
		m := domain.TradeMatch{Trade: t}
		if i := best(t, remaining, window); i >= 0 {
			rec := remaining[i]
			m.Record = &rec
			remaining = append(remaining[:i], remaining[i+1:]...)
		}
		matches = append(matches, m)
	}
	return matches, remaining
}

func best(t domain.Trade, records []domain.ClosedPnL, window time.Duration) int {
	idx := -1
	var score time.Duration
	for i, r := range records {
		if r.Symbol != t.Symbol || r.Side != t.Side {
			continue
		}
		if math.Abs(r.Size-t.ExitSize) > domain.Epsilon {
			continue
		}
		d := t.ExitTime.Sub(r.Timestamp)
		if d < 0 {
			d = -d
		}
		if d > window {
			continue
		}
		if idx < 0 || d < score {
			idx, score = i, d
		}
	}
	return idx
}

// Service concilia cuentas contra el store.
type Service struct {
	store  Store
	window time.Duration
}

// NewService crea un Service. window <= 0 usa DefaultWindow.
func NewService(store Store, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{store: store, window: window}
}

// Reconcile empareja los trades guardados de una cuenta con sus cierres del venue.
func (s *Service) Reconcile(ctx context.Context, venue, account string) (domain.Reconciliation, error) {
	rec := domain.Reconciliation{Venue: venue, Account: account}

	trades, err := s.store.ListTrades(ctx, ports.TradeFilter{Venue: venue, Account: account})
	if err != nil {
		return rec, fmt.Errorf("reconcile.Reconcile: list trades: %w", err)
	}
	records, err := s.store.ListClosedPnL(ctx, venue, account)
	if err != nil {
		return rec, fmt.Errorf("reconcile.Reconcile: list closed pnl: %w", err)
	}
	if len(records) == 0 {
		slog.Warn("no venue closes stored, sync closed_pnl first", "venue", venue, "account", account)
	}

	rec.Matches, rec.Unmatched = Match(trades, records, s.window)
	slog.Info("reconciled",
		"venue", venue,
		"account", account,
		"trades", len(trades),
		"matched", rec.Matched(),
		"venue_only", len(rec.Unmatched),
	)
	return rec, nil
}
