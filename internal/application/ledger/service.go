// Package ledger reconstruye el ledger derivado a partir de fills, funding y
// velas guardados.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/slurrr/trade-journal/internal/application/excursion"
	"github.com/slurrr/trade-journal/internal/application/funding"
	"github.com/slurrr/trade-journal/internal/application/reconstruct"
	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

// Store es lo que un rebuild lee y escribe.
type Store interface {
	ports.LedgerReader
	ports.TradeStorage
	UpsertPriceBars(ctx context.Context, bars []domain.PriceBar) (int, error)
	LatestSnapshot(ctx context.Context, venue, account string) (domain.AccountSnapshot, error)
}

// PositionTolerance es la diferencia de tamaño que se acepta contra el snapshot.
const PositionTolerance = 1e-6

// Config controla un rebuild.
type Config struct {
	OpenHorizon time.Duration
	// PriceVenue asigna a cada venue el venue cuyas velas lo valoran.
	// Los no mapeados usan las suyas.
	PriceVenue map[string]string
}

// Report resume el rebuild de un (venue, account).
type Report struct {
	Venue            string
	Account          string
	Symbols          int
	Trades           int
	Excluded         int
	Open             []domain.OpenPosition
	Flagged          map[string]error // symbol -> invariant violation
	CoverageGaps     int
	UnmatchedFunding int
	PendingFunding   int
	// PositionChecks compara lo abierto con el último snapshot del venue.
	// Vacío si la cuenta no tiene snapshots.
	PositionChecks []domain.PositionCheck
}

// Mismatches devuelve los checks que no cuadran.
func (r Report) Mismatches() []domain.PositionCheck {
	var out []domain.PositionCheck
	for _, c := range r.PositionChecks {
		if !c.Matches(PositionTolerance) {
			out = append(out, c)
		}
	}
	return out
}

// Service ejecuta rebuilds.
type Service struct {
	store  Store
	engine *reconstruct.Engine
	prices map[string]ports.PriceBarSource
	cfg    Config
	now    func() time.Time
}

// NewService crea un Service. prices va por nombre de venue; con un mapa nil
// las excursiones solo usan velas ya guardadas.
func NewService(store Store, prices map[string]ports.PriceBarSource, cfg Config) *Service {
	return &Service{
		store:  store,
		engine: reconstruct.New(reconstruct.Config{OpenHorizon: cfg.OpenHorizon}),
		prices: prices,
		cfg:    cfg,
		now:    time.Now,
	}
}

// RebuildAll reconstruye cada cuenta con fills. Una cuenta que falla se loguea
// y se salta.
func (s *Service) RebuildAll(ctx context.Context) ([]Report, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger.RebuildAll: %w", err)
	}

	reports := make([]Report, 0, len(accounts))
	for _, acc := range accounts {
		rep, err := s.Rebuild(ctx, acc.Venue, acc.Account)
		if err != nil {
			slog.Error("rebuild failed", "venue", acc.Venue, "account", acc.Account, "err", err)
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Rebuild recalcula todos los trades de una cuenta. Un símbolo marcado por
// violar un invariante persiste igual los trades que cerró bien y no bloquea
// al resto.
func (s *Service) Rebuild(ctx context.Context, venue, account string) (Report, error) {
	rep := Report{Venue: venue, Account: account, Flagged: make(map[string]error)}
	asOf := s.now().UTC()

	symbols, err := s.store.ListSymbols(ctx, venue, account)
	if err != nil {
		return rep, fmt.Errorf("ledger.Rebuild: list symbols: %w", err)
	}
	rep.Symbols = len(symbols)

	bySymbol := make(map[string][]domain.Trade, len(symbols))
	lastFill := make(map[string]time.Time, len(symbols))
	var all []domain.Trade
	for _, sym := range symbols {
		fills, err := s.store.ListFills(ctx, venue, account, sym)
		if err != nil {
			return rep, fmt.Errorf("ledger.Rebuild: list fills %s: %w", sym, err)
		}
		if n := len(fills); n > 0 {
			lastFill[sym] = fills[n-1].Timestamp
		}
		res, err := s.engine.Reconstruct(fills, asOf)
		if err != nil {
			if !errors.Is(err, domain.ErrInvariantViolation) {
				return rep, fmt.Errorf("ledger.Rebuild: reconstruct %s: %w", sym, err)
			}
			rep.Flagged[sym] = err
			slog.Error("symbol flagged for review", "venue", venue, "account", account, "symbol", sym, "err", err)
		}
		rep.Excluded += res.Excluded
		if res.Open != nil {
			rep.Open = append(rep.Open, *res.Open)
		}
		bySymbol[sym] = nil
		all = append(all, res.Trades...)
	}

	events, err := s.store.ListFunding(ctx, venue, account)
	if err != nil {
		return rep, fmt.Errorf("ledger.Rebuild: list funding: %w", err)
	}
	attr := funding.Attribute(all, events, rep.Open)
	rep.UnmatchedFunding = len(attr.Unmatched)
	rep.PendingFunding = len(attr.Pending)
	if len(attr.Unmatched) > 0 {
		slog.Warn("funding events outside any trade",
			"venue", venue, "account", account,
			"count", len(attr.Unmatched), "value", funding.Total(attr.Unmatched))
	}

	for _, t := range attr.Trades {
		ex, err := s.excursion(ctx, t)
		switch {
		case err == nil:
			t.Excursion = &ex
		case errors.Is(err, domain.ErrPriceCoverageGap):
			rep.CoverageGaps++
			slog.Warn("excursions skipped", "trade", t.ID, "symbol", t.Symbol, "err", err)
		default:
			slog.Warn("excursions failed", "trade", t.ID, "symbol", t.Symbol, "err", err)
		}
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	for _, sym := range symbols {
		if err := s.store.ReplaceTrades(ctx, venue, account, sym, bySymbol[sym]); err != nil {
			return rep, fmt.Errorf("ledger.Rebuild: store %s: %w", sym, err)
		}
		rep.Trades += len(bySymbol[sym])
	}
	if err := s.store.SetFundingAttribution(ctx, venue, account, attr.ByFundingID); err != nil {
		return rep, fmt.Errorf("ledger.Rebuild: %w", err)
	}

	checks, err := s.checkPositions(ctx, venue, account, rep.Open, lastFill)
	if err != nil {
		return rep, fmt.Errorf("ledger.Rebuild: %w", err)
	}
	rep.PositionChecks = checks
	for _, c := range rep.Mismatches() {
		slog.Warn("open position differs from venue snapshot",
			"venue", venue, "account", account, "symbol", c.Symbol,
			"reconstructed", c.Reconstructed, "reported", c.Reported, "snapshot_at", c.SnapshotAt)
	}

	slog.Info("ledger rebuilt",
		"venue", venue,
		"account", account,
		"symbols", rep.Symbols,
		"trades", rep.Trades,
		"open", len(rep.Open),
		"flagged", len(rep.Flagged),
		"coverage_gaps", rep.CoverageGaps,
		"position_mismatches", len(rep.Mismatches()),
	)
	return rep, nil
}

// checkPositions cruza las posiciones abiertas con el último snapshot. Un
// símbolo con fills posteriores al snapshot no se compara.
func (s *Service) checkPositions(ctx context.Context, venue, account string, open []domain.OpenPosition, lastFill map[string]time.Time) ([]domain.PositionCheck, error) {
	snap, err := s.store.LatestSnapshot(ctx, venue, account)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}

	reconstructed := make(map[string]float64, len(open))
	for _, p := range open {
		reconstructed[p.Symbol] += domain.Signed(p.Side, p.Size)
	}
	reported := make(map[string]float64, len(snap.Positions))
	for _, p := range snap.Positions {
		reported[p.Symbol] += domain.Signed(p.Side, p.Size)
	}

	symbols := make([]string, 0, len(reconstructed)+len(reported))
	for sym := range reconstructed {
		symbols = append(symbols, sym)
	}
	for sym := range reported {
		if _, ok := reconstructed[sym]; !ok {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	var checks []domain.PositionCheck
	for _, sym := range symbols {
		if last, ok := lastFill[sym]; ok && last.After(snap.Timestamp) {
			slog.Debug("snapshot older than fills, skipped", "venue", venue, "symbol", sym, "snapshot_at", snap.Timestamp)
			continue
		}
		checks = append(checks, domain.PositionCheck{
			Venue:         venue,
			Account:       account,
			Symbol:        sym,
			SnapshotAt:    snap.Timestamp,
			Reconstructed: reconstructed[sym],
			Reported:      reported[sym],
		})
	}
	return checks, nil
}

func (s *Service) excursion(ctx context.Context, t domain.Trade) (domain.Excursion, error) {
	step := domain.CanonicalTimeframe.Duration()
	from := t.EntryTime.UTC().Truncate(step)
	to := t.ExitTime.UTC().Truncate(step)
	if from.Equal(to) {
		return excursion.Compute(t, nil)
	}
	bars, err := s.EnsureBars(ctx, s.priceVenue(t.Venue), t.Symbol, from, to)
	if err != nil {
		return domain.Excursion{}, err
	}
	return excursion.Compute(t, bars)
}

func (s *Service) priceVenue(venue string) string {
	if pv, ok := s.cfg.PriceVenue[venue]; ok && pv != "" {
		return pv
	}
	return venue
}

// EnsureBars devuelve las velas canónicas de [from, to]. Las que faltan se
// descargan y cachean si el venue tiene fuente de precios.
func (s *Service) EnsureBars(ctx context.Context, venue, symbol string, from, to time.Time) ([]domain.PriceBar, error) {
	tf := domain.CanonicalTimeframe
	bars, err := s.store.PriceBars(ctx, venue, symbol, tf, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger.EnsureBars: %w", err)
	}
	missing := domain.MissingBars(bars, tf, from, to)
	src, ok := s.prices[venue]
	if len(missing) == 0 || !ok {
		return bars, nil
	}

	fetched, err := src.FetchPriceBars(ctx, symbol, tf, missing[0], missing[len(missing)-1].Add(tf.Duration()))
	if err != nil {
		return nil, fmt.Errorf("ledger.EnsureBars: fetch %s %s: %w", venue, symbol, err)
	}
	var rejects domain.Rejections
	valid := make([]domain.PriceBar, 0, len(fetched))
	for _, b := range fetched {
		b.Venue, b.Symbol, b.Timeframe = venue, symbol, tf
		if err := domain.ValidatePriceBar(b); err != nil {
			rejects.Add(err)
			continue
		}
		valid = append(valid, b)
	}
	if rejects.Total > 0 {
		slog.Warn("price bars rejected", "venue", venue, "symbol", symbol, "count", rejects.Total, "reasons", rejects.Reasons())
	}
	if _, err := s.store.UpsertPriceBars(ctx, valid); err != nil {
		return nil, fmt.Errorf("ledger.EnsureBars: store: %w", err)
	}
	return s.store.PriceBars(ctx, venue, symbol, tf, from, to)
}
