// Package excursion calcula MAE, MFE y ETD de un trade cerrado con velas de 1m.
package excursion

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
)

// Compute recorre las velas del trade en orden, aplica los legs cuando ocurren
// y sigue el PnL total de la posición (realizado más no realizado) en cada
// muestra:
//
//   - entrada y salida en la misma vela: solo precios de los legs
//   - vela de entrada: precios de los legs y luego el cierre de la vela
//   - velas intermedias: high y low, antes y después de los legs de la vela
//   - vela de salida: solo precios de los legs
//
// Las velas deben ser canónicas de 1m. Si falta una en [entry, exit] devuelve
// domain.ErrPriceCoverageGap. Nunca se calcula con datos parciales.
func Compute(trade domain.Trade, bars []domain.PriceBar) (domain.Excursion, error) {
	if len(trade.Legs) == 0 {
		return domain.Excursion{}, fmt.Errorf("excursion.Compute: trade %s has no legs", trade.ID)
	}

	step := domain.CanonicalTimeframe.Duration()
	entryBar := trade.EntryTime.UTC().Truncate(step)
	exitBar := trade.ExitTime.UTC().Truncate(step)

	legs := make([]domain.TradeLeg, len(trade.Legs))
	copy(legs, trade.Legs)
	sort.SliceStable(legs, func(i, j int) bool { return legs[i].Timestamp.Before(legs[j].Timestamp) })

	var window []domain.PriceBar
	if !entryBar.Equal(exitBar) {
		if missing := domain.MissingBars(bars, domain.CanonicalTimeframe, entryBar, exitBar); len(missing) > 0 {
			return domain.Excursion{}, fmt.Errorf("excursion.Compute: trade %s: %w: %d bars missing from %s",
				trade.ID, domain.ErrPriceCoverageGap, len(missing), missing[0].Format(time.RFC3339))
		}
		window = barsBetween(bars, entryBar, exitBar)
	}

	p := newPath()
	next := 0
	applyUntil := func(end time.Time) int {
		n := 0
		for next < len(legs) && legs[next].Timestamp.Before(end) {
			p.apply(legs[next])
			p.sample(legs[next].Price)
			next++
			n++
		}
		return n
	}

	for _, b := range window {
		start := b.Start.UTC().Truncate(step)
		end := start.Add(step)
		switch {
		case start.Equal(entryBar):
			applyUntil(end)
			p.sample(b.Close)
		case start.Equal(exitBar):
			applyUntil(end)
		default:
			p.sample(b.High)
			p.sample(b.Low)
			if applyUntil(end) > 0 {
				p.sample(b.High)
				p.sample(b.Low)
			}
		}
	}
	// Trades dentro de una vela y legs posteriores a la última.
	for next < len(legs) {
		p.apply(legs[next])
		p.sample(legs[next].Price)
		next++
	}

	return domain.Excursion{
		MAE: p.worst,
		MFE: p.best,
		ETD: p.best - trade.RealizedPnL,
	}, nil
}

// path es la caja y la posición del trade entre muestras.
type path struct {
	cash  float64
	pos   float64
	best  float64
	worst float64
}

func newPath() *path {
	return &path{best: math.Inf(-1), worst: math.Inf(1)}
}

func (p *path) apply(l domain.TradeLeg) {
	notional := l.Price * l.Size
	if l.Side == domain.SideBuy {
		p.pos += l.Size
		p.cash -= notional
		return
	}
	p.pos -= l.Size
	p.cash += notional
}

// sample registra el PnL total si el mercado cotizara a price.
func (p *path) sample(price float64) {
	pnl := p.cash + p.pos*price
	p.best = max(p.best, pnl)
	p.worst = min(p.worst, pnl)
}

func barsBetween(bars []domain.PriceBar, from, to time.Time) []domain.PriceBar {
	step := domain.CanonicalTimeframe.Duration()
	seen := make(map[int64]bool, len(bars))
	var out []domain.PriceBar
	for _, b := range bars {
		start := b.Start.UTC().Truncate(step)
		if start.Before(from) || start.After(to) || seen[start.UnixNano()] {
			continue
		}
		seen[start.UnixNano()] = true
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
