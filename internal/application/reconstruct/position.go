package reconstruct

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slurrr/trade-journal/internal/domain"
)

// position acumula el trade en curso. Las cantidades son decimales exactos y
// los mismos fills producen siempre los mismos trades.
type position struct {
	venue     string
	account   string
	symbol    string
	side      domain.PositionSide
	entryTime time.Time

	size    decimal.Decimal // tamaño con signo
	maxSize decimal.Decimal

	entryQty      decimal.Decimal
	entryNotional decimal.Decimal
	exitQty       decimal.Decimal
	exitNotional  decimal.Decimal
	buyNotional   decimal.Decimal
	sellNotional  decimal.Decimal
	fees          decimal.Decimal

	legs []domain.TradeLeg
}

func open(f domain.Fill, qty, fee decimal.Decimal) *position {
	side := domain.Long
	if f.Side == domain.SideSell {
		side = domain.Short
	}
	p := &position{
		venue:     f.Venue,
		account:   f.Account,
		symbol:    f.Symbol,
		side:      side,
		entryTime: f.Timestamp,
	}
	p.addLeg(f, domain.LegEntry, qty, fee)
	return p
}

func (p *position) addLeg(f domain.Fill, role domain.LegRole, qty, fee decimal.Decimal) {
	price := decimal.NewFromFloat(f.Price)
	notional := price.Mul(qty)

	if f.Side == domain.SideBuy {
		p.size = p.size.Add(qty)
		p.buyNotional = p.buyNotional.Add(notional)
	} else {
		p.size = p.size.Sub(qty)
		p.sellNotional = p.sellNotional.Add(notional)
	}

	if role == domain.LegEntry {
		p.entryQty = p.entryQty.Add(qty)
		p.entryNotional = p.entryNotional.Add(notional)
		if abs := p.size.Abs(); abs.GreaterThan(p.maxSize) {
			p.maxSize = abs
		}
	} else {
		p.exitQty = p.exitQty.Add(qty)
		p.exitNotional = p.exitNotional.Add(notional)
	}
	p.fees = p.fees.Add(fee)

	p.legs = append(p.legs, domain.TradeLeg{
		FillID:    f.ID,
		Role:      role,
		Side:      f.Side,
		Price:     f.Price,
		Size:      qty.InexactFloat64(),
		Fee:       fee.InexactFloat64(),
		Timestamp: f.Timestamp,
	})
}

// finalize cierra el ciclo. El PnL realizado es nocional vendido menos nocional
// comprado sobre todos los legs, sin depender del lado.
func (p *position) finalize(exit time.Time) (domain.Trade, error) {
	var net decimal.Decimal
	for _, l := range p.legs {
		net = net.Add(decimal.NewFromFloat(l.SignedSize()))
	}
	if net.Abs().GreaterThanOrEqual(epsilon) {
		return domain.Trade{}, fmt.Errorf("reconstruct.finalize: %w: %s trade opened %s nets to %s",
			domain.ErrInvariantViolation, p.symbol, p.entryTime.Format(time.RFC3339), net.String())
	}

	t := domain.Trade{
		Venue:       p.venue,
		Account:     p.account,
		Symbol:      p.symbol,
		Side:        p.side,
		Status:      domain.TradeClosed,
		EntryTime:   p.entryTime,
		ExitTime:    exit,
		EntryPrice:  weighted(p.entryNotional, p.entryQty),
		ExitPrice:   weighted(p.exitNotional, p.exitQty),
		EntrySize:   p.entryQty.InexactFloat64(),
		ExitSize:    p.exitQty.InexactFloat64(),
		MaxSize:     p.maxSize.InexactFloat64(),
		RealizedPnL: p.sellNotional.Sub(p.buyNotional).InexactFloat64(),
		Fees:        p.fees.InexactFloat64(),
		Legs:        p.legs,
	}
	t.ID = domain.TradeID(t)
	for i := range t.Legs {
		t.Legs[i].Timestamp = t.Legs[i].Timestamp.UTC()
	}
	return t, nil
}

func (p *position) snapshot() *domain.OpenPosition {
	legs := make([]domain.TradeLeg, len(p.legs))
	copy(legs, p.legs)
	return &domain.OpenPosition{
		Venue:     p.venue,
		Account:   p.account,
		Symbol:    p.symbol,
		Side:      p.side,
		EntryTime: p.entryTime,
		Size:      p.size.Abs().InexactFloat64(),
		AvgEntry:  weighted(p.entryNotional, p.entryQty),
		Fees:      p.fees.InexactFloat64(),
		Legs:      legs,
	}
}

func weighted(notional, qty decimal.Decimal) float64 {
	if qty.IsZero() {
		return 0
	}
	return notional.Div(qty).InexactFloat64()
}
