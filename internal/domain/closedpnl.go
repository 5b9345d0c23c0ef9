package domain

import (
	"math"
	"time"
)

// ClosedPnL es un cierre de posición según el venue (historical-pnl de ApeX).
// Sirve para conciliar los trades reconstruidos.
type ClosedPnL struct {
	ID        string
	VenueID   string
	Venue     string
	Account   string
	Symbol    string
	Side      PositionSide
	Size      float64
	ExitPrice float64
	TotalPnL  float64
	Fee       float64
	ExitType  string
	Timestamp time.Time // cierre
}

// Key devuelve la clave estable del cierre.
func (c ClosedPnL) Key() string {
	if c.VenueID != "" {
		return ScopedID(c.Venue, c.Account, c.VenueID)
	}
	return HashID("closed_pnl",
		c.Venue, c.Account, c.Symbol, string(c.Side), c.Size, c.ExitPrice, c.Timestamp,
	)
}

// ValidateClosedPnL exige símbolo, lado, size>0, PnL finito y timestamp.
func ValidateClosedPnL(c ClosedPnL) error {
	reject := func(reason string) error { return &ValidationError{Kind: KindClosedPnL, Reason: reason} }
	switch {
	case c.Symbol == "":
		return reject("missing symbol")
	case !c.Side.Valid():
		return reject("missing or unknown side")
	case !finite(c.Size) || c.Size <= 0:
		return reject("size must be > 0")
	case !finite(c.TotalPnL):
		return reject("pnl is not a number")
	case c.Timestamp.IsZero():
		return reject("missing timestamp")
	}
	return nil
}

// TradeMatch empareja un trade reconstruido con el cierre del venue.
// Record es nil si no hubo candidato dentro de la ventana.
type TradeMatch struct {
	Trade  Trade
	Record *ClosedPnL
}

// Delta es el PnL neto reconstruido menos el del venue.
func (m TradeMatch) Delta() float64 {
	if m.Record == nil {
		return math.NaN()
	}
	return m.Trade.NetPnL() - m.Record.TotalPnL
}

// Reconciliation resume la conciliación de una cuenta.
type Reconciliation struct {
	Venue     string
	Account   string
	Matches   []TradeMatch
	Unmatched []ClosedPnL // cierres del venue sin trade
}

// Matched cuenta los trades con cierre emparejado.
func (r Reconciliation) Matched() int {
	n := 0
	for _, m := range r.Matches {
		if m.Record != nil {
			n++
		}
	}
	return n
}
