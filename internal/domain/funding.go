package domain

import (
	"strings"
	"time"
)

// PositionSide es la dirección de una posición, y por tanto de un trade.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// ParsePositionSide normaliza "long", "L", "BUY"... Devuelve "" si no la reconoce.
func ParsePositionSide(v string) PositionSide {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LONG", "L", "BUY", "B":
		return Long
	case "SHORT", "S", "SELL", "A":
		return Short
	}
	return ""
}

// PositionSideFromSigned mapea un tamaño con signo ("szi" de Hyperliquid) a lado.
func PositionSideFromSigned(size float64) PositionSide {
	if size < 0 {
		return Short
	}
	return Long
}

// Valid indica si p es Long o Short.
func (p PositionSide) Valid() bool {
	return p == Long || p == Short
}

// Opens devuelve el lado de ejecución que abre esta dirección.
func (p PositionSide) Opens() Side {
	if p == Short {
		return SideSell
	}
	return SideBuy
}

// FundingEvent es un pago (positivo) o cargo (negativo) de funding.
type FundingEvent struct {
	ID           string
	VenueID      string // tx id o hash del venue
	Venue        string
	Account      string
	Symbol       string
	Side         PositionSide
	Rate         float64
	PositionSize float64
	Price        float64
	Value        float64
	Timestamp    time.Time
	TradeID      string // lo fija la atribución, "" sin atribuir
}

// Key devuelve la clave estable del evento.
func (e FundingEvent) Key() string {
	if e.VenueID != "" {
		return ScopedID(e.Venue, e.Account, e.VenueID)
	}
	return HashID("funding",
		e.Venue, e.Account, e.Symbol, string(e.Side), e.Timestamp,
		e.PositionSize, e.Value, e.Rate, e.Price,
	)
}

// Liquidation es un cierre forzado reportado por el venue.
type Liquidation struct {
	ID           string
	VenueID      string
	Venue        string
	Account      string
	Symbol       string
	Side         PositionSide
	Size         float64
	EntryPrice   float64
	ExitPrice    float64
	TotalPnL     float64
	Fee          float64
	LiquidateFee float64
	ExitType     string
	Timestamp    time.Time
}

// Key devuelve la clave estable de la liquidación.
func (l Liquidation) Key() string {
	if l.VenueID != "" {
		return ScopedID(l.Venue, l.Account, l.VenueID)
	}
	return HashID("liquidation",
		l.Venue, l.Account, l.Symbol, string(l.Side), l.Size, l.ExitPrice, l.Timestamp,
	)
}
