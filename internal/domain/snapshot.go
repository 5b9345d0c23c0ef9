package domain

import (
	"math"
	"time"
)

// PositionSnapshot es una posición abierta tal como la reporta el venue.
type PositionSnapshot struct {
	Symbol     string
	Side       PositionSide
	Size       float64 // absoluto
	EntryPrice float64
	Unrealized float64
}

// AccountSnapshot es el estado de cuenta en un instante: balances y
// posiciones abiertas según el venue.
type AccountSnapshot struct {
	Venue            string
	Account          string
	Timestamp        time.Time
	TotalEquity      float64
	AvailableBalance float64
	MarginBalance    float64
	Positions        []PositionSnapshot
}

// Position busca la posición del símbolo. ok es false si el venue está plano.
func (s AccountSnapshot) Position(symbol string) (PositionSnapshot, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol && p.Size > Epsilon {
			return p, true
		}
	}
	return PositionSnapshot{}, false
}

// ValidateSnapshot exige timestamp, balances finitos y posiciones con símbolo y lado.
func ValidateSnapshot(s AccountSnapshot) error {
	reject := func(reason string) error { return &ValidationError{Kind: KindSnapshot, Reason: reason} }
	switch {
	case s.Timestamp.IsZero():
		return reject("missing timestamp")
	case !finite(s.TotalEquity) || !finite(s.AvailableBalance) || !finite(s.MarginBalance):
		return reject("non-numeric balances")
	}
	for _, p := range s.Positions {
		switch {
		case p.Symbol == "":
			return reject("position missing symbol")
		case !p.Side.Valid():
			return reject("position missing or unknown side")
		case !finite(p.Size) || p.Size < 0:
			return reject("position size must be >= 0")
		}
	}
	return nil
}

// PositionCheck compara la posición abierta reconstruida con la del venue.
type PositionCheck struct {
	Venue         string
	Account       string
	Symbol        string
	SnapshotAt    time.Time
	Reconstructed float64 // con signo, + long
	Reported      float64 // con signo, + long
}

// Delta es reconstruida menos reportada.
func (c PositionCheck) Delta() float64 {
	return c.Reconstructed - c.Reported
}

// Matches indica si ambas posiciones coinciden dentro de tol.
func (c PositionCheck) Matches(tol float64) bool {
	return math.Abs(c.Delta()) <= tol
}

// Signed devuelve el tamaño con signo de una posición.
func Signed(side PositionSide, size float64) float64 {
	if side == Short {
		return -size
	}
	return size
}
