package domain

import (
	"strings"
	"time"
)

// Side es la dirección de una ejecución.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normaliza las grafías de cada venue ("B", "buy", "LONG", "A", "s"...).
// Devuelve "" si no la reconoce y la validación rechaza el registro.
func ParseSide(v string) Side {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "B", "BUY", "BID", "LONG":
		return SideBuy
	case "A", "S", "SELL", "ASK", "SHORT":
		return SideSell
	}
	return ""
}

// Sign: +1 compra, -1 venta.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Valid indica si s es BUY o SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Fill es una cantidad ejecutada a un precio, normalizada en el adapter.
type Fill struct {
	ID          string // clave persistida, ver Fill.Key
	VenueID     string // id del venue, puede venir vacío
	OrderID     string
	Venue       string
	Account     string
	Symbol      string
	Side        Side
	Price       float64
	Size        float64
	Fee         float64
	FeeCurrency string
	Timestamp   time.Time
	Status      string // "" si el venue solo reporta ejecuciones
}

// Key devuelve la clave estable: venue:account:venueID, o un hash del contenido
// si el venue no dio id.
func (f Fill) Key() string {
	if f.VenueID != "" {
		return ScopedID(f.Venue, f.Account, f.VenueID)
	}
	return HashID("fill",
		f.Venue, f.Account, f.Symbol, string(f.Side),
		f.Price, f.Size, f.Fee, f.FeeCurrency, f.OrderID, f.Timestamp,
	)
}

// SignedSize: +Size en compras, -Size en ventas.
func (f Fill) SignedSize() float64 {
	return f.Side.Sign() * f.Size
}

// executedStatuses son los estados que cuentan para la posición. Comparación
// exacta: "UNFILLED" o "UNSUCCESSFUL" contienen las palabras pero no ejecutaron.
var executedStatuses = map[string]struct{}{
	"SUCCESS":          {},
	"SUCCESSFUL":       {},
	"SUCCEEDED":        {},
	"FILLED":           {},
	"PARTIALLY_FILLED": {},
}

// Succeeded indica si el fill cuenta para la posición.
// Sin estado se asume ejecutado.
func (f Fill) Succeeded() bool {
	status := strings.ToUpper(strings.TrimSpace(f.Status))
	if status == "" {
		return true
	}
	_, ok := executedStatuses[status]
	return ok
}
