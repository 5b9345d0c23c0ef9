package domain

import "time"

// Epsilon es el residuo de posición que se trata como plano.
const Epsilon = 1e-9

// TradeStatus: los trades persistidos siempre están cerrados, los restos abiertos no se guardan.
type TradeStatus string

const (
	TradeClosed TradeStatus = "CLOSED"
	TradeOpen   TradeStatus = "OPEN"
)

// LegRole indica si la pata sumó o redujo la posición.
type LegRole string

const (
	LegEntry LegRole = "ENTRY"
	LegExit  LegRole = "EXIT"
)

// TradeLeg es la parte de un fill que pertenece a un trade. Un fill de reversión
// genera dos patas, una por trade, que apuntan al mismo fill.
type TradeLeg struct {
	FillID    string
	Role      LegRole
	Side      Side
	Price     float64
	Size      float64 // tamaño prorrateado, siempre positivo
	Fee       float64 // fee prorrateado
	Timestamp time.Time
}

// SignedSize es la contribución de la pata a la posición.
func (l TradeLeg) SignedSize() float64 {
	return l.Side.Sign() * l.Size
}

// Excursion guarda métricas intratrade por precio. Nil significa desconocido.
type Excursion struct {
	MAE float64 // peor PnL de la posición
	MFE float64 // mejor PnL de la posición
	ETD float64 // MFE - PnL realizado por precio
}

// Trade es un ciclo completo de posición: plano -> abierto -> plano.
type Trade struct {
	ID          string
	Venue       string
	Account     string
	Symbol      string
	Side        PositionSide
	Status      TradeStatus
	EntryTime   time.Time
	ExitTime    time.Time
	EntryPrice  float64 // ponderado por tamaño
	ExitPrice   float64 // ponderado por tamaño
	EntrySize   float64
	ExitSize    float64
	MaxSize     float64
	RealizedPnL float64 // solo precio: nocional vendido - nocional comprado
	Fees        float64
	Funding     float64
	Excursion   *Excursion
	Legs        []TradeLeg
}

// NetPnL = PnL realizado - fees + funding.
func (t Trade) NetPnL() float64 {
	return t.RealizedPnL - t.Fees + t.Funding
}

// Duration es el tiempo que la posición estuvo abierta.
func (t Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// Contains indica si ts cae dentro del trade, extremos incluidos.
func (t Trade) Contains(ts time.Time) bool {
	return !ts.Before(t.EntryTime) && !ts.After(t.ExitTime)
}

// OpenPosition es el resto de un flujo de fills que no volvió a plano.
// Se reporta, nunca se persiste como trade.
type OpenPosition struct {
	Venue     string
	Account   string
	Symbol    string
	Side      PositionSide
	EntryTime time.Time
	Size      float64 // tamaño abierto absoluto
	AvgEntry  float64
	Fees      float64
	Legs      []TradeLeg
}
