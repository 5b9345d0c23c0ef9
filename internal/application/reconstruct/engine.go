// Package reconstruct pliega un flujo ordenado de fills en trades cerrados.
package reconstruct

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slurrr/trade-journal/internal/domain"
)

var epsilon = decimal.NewFromFloat(domain.Epsilon)

// Config controla el motor.
type Config struct {
	// OpenHorizon marca como violación de invariante un resto abierto más
	// viejo que esto. Cero desactiva el chequeo.
	OpenHorizon time.Duration
}

// Result es la salida de un flujo (venue, account, symbol).
type Result struct {
	Trades   []domain.Trade
	Open     *domain.OpenPosition // como mucho una
	Excluded int                  // fills descartados por estado no exitoso o size cero
}

// Engine no guarda estado entre llamadas. Reconstruct es función pura de su entrada.
type Engine struct {
	cfg Config
}

// New crea un Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Reconstruct aplica el neteo sobre los fills de un único (venue, account,
// symbol). El orden de entrada da igual: se ordenan por timestamp y luego por
// un desempate estable.
//
// El error envuelve domain.ErrInvariantViolation si el flujo mezcla símbolos,
// si un trade cerrado no netea a cero o si el resto abierto supera
// OpenHorizon. Los trades cerrados antes de la violación se devuelven igual.
func (e *Engine) Reconstruct(fills []domain.Fill, asOf time.Time) (Result, error) {
	var res Result
	ordered := make([]domain.Fill, 0, len(fills))
	for _, f := range fills {
		if !f.Succeeded() || f.Size <= 0 {
			res.Excluded++
			continue
		}
		if f.ID == "" {
			f.ID = f.Key()
		}
		ordered = append(ordered, f)
	}
	if len(ordered) == 0 {
		return res, nil
	}
	sort.SliceStable(ordered, func(i, j int) bool { return fillLess(ordered[i], ordered[j]) })

	first := ordered[0]
	var pos *position
	for _, f := range ordered {
		if f.Venue != first.Venue || f.Account != first.Account || f.Symbol != first.Symbol {
			return res, fmt.Errorf("reconstruct.Reconstruct: %w: fill %s belongs to %s/%s/%s, stream is %s/%s/%s",
				domain.ErrInvariantViolation, f.ID, f.Venue, f.Account, f.Symbol, first.Venue, first.Account, first.Symbol)
		}

		trades, next, err := apply(pos, f)
		if err != nil {
			return res, err
		}
		res.Trades = append(res.Trades, trades...)
		pos = next
	}

	if pos != nil {
		res.Open = pos.snapshot()
		if e.cfg.OpenHorizon > 0 && asOf.Sub(pos.entryTime) > e.cfg.OpenHorizon {
			return res, fmt.Errorf("reconstruct.Reconstruct: %w: %s %s position open since %s exceeds horizon %s",
				domain.ErrInvariantViolation, pos.symbol, pos.side, pos.entryTime.Format(time.RFC3339), e.cfg.OpenHorizon)
		}
	}
	return res, nil
}

// apply suma un fill a la posición en curso y devuelve los trades que cierra.
func apply(pos *position, f domain.Fill) ([]domain.Trade, *position, error) {
	qty := decimal.NewFromFloat(f.Size)
	fee := decimal.NewFromFloat(f.Fee)

	if pos == nil {
		return nil, open(f, qty, fee), nil
	}

	if pos.side.Opens() == f.Side {
		pos.addLeg(f, domain.LegEntry, qty, fee)
		return nil, pos, nil
	}

	held := pos.size.Abs()
	if qty.Sub(held).LessThan(epsilon) {
		// Reducción o cierre total. Un exceso menor que epsilon se deja en plano.
		pos.addLeg(f, domain.LegExit, qty, fee)
		if pos.size.Abs().GreaterThanOrEqual(epsilon) {
			return nil, pos, nil
		}
		t, err := pos.finalize(f.Timestamp)
		if err != nil {
			return nil, nil, err
		}
		return []domain.Trade{t}, nil, nil
	}

	// Giro: las primeras |posición| unidades cierran y el resto abre el lado
	// contrario al mismo instante y precio. La fee se reparte por tamaño.
	closeFee := fee.Mul(held).Div(qty)
	pos.addLeg(f, domain.LegExit, held, closeFee)
	closed, err := pos.finalize(f.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	rest := qty.Sub(held)
	slog.Debug("position reversal",
		"symbol", f.Symbol,
		"fill", f.ID,
		"closed", held.String(),
		"reopened", rest.String(),
	)
	return []domain.Trade{closed}, open(f, rest, fee.Sub(closeFee)), nil
}

// fillLess ordena por timestamp, luego por id numérico del venue si ambos lo
// tienen y por último por clave.
func fillLess(a, b domain.Fill) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	ai, aerr := strconv.ParseInt(a.VenueID, 10, 64)
	bi, berr := strconv.ParseInt(b.VenueID, 10, 64)
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a.ID < b.ID
}
