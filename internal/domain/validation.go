package domain

import (
	"errors"
	"math"
	"sort"
)

// Validate aplica las reglas de cada tipo. Nunca corrige: el registro pasa
// intacto o vuelve como *ValidationError.
func Validate(record any) error {
	switch r := record.(type) {
	case Fill:
		return ValidateFill(r)
	case FundingEvent:
		return ValidateFunding(r)
	case Liquidation:
		return ValidateLiquidation(r)
	case PriceBar:
		return ValidatePriceBar(r)
	case AccountSnapshot:
		return ValidateSnapshot(r)
	case ClosedPnL:
		return ValidateClosedPnL(r)
	}
	return &ValidationError{Kind: "unknown", Reason: "unsupported record type"}
}

// ValidateFill exige símbolo, lado, size>0, price>0, fee finito y timestamp.
func ValidateFill(f Fill) error {
	reject := func(reason string) error { return &ValidationError{Kind: KindFill, Reason: reason} }
	switch {
	case f.Symbol == "":
		return reject("missing symbol")
	case !f.Side.Valid():
		return reject("missing or unknown side")
	case !finite(f.Size) || f.Size <= 0:
		return reject("size must be > 0")
	case !finite(f.Price) || f.Price <= 0:
		return reject("price must be > 0")
	case !finite(f.Fee):
		return reject("fee is not a number")
	case f.Timestamp.IsZero():
		return reject("missing timestamp")
	}
	return nil
}

// ValidateFunding exige símbolo, lado, valor finito y timestamp.
func ValidateFunding(e FundingEvent) error {
	reject := func(reason string) error { return &ValidationError{Kind: KindFunding, Reason: reason} }
	switch {
	case e.Symbol == "":
		return reject("missing symbol")
	case !e.Side.Valid():
		return reject("missing or unknown side")
	case !finite(e.Value) || !finite(e.Rate) || !finite(e.PositionSize):
		return reject("non-numeric funding fields")
	case e.Timestamp.IsZero():
		return reject("missing timestamp")
	}
	return nil
}

// ValidateLiquidation exige size>0, símbolo y lado.
func ValidateLiquidation(l Liquidation) error {
	reject := func(reason string) error { return &ValidationError{Kind: KindLiquidation, Reason: reason} }
	switch {
	case l.Symbol == "":
		return reject("missing symbol")
	case !l.Side.Valid():
		return reject("missing or unknown side")
	case !finite(l.Size) || l.Size <= 0:
		return reject("size must be > 0")
	case l.Timestamp.IsZero():
		return reject("missing timestamp")
	}
	return nil
}

// ValidatePriceBar exige un OHLC positivo y coherente.
func ValidatePriceBar(b PriceBar) error {
	reject := func(reason string) error { return &ValidationError{Kind: KindPriceBar, Reason: reason} }
	switch {
	case b.Symbol == "":
		return reject("missing symbol")
	case b.Start.IsZero():
		return reject("missing start")
	case !finite(b.Open) || !finite(b.High) || !finite(b.Low) || !finite(b.Close):
		return reject("non-numeric ohlc")
	case b.Low <= 0:
		return reject("prices must be > 0")
	case b.High < b.Low:
		return reject("high below low")
	case b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low:
		return reject("open/close outside high-low range")
	}
	return nil
}

// Rejections cuenta rechazos por motivo en un run.
type Rejections struct {
	Total    int
	ByReason map[string]int
}

// Add cuenta err si es de validación. El resto se ignora.
func (r *Rejections) Add(err error) {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return
	}
	if r.ByReason == nil {
		r.ByReason = make(map[string]int)
	}
	r.Total++
	r.ByReason[verr.Error()]++
}

// Reasons devuelve los motivos ordenados.
func (r Rejections) Reasons() []string {
	out := make([]string, 0, len(r.ByReason))
	for reason := range r.ByReason {
		out = append(out, reason)
	}
	sort.Strings(out)
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
