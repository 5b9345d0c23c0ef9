package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient: fallos de red, 5xx y rate limit. Se reintenta con backoff.
	ErrTransient = errors.New("transient fetch error")
	// ErrThrottled es un error transitorio por rate limit del venue.
	ErrThrottled = fmt.Errorf("%w: throttled", ErrTransient)
	// ErrPayload es un payload no-OK en una página. Falla el run en el acto.
	ErrPayload = errors.New("venue returned error payload")
	// ErrCapDetected: la paginación dejó de avanzar.
	ErrCapDetected = errors.New("pagination cursor did not advance: response cap detected")
	// ErrInvariantViolation marca la reconstrucción de un símbolo para revisión manual.
	ErrInvariantViolation = errors.New("reconstruction invariant violated")
	// ErrPriceCoverageGap omite las excursiones de un trade.
	ErrPriceCoverageGap = errors.New("price bar coverage gap")
	// ErrNotFound lo devuelven las búsquedas puntuales.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported: el venue no expone ese dataset.
	ErrUnsupported = errors.New("dataset not supported by venue")
)

// IsTransient indica si err se reintenta.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// RecordKind etiqueta el dataset de un registro validado.
type RecordKind string

const (
	KindFill        RecordKind = "fill"
	KindFunding     RecordKind = "funding"
	KindLiquidation RecordKind = "liquidation"
	KindPriceBar    RecordKind = "price_bar"
	KindSnapshot    RecordKind = "snapshot"
	KindClosedPnL   RecordKind = "closed_pnl"
)

// ValidationError es un registro rechazado. El run sigue y el registro se cuenta.
type ValidationError struct {
	Kind   RecordKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
}
