// Package funding asigna cada pago de funding al trade abierto cuando se cobró.
package funding

import (
	"sort"

	"github.com/slurrr/trade-journal/internal/domain"
)

// Result es el resultado de una pasada de atribución sobre una cuenta.
type Result struct {
	// Trades son los de entrada, en el mismo orden, con Funding recalculado.
	Trades []domain.Trade
	// ByFundingID asigna cada evento atribuido a su trade.
	ByFundingID map[string]string
	// Pending son eventos dentro de una posición aún abierta. Quedan sin
	// atribuir hasta que cierre.
	Pending []domain.FundingEvent
	// Unmatched son eventos que ningún trade ni posición abierta cubre. Se
	// conservan.
	Unmatched []domain.FundingEvent
}

// Attribute asigna cada evento al trade del mismo símbolo y lado cuya ventana
// [entry, exit] contiene su timestamp. Si las ventanas se solapan gana la
// entrada más temprana. El funding del trade se pone a cero antes de sumar y
// la pasada es idempotente.
func Attribute(trades []domain.Trade, events []domain.FundingEvent, open []domain.OpenPosition) Result {
	res := Result{
		Trades:      make([]domain.Trade, len(trades)),
		ByFundingID: make(map[string]string),
	}
	copy(res.Trades, trades)

	byEntry := make([]int, len(res.Trades))
	for i := range res.Trades {
		res.Trades[i].Funding = 0
		byEntry[i] = i
	}
	sort.SliceStable(byEntry, func(a, b int) bool {
		return res.Trades[byEntry[a]].EntryTime.Before(res.Trades[byEntry[b]].EntryTime)
	})

	for _, ev := range events {
		id := ev.ID
		if id == "" {
			id = ev.Key()
		}

		matched := false
		for _, i := range byEntry {
			t := &res.Trades[i]
			if t.Symbol != ev.Symbol || t.Side != ev.Side || !t.Contains(ev.Timestamp) {
				continue
			}
			t.Funding += ev.Value
			res.ByFundingID[id] = t.ID
			matched = true
			break
		}
		if matched {
			continue
		}

		if coveredByOpen(ev, open) {
			res.Pending = append(res.Pending, ev)
			continue
		}
		res.Unmatched = append(res.Unmatched, ev)
	}
	return res
}

func coveredByOpen(ev domain.FundingEvent, open []domain.OpenPosition) bool {
	for _, p := range open {
		if p.Symbol == ev.Symbol && p.Side == ev.Side && !ev.Timestamp.Before(p.EntryTime) {
			return true
		}
	}
	return false
}

// Total suma el valor de los eventos.
func Total(events []domain.FundingEvent) float64 {
	var sum float64
	for _, e := range events {
		sum += e.Value
	}
	return sum
}
