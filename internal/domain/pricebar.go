package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Timeframe es la granularidad de una vela, p.ej. "1m" o "1h".
type Timeframe string

// CanonicalTimeframe es la única granularidad que se guarda.
const CanonicalTimeframe Timeframe = "1m"

// ParseTimeframe valida cadenas como "1m", "15m", "1h", "1d".
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, err := tf.duration(); err != nil {
		return "", err
	}
	return tf, nil
}

// Duration devuelve la duración de la barra. Si no se conoce, un minuto.
func (tf Timeframe) Duration() time.Duration {
	d, err := tf.duration()
	if err != nil {
		return time.Minute
	}
	return d
}

func (tf Timeframe) duration() (time.Duration, error) {
	s := string(tf)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	switch s[len(s)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe %q", s)
}

// PriceBar es una vela OHLC con clave (venue, symbol, timeframe, start).
type PriceBar struct {
	Venue     string
	Symbol    string
	Timeframe Timeframe
	Start     time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// End es el fin exclusivo de la barra.
func (b PriceBar) End() time.Time {
	return b.Start.Add(b.Timeframe.Duration())
}

// Resample agrega barras finas en otras más gruesas. La entrada puede venir
// desordenada: se agrupa por start truncado al timeframe destino.
func Resample(bars []PriceBar, tf Timeframe) []PriceBar {
	if len(bars) == 0 {
		return nil
	}
	sorted := make([]PriceBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	step := tf.Duration()
	var out []PriceBar
	for _, b := range sorted {
		bucket := b.Start.UTC().Truncate(step)
		if n := len(out); n > 0 && out[n-1].Start.Equal(bucket) {
			cur := &out[n-1]
			cur.High = max(cur.High, b.High)
			cur.Low = min(cur.Low, b.Low)
			cur.Close = b.Close
			cur.Volume += b.Volume
			continue
		}
		out = append(out, PriceBar{
			Venue:     b.Venue,
			Symbol:    b.Symbol,
			Timeframe: tf,
			Start:     bucket,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return out
}

// MissingBars lista los starts en [from, to], truncados al timeframe, que
// faltan en bars.
func MissingBars(bars []PriceBar, tf Timeframe, from, to time.Time) []time.Time {
	step := tf.Duration()
	have := make(map[int64]struct{}, len(bars))
	for _, b := range bars {
		have[b.Start.UTC().Truncate(step).UnixNano()] = struct{}{}
	}
	var missing []time.Time
	for t := from.UTC().Truncate(step); !t.After(to.UTC().Truncate(step)); t = t.Add(step) {
		if _, ok := have[t.UnixNano()]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}
