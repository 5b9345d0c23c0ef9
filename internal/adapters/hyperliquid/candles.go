package hyperliquid

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
)

type apiCandle struct {
	T     int64  `json:"t"` // apertura, ms
	Close int64  `json:"T"` // cierre, ms
	O     string `json:"o"`
	H     string `json:"h"`
	L     string `json:"l"`
	C     string `json:"c"`
	V     string `json:"v"`
}

// FetchPriceBars implementa ports.PriceBarSource con candleSnapshot. Pide en
// bloques de candlePageLimit velas hasta cubrir [start, end).
func (c *Client) FetchPriceBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.PriceBar, error) {
	step := tf.Duration()
	coin := CoinFromSymbol(symbol)

	seen := make(map[int64]bool)
	var bars []domain.PriceBar
	for from := start.UTC().Truncate(step); from.Before(end); {
		to := from.Add(step * candlePageLimit)
		if to.After(end) {
			to = end
		}

		var raw []apiCandle
		body := map[string]any{
			"type": "candleSnapshot",
			"req": map[string]any{
				"coin":      coin,
				"interval":  string(tf),
				"startTime": from.UnixMilli(),
				"endTime":   to.UnixMilli(),
			},
		}
		if err := c.info(ctx, body, &raw); err != nil {
			return nil, fmt.Errorf("hyperliquid.FetchPriceBars: %s: %w", symbol, err)
		}

		for _, r := range raw {
			if seen[r.T] {
				continue
			}
			seen[r.T] = true
			bars = append(bars, domain.PriceBar{
				Venue:     Name,
				Symbol:    symbol,
				Timeframe: tf,
				Start:     millis(r.T),
				Open:      parseFloat(r.O),
				High:      parseFloat(r.H),
				Low:       parseFloat(r.L),
				Close:     parseFloat(r.C),
				Volume:    parseFee(r.V),
			})
		}
		from = to
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Start.Before(bars[j].Start) })
	return bars, nil
}
