package binance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
)

// FetchSnapshot combina la cuenta de futuros con positionRisk. En modo hedge
// las dos patas de un símbolo se netean.
func (c *Client) FetchSnapshot(ctx context.Context, account string) (domain.AccountSnapshot, error) {
	if c.futures.APIKey == "" || c.futures.SecretKey == "" {
		return domain.AccountSnapshot{}, fmt.Errorf("binance.FetchSnapshot: api key and secret are required")
	}
	acct, err := c.futures.NewGetAccountService().Do(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("binance.FetchSnapshot: account: %w", classify(ctx, err))
	}
	risks, err := c.futures.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("binance.FetchSnapshot: position risk: %w", classify(ctx, err))
	}

	snap := domain.AccountSnapshot{
		Venue:            Name,
		Account:          account,
		Timestamp:        time.Now().UTC(),
		TotalEquity:      parseFloat(acct.TotalMarginBalance),
		AvailableBalance: parseFloat(acct.AvailableBalance),
		MarginBalance:    parseFloat(acct.TotalInitialMargin),
	}

	type net struct{ signed, notional, upnl float64 }
	bySymbol := make(map[string]*net)
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if math.IsNaN(amt) || math.Abs(amt) <= domain.Epsilon {
			continue
		}
		n := bySymbol[r.Symbol]
		if n == nil {
			n = &net{}
			bySymbol[r.Symbol] = n
		}
		n.signed += amt
		n.notional += amt * parseFloat(r.EntryPrice)
		n.upnl += parseFloat(r.UnRealizedProfit)
	}
	for sym, n := range bySymbol {
		size := math.Abs(n.signed)
		if size <= domain.Epsilon {
			continue
		}
		snap.Positions = append(snap.Positions, domain.PositionSnapshot{
			Symbol:     Symbol(sym),
			Side:       domain.PositionSideFromSigned(n.signed),
			Size:       size,
			EntryPrice: math.Abs(n.notional / n.signed),
			Unrealized: n.upnl,
		})
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].Symbol < snap.Positions[j].Symbol })
	return snap, nil
}
