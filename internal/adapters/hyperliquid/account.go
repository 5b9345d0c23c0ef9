package hyperliquid

import (
	"context"
	"fmt"
	"math"

	"github.com/slurrr/trade-journal/internal/domain"
)

type marginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

type clearinghouseState struct {
	MarginSummary  marginSummary `json:"marginSummary"`
	Withdrawable   string        `json:"withdrawable"`
	Time           int64         `json:"time"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// FetchSnapshot lee clearinghouseState: equity, margen y posiciones abiertas.
func (c *Client) FetchSnapshot(ctx context.Context, account string) (domain.AccountSnapshot, error) {
	addr, err := user(account)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("hyperliquid.FetchSnapshot: %w", err)
	}
	var state clearinghouseState
	if err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": addr}, &state); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("hyperliquid.FetchSnapshot: %w", err)
	}

	snap := domain.AccountSnapshot{
		Venue:            Name,
		Account:          account,
		Timestamp:        millis(state.Time),
		TotalEquity:      parseFloat(state.MarginSummary.AccountValue),
		AvailableBalance: parseFee(state.Withdrawable),
		MarginBalance:    parseFee(state.MarginSummary.TotalMarginUsed),
	}
	for _, ap := range state.AssetPositions {
		p := ap.Position
		szi := parseFloat(p.Szi)
		if p.Coin == "" || math.Abs(szi) <= domain.Epsilon {
			continue
		}
		snap.Positions = append(snap.Positions, domain.PositionSnapshot{
			Symbol:     SymbolFromCoin(p.Coin),
			Side:       domain.PositionSideFromSigned(szi),
			Size:       math.Abs(szi),
			EntryPrice: parseFee(p.EntryPx),
			Unrealized: parseFee(p.UnrealizedPnl),
		})
	}
	return snap, nil
}
