package apex

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/slurrr/trade-journal/internal/domain"
)

type apiPosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          number `json:"size"`
	EntryPrice    number `json:"entryPrice"`
	UnrealizedPnl number `json:"unrealizedPnl"`
}

type accountData struct {
	Positions   []apiPosition `json:"positions"`
	UpdatedTime number        `json:"updatedTime"`
}

type balanceData struct {
	TotalEquityValue number `json:"totalEquityValue"`
	AvailableBalance number `json:"availableBalance"`
	InitialMargin    number `json:"initialMargin"`
}

// FetchSnapshot combina /v3/account (posiciones) y /v3/account-balance.
func (c *Client) FetchSnapshot(ctx context.Context, account string) (domain.AccountSnapshot, error) {
	var acct accountData
	if err := c.get(ctx, "/v3/account", url.Values{}, &acct); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("apex.FetchSnapshot: account: %w", err)
	}
	var bal balanceData
	if err := c.get(ctx, "/v3/account-balance", url.Values{}, &bal); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("apex.FetchSnapshot: balance: %w", err)
	}

	snap := domain.AccountSnapshot{
		Venue:            Name,
		Account:          account,
		Timestamp:        acct.UpdatedTime.at(),
		TotalEquity:      bal.TotalEquityValue.float(),
		AvailableBalance: bal.AvailableBalance.float(),
		MarginBalance:    bal.InitialMargin.float(),
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = c.now().UTC()
	}
	for _, p := range acct.Positions {
		size := math.Abs(p.Size.float())
		if size <= domain.Epsilon {
			continue
		}
		// ApeX deja en la lista las posiciones cerradas con size 0.
		snap.Positions = append(snap.Positions, domain.PositionSnapshot{
			Symbol:     strings.ToUpper(p.Symbol),
			Side:       domain.ParsePositionSide(p.Side),
			Size:       size,
			EntryPrice: p.EntryPrice.float(),
			Unrealized: p.UnrealizedPnl.float(),
		})
	}
	return snap, nil
}
