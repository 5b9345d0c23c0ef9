package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

type apiFill struct {
	Coin     string `json:"coin"`
	Px       string `json:"px"`
	Sz       string `json:"sz"`
	Side     string `json:"side"` // "B" compra, "A" venta
	Time     int64  `json:"time"`
	Hash     string `json:"hash"`
	Oid      int64  `json:"oid"`
	Tid      int64  `json:"tid"`
	Fee      string `json:"fee"`
	FeeToken string `json:"feeToken"`
	Dir      string `json:"dir"`
}

type apiFunding struct {
	Time  int64  `json:"time"`
	Hash  string `json:"hash"`
	Delta struct {
		Type        string `json:"type"`
		Coin        string `json:"coin"`
		USDC        string `json:"usdc"`
		Szi         string `json:"szi"`
		FundingRate string `json:"fundingRate"`
	} `json:"delta"`
}

// FetchFills pagina userFillsByTime. El cursor es el mayor `time` (ms) de la
// página anterior; se repite ese milisegundo y el upsert deduplica.
func (c *Client) FetchFills(ctx context.Context, req ports.PageRequest) (ports.Page[domain.Fill], error) {
	addr, err := user(req.Account)
	if err != nil {
		return ports.Page[domain.Fill]{}, fmt.Errorf("hyperliquid.FetchFills: %w", err)
	}
	start, err := startMillis(req)
	if err != nil {
		return ports.Page[domain.Fill]{}, fmt.Errorf("hyperliquid.FetchFills: %w", err)
	}

	var raw []apiFill
	body := map[string]any{
		"type":            "userFillsByTime",
		"user":            addr,
		"startTime":       start,
		"endTime":         endMillis(req),
		"aggregateByTime": false,
	}
	if err := c.info(ctx, body, &raw); err != nil {
		return ports.Page[domain.Fill]{}, fmt.Errorf("hyperliquid.FetchFills: %w", err)
	}

	fills := make([]domain.Fill, 0, len(raw))
	newest := start
	for _, r := range raw {
		fills = append(fills, mapFill(r, req.Account))
		newest = max(newest, r.Time)
	}
	return ports.Page[domain.Fill]{
		Records: fills,
		Next:    strconv.FormatInt(newest, 10),
		Done:    len(raw) < fillsPageLimit,
	}, nil
}

// FetchFunding pagina userFunding con el mismo cursor temporal que los fills.
func (c *Client) FetchFunding(ctx context.Context, req ports.PageRequest) (ports.Page[domain.FundingEvent], error) {
	addr, err := user(req.Account)
	if err != nil {
		return ports.Page[domain.FundingEvent]{}, fmt.Errorf("hyperliquid.FetchFunding: %w", err)
	}
	start, err := startMillis(req)
	if err != nil {
		return ports.Page[domain.FundingEvent]{}, fmt.Errorf("hyperliquid.FetchFunding: %w", err)
	}

	var raw []apiFunding
	body := map[string]any{
		"type":      "userFunding",
		"user":      addr,
		"startTime": start,
		"endTime":   endMillis(req),
	}
	if err := c.info(ctx, body, &raw); err != nil {
		return ports.Page[domain.FundingEvent]{}, fmt.Errorf("hyperliquid.FetchFunding: %w", err)
	}

	events := make([]domain.FundingEvent, 0, len(raw))
	newest := start
	for _, r := range raw {
		newest = max(newest, r.Time)
		if r.Delta.Type != "" && r.Delta.Type != "funding" {
			continue
		}
		events = append(events, mapFunding(r, req.Account))
	}
	return ports.Page[domain.FundingEvent]{
		Records: events,
		Next:    strconv.FormatInt(newest, 10),
		Done:    len(raw) < fundingPageLimit,
	}, nil
}

func mapFill(r apiFill, account string) domain.Fill {
	f := domain.Fill{
		OrderID:     idString(r.Oid),
		Venue:       Name,
		Account:     account,
		Symbol:      SymbolFromCoin(r.Coin),
		Side:        domain.ParseSide(r.Side),
		Price:       parseFloat(r.Px),
		Size:        parseFloat(r.Sz),
		Fee:         parseFee(r.Fee),
		FeeCurrency: r.FeeToken,
		Timestamp:   millis(r.Time),
	}
	if r.Tid != 0 {
		f.VenueID = strconv.FormatInt(r.Tid, 10)
	}
	return f
}

func mapFunding(r apiFunding, account string) domain.FundingEvent {
	szi := parseFloat(r.Delta.Szi)
	e := domain.FundingEvent{
		Venue:        Name,
		Account:      account,
		Symbol:       SymbolFromCoin(r.Delta.Coin),
		Side:         domain.PositionSideFromSigned(szi),
		Rate:         parseFloat(r.Delta.FundingRate),
		PositionSize: math.Abs(szi),
		Value:        parseFloat(r.Delta.USDC),
		Timestamp:    millis(r.Time),
	}
	if r.Hash != "" {
		e.VenueID = fmt.Sprintf("%s:%d:%s", r.Hash, r.Time, strings.ToUpper(r.Delta.Coin))
	}
	return e
}

// SymbolFromCoin mapea "BTC" → "BTC-USDC".
func SymbolFromCoin(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	return coin + "-USDC"
}

// CoinFromSymbol mapea "BTC-USDC" o "BTC-USDT" → "BTC".
func CoinFromSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, quote := range []string{"-USDC", "-USDT"} {
		if strings.HasSuffix(s, quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return strings.ReplaceAll(s, "-", "")
}

// startMillis es el cursor si existe, si no el inicio de la ventana.
func startMillis(req ports.PageRequest) (int64, error) {
	if req.Cursor != "" {
		ms, err := strconv.ParseInt(req.Cursor, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cursor %q: %w", req.Cursor, err)
		}
		return ms, nil
	}
	if req.Since.IsZero() {
		return 0, nil
	}
	return req.Since.UnixMilli(), nil
}

func endMillis(req ports.PageRequest) int64 {
	if req.Until.IsZero() {
		return time.Now().UnixMilli()
	}
	return req.Until.UnixMilli()
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// parseFloat devuelve NaN si el valor no es numérico; la validación lo rechaza.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseFee trata el vacío como 0.
func parseFee(s string) float64 {
	if strings.TrimSpace(s) == "" {
		return 0
	}
	return parseFloat(s)
}

func idString(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
