package apex

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

// number acepta valores JSON como string o como número. Un valor no numérico
// queda como NaN para que la validación lo rechace.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	*n = number(strings.Trim(string(b), `"`))
	return nil
}

func (n number) float() float64 {
	s := strings.TrimSpace(string(n))
	if s == "" || s == "null" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN()
	}
	return d.InexactFloat64()
}

func (n number) required() float64 {
	s := strings.TrimSpace(string(n))
	if s == "" || s == "null" {
		return math.NaN()
	}
	return n.float()
}

// at interpreta ms o segundos epoch.
func (n number) at() time.Time {
	v := n.float()
	if math.IsNaN(v) || v <= 0 {
		return time.Time{}
	}
	if v < 1e12 {
		v *= 1000
	}
	return time.UnixMilli(int64(v)).UTC()
}

func (n number) id() string {
	s := strings.TrimSpace(string(n))
	if s == "null" {
		return ""
	}
	return s
}

type apiFill struct {
	ID        number `json:"id"`
	OrderID   number `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     number `json:"price"`
	Size      number `json:"size"`
	Fee       number `json:"fee"`
	FeeAsset  string `json:"feeAsset"`
	Status    string `json:"status"`
	CreatedAt number `json:"createdAt"`
	UpdatedAt number `json:"updatedTime"`
}

type fillsData struct {
	Orders    []apiFill `json:"orders"`
	TotalSize int       `json:"totalSize"`
}

type apiFunding struct {
	ID            number `json:"id"`
	TransactionID number `json:"transactionId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Rate          number `json:"rate"`
	PositionSize  number `json:"positionSize"`
	Price         number `json:"price"`
	FundingValue  number `json:"fundingValue"`
	FundingTime   number `json:"fundingTime"`
}

type fundingData struct {
	FundingValues []apiFunding `json:"fundingValues"`
	TotalSize     int          `json:"totalSize"`
}

type apiPnL struct {
	ID           number `json:"id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Size         number `json:"size"`
	Price        number `json:"price"`
	ExitPrice    number `json:"exitPrice"`
	TotalPnL     number `json:"totalPnl"`
	Fee          number `json:"fee"`
	LiquidateFee number `json:"liquidateFee"`
	ExitType     string `json:"exitType"`
	IsLiquidate  any    `json:"isLiquidate"`
	CreatedAt    number `json:"createdAt"`
}

func (p apiPnL) liquidation() bool {
	switch v := p.IsLiquidate.(type) {
	case bool:
		if v {
			return true
		}
	case string:
		if strings.EqualFold(v, "true") || v == "1" {
			return true
		}
	case float64:
		if v == 1 {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(p.ExitType), "LIQUIDAT")
}

type pnlData struct {
	HistoricalPnL []apiPnL `json:"historicalPnl"`
	TotalSize     int      `json:"totalSize"`
}

// FetchFills pagina /v3/fills por número de página. ApeX devuelve lo más
// reciente primero, así que las páginas no avanzan en el tiempo.
func (c *Client) FetchFills(ctx context.Context, req ports.PageRequest) (ports.Page[domain.Fill], error) {
	page, params, err := c.pageParams(req, true)
	if err != nil {
		return ports.Page[domain.Fill]{}, fmt.Errorf("apex.FetchFills: %w", err)
	}
	var data fillsData
	if err := c.get(ctx, "/v3/fills", params, &data); err != nil {
		return ports.Page[domain.Fill]{}, fmt.Errorf("apex.FetchFills: %w", err)
	}

	fills := make([]domain.Fill, 0, len(data.Orders))
	for _, r := range data.Orders {
		ts := r.CreatedAt.at()
		if ts.IsZero() {
			ts = r.UpdatedAt.at()
		}
		fills = append(fills, domain.Fill{
			VenueID:     r.ID.id(),
			OrderID:     r.OrderID.id(),
			Venue:       Name,
			Account:     req.Account,
			Symbol:      strings.ToUpper(r.Symbol),
			Side:        domain.ParseSide(r.Side),
			Price:       r.Price.required(),
			Size:        r.Size.required(),
			Fee:         r.Fee.float(),
			FeeCurrency: r.FeeAsset,
			Timestamp:   ts,
			Status:      r.Status,
		})
	}
	return nextPage(fills, page, c.limit(req)), nil
}

// FetchFunding pagina /v3/funding. fundingValue positivo es un cobro.
func (c *Client) FetchFunding(ctx context.Context, req ports.PageRequest) (ports.Page[domain.FundingEvent], error) {
	page, params, err := c.pageParams(req, true)
	if err != nil {
		return ports.Page[domain.FundingEvent]{}, fmt.Errorf("apex.FetchFunding: %w", err)
	}
	var data fundingData
	if err := c.get(ctx, "/v3/funding", params, &data); err != nil {
		return ports.Page[domain.FundingEvent]{}, fmt.Errorf("apex.FetchFunding: %w", err)
	}

	events := make([]domain.FundingEvent, 0, len(data.FundingValues))
	for _, r := range data.FundingValues {
		venueID := r.ID.id()
		if venueID == "" {
			venueID = r.TransactionID.id()
		}
		events = append(events, domain.FundingEvent{
			VenueID:      venueID,
			Venue:        Name,
			Account:      req.Account,
			Symbol:       strings.ToUpper(r.Symbol),
			Side:         domain.ParsePositionSide(r.Side),
			Rate:         r.Rate.float(),
			PositionSize: math.Abs(r.PositionSize.float()),
			Price:        r.Price.float(),
			Value:        r.FundingValue.required(),
			Timestamp:    r.FundingTime.at(),
		})
	}
	return nextPage(events, page, c.limit(req)), nil
}

// fetchPnL pide una página de /v3/historical-pnl. El endpoint no filtra por
// tiempo y devuelve lo más reciente primero; oldest es el createdAt más
// antiguo de la página cruda.
func (c *Client) fetchPnL(ctx context.Context, req ports.PageRequest) (rows []apiPnL, page int, oldest time.Time, err error) {
	page, params, err := c.pageParams(req, false)
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	var data pnlData
	if err := c.get(ctx, "/v3/historical-pnl", params, &data); err != nil {
		return nil, 0, time.Time{}, err
	}
	for _, r := range data.HistoricalPnL {
		if ts := r.CreatedAt.at(); !ts.IsZero() && (oldest.IsZero() || ts.Before(oldest)) {
			oldest = ts
		}
	}
	return data.HistoricalPnL, page, oldest, nil
}

// FetchLiquidations conserva solo los cierres forzados de historical-pnl.
// Done y Oldest se calculan sobre la página cruda: una página llena de
// cierres normales sigue contando para parar en la ventana.
func (c *Client) FetchLiquidations(ctx context.Context, req ports.PageRequest) (ports.Page[domain.Liquidation], error) {
	rows, page, oldest, err := c.fetchPnL(ctx, req)
	if err != nil {
		return ports.Page[domain.Liquidation]{}, fmt.Errorf("apex.FetchLiquidations: %w", err)
	}

	var out []domain.Liquidation
	for _, r := range rows {
		if !r.liquidation() {
			continue
		}
		out = append(out, domain.Liquidation{
			VenueID:      r.ID.id(),
			Venue:        Name,
			Account:      req.Account,
			Symbol:       strings.ToUpper(r.Symbol),
			Side:         domain.ParsePositionSide(r.Side),
			Size:         math.Abs(r.Size.required()),
			EntryPrice:   r.Price.float(),
			ExitPrice:    r.ExitPrice.float(),
			TotalPnL:     r.TotalPnL.float(),
			Fee:          r.Fee.float(),
			LiquidateFee: r.LiquidateFee.float(),
			ExitType:     r.ExitType,
			Timestamp:    r.CreatedAt.at(),
		})
	}
	p := nextPage(out, page, c.limit(req))
	p.Done = len(rows) < c.limit(req)
	p.Oldest = oldest
	return p, nil
}

// FetchClosedPnL devuelve todos los cierres de historical-pnl para conciliar.
func (c *Client) FetchClosedPnL(ctx context.Context, req ports.PageRequest) (ports.Page[domain.ClosedPnL], error) {
	rows, page, oldest, err := c.fetchPnL(ctx, req)
	if err != nil {
		return ports.Page[domain.ClosedPnL]{}, fmt.Errorf("apex.FetchClosedPnL: %w", err)
	}

	out := make([]domain.ClosedPnL, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ClosedPnL{
			VenueID:   r.ID.id(),
			Venue:     Name,
			Account:   req.Account,
			Symbol:    strings.ToUpper(r.Symbol),
			Side:      domain.ParsePositionSide(r.Side),
			Size:      math.Abs(r.Size.required()),
			ExitPrice: r.ExitPrice.float(),
			TotalPnL:  r.TotalPnL.required(),
			Fee:       r.Fee.float(),
			ExitType:  r.ExitType,
			Timestamp: r.CreatedAt.at(),
		})
	}
	p := nextPage(out, page, c.limit(req))
	p.Oldest = oldest
	return p, nil
}

func (c *Client) limit(req ports.PageRequest) int {
	if req.Limit <= 0 || req.Limit > c.pageLimit {
		return c.pageLimit
	}
	return req.Limit
}

// pageParams traduce el cursor (número de página) y la ventana a query params.
func (c *Client) pageParams(req ports.PageRequest, window bool) (int, url.Values, error) {
	page := 0
	if req.Cursor != "" {
		p, err := strconv.Atoi(req.Cursor)
		if err != nil || p < 0 {
			return 0, nil, fmt.Errorf("invalid cursor %q", req.Cursor)
		}
		page = p
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.limit(req)))
	params.Set("page", strconv.Itoa(page))
	if window {
		if !req.Since.IsZero() {
			params.Set("beginTimeInclusive", strconv.FormatInt(req.Since.UnixMilli(), 10))
		}
		if !req.Until.IsZero() {
			params.Set("endTimeExclusive", strconv.FormatInt(req.Until.UnixMilli(), 10))
		}
	}
	return page, params, nil
}

func nextPage[T any](records []T, page, limit int) ports.Page[T] {
	return ports.Page[T]{
		Records: records,
		Next:    strconv.Itoa(page + 1),
		Done:    len(records) < limit,
	}
}
