// Package binance lee trades de cuenta y klines de futuros USDⓈ-M con
// go-binance.
package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

const (
	Name = "binance"

	baseURLProduction = "https://fapi.binance.com"

	tradesPageLimit = 1000
	klinesPageLimit = 1500

	tradesWindow = 7 * 24 * time.Hour
)

// futuresLaunch es el primer día con trades en USDⓈ-M.
var futuresLaunch = time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC)

var quoteAssets = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// Config es lo que necesita el adapter para una cuenta.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
	// Symbols son los símbolos a leer ("BTCUSDT").
	Symbols []string
	// HistoryStart es desde dónde se lee un stream sin checkpoint.
	// Cero usa el lanzamiento de USDⓈ-M.
	HistoryStart time.Time
}

// Client envuelve un futures.Client. Un intento por llamada; los reintentos
// son del llamador.
type Client struct {
	futures      *futures.Client
	symbols      []string
	historyStart time.Time
}

// New crea un Client. Las klines no necesitan keys; los trades sí.
func New(cfg Config) (*Client, error) {
	fc := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	fc.BaseURL = baseURLProduction
	if cfg.BaseURL != "" {
		fc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		fc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s = VenueSymbol(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)
	history := cfg.HistoryStart.UTC()
	if cfg.HistoryStart.IsZero() {
		history = futuresLaunch
	}
	return &Client{futures: fc, symbols: symbols, historyStart: history}, nil
}

// Venue implementa ports.Venue.
func (c *Client) Venue() string { return Name }

// Fills devuelve la fuente de fills de un símbolo. userTrades no lista la
// cuenta entera: cada símbolo es un stream con su checkpoint.
func (c *Client) Fills(symbol string) *SymbolFills {
	return &SymbolFills{client: c, symbol: VenueSymbol(symbol)}
}

// Symbols devuelve los símbolos configurados, en formato del venue y ordenados.
func (c *Client) Symbols() []string {
	return append([]string(nil), c.symbols...)
}

// SymbolFills pagina /fapi/v1/userTrades de un símbolo en ventanas de siete
// días, el máximo que admite startTime/endTime. El cursor es el inicio de la
// siguiente ventana en ms.
type SymbolFills struct {
	client *Client
	symbol string
}

// Venue implementa ports.Venue.
func (s *SymbolFills) Venue() string { return Name }

// Scope implementa ports.Scoped.
func (s *SymbolFills) Scope() string { return s.symbol }

// AscendingPages implementa ports.AscendingPager: las ventanas avanzan en el tiempo.
func (s *SymbolFills) AscendingPages() bool { return true }

// FetchFills pide una ventana. Con página llena la siguiente ventana empieza
// en el último trade; ese milisegundo se repite y el upsert deduplica.
func (s *SymbolFills) FetchFills(ctx context.Context, req ports.PageRequest) (ports.Page[domain.Fill], error) {
	fc := s.client.futures
	if fc.APIKey == "" || fc.SecretKey == "" {
		return ports.Page[domain.Fill]{}, fmt.Errorf("binance.FetchFills: api key and secret are required")
	}

	start := req.Since
	if req.Cursor != "" {
		ms, err := strconv.ParseInt(req.Cursor, 10, 64)
		if err != nil || ms < 0 {
			return ports.Page[domain.Fill]{}, fmt.Errorf("binance.FetchFills: invalid cursor %q", req.Cursor)
		}
		start = time.UnixMilli(ms).UTC()
	}
	if start.IsZero() {
		start = s.client.historyStart
	}
	until := req.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}
	if !start.Before(until) {
		return ports.Page[domain.Fill]{Next: req.Cursor, Done: true, Through: until}, nil
	}
	end := start.Add(tradesWindow)
	if end.After(until) {
		end = until
	}

	trades, err := fc.NewListAccountTradeService().
		Symbol(s.symbol).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli() - 1).
		Limit(tradesPageLimit).
		Do(ctx)
	if err != nil {
		return ports.Page[domain.Fill]{}, fmt.Errorf("binance.FetchFills: %s: %w", s.symbol, classify(ctx, err))
	}

	fills := make([]domain.Fill, 0, len(trades))
	var last int64
	for _, t := range trades {
		if t == nil {
			continue
		}
		fills = append(fills, mapTrade(t, req.Account))
		last = max(last, t.Time)
	}

	page := ports.Page[domain.Fill]{Records: fills}
	if len(trades) >= tradesPageLimit {
		// Sin avance el cursor se repite y el coordinador lo marca como cap.
		next := max(last, start.UnixMilli())
		page.Next = strconv.FormatInt(next, 10)
		page.Through = time.UnixMilli(next).UTC()
		return page, nil
	}
	page.Next = strconv.FormatInt(end.UnixMilli(), 10)
	page.Through = end
	page.Done = !end.Before(until)
	return page, nil
}

// FetchPriceBars implementa ports.PriceBarSource con /fapi/v1/klines.
func (c *Client) FetchPriceBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.PriceBar, error) {
	venueSymbol := VenueSymbol(symbol)
	step := tf.Duration()

	var bars []domain.PriceBar
	seen := make(map[int64]bool)
	for from := start.UTC().Truncate(step); from.Before(end); {
		klines, err := c.futures.NewKlinesService().
			Symbol(venueSymbol).
			Interval(string(tf)).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli() - 1).
			Limit(klinesPageLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance.FetchPriceBars: %s: %w", venueSymbol, classify(ctx, err))
		}
		if len(klines) == 0 {
			break
		}
		last := from
		for _, k := range klines {
			if k == nil || seen[k.OpenTime] {
				continue
			}
			seen[k.OpenTime] = true
			open := time.UnixMilli(k.OpenTime).UTC()
			bars = append(bars, domain.PriceBar{
				Venue:     Name,
				Symbol:    symbol,
				Timeframe: tf,
				Start:     open,
				Open:      parseFloat(k.Open),
				High:      parseFloat(k.High),
				Low:       parseFloat(k.Low),
				Close:     parseFloat(k.Close),
				Volume:    parseFloat(k.Volume),
			})
			if open.After(last) {
				last = open
			}
		}
		if len(klines) < klinesPageLimit || !last.After(from) {
			break
		}
		from = last.Add(step)
	}
	return bars, nil
}

func mapTrade(t *futures.AccountTrade, account string) domain.Fill {
	f := domain.Fill{
		VenueID:     strconv.FormatInt(t.ID, 10),
		Venue:       Name,
		Account:     account,
		Symbol:      Symbol(t.Symbol),
		Side:        domain.ParseSide(string(t.Side)),
		Price:       parseFloat(t.Price),
		Size:        parseFloat(t.Quantity),
		Fee:         parseFloat(t.Commission),
		FeeCurrency: t.CommissionAsset,
		Timestamp:   time.UnixMilli(t.Time).UTC(),
	}
	if t.OrderID != 0 {
		f.OrderID = strconv.FormatInt(t.OrderID, 10)
	}
	if t.Time <= 0 {
		f.Timestamp = time.Time{}
	}
	return f
}

// classify mapea los errores de go-binance a las clases de error del sync.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	switch apiErr.Code {
	case -1003, -1015:
		return fmt.Errorf("%w: binance code %d: %s", domain.ErrThrottled, apiErr.Code, apiErr.Message)
	case 0, -1000, -1001, -1006, -1007:
		// Code 0: el cuerpo no era un error de la API (gateway o página 5xx).
		return fmt.Errorf("%w: binance code %d: %s", domain.ErrTransient, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: binance code %d: %s", domain.ErrPayload, apiErr.Code, apiErr.Message)
}

// Symbol mapea "BTCUSDT" a "BTC-USDT".
func Symbol(venueSymbol string) string {
	s := strings.ToUpper(strings.TrimSpace(venueSymbol))
	if strings.Contains(s, "-") {
		return s
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q) + "-" + q
		}
	}
	return s
}

// VenueSymbol mapea "BTC-USDT" a "BTCUSDT".
func VenueSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "-", "")
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
