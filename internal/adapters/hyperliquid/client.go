// Package hyperliquid lee fills, funding, velas y estado de cuenta del endpoint
// público /info de Hyperliquid.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/slurrr/trade-journal/internal/domain"
)

const (
	Name = "hyperliquid"

	defaultBase = "https://api.hyperliquid.xyz"

	// /info admite ~1200 de peso por minuto; userFillsByTime pesa 20 → 1/s deja margen.
	infoRatePerSec = 1
	infoBurst      = 2

	fillsPageLimit   = 2000
	fundingPageLimit = 500
	candlePageLimit  = 5000
)

// Client es el HTTP client de Hyperliquid con rate limiting. No reintenta:
// clasifica los errores y deja los reintentos al llamador.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewClient crea un Client. Si base está vacío usa producción; ratePerSec <= 0
// usa el límite por defecto.
func NewClient(base string, timeout time.Duration, ratePerSec float64) *Client {
	if base == "" {
		base = defaultBase
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if ratePerSec <= 0 {
		ratePerSec = infoRatePerSec
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		base:    strings.TrimRight(base, "/"),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), infoBurst),
	}
}

// Venue implementa ports.Venue.
func (c *Client) Venue() string { return Name }

// AscendingPages implementa ports.AscendingPager: el cursor es un tiempo creciente.
func (c *Client) AscendingPages() bool { return true }

// info hace un POST a /info. 429 → domain.ErrThrottled, 5xx y red →
// domain.ErrTransient, resto de 4xx o cuerpo inválido → domain.ErrPayload.
func (c *Client) info(ctx context.Context, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/info", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: hyperliquid status %d", domain.ErrThrottled, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: hyperliquid status %d", domain.ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: hyperliquid status %d: %s", domain.ErrPayload, resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrPayload, err)
	}
	return nil
}

// user normaliza una dirección de wallet al formato que espera /info.
func user(account string) (string, error) {
	if !common.IsHexAddress(account) {
		return "", fmt.Errorf("hyperliquid: account %q is not a wallet address", account)
	}
	return strings.ToLower(common.HexToAddress(account).Hex()), nil
}
