// Package apex lee fills, funding, historical-pnl y estado de cuenta de la API
// privada REST de ApeX Omni.
package apex

// client.go: cliente autenticado de ApeX Omni.
//
// Cada request GET se firma con HMAC-SHA256 sobre
//   timestamp + METHOD + path?query
// usando como clave el secreto codificado en base64.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/slurrr/trade-journal/internal/domain"
)

const (
	Name = "apex"

	defaultBase = "https://omni.apex.exchange/api"

	// Límite privado documentado: 600 req/min por cuenta → 5/s deja margen.
	privateRatePerSec = 5
	privateBurst      = 5

	defaultPageLimit = 100
)

// Credentials son las API keys de una cuenta ApeX.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Client es el HTTP client de ApeX con firma L2 y rate limiting. Hace un único
// intento por request; los reintentos son del llamador.
type Client struct {
	http      *http.Client
	base      string
	basePath  string
	creds     Credentials
	limiter   *rate.Limiter
	pageLimit int
	now       func() time.Time
}

// NewClient crea un Client. base vacío usa producción y siempre termina en /api.
func NewClient(base string, creds Credentials, timeout time.Duration, ratePerSec float64) (*Client, error) {
	if creds.APIKey == "" || creds.Secret == "" || creds.Passphrase == "" {
		return nil, fmt.Errorf("apex.NewClient: api key, secret and passphrase are required")
	}
	if base == "" {
		base = defaultBase
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("apex.NewClient: base url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/api") {
		u.Path += "/api"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if ratePerSec <= 0 {
		ratePerSec = privateRatePerSec
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		base:      u.String(),
		basePath:  u.Path,
		creds:     creds,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), privateBurst),
		pageLimit: defaultPageLimit,
		now:       time.Now,
	}, nil
}

// Venue implementa ports.Venue.
func (c *Client) Venue() string { return Name }

// envelope es la respuesta común de ApeX: code "0"/"200" o ausente es OK.
type envelope struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e envelope) failed() bool {
	code := strings.Trim(string(e.Code), `"`)
	return code != "" && code != "null" && code != "0" && code != "200"
}

// sign devuelve la firma base64 de ts+METHOD+path.
func (c *Client) sign(ts, method, signedPath string) string {
	key := base64.StdEncoding.EncodeToString([]byte(c.creds.Secret))
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(ts + strings.ToUpper(method) + signedPath))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// get hace un GET firmado y decodifica envelope.data en out.
// 429 → ErrThrottled, 5xx/red → ErrTransient, resto → ErrPayload.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	query := params.Encode()
	target := path
	if query != "" {
		target += "?" + query
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APEX-API-KEY", c.creds.APIKey)
	req.Header.Set("APEX-PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("APEX-TIMESTAMP", ts)
	req.Header.Set("APEX-SIGNATURE", c.sign(ts, http.MethodGet, c.basePath+target))

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
		return fmt.Errorf("%w: apex status %d", domain.ErrThrottled, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return fmt.Errorf("%w: apex status %d", domain.ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: apex status %d: %s", domain.ErrPayload, resp.StatusCode, string(msg))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrPayload, err)
	}
	if env.failed() {
		return fmt.Errorf("%w: apex code=%s msg=%s", domain.ErrPayload, strings.Trim(string(env.Code), `"`), env.Msg)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", domain.ErrPayload, err)
	}
	return nil
}
