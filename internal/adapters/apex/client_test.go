package apex_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurrr/trade-journal/internal/adapters/apex"
	"github.com/slurrr/trade-journal/internal/domain"
	"github.com/slurrr/trade-journal/internal/ports"
)

var creds = apex.Credentials{APIKey: "key-1", Secret: "s3cret", Passphrase: "pass"}

func newTestClient(t *testing.T, srv *httptest.Server) *apex.Client {
	t.Helper()
	c, err := apex.NewClient(srv.URL, creds, 5*time.Second, 1000)
	require.NoError(t, err)
	return c
}

func expectedSignature(ts, method, path string) string {
	key := base64.StdEncoding.EncodeToString([]byte(creds.Secret))
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(ts + method + path))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := apex.NewClient("", apex.Credentials{APIKey: "k"}, 0, 0)
	assert.Error(t, err)
}

func TestFetchFills_SignedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v3/fills", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "1700000000000", q.Get("beginTimeInclusive"))
		assert.Equal(t, "1700000900000", q.Get("endTimeExclusive"))

		assert.Equal(t, "key-1", r.Header.Get("APEX-API-KEY"))
		assert.Equal(t, "pass", r.Header.Get("APEX-PASSPHRASE"))
		ts := r.Header.Get("APEX-TIMESTAMP")
		require.NotEmpty(t, ts)
		assert.Equal(t, expectedSignature(ts, "GET", r.URL.RequestURI()), r.Header.Get("APEX-SIGNATURE"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"totalSize":2,"orders":[
			{"id":"f-1","orderId":"o-1","symbol":"btc-usdt","side":"BUY","price":"30000","size":"0.01","fee":"0.15","status":"SUCCESS","createdAt":1700000100000},
			{"id":"f-2","orderId":"o-2","symbol":"BTC-USDT","side":"SELL","price":"x","size":0.01,"fee":null,"status":"CANCELED","createdAt":1700000200}
		]}}`))
	}))
	defer srv.Close()

	page, err := newTestClient(t, srv).FetchFills(context.Background(), ports.PageRequest{
		Account: "acc-1",
		Since:   time.UnixMilli(1700000000000),
		Until:   time.UnixMilli(1700000900000),
		Cursor:  "2",
	})
	require.NoError(t, err)
	assert.True(t, page.Done)
	assert.Equal(t, "3", page.Next)
	require.Len(t, page.Records, 2)

	f := page.Records[0]
	assert.Equal(t, "apex", f.Venue)
	assert.Equal(t, "acc-1", f.Account)
	assert.Equal(t, "f-1", f.VenueID)
	assert.Equal(t, "o-1", f.OrderID)
	assert.Equal(t, "BTC-USDT", f.Symbol)
	assert.Equal(t, domain.SideBuy, f.Side)
	assert.InDelta(t, 30000.0, f.Price, 1e-9)
	assert.InDelta(t, 0.15, f.Fee, 1e-12)
	assert.True(t, f.Succeeded())
	require.NoError(t, domain.ValidateFill(f))

	bad := page.Records[1]
	assert.True(t, math.IsNaN(bad.Price))
	assert.Zero(t, bad.Fee)
	assert.False(t, bad.Succeeded())
	// También acepta epoch en segundos.
	assert.Equal(t, time.UnixMilli(1700000200000).UTC(), bad.Timestamp)
}

func TestFetchFills_FullPageContinues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"code":"0","data":{"orders":[
			{"id":"1","symbol":"ETH-USDT","side":"BUY","price":"1","size":"1","createdAt":1700000000000},
			{"id":"2","symbol":"ETH-USDT","side":"BUY","price":"1","size":"1","createdAt":1700000000001}
		]}}`))
	}))
	defer srv.Close()

	page, err := newTestClient(t, srv).FetchFills(context.Background(), ports.PageRequest{Account: "acc-1", Limit: 2})
	require.NoError(t, err)
	assert.False(t, page.Done)
	assert.Equal(t, "1", page.Next)
}

func TestFetchFills_ErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":20016,"msg":"signature check failed"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FetchFills(context.Background(), ports.PageRequest{Account: "acc-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPayload)
	assert.Contains(t, err.Error(), "20016")
}

func TestFetchFills_StatusClassification(t *testing.T) {
	cases := map[int]error{
		http.StatusTooManyRequests:    domain.ErrThrottled,
		http.StatusServiceUnavailable: domain.ErrTransient,
		http.StatusRequestTimeout:     domain.ErrTransient,
		http.StatusUnauthorized:       domain.ErrPayload,
	}
	for status, want := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).FetchFills(context.Background(), ports.PageRequest{Account: "acc-1"})
			assert.ErrorIs(t, err, want)
		})
	}
}

func TestFetchFills_InvalidCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FetchFills(context.Background(), ports.PageRequest{Account: "acc-1", Cursor: "abc"})
	assert.Error(t, err)
}

func TestFetchFunding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/funding", r.URL.Path)
		w.Write([]byte(`{"data":{"fundingValues":[
			{"id":"","transactionId":"tx-9","symbol":"BTC-USDT","side":"SHORT","rate":"0.0001","positionSize":"-0.5","price":"30000","fundingValue":"1.5","fundingTime":1700000000000}
		]}}`))
	}))
	defer srv.Close()

	page, err := newTestClient(t, srv).FetchFunding(context.Background(), ports.PageRequest{Account: "acc-1"})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	e := page.Records[0]
	assert.Equal(t, "tx-9", e.VenueID)
	assert.Equal(t, domain.Short, e.Side)
	assert.InDelta(t, 0.5, e.PositionSize, 1e-12)
	assert.InDelta(t, 1.5, e.Value, 1e-12)
	assert.InDelta(t, 30000.0, e.Price, 1e-9)
	require.NoError(t, domain.ValidateFunding(e))
}

func TestFetchLiquidations_FiltersForcedCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/historical-pnl", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("beginTimeInclusive"))
		w.Write([]byte(`{"data":{"historicalPnl":[
			{"id":"p1","symbol":"ETH-USDT","side":"LONG","size":"2","price":"2000","exitPrice":"1800","totalPnl":"-400","fee":"1","liquidateFee":"5","exitType":"LIQUIDATE","createdAt":1700000000000},
			{"id":"p2","symbol":"ETH-USDT","side":"LONG","size":"1","price":"2000","exitPrice":"2100","totalPnl":"100","exitType":"CLOSE","createdAt":1700000001000},
			{"id":"p3","symbol":"SOL-USDT","side":"SHORT","size":"-10","exitType":"","isLiquidate":true,"createdAt":1700000002000}
		]}}`))
	}))
	defer srv.Close()

	page, err := newTestClient(t, srv).FetchLiquidations(context.Background(), ports.PageRequest{
		Account: "acc-1",
		Since:   time.UnixMilli(1),
	})
	require.NoError(t, err)
	assert.True(t, page.Done)
	require.Len(t, page.Records, 2)

	l := page.Records[0]
	assert.Equal(t, "p1", l.VenueID)
	assert.Equal(t, domain.Long, l.Side)
	assert.InDelta(t, 2.0, l.Size, 1e-12)
	assert.InDelta(t, -400.0, l.TotalPnL, 1e-9)
	assert.InDelta(t, 5.0, l.LiquidateFee, 1e-12)
	require.NoError(t, domain.ValidateLiquidation(l))

	assert.Equal(t, "p3", page.Records[1].VenueID)
	assert.InDelta(t, 10.0, page.Records[1].Size, 1e-12)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), page.Oldest)
}

func TestFetchLiquidations_FullPageWithoutLiquidations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"data":{"historicalPnl":[
			{"id":"p9","symbol":"BTC-USDT","side":"LONG","size":"1","totalPnl":"3","exitType":"CLOSE","createdAt":1700000500000},
			{"id":"p8","symbol":"BTC-USDT","side":"SHORT","size":"1","totalPnl":"-1","exitType":"CLOSE","createdAt":1700000400000}
		]}}`))
	}))
	defer srv.Close()

	page, err := newTestClient(t, srv).FetchLiquidations(context.Background(), ports.PageRequest{
		Account: "acc-1",
		Limit:   2,
		Cursor:  "4",
	})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.False(t, page.Done, "a full raw page keeps paging")
	assert.Equal(t, "5", page.Next)
	assert.Equal(t, time.UnixMilli(1700000400000).UTC(), page.Oldest)
}

func TestFetchClosedPnL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/historical-pnl", r.URL.Path)
		w.Write([]byte(`{"data":{"historicalPnl":[
			{"id":"p1","symbol":"eth-usdt","side":"SHORT","size":"-2","exitPrice":"1900","totalPnl":"200","fee":"1.5","exitType":"CLOSE","createdAt":1700000000000},
			{"id":"p2","symbol":"ETH-USDT","side":"LONG","size":"1","totalPnl":null,"createdAt":1700000001000}
		]}}`))
	}))
	defer srv.Close()

	page, err := newTestClient(t, srv).FetchClosedPnL(context.Background(), ports.PageRequest{Account: "acc-1"})
	require.NoError(t, err)
	assert.True(t, page.Done)
	require.Len(t, page.Records, 2)

	c := page.Records[0]
	assert.Equal(t, "ETH-USDT", c.Symbol)
	assert.Equal(t, domain.Short, c.Side)
	assert.InDelta(t, 2.0, c.Size, 1e-12)
	assert.InDelta(t, 200.0, c.TotalPnL, 1e-9)
	require.NoError(t, domain.ValidateClosedPnL(c))

	// Sin totalPnl no se puede conciliar: la validación lo rechaza.
	assert.Error(t, domain.ValidateClosedPnL(page.Records[1]))
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/account":
			w.Write([]byte(`{"data":{"updatedTime":1700000000000,"positions":[
				{"symbol":"BTC-USDT","side":"LONG","size":"0.5","entryPrice":"30000","unrealizedPnl":"12.5"},
				{"symbol":"ETH-USDT","side":"SHORT","size":"0"}
			]}}`))
		case "/api/v3/account-balance":
			w.Write([]byte(`{"data":{"totalEquityValue":"1500.5","availableBalance":"900","initialMargin":"300"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	snap, err := newTestClient(t, srv).FetchSnapshot(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", snap.Account)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), snap.Timestamp)
	assert.InDelta(t, 1500.5, snap.TotalEquity, 1e-9)
	assert.InDelta(t, 900.0, snap.AvailableBalance, 1e-9)
	assert.InDelta(t, 300.0, snap.MarginBalance, 1e-9)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, domain.PositionSnapshot{Symbol: "BTC-USDT", Side: domain.Long, Size: 0.5, EntryPrice: 30000, Unrealized: 12.5}, snap.Positions[0])
	require.NoError(t, domain.ValidateSnapshot(snap))
}
