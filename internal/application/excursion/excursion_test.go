package excursion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurrr/trade-journal/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func bar(minute int, high, low, close float64) domain.PriceBar {
	return domain.PriceBar{
		Venue: "hyperliquid", Symbol: "BTC-USDC", Timeframe: domain.CanonicalTimeframe,
		Start: t0.Add(time.Duration(minute) * time.Minute),
		Open:  close, High: high, Low: low, Close: close,
	}
}

func leg(role domain.LegRole, side domain.Side, price, size float64, at time.Duration) domain.TradeLeg {
	return domain.TradeLeg{Role: role, Side: side, Price: price, Size: size, Timestamp: t0.Add(at)}
}

func trade(side domain.PositionSide, realized float64, legs ...domain.TradeLeg) domain.Trade {
	return domain.Trade{
		ID: "t", Symbol: "BTC-USDC", Side: side, Status: domain.TradeClosed,
		EntryTime: legs[0].Timestamp, ExitTime: legs[len(legs)-1].Timestamp,
		RealizedPnL: realized, Legs: legs,
	}
}

func TestCompute_SameBarUsesFillPricesOnly(t *testing.T) {
	tr := trade(domain.Long, 5,
		leg(domain.LegEntry, domain.SideBuy, 100, 1, 10*time.Second),
		leg(domain.LegExit, domain.SideSell, 105, 1, 40*time.Second),
	)
	// El rango de la vela se ignora aunque sea mucho más ancho.
	ex, err := Compute(tr, []domain.PriceBar{bar(0, 200, 50, 120)})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, ex.MAE, 1e-9)
	assert.InDelta(t, 5.0, ex.MFE, 1e-9)
	assert.InDelta(t, 0.0, ex.ETD, 1e-9)
}

func TestCompute_LongAcrossBars(t *testing.T) {
	tr := trade(domain.Long, 4,
		leg(domain.LegEntry, domain.SideBuy, 100, 1, 30*time.Second),
		leg(domain.LegExit, domain.SideSell, 104, 1, 2*time.Minute+10*time.Second),
	)
	bars := []domain.PriceBar{
		bar(0, 103, 99, 102),
		bar(1, 110, 95, 104),
		bar(2, 150, 50, 104), // el rango de la vela de salida no se muestrea
	}
	ex, err := Compute(tr, bars)
	require.NoError(t, err)
	assert.InDelta(t, -5.0, ex.MAE, 1e-9)
	assert.InDelta(t, 10.0, ex.MFE, 1e-9)
	assert.InDelta(t, 6.0, ex.ETD, 1e-9)
	assert.LessOrEqual(t, ex.MAE, tr.RealizedPnL)
	assert.GreaterOrEqual(t, ex.MFE, tr.RealizedPnL)
}

func TestCompute_ShortInvertsExtremes(t *testing.T) {
	tr := trade(domain.Short, 2,
		leg(domain.LegEntry, domain.SideSell, 100, 1, 0),
		leg(domain.LegExit, domain.SideBuy, 98, 1, 2*time.Minute),
	)
	bars := []domain.PriceBar{bar(0, 101, 99, 100), bar(1, 110, 90, 100), bar(2, 99, 97, 98)}
	ex, err := Compute(tr, bars)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, ex.MAE, 1e-9)
	assert.InDelta(t, 10.0, ex.MFE, 1e-9)
	assert.InDelta(t, 8.0, ex.ETD, 1e-9)
}

func TestCompute_ScaleInsideInteriorBar(t *testing.T) {
	tr := trade(domain.Long, 6,
		leg(domain.LegEntry, domain.SideBuy, 100, 1, 0),
		leg(domain.LegEntry, domain.SideBuy, 100, 1, time.Minute+30*time.Second),
		leg(domain.LegExit, domain.SideSell, 103, 2, 2*time.Minute),
	)
	bars := []domain.PriceBar{bar(0, 100, 100, 100), bar(1, 105, 98, 101), bar(2, 103, 103, 103)}
	ex, err := Compute(tr, bars)
	require.NoError(t, err)
	// Tras ampliar, el high de la vela se evalúa sobre 2 unidades.
	assert.InDelta(t, 10.0, ex.MFE, 1e-9)
	assert.InDelta(t, -4.0, ex.MAE, 1e-9)
	assert.InDelta(t, 4.0, ex.ETD, 1e-9)
}

func TestCompute_CoverageGap(t *testing.T) {
	tr := trade(domain.Long, 4,
		leg(domain.LegEntry, domain.SideBuy, 100, 1, 0),
		leg(domain.LegExit, domain.SideSell, 104, 1, 3*time.Minute),
	)
	_, err := Compute(tr, []domain.PriceBar{bar(0, 1, 1, 1), bar(1, 1, 1, 1), bar(3, 1, 1, 1)})
	require.ErrorIs(t, err, domain.ErrPriceCoverageGap)
}

func TestCompute_NoLegs(t *testing.T) {
	_, err := Compute(domain.Trade{ID: "x"}, nil)
	assert.Error(t, err)
}
