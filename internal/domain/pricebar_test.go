package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteBars(start time.Time, closes ...float64) []PriceBar {
	bars := make([]PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = PriceBar{
			Venue: "hyperliquid", Symbol: "BTC-USDC", Timeframe: CanonicalTimeframe,
			Start: start.Add(time.Duration(i) * time.Minute),
			Open:  c - 1, High: c + 2, Low: c - 2, Close: c, Volume: 1,
		}
	}
	return bars
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("15M")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, tf.Duration())

	tf, err = ParseTimeframe("1h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tf.Duration())

	_, err = ParseTimeframe("m")
	assert.Error(t, err)
	_, err = ParseTimeframe("5w")
	assert.Error(t, err)
}

func TestResample_FiveMinute(t *testing.T) {
	bars := minuteBars(t0, 100, 101, 105, 99, 102, 103)
	out := Resample(bars, "5m")
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, t0, first.Start)
	assert.Equal(t, Timeframe("5m"), first.Timeframe)
	assert.Equal(t, 99.0, first.Open)
	assert.Equal(t, 107.0, first.High)
	assert.Equal(t, 97.0, first.Low)
	assert.Equal(t, 102.0, first.Close)
	assert.Equal(t, 5.0, first.Volume)

	assert.Equal(t, t0.Add(5*time.Minute), out[1].Start)
	assert.Equal(t, 103.0, out[1].Close)
}

func TestResample_Empty(t *testing.T) {
	assert.Nil(t, Resample(nil, "1h"))
}

func TestMissingBars(t *testing.T) {
	bars := minuteBars(t0, 1, 2, 3, 4)
	bars = append(bars[:2], bars[3:]...) // drop 10:02

	missing := MissingBars(bars, CanonicalTimeframe, t0.Add(15*time.Second), t0.Add(3*time.Minute+30*time.Second))
	require.Len(t, missing, 1)
	assert.Equal(t, t0.Add(2*time.Minute), missing[0])

	assert.Empty(t, MissingBars(minuteBars(t0, 1, 2), CanonicalTimeframe, t0, t0.Add(time.Minute)))
}
