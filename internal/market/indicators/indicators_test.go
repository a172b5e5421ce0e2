package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trend builds n daily bars whose close rises by step from start.
func trend(n int, start, step, spread, volume float64) []Bar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, n)
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = Bar{
			Time:   t0.AddDate(0, 0, i),
			Open:   c - step/2,
			High:   c + spread/2,
			Low:    c - spread/2,
			Close:  c,
			Volume: volume,
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	t.Parallel()

	got, err := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-12)

	_, err = SMA([]float64{1, 2}, 3)
	assert.Error(t, err)
	_, err = SMA([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestEMAConstantSeries(t *testing.T) {
	t.Parallel()

	values := []float64{10, 10, 10, 10, 10, 10}
	got, err := EMA(values, 3)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got, 1e-12)

	s, err := EMASeries(values, 3)
	require.NoError(t, err)
	assert.Len(t, s, 4)
}

func TestRSIExtremes(t *testing.T) {
	t.Parallel()

	up := closes(trend(30, 100, 1, 1, 1000))
	got, err := RSI(up, 14)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got, 1e-9)

	down := closes(trend(30, 100, -1, 1, 1000))
	got, err = RSI(down, 14)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got, 1e-9)

	flat := closes(trend(30, 100, 0, 1, 1000))
	got, err = RSI(flat, 14)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, got, 1e-9)
}

func TestMACDPositiveInUptrend(t *testing.T) {
	t.Parallel()

	macd, sig, hist, err := MACD(closes(trend(60, 100, 0.5, 1, 1000)), 12, 26, 9)
	require.NoError(t, err)
	assert.Greater(t, macd, 0.0)
	assert.InDelta(t, macd-sig, hist, 1e-12)

	_, _, _, err = MACD(make([]float64, 10), 12, 26, 9)
	assert.Error(t, err)
}

func TestATRConstantRange(t *testing.T) {
	t.Parallel()

	// With no gaps the true range equals high-low.
	got, err := ATR(trend(30, 100, 0, 2, 1000), 14)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-12)

	_, err = ATR(trend(14, 100, 0, 2, 1000), 14)
	assert.Error(t, err)
}

func TestVWAPAndAverageVolume(t *testing.T) {
	t.Parallel()

	bars := trend(20, 100, 0, 2, 500)
	vwap, err := VWAP(bars, 20)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, vwap, 1e-9)

	avg, err := AverageVolume(bars, 10)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, avg, 1e-12)

	_, err = VWAP(trend(20, 100, 0, 2, 0), 20)
	assert.Error(t, err)
}

func TestComputeShortHistoryLeavesZeros(t *testing.T) {
	t.Parallel()

	s := Compute(trend(60, 100, 0.5, 2, 1000))
	assert.Equal(t, 60, s.Bars)
	assert.Greater(t, s.SMA50, 0.0)
	assert.Zero(t, s.SMA200)
	assert.Greater(t, s.ATR, 0.0)
	assert.InDelta(t, 1000.0, s.AvgVolume, 1e-9)
}
