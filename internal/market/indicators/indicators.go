// Package indicators computes daily technical indicators from OHLCV bars.
package indicators

import (
	"fmt"
	"math"
	"time"
)

// Bar is one OHLCV period, oldest first in every slice passed to this
// package.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

func closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA calculates the Simple Moving Average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("not enough values: need %d, got %d", period, len(values))
	}

	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// EMASeries returns the Exponential Moving Average at every index from
// period-1 on, seeded with the SMA of the first period values.
func EMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period {
		return nil, fmt.Errorf("not enough values: need %d, got %d", period, len(values))
	}

	multiplier := 2.0 / float64(period+1)
	sma := 0.0
	for i := 0; i < period; i++ {
		sma += values[i]
	}
	ema := sma / float64(period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out, nil
}

// EMA returns the latest Exponential Moving Average.
func EMA(values []float64, period int) (float64, error) {
	s, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return s[len(s)-1], nil
}

// RSI calculates the Relative Strength Index with Wilder's smoothing.
func RSI(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period+1 {
		return 0, fmt.Errorf("not enough values: need %d, got %d", period+1, len(values))
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
	}

	if loss == 0 {
		if gain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := gain / loss
	return 100 - 100/(1+rs), nil
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(values []float64, fast, slow, signal int) (macd, sig, hist float64, err error) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return 0, 0, 0, fmt.Errorf("invalid MACD periods %d/%d/%d", fast, slow, signal)
	}
	if len(values) < slow+signal-1 {
		return 0, 0, 0, fmt.Errorf("not enough values: need %d, got %d", slow+signal-1, len(values))
	}

	fastS, err := EMASeries(values, fast)
	if err != nil {
		return 0, 0, 0, err
	}
	slowS, err := EMASeries(values, slow)
	if err != nil {
		return 0, 0, 0, err
	}

	// Align both series on the slow EMA's first index.
	offset := slow - fast
	line := make([]float64, len(slowS))
	for i := range slowS {
		line[i] = fastS[i+offset] - slowS[i]
	}

	sigS, err := EMASeries(line, signal)
	if err != nil {
		return 0, 0, 0, err
	}
	macd = line[len(line)-1]
	sig = sigS[len(sigS)-1]
	return macd, sig, macd - sig, nil
}

// ATR calculates the Average True Range for the given period using
// Wilder's smoothing. It needs period+1 bars because the true range uses
// the previous close.
func ATR(bars []Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("not enough bars: need %d, got %d", period+1, len(bars))
	}

	trueRanges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trueRanges = append(trueRanges, trueRange(bars[i], bars[i-1]))
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += trueRanges[i]
	}
	atr := sum / float64(period)

	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr, nil
}

func trueRange(current, previous Bar) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}

// VWAP is the volume-weighted typical price over the last period bars.
func VWAP(bars []Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("not enough bars: need %d, got %d", period, len(bars))
	}

	var pv, vol float64
	for _, b := range bars[len(bars)-period:] {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return 0, fmt.Errorf("no volume in last %d bars", period)
	}
	return pv / vol, nil
}

// AverageVolume is the mean volume of the last period bars.
func AverageVolume(bars []Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("not enough bars: need %d, got %d", period, len(bars))
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Volume
	}
	return sum / float64(period), nil
}
