package indicators

// Set is the indicator bundle used by screening and exit evaluation.
// Fields that could not be computed for lack of history are zero.
type Set struct {
	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	SMA20      float64
	SMA50      float64
	SMA200     float64
	EMA20      float64
	ATR        float64
	VWAP       float64
	AvgVolume  float64
	Bars       int
}

// Compute derives the standard daily indicator set: RSI(14),
// MACD(12,26,9), SMA 20/50/200, EMA(20), ATR(14), 20-day VWAP and
// 20-day average volume.
func Compute(bars []Bar) Set {
	s := Set{Bars: len(bars)}
	c := closes(bars)

	s.RSI, _ = RSI(c, 14)
	s.MACD, s.MACDSignal, s.MACDHist, _ = MACD(c, 12, 26, 9)
	s.SMA20, _ = SMA(c, 20)
	s.SMA50, _ = SMA(c, 50)
	s.SMA200, _ = SMA(c, 200)
	s.EMA20, _ = EMA(c, 20)
	s.ATR, _ = ATR(bars, 14)
	s.VWAP, _ = VWAP(bars, 20)
	s.AvgVolume, _ = AverageVolume(bars, 20)
	return s
}
