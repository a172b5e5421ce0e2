// Package market defines the market-data collaborator: quotes, technical
// indicators, and the freshness and timeout guards the pipeline wraps
// around every call.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/swingtrader/internal/market/indicators"
)

var (
	ErrNoData = errors.New("no market data")
	ErrStale  = errors.New("market data is stale")
)

// DefaultMaxAge is how old a quote may be before it is rejected.
const DefaultMaxAge = 15 * time.Minute

type Quote struct {
	Symbol    string
	Price     float64
	Bid       float64
	Ask       float64
	Volume    float64
	AvgVolume float64
	Timestamp time.Time
}

// SpreadPercent is (ask-bid)/mid in percent, 0 when bid/ask are missing.
func (q Quote) SpreadPercent() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return 0
	}
	mid := (q.Bid + q.Ask) / 2
	return (q.Ask - q.Bid) / mid * 100
}

// BuyPrice is the ask when quoted, else the last price.
func (q Quote) BuyPrice() float64 {
	if q.Ask > 0 {
		return q.Ask
	}
	return q.Price
}

// SellPrice is the bid when quoted, else the last price.
func (q Quote) SellPrice() float64 {
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Price
}

type Technicals = indicators.Set

// Provider is the market-data collaborator.
type Provider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Technicals(ctx context.Context, symbol string) (Technicals, error)
}

// Snapshot is everything the pipeline knows about a symbol at one point.
type Snapshot struct {
	Symbol     string
	Sector     string
	Quote      Quote
	Technicals Technicals
}

func (s Snapshot) Price() float64 { return s.Quote.Price }

// ATRPercent is ATR as a percent of price.
func (s Snapshot) ATRPercent() float64 {
	if s.Quote.Price <= 0 {
		return 0
	}
	return s.Technicals.ATR / s.Quote.Price * 100
}

// Indicator looks up a technical value by its lowercase name.
func (s Snapshot) Indicator(name string) (float64, bool) {
	v, ok := Indicators(s.Technicals)[name]
	return v, ok && v != 0
}

// Indicators flattens a technicals bundle for prompts and audit records.
func Indicators(t Technicals) map[string]float64 {
	return map[string]float64{
		"rsi":         t.RSI,
		"macd":        t.MACD,
		"macd_signal": t.MACDSignal,
		"macd_hist":   t.MACDHist,
		"sma20":       t.SMA20,
		"sma50":       t.SMA50,
		"sma200":      t.SMA200,
		"ema20":       t.EMA20,
		"atr":         t.ATR,
		"vwap":        t.VWAP,
		"avg_volume":  t.AvgVolume,
	}
}

// TechnicalsFrom rebuilds a technicals bundle from the map produced by
// Indicators. Unknown keys are ignored.
func TechnicalsFrom(m map[string]float64) Technicals {
	return Technicals{
		RSI:        m["rsi"],
		MACD:       m["macd"],
		MACDSignal: m["macd_signal"],
		MACDHist:   m["macd_hist"],
		SMA20:      m["sma20"],
		SMA50:      m["sma50"],
		SMA200:     m["sma200"],
		EMA20:      m["ema20"],
		ATR:        m["atr"],
		VWAP:       m["vwap"],
		AvgVolume:  m["avg_volume"],
	}
}

// Fetcher wraps a Provider with a per-call timeout and a freshness guard.
type Fetcher struct {
	Provider Provider
	Timeout  time.Duration
	MaxAge   time.Duration
	Sectors  func(symbol string) string
	Now      func() time.Time
}

// Snapshot fetches quote and technicals for symbol. A quote older than
// MaxAge fails with ErrStale.
func (f *Fetcher) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	q, err := f.Provider.Quote(ctx, symbol)
	if err != nil {
		return Snapshot{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if err := f.checkFresh(q); err != nil {
		return Snapshot{}, err
	}

	t, err := f.Provider.Technicals(ctx, symbol)
	if err != nil {
		return Snapshot{}, fmt.Errorf("technicals %s: %w", symbol, err)
	}

	snap := Snapshot{Symbol: symbol, Quote: q, Technicals: t}
	if f.Sectors != nil {
		snap.Sector = f.Sectors(symbol)
	}
	return snap, nil
}

func (f *Fetcher) checkFresh(q Quote) error {
	if q.Price <= 0 {
		return fmt.Errorf("quote %s: %w: non-positive price", q.Symbol, ErrNoData)
	}
	maxAge := f.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	if age := now().Sub(q.Timestamp); q.Timestamp.IsZero() || age > maxAge {
		return fmt.Errorf("quote %s: %w (as of %s)", q.Symbol, ErrStale, q.Timestamp.Format(time.RFC3339))
	}
	return nil
}
