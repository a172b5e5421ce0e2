// Package yahoo is a market.Provider backed by the Yahoo Finance quote and
// chart endpoints.
package yahoo

import (
	"context"
	"fmt"
	"sync"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"

	"github.com/rustyeddy/swingtrader/internal/market"
	"github.com/rustyeddy/swingtrader/internal/market/indicators"
)

// DefaultHistory is enough daily bars for a 200-day moving average.
const DefaultHistory = 300

// Provider fetches quotes and daily bars. Technicals are computed from the
// bars and cached for the trading day.
type Provider struct {
	history int
	now     func() time.Time

	// swapped out in tests
	getQuote func(symbol string) (*finance.Quote, error)
	getBars  func(symbol string, start, end time.Time) ([]indicators.Bar, error)

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	day  string
	tech market.Technicals
}

func New(historyDays int) *Provider {
	if historyDays <= 0 {
		historyDays = DefaultHistory
	}
	return &Provider{
		history:  historyDays,
		now:      time.Now,
		getQuote: quote.Get,
		getBars:  fetchBars,
		cache:    make(map[string]cached),
	}
}

func (p *Provider) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	q, err := call(ctx, func() (*finance.Quote, error) { return p.getQuote(symbol) })
	if err != nil {
		return market.Quote{}, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	if q == nil {
		return market.Quote{}, fmt.Errorf("yahoo quote %s: %w", symbol, market.ErrNoData)
	}
	return toQuote(q), nil
}

func (p *Provider) Technicals(ctx context.Context, symbol string) (market.Technicals, error) {
	end := p.now()
	day := end.Format("2006-01-02")

	p.mu.Lock()
	c, ok := p.cache[symbol]
	p.mu.Unlock()
	if ok && c.day == day {
		return c.tech, nil
	}

	start := end.AddDate(0, 0, -p.history)
	bars, err := call(ctx, func() ([]indicators.Bar, error) { return p.getBars(symbol, start, end) })
	if err != nil {
		return market.Technicals{}, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return market.Technicals{}, fmt.Errorf("yahoo chart %s: %w", symbol, market.ErrNoData)
	}

	tech := indicators.Compute(bars)
	p.mu.Lock()
	p.cache[symbol] = cached{day: day, tech: tech}
	p.mu.Unlock()
	return tech, nil
}

func toQuote(q *finance.Quote) market.Quote {
	ts := time.Unix(int64(q.RegularMarketTime), 0)
	if q.RegularMarketTime == 0 {
		ts = time.Time{}
	}
	return market.Quote{
		Symbol:    q.Symbol,
		Price:     q.RegularMarketPrice,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Volume:    float64(q.RegularMarketVolume),
		AvgVolume: float64(q.AverageDailyVolume3Month),
		Timestamp: ts,
	}
}

func fetchBars(symbol string, start, end time.Time) ([]indicators.Bar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var bars []indicators.Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, indicators.Bar{
			Time:   time.Unix(int64(b.Timestamp), 0),
			Open:   b.Open.InexactFloat64(),
			High:   b.High.InexactFloat64(),
			Low:    b.Low.InexactFloat64(),
			Close:  b.Close.InexactFloat64(),
			Volume: float64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}

// call runs a blocking client call and gives up when ctx is done. The
// finance-go client takes no context, so an abandoned call finishes in
// the background.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
