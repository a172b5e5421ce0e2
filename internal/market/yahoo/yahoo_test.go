package yahoo

import (
	"context"
	"errors"
	"testing"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/swingtrader/internal/market"
	"github.com/rustyeddy/swingtrader/internal/market/indicators"
)

func testProvider() *Provider {
	p := New(0)
	p.now = func() time.Time { return time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC) }
	return p
}

func TestQuoteMapping(t *testing.T) {
	t.Parallel()

	p := testProvider()
	p.getQuote = func(symbol string) (*finance.Quote, error) {
		return &finance.Quote{
			Symbol:                   symbol,
			RegularMarketPrice:       150.25,
			Bid:                      150.2,
			Ask:                      150.3,
			RegularMarketVolume:      1200000,
			AverageDailyVolume3Month: 5000000,
			RegularMarketTime:        1714996800,
		}, nil
	}

	q, err := p.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 150.25, q.Price)
	assert.Equal(t, 5000000.0, q.AvgVolume)
	assert.Equal(t, int64(1714996800), q.Timestamp.Unix())
}

func TestQuoteErrors(t *testing.T) {
	t.Parallel()

	p := testProvider()
	p.getQuote = func(string) (*finance.Quote, error) { return nil, nil }
	_, err := p.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, market.ErrNoData)

	boom := errors.New("boom")
	p.getQuote = func(string) (*finance.Quote, error) { return nil, boom }
	_, err = p.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, boom)
}

func TestTechnicalsCachedPerDay(t *testing.T) {
	t.Parallel()

	calls := 0
	p := testProvider()
	p.getBars = func(string, time.Time, time.Time) ([]indicators.Bar, error) {
		calls++
		bars := make([]indicators.Bar, 60)
		for i := range bars {
			c := 100 + float64(i)
			bars[i] = indicators.Bar{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
		}
		return bars, nil
	}

	tech, err := p.Technicals(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.NotZero(t, tech.SMA50)
	assert.Zero(t, tech.SMA200)

	_, err = p.Technicals(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)

	_, err := call(ctx, func() (int, error) {
		<-block
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
