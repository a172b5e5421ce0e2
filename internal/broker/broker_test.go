package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/market"
)

func quotes() *market.Static {
	s := market.NewStatic()
	s.SetQuote(market.Quote{Symbol: "AAPL", Price: 150, Bid: 149.9, Ask: 150.1, Timestamp: time.Now()})
	s.SetQuote(market.Quote{Symbol: "LAST", Price: 20, Timestamp: time.Now()})
	return s
}

func TestSimFillsAgainstTheTrader(t *testing.T) {
	t.Parallel()

	b := NewSim(quotes(), SimConfig{SlippageBps: 10, FeePerShare: 0.005, MinFee: 1})

	buy, err := b.Submit(context.Background(), domain.Order{ID: "o1", Symbol: "AAPL", Action: domain.Buy, Quantity: 100, Price: 150})
	require.NoError(t, err)
	assert.Equal(t, domain.Filled, buy.Status)
	assert.InDelta(t, 150.1*1.001, buy.Price, 1e-4)
	assert.Equal(t, 1.0, buy.Fees)
	assert.Equal(t, "o1", buy.OrderID)
	assert.NotEmpty(t, buy.ID)

	sell, err := b.Submit(context.Background(), domain.Order{Symbol: "AAPL", Action: domain.Sell, Quantity: 1000})
	require.NoError(t, err)
	assert.InDelta(t, 149.9*0.999, sell.Price, 1e-4)
	assert.Equal(t, 5.0, sell.Fees)

	last, err := b.Submit(context.Background(), domain.Order{Symbol: "LAST", Action: domain.Buy, Quantity: 1})
	require.NoError(t, err)
	assert.InDelta(t, 20.02, last.Price, 1e-9)

	assert.Len(t, b.Fills(), 3)
}

func TestSimRejects(t *testing.T) {
	t.Parallel()

	b := NewSim(quotes(), SimConfig{})

	_, err := b.Submit(context.Background(), domain.Order{Symbol: "AAPL", Action: domain.Buy})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = b.Submit(context.Background(), domain.Order{Symbol: "AAPL", Action: domain.Pass, Quantity: 1})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = b.Submit(context.Background(), domain.Order{Symbol: "NOPE", Action: domain.Buy, Quantity: 1})
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestSimLatencyHonorsContext(t *testing.T) {
	t.Parallel()

	b := NewSim(quotes(), SimConfig{Latency: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Submit(ctx, domain.Order{Symbol: "AAPL", Action: domain.Buy, Quantity: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRESTSubmit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")

		if req.Symbol == "BAD" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"symbol halted"}`))
			return
		}
		assert.Equal(t, "BUY", req.Side)
		assert.Equal(t, "market", req.Type)
		_, _ = w.Write([]byte(`{"id":"x1","status":"FILLED","filled_quantity":10,"average_price":150.2,"fees":1,"executed_at":"2024-05-06T15:00:00Z"}`))
	}))
	defer srv.Close()

	b := NewREST(srv.URL, "k", time.Second)
	tr, err := b.Submit(context.Background(), domain.Order{ID: "o1", Symbol: "AAPL", Action: domain.Buy, Quantity: 10, Price: 150})
	require.NoError(t, err)
	assert.Equal(t, "x1", tr.ID)
	assert.Equal(t, 150.2, tr.Price)
	assert.Equal(t, domain.Filled, tr.Status)

	_, err = b.Submit(context.Background(), domain.Order{Symbol: "BAD", Action: domain.Buy, Quantity: 1})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "symbol halted")
}
