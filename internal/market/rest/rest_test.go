package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/swingtrader/internal/market"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/quotes/AAPL", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","price":150,"bid":149.9,"ask":150.1,"volume":1000,"avg_volume":2000000,"timestamp":"2024-05-06T15:00:00Z"}`))
	})
	mux.HandleFunc("/technicals/AAPL", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rsi":55,"sma50":140,"atr":3}`))
	})
	mux.HandleFunc("/quotes/FAIL", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientQuoteAndTechnicals(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	c := New(srv.URL, "secret", time.Second)

	q, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 150.0, q.Price)
	assert.Equal(t, 149.9, q.Bid)
	assert.Equal(t, time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC), q.Timestamp.UTC())

	tech, err := c.Technicals(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 55.0, tech.RSI)
	assert.Equal(t, 140.0, tech.SMA50)
	assert.Equal(t, 3.0, tech.ATR)
}

func TestClientErrors(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	c := New(srv.URL, "", time.Second)

	_, err := c.Quote(context.Background(), "MISSING")
	assert.ErrorIs(t, err, market.ErrNoData)

	_, err = c.Quote(context.Background(), "FAIL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
