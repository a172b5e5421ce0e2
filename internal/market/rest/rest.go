// Package rest is a market.Provider for a JSON market-data gateway.
//
//	GET {base}/quotes/{symbol}      -> quoteResponse
//	GET {base}/technicals/{symbol}  -> technicalsResponse
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rustyeddy/swingtrader/internal/market"
)

type Client struct {
	client *resty.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	c := resty.New()
	c.SetBaseURL(baseURL)
	c.SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{client: c}
}

type quoteResponse struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    float64   `json:"volume"`
	AvgVolume float64   `json:"avg_volume"`
	Timestamp time.Time `json:"timestamp"`
}

type technicalsResponse struct {
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	SMA20      float64 `json:"sma20"`
	SMA50      float64 `json:"sma50"`
	SMA200     float64 `json:"sma200"`
	EMA20      float64 `json:"ema20"`
	ATR        float64 `json:"atr"`
	VWAP       float64 `json:"vwap"`
	AvgVolume  float64 `json:"avg_volume"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	var out quoteResponse
	if err := c.get(ctx, "/quotes/{symbol}", symbol, &out); err != nil {
		return market.Quote{}, err
	}
	if out.Symbol == "" {
		out.Symbol = symbol
	}
	return market.Quote(out), nil
}

func (c *Client) Technicals(ctx context.Context, symbol string) (market.Technicals, error) {
	var out technicalsResponse
	if err := c.get(ctx, "/technicals/{symbol}", symbol, &out); err != nil {
		return market.Technicals{}, err
	}
	return market.Technicals{
		RSI:        out.RSI,
		MACD:       out.MACD,
		MACDSignal: out.MACDSignal,
		MACDHist:   out.MACDHist,
		SMA20:      out.SMA20,
		SMA50:      out.SMA50,
		SMA200:     out.SMA200,
		EMA20:      out.EMA20,
		ATR:        out.ATR,
		VWAP:       out.VWAP,
		AvgVolume:  out.AvgVolume,
	}, nil
}

func (c *Client) get(ctx context.Context, path, symbol string, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("market %s: %w", symbol, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("market %s: %w", symbol, market.ErrNoData)
	case resp.IsError():
		return fmt.Errorf("market %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}
	return nil
}
