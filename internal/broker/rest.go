package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rustyeddy/swingtrader/internal/domain"
)

// REST submits orders to an HTTP execution gateway:
//
//	POST {base}/orders  body: orderRequest  -> fillResponse
type REST struct {
	client *resty.Client
}

func NewREST(baseURL, apiKey string, timeout time.Duration) *REST {
	c := resty.New()
	c.SetBaseURL(baseURL)
	c.SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &REST{client: c}
}

type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	Type          string  `json:"type"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
}

type fillResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Quantity   float64   `json:"filled_quantity"`
	Price      float64   `json:"average_price"`
	Fees       float64   `json:"fees"`
	Reason     string    `json:"reason,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (b *REST) Submit(ctx context.Context, o domain.Order) (domain.Trade, error) {
	var fill fillResponse
	var apiErr errorResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(orderRequest{
			ClientOrderID: o.ID,
			Symbol:        o.Symbol,
			Side:          string(o.Action),
			Quantity:      o.Quantity,
			Type:          "market",
			StopLoss:      o.StopLoss,
		}).
		SetResult(&fill).
		SetError(&apiErr).
		Post("/orders")
	if err != nil {
		return domain.Trade{}, fmt.Errorf("submit %s: %w", o.Symbol, err)
	}
	if resp.IsError() {
		return domain.Trade{}, fmt.Errorf("%w: %s: status %d: %s", ErrRejected, o.Symbol, resp.StatusCode(), apiErr.Message)
	}

	status := domain.TradeStatus(fill.Status)
	switch status {
	case domain.Filled, domain.Partial:
	case domain.Rejected:
		return domain.Trade{}, fmt.Errorf("%w: %s: %s", ErrRejected, o.Symbol, fill.Reason)
	default:
		return domain.Trade{}, fmt.Errorf("submit %s: unexpected status %q", o.Symbol, fill.Status)
	}
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return domain.Trade{}, fmt.Errorf("submit %s: empty fill", o.Symbol)
	}

	executed := fill.ExecutedAt
	if executed.IsZero() {
		executed = time.Now()
	}
	return domain.Trade{
		ID:          fill.ID,
		OrderID:     o.ID,
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Sector:      o.Sector,
		Action:      o.Action,
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		Fees:        fill.Fees,
		StopLoss:    o.StopLoss,
		Status:      status,
		Reason:      o.Reason,
		ExecutedAt:  executed,
	}, nil
}
