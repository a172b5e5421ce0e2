package domain

import "time"

// Order is what the pipeline submits to the execution collaborator.
type Order struct {
	ID          string
	PortfolioID string
	Symbol      string
	Sector      string
	Action      Action
	Quantity    float64
	Price       float64 // reference price; the fill may differ
	StopLoss    float64
	Reason      string
	CreatedAt   time.Time
}

type TradeStatus string

const (
	Filled   TradeStatus = "FILLED"
	Partial  TradeStatus = "PARTIAL"
	Rejected TradeStatus = "REJECTED"
)

// Trade is an executed fill as reported by the broker. RealizedPnL is set
// by the portfolio when a SELL is applied.
type Trade struct {
	ID          string
	OrderID     string
	PortfolioID string
	Symbol      string
	Sector      string
	Action      Action
	Quantity    float64
	Price       float64
	Fees        float64
	StopLoss    float64
	RealizedPnL float64
	Status      TradeStatus
	Reason      string
	ExecutedAt  time.Time
}

// Notional is quantity times fill price, excluding fees.
func (t Trade) Notional() float64 { return t.Quantity * t.Price }
