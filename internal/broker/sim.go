package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/id"
	"github.com/rustyeddy/swingtrader/internal/market"
)

// Quoter is the slice of market.Provider the simulator needs.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

type SimConfig struct {
	SlippageBps float64
	FeePerShare float64
	MinFee      float64
	Latency     time.Duration
}

// Sim fills market orders against the current quote: buys on the ask,
// sells on the bid, each moved against the trader by SlippageBps.
type Sim struct {
	cfg    SimConfig
	quotes Quoter
	now    func() time.Time

	mu     sync.Mutex
	trades []domain.Trade
}

func NewSim(q Quoter, cfg SimConfig) *Sim {
	return &Sim{cfg: cfg, quotes: q, now: time.Now}
}

func (s *Sim) Submit(ctx context.Context, o domain.Order) (domain.Trade, error) {
	if o.Quantity <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: quantity must be positive", ErrRejected)
	}
	if o.Action != domain.Buy && o.Action != domain.Sell {
		return domain.Trade{}, fmt.Errorf("%w: action %q", ErrRejected, o.Action)
	}

	if s.cfg.Latency > 0 {
		t := time.NewTimer(s.cfg.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.Trade{}, ctx.Err()
		case <-t.C:
		}
	}

	q, err := s.quotes.Quote(ctx, o.Symbol)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("%w %s: %v", ErrNoPrice, o.Symbol, err)
	}

	var ref float64
	if o.Action == domain.Buy {
		ref = q.BuyPrice()
	} else {
		ref = q.SellPrice()
	}
	if ref <= 0 {
		ref = o.Price
	}
	if ref <= 0 {
		return domain.Trade{}, fmt.Errorf("%w %s", ErrNoPrice, o.Symbol)
	}

	now := s.now()
	tr := domain.Trade{
		ID:          id.NewAt("trd", now),
		OrderID:     o.ID,
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Sector:      o.Sector,
		Action:      o.Action,
		Quantity:    o.Quantity,
		Price:       s.fillPrice(o.Action, ref),
		Fees:        s.fees(o.Quantity),
		StopLoss:    o.StopLoss,
		Status:      domain.Filled,
		Reason:      o.Reason,
		ExecutedAt:  now,
	}

	s.mu.Lock()
	s.trades = append(s.trades, tr)
	s.mu.Unlock()
	return tr, nil
}

// Fills returns every trade the simulator has executed.
func (s *Sim) Fills() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.trades...)
}

func (s *Sim) fillPrice(a domain.Action, ref float64) float64 {
	p := decimal.NewFromFloat(ref)
	slip := p.Mul(decimal.NewFromFloat(s.cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
	if a == domain.Buy {
		p = p.Add(slip)
	} else {
		p = p.Sub(slip)
	}
	return p.Round(4).InexactFloat64()
}

func (s *Sim) fees(qty float64) float64 {
	f := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(s.cfg.FeePerShare))
	if floor := decimal.NewFromFloat(s.cfg.MinFee); f.LessThan(floor) {
		f = floor
	}
	return f.Round(2).InexactFloat64()
}
