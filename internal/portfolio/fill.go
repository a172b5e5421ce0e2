package portfolio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/id"
)

var (
	ErrInvalidFill = errors.New("invalid fill")
	ErrNoPosition  = errors.New("no open position")
	ErrOversell    = errors.New("sell exceeds position")
	ErrNoStopLoss  = errors.New("open position requires a stop-loss")
)

// qtyEpsilon absorbs float noise when a sell closes a position.
const qtyEpsilon = 1e-9

// applyFill mutates p with t and returns the trade (with realized P&L for
// sells) and the index of the touched position.
func applyFill(p *domain.Portfolio, t domain.Trade, now time.Time) (domain.Trade, int, error) {
	if t.Quantity <= 0 || t.Price <= 0 || t.Fees < 0 {
		return t, -1, fmt.Errorf("%w: %s qty=%v price=%v fees=%v", ErrInvalidFill, t.Symbol, t.Quantity, t.Price, t.Fees)
	}
	if t.Status != domain.Filled && t.Status != domain.Partial {
		return t, -1, fmt.Errorf("%w: %s status %q", ErrInvalidFill, t.Symbol, t.Status)
	}

	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = now
	}

	switch t.Action {
	case domain.Buy:
		return applyBuy(p, t, now)
	case domain.Sell:
		return applySell(p, t, now)
	default:
		return t, -1, fmt.Errorf("%w: action %q", ErrInvalidFill, t.Action)
	}
}

func applyBuy(p *domain.Portfolio, t domain.Trade, now time.Time) (domain.Trade, int, error) {
	qty := decimal.NewFromFloat(t.Quantity)
	price := decimal.NewFromFloat(t.Price)
	cost := qty.Mul(price).Add(decimal.NewFromFloat(t.Fees))

	i := openIndex(p, t.Symbol)
	if i < 0 {
		if t.StopLoss <= 0 {
			return t, -1, fmt.Errorf("%w: %s bought without a stop", ErrNoStopLoss, t.Symbol)
		}
		p.Positions = append(p.Positions, domain.Position{
			ID:            id.NewAt("pos", now),
			PortfolioID:   p.ID,
			Symbol:        t.Symbol,
			Sector:        t.Sector,
			Quantity:      t.Quantity,
			AvgEntryPrice: t.Price,
			CurrentPrice:  t.Price,
			OpenedAt:      now,
			UpdatedAt:     now,
			Criteria: []domain.ExitCriterion{{
				ID:        id.NewAt("exc", now),
				Rule:      domain.StopLoss{Price: t.StopLoss, Method: domain.StopSignal},
				Active:    true,
				CreatedAt: now,
			}},
		})
		i = len(p.Positions) - 1
	} else {
		pos := &p.Positions[i]
		q0 := decimal.NewFromFloat(pos.Quantity)
		a0 := decimal.NewFromFloat(pos.AvgEntryPrice)
		total := q0.Add(qty)
		pos.AvgEntryPrice = q0.Mul(a0).Add(qty.Mul(price)).Div(total).InexactFloat64()
		pos.Quantity = total.InexactFloat64()
		pos.CurrentPrice = t.Price
		pos.UpdatedAt = now
		if pos.Sector == "" {
			pos.Sector = t.Sector
		}
	}

	p.Cash = decimal.NewFromFloat(p.Cash).Sub(cost).InexactFloat64()
	p.UpdatedAt = now
	return t, i, nil
}

func applySell(p *domain.Portfolio, t domain.Trade, now time.Time) (domain.Trade, int, error) {
	i := openIndex(p, t.Symbol)
	if i < 0 {
		return t, -1, fmt.Errorf("%w for %s", ErrNoPosition, t.Symbol)
	}
	pos := &p.Positions[i]
	if t.Quantity > pos.Quantity+qtyEpsilon {
		return t, -1, fmt.Errorf("%w: %s sell %v > held %v", ErrOversell, t.Symbol, t.Quantity, pos.Quantity)
	}

	qty := decimal.NewFromFloat(t.Quantity)
	price := decimal.NewFromFloat(t.Price)
	fees := decimal.NewFromFloat(t.Fees)
	avg := decimal.NewFromFloat(pos.AvgEntryPrice)

	realized := price.Sub(avg).Mul(qty).Sub(fees)
	t.RealizedPnL = realized.InexactFloat64()

	pos.RealizedPnL = decimal.NewFromFloat(pos.RealizedPnL).Add(realized).InexactFloat64()
	pos.Quantity = decimal.NewFromFloat(pos.Quantity).Sub(qty).InexactFloat64()
	pos.CurrentPrice = t.Price
	pos.UpdatedAt = now
	if math.Abs(pos.Quantity) < qtyEpsilon {
		pos.Quantity = 0
		closed := now
		pos.ClosedAt = &closed
		for k := range pos.Criteria {
			pos.Criteria[k].Active = false
		}
	}

	p.Cash = decimal.NewFromFloat(p.Cash).Add(qty.Mul(price)).Sub(fees).InexactFloat64()
	p.UpdatedAt = now
	return t, i, nil
}

// replaceCriteria swaps the criteria of the open position for symbol.
func replaceCriteria(p *domain.Portfolio, symbol string, criteria []domain.ExitCriterion, now time.Time) (int, error) {
	i := openIndex(p, symbol)
	if i < 0 {
		return -1, fmt.Errorf("%w for %s", ErrNoPosition, symbol)
	}

	next := make([]domain.ExitCriterion, len(criteria))
	hasStop := false
	for k, c := range criteria {
		if c.Rule == nil {
			return -1, fmt.Errorf("criterion %d for %s has no rule", k, symbol)
		}
		if c.ID == "" {
			c.ID = id.NewAt("exc", now)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.Active && c.Kind() == domain.StopLossKind {
			hasStop = true
		}
		next[k] = c
	}
	if !hasStop {
		return -1, fmt.Errorf("%w: %s", ErrNoStopLoss, symbol)
	}

	p.Positions[i].Criteria = next
	p.Positions[i].UpdatedAt = now
	return i, nil
}

// markPrices revalues open positions; symbols without a price keep their
// last mark.
func markPrices(p *domain.Portfolio, prices map[string]float64, now time.Time) []int {
	var touched []int
	for i := range p.Positions {
		pos := &p.Positions[i]
		if !pos.IsOpen() {
			continue
		}
		if px, ok := prices[pos.Symbol]; ok && px > 0 {
			pos.CurrentPrice = px
			pos.UpdatedAt = now
			touched = append(touched, i)
		}
	}
	return touched
}

func openIndex(p *domain.Portfolio, symbol string) int {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol && p.Positions[i].IsOpen() {
			return i
		}
	}
	return -1
}

// rollAnchors resets the day and week opening values at the first
// mutation after a local date or ISO week change, and lifts the peak.
func rollAnchors(p *domain.Portfolio, now time.Time) (dayRolled bool) {
	total := Project(*p).TotalValue

	if p.DayAnchor.IsZero() || !sameDay(p.DayAnchor.In(now.Location()), now) {
		p.DayOpenValue = total
		p.DayAnchor = now
		dayRolled = true
	}
	if p.WeekAnchor.IsZero() || !sameWeek(p.WeekAnchor.In(now.Location()), now) {
		p.WeekOpenValue = total
		p.WeekAnchor = now
	}
	if total > p.PeakValue {
		p.PeakValue = total
	}
	return dayRolled
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}
