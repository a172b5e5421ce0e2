package domain

import "time"

type Position struct {
	ID            string
	PortfolioID   string
	Symbol        string
	Sector        string
	Quantity      float64
	AvgEntryPrice float64
	CurrentPrice  float64
	RealizedPnL   float64
	Criteria      []ExitCriterion
	OpenedAt      time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
}

func (p Position) IsOpen() bool { return p.Quantity > 0 }

func (p Position) MarketValue() float64 { return p.Quantity * p.mark() }

func (p Position) CostBasis() float64 { return p.Quantity * p.AvgEntryPrice }

func (p Position) UnrealizedPnL() float64 {
	if !p.IsOpen() {
		return 0
	}
	return (p.mark() - p.AvgEntryPrice) * p.Quantity
}

// mark falls back to the entry price until the first revaluation.
func (p Position) mark() float64 {
	if p.CurrentPrice > 0 {
		return p.CurrentPrice
	}
	return p.AvgEntryPrice
}

// ActiveCriteria returns the criteria still eligible to trigger.
func (p Position) ActiveCriteria() []ExitCriterion {
	out := make([]ExitCriterion, 0, len(p.Criteria))
	for _, c := range p.Criteria {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

func (p Position) HasStopLoss() bool {
	for _, c := range p.Criteria {
		if c.Active && c.Kind() == StopLossKind {
			return true
		}
	}
	return false
}

func (p Position) Clone() Position {
	out := p
	out.Criteria = append([]ExitCriterion(nil), p.Criteria...)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// Portfolio is the authoritative record of cash and positions. The
// anchors (DayOpenValue, WeekOpenValue, PeakValue) are reference points
// for the loss and drawdown limits, not running totals.
type Portfolio struct {
	ID            string
	Name          string
	InitialCash   float64
	Cash          float64
	DayOpenValue  float64
	DayAnchor     time.Time
	WeekOpenValue float64
	WeekAnchor    time.Time
	PeakValue     float64
	Positions     []Position
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p Portfolio) Clone() Portfolio {
	out := p
	out.Positions = make([]Position, len(p.Positions))
	for i, pos := range p.Positions {
		out.Positions[i] = pos.Clone()
	}
	return out
}

// Position returns the open position for symbol, or the most recent
// closed one when nothing is open.
func (p Portfolio) Position(symbol string) (Position, bool) {
	var last Position
	found := false
	for _, pos := range p.Positions {
		if pos.Symbol != symbol {
			continue
		}
		if pos.IsOpen() {
			return pos, true
		}
		last, found = pos, true
	}
	return last, found
}

func (p Portfolio) OpenPositions() []Position {
	out := make([]Position, 0, len(p.Positions))
	for _, pos := range p.Positions {
		if pos.IsOpen() {
			out = append(out, pos)
		}
	}
	return out
}

// Metrics is the read-side projection over cash and positions.
type Metrics struct {
	TotalValue         float64
	PositionsValue     float64
	Cash               float64
	CashPct            float64
	UnrealizedPnL      float64
	RealizedPnL        float64
	DailyPnL           float64
	WeeklyPnL          float64
	TotalPnL           float64
	DrawdownPct        float64
	OpenPositions      int
	SectorExposure     map[string]float64 // percent of total value
	LargestPosition    string
	LargestPositionPct float64
}

// PortfolioSnapshot is an immutable copy handed to readers.
type PortfolioSnapshot struct {
	Portfolio Portfolio
	Metrics   Metrics
	TakenAt   time.Time
}

// Holding returns the open position for symbol, if any.
func (s PortfolioSnapshot) Holding(symbol string) (Position, bool) {
	pos, ok := s.Portfolio.Position(symbol)
	if !ok || !pos.IsOpen() {
		return Position{}, false
	}
	return pos, true
}

// PerformanceSnapshot is the persisted point-in-time record used for
// historical performance queries.
type PerformanceSnapshot struct {
	ID             string
	PortfolioID    string
	TakenAt        time.Time
	TotalValue     float64
	Cash           float64
	PositionsValue float64
	UnrealizedPnL  float64
	RealizedPnL    float64
	DailyPnL       float64
	TotalPnL       float64
	DrawdownPct    float64
	OpenPositions  int
}
