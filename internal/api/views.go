package api

import (
	"time"

	"github.com/rustyeddy/swingtrader/internal/domain"
)

type criterionView struct {
	ID        string               `json:"id,omitempty"`
	Kind      domain.CriterionKind `json:"kind"`
	Method    domain.StopMethod    `json:"method,omitempty"`
	Level     int                  `json:"level,omitempty"`
	Price     float64              `json:"price,omitempty"`
	Deadline  *time.Time           `json:"deadline,omitempty"`
	Indicator string               `json:"indicator,omitempty"`
	Active    bool                 `json:"active"`
}

type positionView struct {
	Symbol        string          `json:"symbol"`
	Sector        string          `json:"sector"`
	Quantity      float64         `json:"quantity"`
	AvgEntryPrice float64         `json:"avg_entry_price"`
	CurrentPrice  float64         `json:"current_price"`
	MarketValue   float64         `json:"market_value"`
	UnrealizedPnL float64         `json:"unrealized_pnl"`
	RealizedPnL   float64         `json:"realized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	Criteria      []criterionView `json:"criteria"`
}

type metricsView struct {
	TotalValue         float64            `json:"total_value"`
	Cash               float64            `json:"cash"`
	PositionsValue     float64            `json:"positions_value"`
	UnrealizedPnL      float64            `json:"unrealized_pnl"`
	RealizedPnL        float64            `json:"realized_pnl"`
	DailyPnL           float64            `json:"daily_pnl"`
	WeeklyPnL          float64            `json:"weekly_pnl"`
	TotalPnL           float64            `json:"total_pnl"`
	DrawdownPct        float64            `json:"drawdown_pct"`
	OpenPositions      int                `json:"open_positions"`
	SectorExposure     map[string]float64 `json:"sector_exposure"`
	LargestPosition    string             `json:"largest_position,omitempty"`
	LargestPositionPct float64            `json:"largest_position_pct"`
}

type portfolioView struct {
	ID        string         `json:"id"`
	Cash      float64        `json:"cash"`
	Metrics   metricsView    `json:"metrics"`
	Positions []positionView `json:"positions"`
	TakenAt   time.Time      `json:"taken_at"`
}

func criterionViewOf(c domain.ExitCriterion) criterionView {
	v := criterionView{ID: c.ID, Kind: c.Kind(), Active: c.Active}
	switch r := c.Rule.(type) {
	case domain.StopLoss:
		v.Price, v.Method = r.Price, r.Method
	case domain.ProfitTarget:
		v.Price, v.Level = r.Price, r.Level
	case domain.TimeBased:
		d := r.Deadline
		v.Deadline = &d
	case domain.Technical:
		v.Indicator = r.Indicator
	}
	return v
}

func positionViewOf(p domain.Position) positionView {
	v := positionView{
		Symbol:        p.Symbol,
		Sector:        p.Sector,
		Quantity:      p.Quantity,
		AvgEntryPrice: p.AvgEntryPrice,
		CurrentPrice:  p.CurrentPrice,
		MarketValue:   p.MarketValue(),
		UnrealizedPnL: p.UnrealizedPnL(),
		RealizedPnL:   p.RealizedPnL,
		OpenedAt:      p.OpenedAt,
		Criteria:      make([]criterionView, len(p.Criteria)),
	}
	for i, c := range p.Criteria {
		v.Criteria[i] = criterionViewOf(c)
	}
	return v
}

func portfolioViewOf(s domain.PortfolioSnapshot) portfolioView {
	m := s.Metrics
	exposure := m.SectorExposure
	if exposure == nil {
		exposure = map[string]float64{}
	}
	open := s.Portfolio.OpenPositions()
	v := portfolioView{
		ID:   s.Portfolio.ID,
		Cash: s.Portfolio.Cash,
		Metrics: metricsView{
			TotalValue:         m.TotalValue,
			Cash:               m.Cash,
			PositionsValue:     m.PositionsValue,
			UnrealizedPnL:      m.UnrealizedPnL,
			RealizedPnL:        m.RealizedPnL,
			DailyPnL:           m.DailyPnL,
			WeeklyPnL:          m.WeeklyPnL,
			TotalPnL:           m.TotalPnL,
			DrawdownPct:        m.DrawdownPct,
			OpenPositions:      m.OpenPositions,
			SectorExposure:     exposure,
			LargestPosition:    m.LargestPosition,
			LargestPositionPct: m.LargestPositionPct,
		},
		Positions: make([]positionView, len(open)),
		TakenAt:   s.TakenAt,
	}
	for i, p := range open {
		v.Positions[i] = positionViewOf(p)
	}
	return v
}
