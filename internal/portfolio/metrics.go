package portfolio

import (
	"github.com/rustyeddy/swingtrader/internal/domain"
)

// Project derives metrics from cash and positions alone. It keeps no
// state and can be re-run on any copy of a portfolio.
func Project(p domain.Portfolio) domain.Metrics {
	m := domain.Metrics{
		Cash:           p.Cash,
		SectorExposure: map[string]float64{},
	}

	sectorValue := map[string]float64{}
	var largest float64
	for _, pos := range p.Positions {
		m.RealizedPnL += pos.RealizedPnL
		if !pos.IsOpen() {
			continue
		}
		mv := pos.MarketValue()
		m.PositionsValue += mv
		m.UnrealizedPnL += pos.UnrealizedPnL()
		m.OpenPositions++
		sectorValue[sectorOf(pos)] += mv
		if mv > largest {
			largest = mv
			m.LargestPosition = pos.Symbol
		}
	}

	m.TotalValue = m.Cash + m.PositionsValue
	m.TotalPnL = m.TotalValue - p.InitialCash
	if p.DayOpenValue > 0 {
		m.DailyPnL = m.TotalValue - p.DayOpenValue
	}
	if p.WeekOpenValue > 0 {
		m.WeeklyPnL = m.TotalValue - p.WeekOpenValue
	}

	peak := p.PeakValue
	if m.TotalValue > peak {
		peak = m.TotalValue
	}
	if peak > 0 {
		m.DrawdownPct = (peak - m.TotalValue) / peak * 100
	}

	if m.TotalValue > 0 {
		m.CashPct = m.Cash / m.TotalValue * 100
		m.LargestPositionPct = largest / m.TotalValue * 100
		for sector, v := range sectorValue {
			m.SectorExposure[sector] = v / m.TotalValue * 100
		}
	}
	return m
}

func sectorOf(p domain.Position) string {
	if p.Sector == "" {
		return "UNKNOWN"
	}
	return p.Sector
}
