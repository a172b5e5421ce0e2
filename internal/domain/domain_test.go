package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseAction(t *testing.T) {
	t.Parallel()

	tests := map[string]Action{
		"BUY":    Buy,
		" buy ":  Buy,
		"long":   Buy,
		"SELL":   Sell,
		"Exit":   Sell,
		"HOLD":   Pass,
		"WAIT":   Pass,
		"NO":     Pass,
		"":       Pass,
		"maybe?": Pass,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseAction(in), in)
	}
}

func TestSignalValidate(t *testing.T) {
	t.Parallel()

	ok := Signal{Symbol: "AAPL", Action: Buy, Confidence: 0.7, Quantity: 10, EntryPrice: 150, StopLoss: 145, Targets: []float64{155, 160}}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Targets = []float64{160, 155}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSignal)

	bad = ok
	bad.Confidence = 1.2
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSignal)

	bad = ok
	bad.Action = Pass
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSignal)

	sell := ok
	sell.Action = Sell
	sell.Targets = []float64{160, 155}
	assert.NoError(t, sell.Validate())
}

func TestCriterionPriorityOrder(t *testing.T) {
	t.Parallel()

	assert.Less(t, Priority(StopLoss{}), Priority(ProfitTarget{}))
	assert.Less(t, Priority(ProfitTarget{}), Priority(TimeBased{}))
	assert.Less(t, Priority(TimeBased{}), Priority(Technical{}))
}

func TestPositionValues(t *testing.T) {
	t.Parallel()

	p := Position{Symbol: "MSFT", Quantity: 10, AvgEntryPrice: 100}
	assert.InDelta(t, 1000.0, p.MarketValue(), 1e-9)
	assert.InDelta(t, 0.0, p.UnrealizedPnL(), 1e-9)

	p.CurrentPrice = 110
	assert.InDelta(t, 100.0, p.UnrealizedPnL(), 1e-9)
	assert.False(t, p.HasStopLoss())

	p.Criteria = []ExitCriterion{
		{Rule: ProfitTarget{Price: 120, Level: 1}, Active: true},
		{Rule: StopLoss{Price: 95, Method: StopPercent}, Active: false},
	}
	assert.False(t, p.HasStopLoss())
	p.Criteria[1].Active = true
	assert.True(t, p.HasStopLoss())
	assert.Len(t, p.ActiveCriteria(), 2)
}

func TestPortfolioCloneIsDeep(t *testing.T) {
	t.Parallel()

	closed := time.Now()
	p := Portfolio{Positions: []Position{{Symbol: "AAPL", Quantity: 1, ClosedAt: &closed, Criteria: []ExitCriterion{{Active: true, Rule: StopLoss{Price: 1}}}}}}
	c := p.Clone()
	c.Positions[0].Quantity = 5
	c.Positions[0].Criteria[0].Active = false

	assert.Equal(t, 1.0, p.Positions[0].Quantity)
	assert.True(t, p.Positions[0].Criteria[0].Active)
}
