package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/logging"
	"github.com/rustyeddy/swingtrader/internal/portfolio"
)

var now = time.Date(2024, 5, 6, 15, 0, 0, 0, time.Local)

func testRules() *guidelines.RuleSet {
	return &guidelines.RuleSet{
		Version: "test",
		RiskLimits: guidelines.RiskLimits{
			MaxDailyLossPercent:      3,
			MaxWeeklyLossPercent:     6,
			MaxDrawdownPercent:       15,
			MaxOpenPositions:         8,
			MaxSectorExposurePercent: 30,
			MaxPositionSizePercent:   10,
			RiskPerTradePercent:      1,
			MaxDailyRiskEvents:       25,
		},
	}
}

func newValidator(clock *time.Time) *Validator {
	return NewValidator(
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return *clock }),
	)
}

func snapshotOf(p domain.Portfolio) domain.PortfolioSnapshot {
	if p.InitialCash == 0 {
		p.InitialCash = 100000
	}
	return domain.PortfolioSnapshot{Portfolio: p, Metrics: portfolio.Project(p), TakenAt: now}
}

func cashOnly(cash float64) domain.PortfolioSnapshot {
	return snapshotOf(domain.Portfolio{Cash: cash, DayOpenValue: cash, PeakValue: cash})
}

func buy(sym string, qty, entry, stop float64) domain.Signal {
	return domain.Signal{
		Symbol: sym, Sector: "Technology", Action: domain.Buy, Confidence: 0.8,
		Quantity: qty, EntryPrice: entry, StopLoss: stop, Targets: []float64{entry * 1.05},
	}
}

func TestApprovedTradePassesAllSixChecks(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	res := v.ValidateTrade(buy("AAPL", 50, 150, 145), cashOnly(100000), testRules())

	assert.True(t, res.Approved)
	assert.Equal(t, Low, res.RiskLevel)
	assert.Nil(t, res.AdjustedSize)
	require.Len(t, res.Checks, 6)
	names := []string{CheckPositionSize, CheckDailyLoss, CheckDrawdown, CheckSector, CheckRiskPerTrade, CheckOpenPositions}
	for i, c := range res.Checks {
		assert.Equal(t, names[i], c.Name)
		assert.True(t, c.Passed, c.Name)
	}
	rpt, _ := res.Check(CheckRiskPerTrade)
	assert.InDelta(t, 0.25, rpt.Value, 1e-9)
	assert.Zero(t, v.Events().Count(now))
}

func TestOversizedBuyIsResized(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	res := v.ValidateTrade(buy("AAPL", 2000, 150, 145), cashOnly(100000), testRules())

	assert.True(t, res.Approved)
	assert.Equal(t, Medium, res.RiskLevel)
	require.NotNil(t, res.AdjustedSize)
	assert.Equal(t, 66.0, *res.AdjustedSize)
	assert.Equal(t, 66.0, res.Size())

	ps, _ := res.Check(CheckPositionSize)
	assert.False(t, ps.Passed)
	assert.InDelta(t, 300.0, ps.Value, 1e-9)
	assert.Len(t, res.Checks, 6)

	events := v.Events().Events(now)
	require.Len(t, events, 1)
	assert.Equal(t, "POSITION_SIZE", events[0].Type)
	assert.Equal(t, "RESIZED", events[0].Action)
}

func TestOversizedNeverPassesUnchanged(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	snap := cashOnly(100000)
	for qty := 67.0; qty < 5000; qty += 37 {
		res := v.ValidateTrade(buy("AAPL", qty, 150, 149), snap, testRules())
		if res.Approved {
			require.NotNil(t, res.AdjustedSize, "qty %v", qty)
			assert.Less(t, *res.AdjustedSize, qty)
		}
	}
}

func TestCashLimitsBuySize(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	p := domain.Portfolio{
		Cash: 5000, DayOpenValue: 100000, PeakValue: 100000,
		Positions: []domain.Position{{Symbol: "SPY", Sector: "ETF", Quantity: 190, AvgEntryPrice: 500}},
	}
	res := v.ValidateTrade(buy("AAPL", 60, 150, 145), snapshotOf(p), testRules())
	require.True(t, res.Approved)
	assert.Equal(t, 32.0, res.Size())
}

func TestDailyLossIsCritical(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	p := domain.Portfolio{Cash: 96000, DayOpenValue: 100000, PeakValue: 100000}
	res := v.ValidateTrade(buy("AAPL", 50, 150, 145), snapshotOf(p), testRules())

	assert.False(t, res.Approved)
	assert.Equal(t, Critical, res.RiskLevel)
	dl, ok := res.Check(CheckDailyLoss)
	require.True(t, ok)
	assert.False(t, dl.Passed)
	assert.InDelta(t, 4.0, dl.Value, 1e-9)
	assert.Equal(t, 3.0, dl.Limit)
	assert.Nil(t, res.AdjustedSize)
}

func TestDrawdownHalvesSize(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	p := domain.Portfolio{Cash: 100000, DayOpenValue: 100000, PeakValue: 120000}

	res := v.ValidateTrade(buy("AAPL", 50, 150, 145), snapshotOf(p), testRules())
	assert.True(t, res.Approved)
	assert.Equal(t, Medium, res.RiskLevel)
	assert.Equal(t, 25.0, res.Size())

	res = v.ValidateTrade(buy("AAPL", 1, 150, 145), snapshotOf(p), testRules())
	assert.False(t, res.Approved)
	assert.Equal(t, High, res.RiskLevel)
}

func TestSectorLimitIsStrict(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	at := domain.Portfolio{
		Cash: 70000, DayOpenValue: 100000, PeakValue: 100000,
		Positions: []domain.Position{{Symbol: "MSFT", Sector: "Technology", Quantity: 100, AvgEntryPrice: 300}},
	}
	res := v.ValidateTrade(buy("AAPL", 10, 150, 145), snapshotOf(at), testRules())
	assert.False(t, res.Approved)
	assert.Equal(t, High, res.RiskLevel)
	sc, _ := res.Check(CheckSector)
	assert.InDelta(t, 30.0, sc.Value, 1e-9)

	below := at.Clone()
	below.Positions[0].Quantity = 99
	below.Cash = 70300
	res = v.ValidateTrade(buy("AAPL", 10, 150, 145), snapshotOf(below), testRules())
	assert.True(t, res.Approved)
}

func TestRiskPerTradeShrinks(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	res := v.ValidateTrade(buy("AAPL", 60, 150, 120), cashOnly(100000), testRules())
	assert.True(t, res.Approved)
	assert.Equal(t, 33.0, res.Size())
	rpt, _ := res.Check(CheckRiskPerTrade)
	assert.False(t, rpt.Passed)
	assert.InDelta(t, 1.8, rpt.Value, 1e-9)

	res = v.ValidateTrade(buy("AAPL", 10, 150, 150), cashOnly(100000), testRules())
	assert.False(t, res.Approved)
}

func eightPositions() domain.Portfolio {
	p := domain.Portfolio{Cash: 92000, DayOpenValue: 100000, PeakValue: 100000}
	for i := 0; i < 8; i++ {
		p.Positions = append(p.Positions, domain.Position{
			Symbol: fmt.Sprintf("SYM%d", i), Sector: fmt.Sprintf("S%d", i), Quantity: 10, AvgEntryPrice: 100,
		})
	}
	return p
}

func TestMaxOpenPositionsOnlyBlocksNewBuys(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	snap := snapshotOf(eightPositions())

	res := v.ValidateTrade(buy("AAPL", 10, 150, 145), snap, testRules())
	assert.False(t, res.Approved)
	mo, _ := res.Check(CheckOpenPositions)
	assert.False(t, mo.Passed)
	assert.Equal(t, 8.0, mo.Value)

	topUp := buy("SYM0", 5, 100, 95)
	topUp.Sector = "S0"
	res = v.ValidateTrade(topUp, snap, testRules())
	assert.True(t, res.Approved)

	sell := domain.Signal{Symbol: "SYM3", Action: domain.Sell, Confidence: 1, Quantity: 10, EntryPrice: 100}
	res = v.ValidateTrade(sell, snap, testRules())
	assert.True(t, res.Approved)
	assert.Nil(t, res.AdjustedSize)
	require.Len(t, res.Checks, 6)
	for _, c := range res.Checks {
		assert.True(t, c.Passed, c.Name)
	}
}

func TestSellCappedAtHolding(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	snap := snapshotOf(eightPositions())

	res := v.ValidateTrade(domain.Signal{Symbol: "SYM1", Action: domain.Sell, Confidence: 1, Quantity: 50, EntryPrice: 100}, snap, testRules())
	assert.True(t, res.Approved)
	assert.Equal(t, 10.0, res.Size())

	res = v.ValidateTrade(domain.Signal{Symbol: "NOPE", Action: domain.Sell, Confidence: 1, Quantity: 5, EntryPrice: 100}, snap, testRules())
	assert.False(t, res.Approved)
}

func TestDailyEventLockout(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)
	rules := testRules()
	rules.RiskLimits.MaxDailyRiskEvents = 2
	snap := cashOnly(100000)

	for i := 0; i < 3; i++ {
		res := v.ValidateTrade(buy("AAPL", 2000, 150, 145), snap, rules)
		assert.True(t, res.Approved)
	}
	assert.Equal(t, 3, v.Events().Count(now))

	res := v.ValidateTrade(buy("AAPL", 10, 150, 145), snap, rules)
	assert.False(t, res.Approved)
	assert.Equal(t, Critical, res.RiskLevel)
	require.Len(t, res.Checks, 1)
	assert.Equal(t, CheckEventLockout, res.Checks[0].Name)
	assert.False(t, res.Checks[0].Passed)
	assert.Equal(t, 4, v.Events().Count(now))
	ev := v.Events().Events(now)
	last := ev[len(ev)-1]
	assert.Equal(t, "DAILY_RISK_EVENT_LIMIT", last.Type)
	assert.Equal(t, Critical, last.Severity)
	assert.Equal(t, "REJECTED", last.Action)
	assert.Equal(t, "AAPL", last.Symbol)

	clock = now.AddDate(0, 0, 1)
	res = v.ValidateTrade(buy("AAPL", 10, 150, 145), snap, rules)
	assert.True(t, res.Approved)
	assert.Zero(t, v.Events().Count(clock))
}

func TestPreconditions(t *testing.T) {
	t.Parallel()

	clock := now
	v := newValidator(&clock)

	res := v.ValidateTrade(buy("AAPL", 10, 150, 145), cashOnly(100000), nil)
	assert.False(t, res.Approved)
	assert.Equal(t, Critical, res.RiskLevel)

	res = v.ValidateTrade(buy("AAPL", 0, 150, 145), cashOnly(100000), testRules())
	assert.False(t, res.Approved)
	assert.NotEmpty(t, res.Reasons())
}

func TestEventLogIsBounded(t *testing.T) {
	t.Parallel()

	l := NewEventLog(3)
	for i := 0; i < 5; i++ {
		l.Record(RiskEvent{Time: now, Symbol: fmt.Sprint(i)})
	}
	assert.Equal(t, 5, l.Count(now))
	ev := l.Events(now)
	require.Len(t, ev, 3)
	assert.Equal(t, "2", ev[0].Symbol)
	assert.True(t, l.Locked(now, 4))
	assert.False(t, l.Locked(now, 5))
	assert.False(t, l.Locked(now, 0))
}

func TestCalc(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 250.0, PlannedRisk(50, 150, 145))
	assert.Equal(t, 2.0, RR(100, 95, 110))
	assert.Zero(t, RR(100, 100, 110))
	assert.Equal(t, 200.0, SharesForRisk(100000, 1, 150, 145))
	assert.Equal(t, 66.0, SharesForValue(10000, 150))
	assert.Zero(t, SharesForValue(-1, 150))
}
