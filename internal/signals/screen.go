package signals

import (
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/swingtrader/internal/exits"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/market"
	"github.com/rustyeddy/swingtrader/internal/risk"
)

func avgVolume(s market.Snapshot) float64 {
	if s.Technicals.AvgVolume > 0 {
		return s.Technicals.AvgVolume
	}
	return s.Quote.AvgVolume
}

// Screen applies the cheap price and liquidity filters. It returns the
// reason a symbol was dropped, or "" when it passes.
func Screen(s market.Snapshot, sel guidelines.StockSelection) string {
	price := s.Price()
	if !sel.Price.Contains(price) {
		return fmt.Sprintf("price %.2f outside [%.2f, %.2f]", price, sel.Price.Min, sel.Price.Max)
	}
	vol := avgVolume(s)
	if liq := sel.Liquidity; liq.MinAvgVolume > 0 && vol < liq.MinAvgVolume {
		return fmt.Sprintf("avg volume %.0f below %.0f", vol, liq.MinAvgVolume)
	}
	if liq := sel.Liquidity; liq.MinDollarVolume > 0 && vol*price < liq.MinDollarVolume {
		return fmt.Sprintf("dollar volume %.0f below %.0f", vol*price, liq.MinDollarVolume)
	}
	if max := sel.Liquidity.MaxSpreadPercent; max > 0 {
		if sp := s.Quote.SpreadPercent(); sp > max {
			return fmt.Sprintf("spread %.3f%% above %.3f%%", sp, max)
		}
	}
	return ""
}

// Assessment is the liquidity, volatility and technical verdict that
// gates the advisory call.
type Assessment struct {
	Feasible bool
	Score    float64 // fraction of checks passed
	Setup    string  // matched entry signal
	Stop     float64
	Targets  []float64
	Reasons  []string
}

func (a Assessment) String() string {
	if a.Feasible {
		return fmt.Sprintf("feasible (%.2f) via %s", a.Score, a.Setup)
	}
	return fmt.Sprintf("infeasible (%.2f): %s", a.Score, strings.Join(a.Reasons, "; "))
}

// Assess scores a screened snapshot against the technical setup, the
// volatility band and the active entry definitions.
func Assess(s market.Snapshot, rules *guidelines.RuleSet) Assessment {
	var a Assessment
	total, passed := 0, 0
	check := func(ok bool, reason string) {
		total++
		if ok {
			passed++
			return
		}
		a.Reasons = append(a.Reasons, reason)
	}

	price := s.Price()
	t := s.Technicals
	sel := rules.StockSelection

	atrPct := s.ATRPercent()
	check(t.ATR > 0 && sel.Volatility.Contains(atrPct),
		fmt.Sprintf("ATR %.2f%% outside volatility band", atrPct))

	if sel.Technical.AboveSMA50 {
		check(t.SMA50 > 0 && price > t.SMA50, "price not above SMA50")
	}
	if sel.Technical.AboveSMA200 {
		check(t.SMA200 > 0 && price > t.SMA200, "price not above SMA200")
	}
	if !sel.Technical.RSI.IsZero() {
		check(t.RSI > 0 && sel.Technical.RSI.Contains(t.RSI), fmt.Sprintf("RSI %.1f outside range", t.RSI))
	}
	if sel.Technical.RequireMACDBullish {
		check(t.MACD > t.MACDSignal, "MACD not bullish")
	}

	a.Stop, a.Targets = exits.Levels(price, t.ATR, rules)
	for _, e := range rules.ActiveEntrySignals() {
		if matchEntry(e, s) && rewardRisk(price, a.Stop, a.Targets) >= e.MinRiskReward {
			a.Setup = e.Name
			break
		}
	}
	check(a.Setup != "", "no entry signal matched")

	if total > 0 {
		a.Score = float64(passed) / float64(total)
	}
	a.Feasible = passed == total
	return a
}

func rewardRisk(entry, stop float64, targets []float64) float64 {
	if len(targets) == 0 {
		return 0
	}
	return risk.RR(entry, stop, targets[len(targets)-1])
}

func matchEntry(e guidelines.EntrySignal, s market.Snapshot) bool {
	price := s.Price()
	t := s.Technicals
	vol := s.Quote.Volume
	avg := avgVolume(s)
	mult := e.VolumeMultiplier

	switch e.Type {
	case guidelines.EntryBreakout:
		return t.SMA20 > 0 && price > t.SMA20 && avg > 0 && vol >= mult*avg
	case guidelines.EntryPullback:
		// trend intact, price back near the short average on light volume
		return t.SMA50 > 0 && t.EMA20 > 0 && price > t.SMA50 && price <= t.EMA20*1.01 &&
			(mult <= 0 || avg <= 0 || vol <= mult*avg)
	case guidelines.EntryMomentum:
		return t.RSI > 55 && t.MACDHist > 0 && avg > 0 && vol >= mult*avg
	default:
		return false
	}
}

// weaknesses lists the signs that an open position has turned. An
// empty result means the trend is intact.
func weaknesses(s market.Snapshot, rules *guidelines.RuleSet) []string {
	price := s.Price()
	t := s.Technicals
	var out []string
	if t.SMA50 > 0 && price < t.SMA50 {
		out = append(out, "price below SMA50")
	}
	if rsi := rules.StockSelection.Technical.RSI; !rsi.IsZero() && t.RSI > rsi.Max {
		out = append(out, fmt.Sprintf("RSI %.1f overbought", t.RSI))
	}
	if t.MACD != 0 && t.MACD < t.MACDSignal {
		out = append(out, "MACD crossed below signal")
	}
	return out
}

// urgency maps the number of weaknesses onto [0,1] for the advisor.
func urgency(n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Min(1, 0.5+0.25*float64(n))
}
