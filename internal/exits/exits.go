// Package exits derives exit thresholds for open positions and decides,
// once per pass, which of them forces a sale.
package exits

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/market"
)

// FallbackStopPercent is used when no configured stop method can produce
// a level, e.g. an ATR-only rule set and a symbol without ATR history.
const FallbackStopPercent = 7.0

// Source tags signals emitted by this package.
const Source = "exits"

func stopLevels(entry, atr float64, rules *guidelines.RuleSet) []domain.StopLoss {
	sl := rules.ExitRules.StopLoss
	var out []domain.StopLoss
	if sl.ATR.Enabled && sl.ATR.Multiplier > 0 && atr > 0 {
		if p := floorCents(entry - sl.ATR.Multiplier*atr); p > 0 && p < entry {
			out = append(out, domain.StopLoss{Price: p, Method: domain.StopATR})
		}
	}
	if sl.Percent.Enabled && sl.Percent.Value > 0 {
		if p := floorCents(entry * (1 - sl.Percent.Value/100)); p > 0 && p < entry {
			out = append(out, domain.StopLoss{Price: p, Method: domain.StopPercent})
		}
	}
	if len(out) == 0 {
		out = append(out, domain.StopLoss{Price: floorCents(entry * (1 - FallbackStopPercent/100)), Method: domain.StopPercent})
	}
	return out
}

func targetLevels(entry, atr float64, rules *guidelines.RuleSet) []float64 {
	var out []float64
	for _, rung := range rules.ExitRules.ProfitTargets {
		var p float64
		switch {
		case atr > 0 && rung.ATRMultiple > 0:
			p = entry + rung.ATRMultiple*atr
		case rung.Percent > 0:
			p = entry * (1 + rung.Percent/100)
		default:
			continue
		}
		p = ceilCents(p)
		if p <= entry || (len(out) > 0 && p <= out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Levels returns the signal stop (the tightest enabled method) and the
// ascending profit-target ladder for an entry.
func Levels(entry, atr float64, rules *guidelines.RuleSet) (stop float64, targets []float64) {
	for _, s := range stopLevels(entry, atr, rules) {
		stop = math.Max(stop, s.Price)
	}
	return stop, targetLevels(entry, atr, rules)
}

// Establish derives the full criteria set for a position entered at
// entry. None of the criteria trigger at the entry price.
func Establish(pos domain.Position, entry float64, snap market.Snapshot, rules *guidelines.RuleSet, now time.Time) []domain.ExitCriterion {
	atr := snap.Technicals.ATR
	var crit []domain.Criterion
	for _, s := range stopLevels(entry, atr, rules) {
		crit = append(crit, s)
	}
	for i, p := range targetLevels(entry, atr, rules) {
		crit = append(crit, domain.ProfitTarget{Price: p, Level: i + 1})
	}
	if days := rules.ExitRules.MaxHoldingDays; days > 0 {
		opened := pos.OpenedAt
		if opened.IsZero() {
			opened = now
		}
		crit = append(crit, domain.TimeBased{Deadline: opened.AddDate(0, 0, days)})
	}
	if name := smaName(rules.ExitRules.TechnicalExitSMA); name != "" {
		if v, ok := snap.Indicator(name); ok && entry > v {
			crit = append(crit, domain.Technical{Indicator: name})
		}
	}

	// keep a trailing stop that has already ratcheted up
	for _, c := range pos.Criteria {
		if s, ok := c.Rule.(domain.StopLoss); ok && c.Active && s.Method == domain.StopTrailing {
			crit = append(crit, s)
		}
	}

	out := make([]domain.ExitCriterion, len(crit))
	for i, r := range crit {
		out[i] = domain.ExitCriterion{Rule: r, Active: true, CreatedAt: now}
	}
	return out
}

func smaName(period int) string {
	if !guidelines.SupportsTechnicalExit(period) {
		return ""
	}
	return fmt.Sprintf("sma%d", period)
}

// Triggered reports whether c fires at the snapshot price.
func Triggered(c domain.ExitCriterion, snap market.Snapshot, now time.Time) bool {
	if !c.Active {
		return false
	}
	price := snap.Price()
	switch r := c.Rule.(type) {
	case domain.StopLoss:
		return price <= r.Price
	case domain.ProfitTarget:
		return price >= r.Price
	case domain.TimeBased:
		return !now.Before(r.Deadline)
	case domain.Technical:
		v, ok := snap.Indicator(r.Indicator)
		return ok && price < v
	default:
		panic(fmt.Sprintf("exits: unknown criterion %T", c.Rule))
	}
}

// Exit is a forced sale with the criterion that won.
type Exit struct {
	Signal   domain.Signal
	Position domain.Position
	Winner   domain.ExitCriterion
}

// Evaluate checks every active criterion of every open position. At most
// one full-size SELL is emitted per position; when several criteria fire
// the lowest priority value wins, so a stop-loss beats any target.
// Positions without a snapshot are skipped. Exits are ordered by symbol.
func Evaluate(positions []domain.Position, snaps map[string]market.Snapshot, now time.Time) []Exit {
	var out []Exit
	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}
		snap, ok := snaps[pos.Symbol]
		if !ok || snap.Price() <= 0 {
			continue
		}

		var winner *domain.ExitCriterion
		for i := range pos.Criteria {
			c := pos.Criteria[i]
			if !Triggered(c, snap, now) {
				continue
			}
			if winner == nil || c.Priority() < winner.Priority() {
				winner = &pos.Criteria[i]
			}
		}
		if winner == nil {
			continue
		}
		out = append(out, Exit{
			Signal:   exitSignal(pos, *winner, snap, now),
			Position: pos,
			Winner:   *winner,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signal.Symbol < out[j].Signal.Symbol })
	return out
}

func exitSignal(pos domain.Position, winner domain.ExitCriterion, snap market.Snapshot, now time.Time) domain.Signal {
	price := snap.Price()
	pnl := (price - pos.AvgEntryPrice) * pos.Quantity
	pnlPct := 0.0
	if pos.AvgEntryPrice > 0 {
		pnlPct = (price/pos.AvgEntryPrice - 1) * 100
	}
	reason := fmt.Sprintf("%s exit: %s hit at %.2f; expected P&L %.2f (%.2f%%)",
		winner.Kind(), winner, price, pnl, pnlPct)
	return domain.Signal{
		Symbol:     pos.Symbol,
		Sector:     pos.Sector,
		Action:     domain.Sell,
		Confidence: 1,
		Quantity:   pos.Quantity,
		EntryPrice: price,
		Reasoning:  reason,
		Source:     Source,
		Indicators: market.Indicators(snap.Technicals),
		CreatedAt:  now,
	}
}

// Trail ratchets the trailing stop once price has risen ActivationPercent
// above the average entry. The stop only moves up. It returns the new
// criteria and whether anything changed.
func Trail(pos domain.Position, price float64, rules *guidelines.RuleSet, now time.Time) ([]domain.ExitCriterion, bool) {
	ts := rules.ExitRules.TrailingStop
	if !ts.Enabled || ts.TrailPercent <= 0 || !pos.IsOpen() || price <= 0 {
		return pos.Criteria, false
	}
	if price < pos.AvgEntryPrice*(1+ts.ActivationPercent/100) {
		return pos.Criteria, false
	}

	level := floorCents(price * (1 - ts.TrailPercent/100))
	out := append([]domain.ExitCriterion(nil), pos.Criteria...)
	for i, c := range out {
		s, ok := c.Rule.(domain.StopLoss)
		if !ok || !c.Active || s.Method != domain.StopTrailing {
			continue
		}
		if level <= s.Price {
			return pos.Criteria, false
		}
		out[i].Rule = domain.StopLoss{Price: level, Method: domain.StopTrailing}
		return out, true
	}

	out = append(out, domain.ExitCriterion{
		Rule:      domain.StopLoss{Price: level, Method: domain.StopTrailing},
		Active:    true,
		CreatedAt: now,
	})
	return out, true
}

// Stops round down and targets round up to whole cents, so neither can
// land on the entry price.
func floorCents(p float64) float64 { return math.Floor(p*100+1e-6) / 100 }

func ceilCents(p float64) float64 { return math.Ceil(p*100-1e-6) / 100 }
