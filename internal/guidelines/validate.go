package guidelines

import (
	"fmt"
	"strings"
)

// ValidationResult is the structured outcome of Validate.
type ValidationResult struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	MissingSections []string `json:"missing_sections"`
}

func (v *ValidationResult) errorf(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) warnf(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a rule set without modifying it. It has no side effects
// and may be called on documents that were never loaded.
func Validate(r *RuleSet) ValidationResult {
	res := ValidationResult{
		Errors:          []string{},
		Warnings:        []string{},
		MissingSections: []string{},
	}
	if r == nil {
		res.errorf("rule set is nil")
		return res
	}

	if r.Version == "" {
		res.warnf("version is not set")
	}

	missing := func(name string, empty bool) bool {
		if empty {
			res.MissingSections = append(res.MissingSections, name)
			res.errorf("section %s is missing", name)
		}
		return empty
	}

	if !missing("stock_selection", isZeroSelection(r.StockSelection)) {
		validateSelection(&res, r.StockSelection)
	}
	if !missing("entry_signals", len(r.EntrySignals) == 0) {
		validateEntries(&res, r.EntrySignals)
	}
	if !missing("exit_rules", isZeroExits(r.ExitRules)) {
		validateExits(&res, r.ExitRules)
	}
	if !missing("risk_limits", r.RiskLimits == RiskLimits{}) {
		validateLimits(&res, r.RiskLimits)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func isZeroSelection(s StockSelection) bool {
	return len(s.Universe) == 0 && s.Liquidity == Liquidity{} && s.Volatility.IsZero() &&
		s.Price.IsZero() && s.Technical == TechnicalSetup{}
}

func isZeroExits(e ExitRules) bool {
	return len(e.ProfitTargets) == 0 && e.StopLoss == StopLossRules{} &&
		e.TrailingStop == TrailingStop{} && e.TechnicalExitSMA == 0 && e.MaxHoldingDays == 0
}

func checkRange(res *ValidationResult, name string, r Range, required bool) {
	if r.IsZero() {
		if required {
			res.errorf("%s range is required", name)
		}
		return
	}
	if r.Min < 0 {
		res.errorf("%s.min must not be negative", name)
	}
	if r.Min >= r.Max {
		res.errorf("%s.min (%g) must be less than %s.max (%g)", name, r.Min, name, r.Max)
	}
}

// checkPercent enforces 0 < v <= 100.
func checkPercent(res *ValidationResult, name string, v float64) {
	if v <= 0 || v > 100 {
		res.errorf("%s must be in (0,100], got %g", name, v)
	}
}

func validateSelection(res *ValidationResult, s StockSelection) {
	if len(s.Universe) == 0 {
		res.warnf("stock_selection.universe is empty; no symbols will be screened")
	}
	seen := map[string]bool{}
	for _, sym := range s.Universe {
		if strings.TrimSpace(sym) == "" {
			res.errorf("stock_selection.universe contains an empty symbol")
			continue
		}
		if seen[sym] {
			res.warnf("stock_selection.universe lists %s more than once", sym)
		}
		seen[sym] = true
	}
	if s.Liquidity.MinAvgVolume < 0 || s.Liquidity.MinDollarVolume < 0 {
		res.errorf("stock_selection.liquidity minimums must not be negative")
	}
	if s.Liquidity.MaxSpreadPercent != 0 {
		checkPercent(res, "stock_selection.liquidity.max_spread_percent", s.Liquidity.MaxSpreadPercent)
	}
	checkRange(res, "stock_selection.volatility", s.Volatility, false)
	if !s.Volatility.IsZero() && s.Volatility.Max > 100 {
		res.errorf("stock_selection.volatility.max must not exceed 100")
	}
	checkRange(res, "stock_selection.price", s.Price, false)
	checkRange(res, "stock_selection.technical.rsi", s.Technical.RSI, false)
	if s.Technical.RSI.Max > 100 {
		res.errorf("stock_selection.technical.rsi.max must not exceed 100")
	}
}

func validateEntries(res *ValidationResult, entries []EntrySignal) {
	names := map[string]bool{}
	active := 0
	for i, e := range entries {
		field := fmt.Sprintf("entry_signals[%d]", i)
		if e.Name == "" {
			res.errorf("%s.name is required", field)
		} else if names[e.Name] {
			res.errorf("%s.name %q is duplicated", field, e.Name)
		}
		names[e.Name] = true

		switch e.Type {
		case EntryBreakout, EntryPullback, EntryMomentum:
		default:
			res.errorf("%s.type %q is not one of breakout|pullback|momentum", field, e.Type)
		}
		if e.VolumeMultiplier <= 0 {
			res.errorf("%s.volume_multiplier must be positive", field)
		}
		if e.MinRiskReward <= 0 {
			res.errorf("%s.min_risk_reward must be positive", field)
		} else if e.MinRiskReward < 1 {
			res.warnf("%s.min_risk_reward %.2f risks more than it targets", field, e.MinRiskReward)
		}
		if !e.Disabled {
			active++
		}
	}
	if active == 0 {
		res.warnf("all entry signals are disabled; no buys will be generated")
	}
}

func validateExits(res *ValidationResult, e ExitRules) {
	if len(e.ProfitTargets) == 0 {
		res.errorf("exit_rules.profit_targets must have at least one rung")
	}
	for i, rung := range e.ProfitTargets {
		field := fmt.Sprintf("exit_rules.profit_targets[%d]", i)
		if rung.ATRMultiple <= 0 && rung.Percent <= 0 {
			res.errorf("%s needs atr_multiple or percent", field)
		}
		if rung.ATRMultiple < 0 {
			res.errorf("%s.atr_multiple must not be negative", field)
		}
		if rung.Percent != 0 {
			checkPercent(res, field+".percent", rung.Percent)
		}
		if i > 0 {
			prev := e.ProfitTargets[i-1]
			if rung.ATRMultiple > 0 && rung.ATRMultiple <= prev.ATRMultiple {
				res.errorf("%s.atr_multiple must be greater than the previous rung", field)
			}
			if rung.Percent > 0 && rung.Percent <= prev.Percent {
				res.errorf("%s.percent must be greater than the previous rung", field)
			}
		}
	}

	sl := e.StopLoss
	if !sl.ATR.Enabled && !sl.Percent.Enabled {
		res.errorf("exit_rules.stop_loss must enable atr or percent")
	}
	if sl.ATR.Enabled && sl.ATR.Multiplier <= 0 {
		res.errorf("exit_rules.stop_loss.atr.multiplier must be positive")
	}
	if sl.Percent.Enabled {
		checkPercent(res, "exit_rules.stop_loss.percent.value", sl.Percent.Value)
	}
	if sl.ATR.Enabled && !sl.Percent.Enabled {
		res.warnf("exit_rules.stop_loss has no percent fallback for symbols without ATR")
	}

	if ts := e.TrailingStop; ts.Enabled {
		checkPercent(res, "exit_rules.trailing_stop.activation_percent", ts.ActivationPercent)
		checkPercent(res, "exit_rules.trailing_stop.trail_percent", ts.TrailPercent)
	}
	if sma := e.TechnicalExitSMA; sma != 0 && !SupportsTechnicalExit(sma) {
		res.errorf("exit_rules.technical_exit_sma %d is not supported (use one of %v)", sma, TechnicalExitPeriods)
	}
	if e.MaxHoldingDays < 0 {
		res.errorf("exit_rules.max_holding_days must not be negative")
	} else if e.MaxHoldingDays == 0 {
		res.warnf("exit_rules.max_holding_days is 0; positions have no time exit")
	}
}

func validateLimits(res *ValidationResult, l RiskLimits) {
	checkPercent(res, "risk_limits.max_daily_loss_percent", l.MaxDailyLossPercent)
	checkPercent(res, "risk_limits.max_weekly_loss_percent", l.MaxWeeklyLossPercent)
	checkPercent(res, "risk_limits.max_drawdown_percent", l.MaxDrawdownPercent)
	checkPercent(res, "risk_limits.max_sector_exposure_percent", l.MaxSectorExposurePercent)
	checkPercent(res, "risk_limits.max_position_size_percent", l.MaxPositionSizePercent)
	checkPercent(res, "risk_limits.risk_per_trade_percent", l.RiskPerTradePercent)

	if l.MaxOpenPositions <= 0 {
		res.errorf("risk_limits.max_open_positions must be positive")
	}
	if l.MaxDailyRiskEvents < 0 {
		res.errorf("risk_limits.max_daily_risk_events must not be negative")
	}
	if l.MaxWeeklyLossPercent > 0 && l.MaxWeeklyLossPercent < l.MaxDailyLossPercent {
		res.warnf("risk_limits.max_weekly_loss_percent is below the daily limit")
	}
	if l.RiskPerTradePercent > l.MaxPositionSizePercent && l.MaxPositionSizePercent > 0 {
		res.warnf("risk_limits.risk_per_trade_percent exceeds max_position_size_percent")
	}
}
