package engine

import (
	"context"
	"fmt"
	"time"
)

type Status struct {
	State            State         `json:"state"`
	Running          bool          `json:"running"`
	Paused           bool          `json:"paused"`
	StartedAt        time.Time     `json:"started_at,omitempty"`
	Uptime           time.Duration `json:"uptime"`
	RulesVersion     string        `json:"rules_version"`
	CyclesCompleted  int64         `json:"cycles_completed"`
	CyclesWithErrors int64         `json:"cycles_with_errors"`
	TotalCycleTime   time.Duration `json:"total_cycle_time"`
	AvgCycleTime     time.Duration `json:"avg_cycle_time"`
	LastCycleID      string        `json:"last_cycle_id,omitempty"`
	LastCycleAt      time.Time     `json:"last_cycle_at,omitempty"`
	LastError        string        `json:"last_error,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:            e.stateLocked(),
		Running:          e.running,
		Paused:           e.paused,
		RulesVersion:     e.rulesVersion,
		CyclesCompleted:  e.cycles,
		CyclesWithErrors: e.failedCycles,
		TotalCycleTime:   e.cycleTime,
	}
	if e.running {
		st.StartedAt = e.startedAt
		st.Uptime = e.now().Sub(e.startedAt)
	}
	if e.cycles > 0 {
		st.AvgCycleTime = e.cycleTime / time.Duration(e.cycles)
	}
	if e.last != nil {
		st.LastCycleID = e.last.ID
		st.LastCycleAt = e.last.FinishedAt
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// LastCycle returns the most recent cycle result, if any.
func (e *Engine) LastCycle() (CycleResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return CycleResult{}, false
	}
	return *e.last, true
}

type HealthCheck struct {
	Name    string  `json:"name"`
	OK      bool    `json:"ok"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit,omitempty"`
	Message string  `json:"message,omitempty"`
}

type Health struct {
	Healthy   bool          `json:"healthy"`
	State     State         `json:"state"`
	Checks    []HealthCheck `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Health reports the collaborators and how close the portfolio is to
// each loss limit.
func (e *Engine) Health(ctx context.Context) Health {
	now := e.now()
	h := Health{State: e.State(), CheckedAt: now, Checks: []HealthCheck{}}
	add := func(c HealthCheck) { h.Checks = append(h.Checks, c) }

	rules, err := e.deps.Rules.Current()
	if err != nil {
		add(HealthCheck{Name: "guidelines", Message: err.Error()})
	} else {
		c := HealthCheck{Name: "guidelines", OK: true, Message: "version " + rules.Version}
		if le, ok := e.deps.Rules.(interface{ LastError() error }); ok {
			if err := le.LastError(); err != nil {
				c.Message += "; last load failed: " + err.Error()
			}
		}
		add(c)
	}

	snap, err := e.deps.Portfolio.Snapshot(ctx)
	if err != nil {
		add(HealthCheck{Name: "portfolio", Message: err.Error()})
	} else {
		m := snap.Metrics
		add(HealthCheck{
			Name:    "portfolio",
			OK:      true,
			Value:   m.TotalValue,
			Message: fmt.Sprintf("%d open positions", m.OpenPositions),
		})
		if rules != nil {
			limits := rules.RiskLimits
			add(lossCheck("daily_loss", m.DailyPnL, m.TotalValue, limits.MaxDailyLossPercent))
			add(lossCheck("weekly_loss", m.WeeklyPnL, m.TotalValue, limits.MaxWeeklyLossPercent))
			add(HealthCheck{
				Name:  "drawdown",
				OK:    limits.MaxDrawdownPercent <= 0 || m.DrawdownPct < limits.MaxDrawdownPercent,
				Value: m.DrawdownPct,
				Limit: limits.MaxDrawdownPercent,
			})
		}
	}

	if e.deps.Risk != nil {
		c := HealthCheck{Name: "risk_events", OK: true, Value: float64(e.deps.Risk.Events().Count(now))}
		if rules != nil && rules.RiskLimits.MaxDailyRiskEvents > 0 {
			c.Limit = float64(rules.RiskLimits.MaxDailyRiskEvents)
			if e.deps.Risk.Events().Locked(now, rules.RiskLimits.MaxDailyRiskEvents) {
				c.OK = false
				c.Message = "trading locked for the rest of the day"
			}
		}
		add(c)
	}

	h.Healthy = h.State != Failed
	for _, c := range h.Checks {
		if !c.OK {
			h.Healthy = false
		}
	}
	return h
}

// lossCheck compares a period P&L, as a percent of the value at the start
// of the period, against a loss limit.
func lossCheck(name string, pnl, total, limit float64) HealthCheck {
	c := HealthCheck{Name: name, OK: true, Limit: limit}
	if open := total - pnl; open > 0 {
		c.Value = pnl / open * 100
	}
	if limit > 0 && c.Value <= -limit {
		c.OK = false
		c.Message = fmt.Sprintf("loss %.2f%% at or beyond %.2f%% limit", -c.Value, limit)
	}
	return c
}
