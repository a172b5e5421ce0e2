package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/exits"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/id"
	"github.com/rustyeddy/swingtrader/internal/market"
	"github.com/rustyeddy/swingtrader/internal/portfolio"
	"github.com/rustyeddy/swingtrader/internal/risk"
	"github.com/rustyeddy/swingtrader/internal/signals"
)

// Cycle phases, always run in this order.
const (
	PhaseBuy     = "buy"
	PhaseSell    = "sell"
	PhaseExit    = "exit"
	PhaseMetrics = "metrics"
)

// CycleError is one failure recorded during a cycle.
type CycleError struct {
	Phase   string `json:"phase"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`
	err     error
}

func (e *CycleError) Error() string {
	if e.Symbol == "" {
		return e.Phase + ": " + e.Message
	}
	return e.Phase + " " + e.Symbol + ": " + e.Message
}

func (e *CycleError) Unwrap() error { return e.err }

// Rejection records a proposal the risk gate refused.
type Rejection struct {
	Symbol    string        `json:"symbol"`
	Action    domain.Action `json:"action"`
	RiskLevel risk.Level    `json:"risk_level"`
	Reasons   string        `json:"reasons"`
}

type PhaseResult struct {
	Name     string        `json:"name"`
	Signals  int           `json:"signals"`
	Trades   int           `json:"trades"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// CycleResult reports one cycle. Errors is never nil; a cycle with
// errors may still have applied trades.
type CycleResult struct {
	ID           string         `json:"id"`
	RulesVersion string         `json:"rules_version"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Duration     time.Duration  `json:"duration"`
	Phases       []PhaseResult  `json:"phases"`
	Trades       []domain.Trade `json:"trades"`
	Rejections   []Rejection    `json:"rejections"`
	Validations  int            `json:"validations"`
	Metrics      domain.Metrics `json:"metrics"`
	Snapshot     bool           `json:"snapshot"`
	Errors       []*CycleError  `json:"errors"`
	Success      bool           `json:"success"`
	fatal        error
}

// cycle is the scratch state of one run.
type cycle struct {
	e      *Engine
	res    *CycleResult
	log    *logrus.Entry
	rules  *guidelines.RuleSet
	phase  *PhaseResult
	prices map[string]float64
}

func (c *cycle) fail(symbol string, err error) {
	if err == nil {
		return
	}
	c.res.Errors = append(c.res.Errors, &CycleError{Phase: c.phase.Name, Symbol: symbol, Message: err.Error(), err: err})
	c.phase.Errors++
	if isFatal(err) && c.res.fatal == nil {
		c.res.fatal = err
	}
	c.log.WithError(err).WithFields(logrus.Fields{"phase": c.phase.Name, "symbol": symbol}).Warn("cycle error")
}

func (c *cycle) run(name string, fn func()) {
	start := c.e.now()
	c.res.Phases = append(c.res.Phases, PhaseResult{Name: name})
	c.phase = &c.res.Phases[len(c.res.Phases)-1]
	fn()
	c.phase.Duration = c.e.now().Sub(start)
}

func (e *Engine) runCycle(ctx context.Context, snapshotDue bool) CycleResult {
	res := CycleResult{
		ID:         uuid.NewString(),
		StartedAt:  e.now(),
		Trades:     []domain.Trade{},
		Rejections: []Rejection{},
		Errors:     []*CycleError{},
	}
	c := &cycle{
		e:      e,
		res:    &res,
		log:    e.log.WithField("cycle_id", res.ID),
		prices: make(map[string]float64),
	}
	// preallocate so phase pointers stay valid
	res.Phases = make([]PhaseResult, 0, 4)

	rules, err := e.deps.Rules.Current()
	if err == nil {
		c.rules = rules
		res.RulesVersion = rules.Version
	}
	c.log.WithField("rules", res.RulesVersion).Info("cycle started")

	c.run(PhaseBuy, func() {
		if err != nil {
			c.fail("", fmt.Errorf("guidelines: %w", err))
			return
		}
		c.buyPhase(ctx)
	})
	c.run(PhaseSell, func() {
		if c.rules != nil {
			c.sellPhase(ctx)
		}
	})
	c.run(PhaseExit, func() { c.exitPhase(ctx) })
	c.run(PhaseMetrics, func() { c.metricsPhase(ctx, snapshotDue) })

	res.FinishedAt = e.now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	res.Success = len(res.Errors) == 0
	c.log.WithFields(logrus.Fields{
		"trades":     len(res.Trades),
		"rejections": len(res.Rejections),
		"errors":     len(res.Errors),
		"duration":   res.Duration,
	}).Info("cycle finished")
	return res
}

func (c *cycle) snapshot(ctx context.Context) (domain.PortfolioSnapshot, bool) {
	snap, err := c.e.deps.Portfolio.Snapshot(ctx)
	if err != nil {
		c.fail("", fmt.Errorf("portfolio snapshot: %w", err))
		return snap, false
	}
	return snap, true
}

func (c *cycle) buyPhase(ctx context.Context) {
	snap, ok := c.snapshot(ctx)
	if !ok {
		return
	}
	gen := c.e.deps.Signals.GenerateBuySignals(ctx, c.rules, snap)
	for _, err := range gen.Errors {
		c.fail(symbolOf(err), err)
	}
	c.phase.Signals = len(gen.Signals)

	for _, sig := range gen.Signals {
		trade, ok := c.execute(ctx, sig)
		if !ok {
			continue
		}
		c.attachCriteria(ctx, sig, trade)
	}
}

func (c *cycle) sellPhase(ctx context.Context) {
	snap, ok := c.snapshot(ctx)
	if !ok {
		return
	}
	gen := c.e.deps.Signals.GenerateSellSignals(ctx, c.rules, snap.Portfolio.OpenPositions())
	for _, err := range gen.Errors {
		c.fail(symbolOf(err), err)
	}
	c.phase.Signals = len(gen.Signals)

	for _, sig := range gen.Signals {
		c.execute(ctx, sig)
	}
}

// execute validates sig against the current portfolio, submits the
// approved size and applies the fill.
func (c *cycle) execute(ctx context.Context, sig domain.Signal) (domain.Trade, bool) {
	snap, ok := c.snapshot(ctx)
	if !ok {
		return domain.Trade{}, false
	}

	v := c.e.deps.Risk.ValidateTrade(sig, snap, c.rules)
	c.res.Validations++
	if !v.Approved {
		c.res.Rejections = append(c.res.Rejections, Rejection{
			Symbol:    sig.Symbol,
			Action:    sig.Action,
			RiskLevel: v.RiskLevel,
			Reasons:   v.Reasons(),
		})
		c.log.WithFields(logrus.Fields{
			"symbol": sig.Symbol,
			"action": sig.Action,
			"level":  v.RiskLevel,
		}).Info("signal rejected: " + v.Reasons())
		return domain.Trade{}, false
	}

	sig.Quantity = v.Size()
	return c.fill(ctx, sig, snap.Portfolio.ID)
}

// fill submits sig as a market order and applies the execution.
func (c *cycle) fill(ctx context.Context, sig domain.Signal, portfolioID string) (domain.Trade, bool) {
	now := c.e.now()
	order := domain.Order{
		ID:          id.NewAt("ord", now),
		PortfolioID: portfolioID,
		Symbol:      sig.Symbol,
		Sector:      sig.Sector,
		Action:      sig.Action,
		Quantity:    sig.Quantity,
		Price:       sig.EntryPrice,
		StopLoss:    sig.StopLoss,
		Reason:      sig.Reasoning,
		CreatedAt:   now,
	}

	trade, err := c.e.submit(ctx, order)
	if err != nil {
		c.fail(sig.Symbol, err)
		return domain.Trade{}, false
	}

	applied, err := c.e.deps.Portfolio.ApplyFill(ctx, trade)
	switch {
	case err == nil:
	case errors.Is(err, portfolio.ErrPersist):
		// applied in memory; only the write failed
		c.fail(sig.Symbol, err)
	default:
		c.fail(sig.Symbol, fmt.Errorf("apply fill: %w", err))
		return domain.Trade{}, false
	}
	c.res.Trades = append(c.res.Trades, applied)
	c.phase.Trades++
	return applied, true
}

// submit sends an order under the call timeout and normalizes the fill.
func (e *Engine) submit(ctx context.Context, o domain.Order) (domain.Trade, error) {
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}
	t, err := e.deps.Broker.Submit(ctx, o)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("submit %s %s: %w", o.Action, o.Symbol, err)
	}
	if t.Status == domain.Rejected || t.Quantity <= 0 {
		return domain.Trade{}, fmt.Errorf("submit %s %s: nothing filled (%s)", o.Action, o.Symbol, t.Reason)
	}
	if t.OrderID == "" {
		t.OrderID = o.ID
	}
	if t.PortfolioID == "" {
		t.PortfolioID = o.PortfolioID
	}
	if t.Sector == "" {
		t.Sector = o.Sector
	}
	if t.StopLoss == 0 {
		t.StopLoss = o.StopLoss
	}
	if t.Reason == "" {
		t.Reason = o.Reason
	}
	return t, nil
}

// attachCriteria derives exit criteria from the actual fill price and
// the technicals the signal was generated from.
func (c *cycle) attachCriteria(ctx context.Context, sig domain.Signal, trade domain.Trade) {
	snap, ok := c.snapshot(ctx)
	if !ok {
		return
	}
	pos, ok := snap.Holding(sig.Symbol)
	if !ok {
		return
	}
	ms := market.Snapshot{
		Symbol:     sig.Symbol,
		Sector:     sig.Sector,
		Quote:      market.Quote{Symbol: sig.Symbol, Price: trade.Price},
		Technicals: market.TechnicalsFrom(sig.Indicators),
	}
	crit := exits.Establish(pos, trade.Price, ms, c.rules, c.e.now())
	if err := c.e.deps.Portfolio.ReplaceCriteria(ctx, sig.Symbol, crit); err != nil {
		c.fail(sig.Symbol, fmt.Errorf("attach exit criteria: %w", err))
	}
}

// exitPhase ratchets trailing stops and forces the sale of every position
// whose criteria triggered. Forced exits skip the risk gate.
func (c *cycle) exitPhase(ctx context.Context) {
	snap, ok := c.snapshot(ctx)
	if !ok {
		return
	}
	open := snap.Portfolio.OpenPositions()
	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })

	snaps := make(map[string]market.Snapshot, len(open))
	for _, pos := range open {
		ms, err := c.e.deps.Market.Snapshot(ctx, pos.Symbol)
		if err != nil {
			c.fail(pos.Symbol, err)
			continue
		}
		snaps[pos.Symbol] = ms
		c.prices[pos.Symbol] = ms.Price()
	}

	now := c.e.now()
	if c.rules != nil {
		for i, pos := range open {
			ms, ok := snaps[pos.Symbol]
			if !ok {
				continue
			}
			crit, changed := exits.Trail(pos, ms.Price(), c.rules, now)
			if !changed {
				continue
			}
			if err := c.e.deps.Portfolio.ReplaceCriteria(ctx, pos.Symbol, crit); err != nil {
				c.fail(pos.Symbol, fmt.Errorf("trail stop: %w", err))
				continue
			}
			open[i].Criteria = crit
		}
	}

	forced := exits.Evaluate(open, snaps, now)
	c.phase.Signals = len(forced)
	for _, x := range forced {
		c.log.WithFields(logrus.Fields{
			"symbol":    x.Signal.Symbol,
			"criterion": x.Winner.Kind(),
		}).Info(x.Signal.Reasoning)
		c.fill(ctx, x.Signal, snap.Portfolio.ID)
	}
}

func (c *cycle) metricsPhase(ctx context.Context, snapshotDue bool) {
	if len(c.prices) > 0 {
		if err := c.e.deps.Portfolio.MarkPrices(ctx, c.prices); err != nil {
			c.fail("", fmt.Errorf("mark prices: %w", err))
		}
	}
	snap, ok := c.snapshot(ctx)
	if ok {
		c.res.Metrics = snap.Metrics
	}
	if !snapshotDue {
		return
	}
	if _, err := c.e.deps.Portfolio.RecordSnapshot(ctx); err != nil {
		c.fail("", fmt.Errorf("record snapshot: %w", err))
		return
	}
	c.res.Snapshot = true
}

func symbolOf(err error) string {
	var se *signals.SymbolError
	if errors.As(err, &se) {
		return se.Symbol
	}
	return ""
}
