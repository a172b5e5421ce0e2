// Package signals screens the rule-set universe, gates candidates on a
// feasibility assessment, asks the advisor for an opinion and turns the
// survivors into BUY and SELL proposals with deterministic trade levels.
package signals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/swingtrader/internal/advisor"
	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/logging"
	"github.com/rustyeddy/swingtrader/internal/market"
	"github.com/rustyeddy/swingtrader/internal/risk"
)

// Source tags signals emitted by this package.
const Source = "signals"

const (
	DefaultMaxCandidates = 10
	DefaultMinConfidence = 0.6
	DefaultConcurrency   = 4
)

var ErrNoRules = errors.New("no rule set")

// Snapshotter supplies fresh market snapshots. *market.Fetcher is the
// production implementation.
type Snapshotter interface {
	Snapshot(ctx context.Context, symbol string) (market.Snapshot, error)
}

// SymbolError is a collaborator failure confined to one symbol.
type SymbolError struct {
	Symbol string
	Stage  string // "market" or "advisor"
	Err    error
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Symbol, e.Stage, e.Err)
}

func (e *SymbolError) Unwrap() error { return e.Err }

type Config struct {
	MaxCandidates int
	MinConfidence float64
	Concurrency   int
	Timeout       time.Duration // per advisory call; 0 means none
}

// Result is the outcome of one generation pass. Errors is never nil.
type Result struct {
	Signals  []domain.Signal
	Errors   []error
	Screened int
	Advised  int
}

type Generator struct {
	data    Snapshotter
	advisor advisor.Advisor
	cfg     Config
	log     *logrus.Entry
	now     func() time.Time
}

type Option func(*Generator)

func WithLogger(l *logrus.Entry) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

func New(data Snapshotter, adv advisor.Advisor, cfg Config, opts ...Option) *Generator {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	g := &Generator{
		data:    data,
		advisor: adv,
		cfg:     cfg,
		log:     logging.Component(nil, "signals"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// collector gathers per-symbol outcomes from parallel workers.
type collector struct {
	mu      sync.Mutex
	signals []domain.Signal
	errs    []error
	advised int
}

func (c *collector) signal(s domain.Signal) {
	c.mu.Lock()
	c.signals = append(c.signals, s)
	c.mu.Unlock()
}

func (c *collector) fail(symbol, stage string, err error) {
	c.mu.Lock()
	c.errs = append(c.errs, &SymbolError{Symbol: symbol, Stage: stage, Err: err})
	c.mu.Unlock()
}

func (c *collector) advisedOnce() {
	c.mu.Lock()
	c.advised++
	c.mu.Unlock()
}

func (c *collector) result(screened int) Result {
	sort.SliceStable(c.signals, func(i, j int) bool {
		if c.signals[i].Confidence != c.signals[j].Confidence {
			return c.signals[i].Confidence > c.signals[j].Confidence
		}
		return c.signals[i].Symbol < c.signals[j].Symbol
	})
	sort.SliceStable(c.errs, func(i, j int) bool { return c.errs[i].Error() < c.errs[j].Error() })
	errs := c.errs
	if errs == nil {
		errs = []error{}
	}
	return Result{Signals: c.signals, Errors: errs, Screened: screened, Advised: c.advised}
}

// snapshots fetches every symbol in parallel. Failed symbols are recorded
// on c and left out of the map.
func (g *Generator) snapshots(ctx context.Context, symbols []string, c *collector) map[string]market.Snapshot {
	out := make(map[string]market.Snapshot, len(symbols))
	var mu sync.Mutex

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Concurrency)
	for _, sym := range symbols {
		sym := sym
		eg.Go(func() error {
			s, err := g.data.Snapshot(ctx, sym)
			if err != nil {
				g.log.WithError(err).WithField("symbol", sym).Warn("market data unavailable")
				c.fail(sym, "market", err)
				return nil
			}
			mu.Lock()
			out[sym] = s
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// ask runs one advisory call under the configured timeout. Any failure
// is recorded and reported as a PASS.
func (g *Generator) ask(ctx context.Context, symbol, prompt string, data map[string]any, c *collector) Opinion {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	c.advisedOnce()
	reply, err := g.advisor.Advise(ctx, prompt, data)
	if err != nil {
		g.log.WithError(err).WithField("symbol", symbol).Warn("advisor call failed")
		c.fail(symbol, "advisor", err)
		return passOpinion
	}
	op := ParseReply(reply.Content)
	if !op.Parsed {
		g.log.WithField("symbol", symbol).Info("unparsable advisor reply treated as PASS")
	}
	if op.Reasoning == "" {
		op.Reasoning = reply.Reasoning
	}
	return op
}

// GenerateBuySignals screens the universe, assesses at most MaxCandidates
// of the survivors and returns BUY proposals for those the advisor backs
// with at least MinConfidence. Symbols already held are skipped.
func (g *Generator) GenerateBuySignals(ctx context.Context, rules *guidelines.RuleSet, pf domain.PortfolioSnapshot) Result {
	c := &collector{}
	if rules == nil {
		c.errs = append(c.errs, ErrNoRules)
		return c.result(0)
	}

	seen := make(map[string]bool)
	var universe []string
	for _, sym := range rules.StockSelection.Universe {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if _, held := pf.Holding(sym); held {
			continue
		}
		universe = append(universe, sym)
	}

	snaps := g.snapshots(ctx, universe, c)

	var candidates []market.Snapshot
	for _, sym := range universe {
		s, ok := snaps[sym]
		if !ok {
			continue
		}
		if why := Screen(s, rules.StockSelection); why != "" {
			g.log.WithField("symbol", sym).Debugf("screened out: %s", why)
			continue
		}
		candidates = append(candidates, s)
	}
	screened := len(candidates)

	// most liquid first so the cap keeps the easiest fills
	sort.SliceStable(candidates, func(i, j int) bool {
		return dollarVolume(candidates[i]) > dollarVolume(candidates[j])
	})
	if len(candidates) > g.cfg.MaxCandidates {
		candidates = candidates[:g.cfg.MaxCandidates]
	}

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Concurrency)
	for _, s := range candidates {
		s := s
		eg.Go(func() error {
			if sig, ok := g.buy(ctx, s, rules, pf, c); ok {
				c.signal(sig)
			}
			return nil
		})
	}
	_ = eg.Wait()

	res := c.result(screened)
	g.log.WithFields(logrus.Fields{
		"universe": len(universe),
		"screened": res.Screened,
		"advised":  res.Advised,
		"signals":  len(res.Signals),
		"errors":   len(res.Errors),
	}).Info("buy signals generated")
	return res
}

func dollarVolume(s market.Snapshot) float64 { return avgVolume(s) * s.Price() }

func (g *Generator) buy(ctx context.Context, s market.Snapshot, rules *guidelines.RuleSet, pf domain.PortfolioSnapshot, c *collector) (domain.Signal, bool) {
	log := g.log.WithField("symbol", s.Symbol)

	a := Assess(s, rules)
	if !a.Feasible {
		log.Debugf("not feasible: %s", a)
		return domain.Signal{}, false
	}

	indicators := market.Indicators(s.Technicals)
	op := g.ask(ctx, s.Symbol, buyPrompt(s, a), map[string]any{
		"symbol":      s.Symbol,
		"action":      string(domain.Buy),
		"price":       s.Price(),
		"setup":       a.Setup,
		"feasibility": a.Score,
		"stop_loss":   a.Stop,
		"targets":     a.Targets,
		"indicators":  indicators,
	}, c)
	if op.Action != domain.Buy || op.Confidence < g.cfg.MinConfidence {
		log.WithFields(logrus.Fields{
			"action":     op.Action,
			"confidence": op.Confidence,
		}).Debug("advisor did not back entry")
		return domain.Signal{}, false
	}

	entry := s.Price()
	qty := size(pf.Metrics.TotalValue, entry, a.Stop, rules.RiskLimits)
	if qty <= 0 {
		log.Debug("no affordable size")
		return domain.Signal{}, false
	}

	return domain.Signal{
		Symbol:     s.Symbol,
		Sector:     s.Sector,
		Action:     domain.Buy,
		Confidence: op.Confidence,
		Quantity:   qty,
		EntryPrice: entry,
		StopLoss:   a.Stop,
		Targets:    a.Targets,
		Reasoning:  fmt.Sprintf("%s setup: %s", a.Setup, op.Reasoning),
		Source:     Source,
		Indicators: indicators,
		CreatedAt:  g.now(),
	}, true
}

// size risks RiskPerTradePercent of equity between entry and stop, capped
// at MaxPositionSizePercent of equity.
func size(equity, entry, stop float64, limits guidelines.RiskLimits) float64 {
	qty := risk.SharesForRisk(equity, limits.RiskPerTradePercent, entry, stop)
	if limits.MaxPositionSizePercent > 0 {
		qty = math.Min(qty, risk.SharesForValue(equity*limits.MaxPositionSizePercent/100, entry))
	}
	return qty
}

// GenerateSellSignals reviews every open position. Only positions showing
// weakness reach the advisor, and only a SELL backed with MinConfidence
// becomes a signal, always for the full quantity.
func (g *Generator) GenerateSellSignals(ctx context.Context, rules *guidelines.RuleSet, positions []domain.Position) Result {
	c := &collector{}
	if rules == nil {
		c.errs = append(c.errs, ErrNoRules)
		return c.result(0)
	}

	open := make(map[string]domain.Position)
	var symbols []string
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		if _, dup := open[p.Symbol]; !dup {
			symbols = append(symbols, p.Symbol)
		}
		open[p.Symbol] = p
	}

	snaps := g.snapshots(ctx, symbols, c)

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Concurrency)
	screened := 0
	for _, sym := range symbols {
		s, ok := snaps[sym]
		if !ok {
			continue
		}
		reasons := weaknesses(s, rules)
		if len(reasons) == 0 {
			continue
		}
		screened++
		pos := open[sym]
		eg.Go(func() error {
			if sig, ok := g.sell(ctx, pos, s, reasons, c); ok {
				c.signal(sig)
			}
			return nil
		})
	}
	_ = eg.Wait()

	res := c.result(screened)
	g.log.WithFields(logrus.Fields{
		"positions": len(symbols),
		"weak":      res.Screened,
		"signals":   len(res.Signals),
		"errors":    len(res.Errors),
	}).Info("sell signals generated")
	return res
}

func (g *Generator) sell(ctx context.Context, pos domain.Position, s market.Snapshot, reasons []string, c *collector) (domain.Signal, bool) {
	indicators := market.Indicators(s.Technicals)
	op := g.ask(ctx, pos.Symbol, sellPrompt(pos, s, reasons), map[string]any{
		"symbol":      pos.Symbol,
		"action":      string(domain.Sell),
		"price":       s.Price(),
		"entry_price": pos.AvgEntryPrice,
		"quantity":    pos.Quantity,
		"weaknesses":  reasons,
		"feasibility": urgency(len(reasons)),
		"indicators":  indicators,
	}, c)
	if op.Action != domain.Sell || op.Confidence < g.cfg.MinConfidence {
		return domain.Signal{}, false
	}

	return domain.Signal{
		Symbol:     pos.Symbol,
		Sector:     pos.Sector,
		Action:     domain.Sell,
		Confidence: op.Confidence,
		Quantity:   pos.Quantity,
		EntryPrice: s.Price(),
		Reasoning:  fmt.Sprintf("weakness (%s): %s", strings.Join(reasons, ", "), op.Reasoning),
		Source:     Source,
		Indicators: indicators,
		CreatedAt:  g.now(),
	}, true
}
