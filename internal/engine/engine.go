// Package engine sequences the decision pipeline into trading cycles and
// owns the run, pause and stop lifecycle around them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/swingtrader/internal/broker"
	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/logging"
	"github.com/rustyeddy/swingtrader/internal/portfolio"
	"github.com/rustyeddy/swingtrader/internal/risk"
	"github.com/rustyeddy/swingtrader/internal/signals"
)

type State int

const (
	Idle State = iota
	Initializing
	TradingCycle
	Paused
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Initializing:
		return "INITIALIZING"
	case TradingCycle:
		return "TRADING_CYCLE"
	case Paused:
		return "PAUSED"
	case Failed:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown engine state %q", b)
}

var (
	ErrAlreadyRunning  = errors.New("engine already running")
	ErrStarting        = errors.New("engine is starting")
	ErrNotRunning      = errors.New("engine not running")
	ErrPaused          = errors.New("engine paused")
	ErrNotPaused       = errors.New("engine not paused")
	ErrCycleInProgress = errors.New("cycle in progress")
)

// StateError reports a lifecycle call made in the wrong state.
type StateError struct {
	Op    string
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v (state %s)", e.Op, e.Err, e.State)
}

func (e *StateError) Unwrap() error { return e.Err }

// RuleSource is the guidelines collaborator; *guidelines.Store.
type RuleSource interface {
	Current() (*guidelines.RuleSet, error)
	Load() (*guidelines.RuleSet, error)
}

// SignalSource proposes trades; *signals.Generator.
type SignalSource interface {
	GenerateBuySignals(ctx context.Context, rules *guidelines.RuleSet, pf domain.PortfolioSnapshot) signals.Result
	GenerateSellSignals(ctx context.Context, rules *guidelines.RuleSet, positions []domain.Position) signals.Result
}

// RiskGate approves and resizes proposals; *risk.Validator.
type RiskGate interface {
	ValidateTrade(sig domain.Signal, snap domain.PortfolioSnapshot, rules *guidelines.RuleSet) risk.Validation
	Events() *risk.EventLog
}

// Ledger is the portfolio writer; *portfolio.State.
type Ledger interface {
	ApplyFill(ctx context.Context, t domain.Trade) (domain.Trade, error)
	ReplaceCriteria(ctx context.Context, symbol string, criteria []domain.ExitCriterion) error
	MarkPrices(ctx context.Context, prices map[string]float64) error
	Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error)
	RecordSnapshot(ctx context.Context) (domain.PerformanceSnapshot, error)
}

type Deps struct {
	Rules     RuleSource
	Signals   SignalSource
	Risk      RiskGate
	Portfolio Ledger
	Market    signals.Snapshotter
	Broker    broker.Broker
}

type Config struct {
	CycleInterval    time.Duration // 0 disables the automatic loop
	SnapshotInterval time.Duration // 0 snapshots every cycle
	CallTimeout      time.Duration // per broker call
}

type Engine struct {
	deps Deps
	cfg  Config
	log  *logrus.Entry
	now  func() time.Time

	mu           sync.Mutex
	state        State
	running      bool
	paused       bool
	startedAt    time.Time
	cancel       context.CancelFunc
	done         chan struct{}
	cycles       int64
	failedCycles int64
	cycleTime    time.Duration
	last         *CycleResult
	lastErr      error
	lastSnapshot time.Time
	rulesVersion string
}

type Option func(*Engine)

func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(deps Deps, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		deps: deps,
		cfg:  cfg,
		log:  logging.Component(nil, "engine"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if n, ok := deps.Rules.(interface{ OnChange(guidelines.Listener) }); ok {
		n.OnChange(e.rulesChanged)
	}
	return e
}

func (e *Engine) rulesChanged(rs *guidelines.RuleSet) error {
	e.mu.Lock()
	prev := e.rulesVersion
	e.rulesVersion = rs.Version
	e.mu.Unlock()
	e.log.WithFields(logrus.Fields{"from": prev, "to": rs.Version}).Info("guidelines changed")
	return nil
}

// stateLocked is the externally visible state. Paused is only reported
// between cycles; a cycle that is already running finishes first.
func (e *Engine) stateLocked() State {
	if e.paused && e.state == Idle {
		return Paused
	}
	return e.state
}

func (e *Engine) stateErr(op string, err error) error {
	return &StateError{Op: op, State: e.stateLocked(), Err: err}
}

// Start loads the rule set and checks the portfolio is reachable. Any
// failure leaves the engine in ERROR and not running. With a cycle
// interval configured a background loop starts running cycles.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		err := e.stateErr("start", ErrAlreadyRunning)
		e.mu.Unlock()
		return err
	}
	if e.state == Initializing {
		err := e.stateErr("start", ErrStarting)
		e.mu.Unlock()
		return err
	}
	e.state = Initializing
	e.mu.Unlock()

	e.log.Info("engine initializing")
	rs, err := e.initialize(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = Failed
		e.lastErr = err
		e.log.WithError(err).Error("engine failed to start")
		return err
	}

	e.state = Idle
	e.running = true
	e.paused = false
	e.startedAt = e.now()
	e.rulesVersion = rs.Version

	if e.cfg.CycleInterval > 0 {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e.cancel = cancel
		e.done = make(chan struct{})
		go e.loop(loopCtx, e.done)
	}
	e.log.WithFields(logrus.Fields{
		"rules":    rs.Version,
		"interval": e.cfg.CycleInterval,
	}).Info("engine started")
	return nil
}

func (e *Engine) initialize(ctx context.Context) (*guidelines.RuleSet, error) {
	rs, err := e.deps.Rules.Current()
	if errors.Is(err, guidelines.ErrNotLoaded) {
		rs, err = e.deps.Rules.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("initialize: load guidelines: %w", err)
	}
	if _, err := e.deps.Portfolio.Snapshot(ctx); err != nil {
		return nil, fmt.Errorf("initialize: portfolio unavailable: %w", err)
	}
	return rs, nil
}

// Stop halts the background loop, waiting for an in-flight cycle.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		err := e.stateErr("stop", ErrNotRunning)
		e.mu.Unlock()
		return err
	}
	e.running = false
	e.paused = false
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.log.Info("engine stopped")
	return nil
}

// Pause blocks new cycles while leaving the engine running.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return e.stateErr("pause", ErrNotRunning)
	}
	if e.paused {
		return e.stateErr("pause", ErrPaused)
	}
	e.paused = true
	e.log.Info("engine paused")
	return nil
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return e.stateErr("resume", ErrNotRunning)
	}
	if !e.paused {
		return e.stateErr("resume", ErrNotPaused)
	}
	e.paused = false
	e.log.Info("engine resumed")
	return nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// loop runs a cycle per tick. Ticks that land while paused or during a
// manual cycle are skipped.
func (e *Engine) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(e.cfg.CycleInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, err := e.ExecuteCycle(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrPaused), errors.Is(err, ErrCycleInProgress):
				e.log.WithError(err).Debug("tick skipped")
			case errors.Is(err, ErrNotRunning):
				return
			default:
				e.log.WithError(err).Warn("scheduled cycle failed")
			}
		}
	}
}

// ExecuteCycle runs one buy, sell, exit and metrics pass. Misuse of the
// lifecycle is returned as a *StateError; everything that goes wrong
// inside the cycle is reported in the result.
func (e *Engine) ExecuteCycle(ctx context.Context) (CycleResult, error) {
	e.mu.Lock()
	switch {
	case !e.running:
		err := e.stateErr("cycle", ErrNotRunning)
		e.mu.Unlock()
		return CycleResult{}, err
	case e.state == TradingCycle:
		err := e.stateErr("cycle", ErrCycleInProgress)
		e.mu.Unlock()
		return CycleResult{}, err
	case e.paused:
		err := e.stateErr("cycle", ErrPaused)
		e.mu.Unlock()
		return CycleResult{}, err
	}
	e.state = TradingCycle
	snapshotDue := e.cfg.SnapshotInterval <= 0 || e.lastSnapshot.IsZero() ||
		e.now().Sub(e.lastSnapshot) >= e.cfg.SnapshotInterval
	e.mu.Unlock()

	res := e.runCycle(ctx, snapshotDue)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycles++
	e.cycleTime += res.Duration
	if len(res.Errors) > 0 {
		e.failedCycles++
		e.lastErr = res.Errors[len(res.Errors)-1]
	}
	if res.Snapshot {
		e.lastSnapshot = res.FinishedAt
	}
	last := res
	e.last = &last
	e.state = Idle
	if res.fatal != nil {
		// the portfolio writer is gone; nothing further can be applied
		e.state = Failed
		e.running = false
		e.lastErr = res.fatal
		if e.cancel != nil {
			e.cancel()
			e.cancel, e.done = nil, nil
		}
		e.log.WithError(res.fatal).Error("engine entered ERROR state")
	}
	return res, nil
}

// Portfolio returns the current portfolio with metrics.
func (e *Engine) Portfolio(ctx context.Context) (domain.PortfolioSnapshot, error) {
	return e.deps.Portfolio.Snapshot(ctx)
}

// Positions returns the open positions.
func (e *Engine) Positions(ctx context.Context) ([]domain.Position, error) {
	snap, err := e.deps.Portfolio.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Portfolio.OpenPositions(), nil
}

func isFatal(err error) bool { return errors.Is(err, portfolio.ErrClosed) }
