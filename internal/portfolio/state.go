// Package portfolio owns the authoritative portfolio record. All
// mutations run on a single goroutine; readers get deep copies.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/id"
	"github.com/rustyeddy/swingtrader/internal/logging"
	"github.com/rustyeddy/swingtrader/internal/store"
)

var (
	ErrClosed  = errors.New("portfolio state closed")
	ErrPersist = errors.New("persist portfolio")
)

type op struct {
	fn   func(p *domain.Portfolio) error
	done chan error
}

// State is the single writer for one portfolio.
type State struct {
	repo store.Repository
	log  *logrus.Entry
	now  func() time.Time

	ops       chan op
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*State)

func WithLogger(l *logrus.Entry) Option {
	return func(s *State) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// Open loads the portfolio from repo, creating it with initialCash when
// it does not exist, and starts the owning goroutine.
func Open(ctx context.Context, repo store.Repository, portfolioID string, initialCash float64, opts ...Option) (*State, error) {
	s := &State{
		repo: repo,
		log:  logging.Component(nil, "portfolio"),
		now:  time.Now,
		ops:  make(chan op),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	p, err := repo.GetPortfolio(ctx, portfolioID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if initialCash <= 0 {
			return nil, fmt.Errorf("open portfolio %q: initial cash must be positive", portfolioID)
		}
		now := s.now()
		p = domain.Portfolio{
			ID:          portfolioID,
			Name:        portfolioID,
			InitialCash: initialCash,
			Cash:        initialCash,
			PeakValue:   initialCash,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		rollAnchors(&p, now)
		if err := repo.CreatePortfolio(ctx, p); err != nil {
			return nil, fmt.Errorf("open portfolio %q: %w", portfolioID, err)
		}
		s.log.WithFields(logrus.Fields{"portfolio": portfolioID, "cash": initialCash}).Info("portfolio created")
	case err != nil:
		return nil, fmt.Errorf("open portfolio %q: %w", portfolioID, err)
	default:
		s.log.WithFields(logrus.Fields{"portfolio": portfolioID, "positions": len(p.OpenPositions())}).Info("portfolio loaded")
	}

	go s.run(p)
	return s, nil
}

func (s *State) run(p domain.Portfolio) {
	defer close(s.done)
	for {
		select {
		case o := <-s.ops:
			o.done <- o.fn(&p)
		case <-s.quit:
			return
		}
	}
}

// Close stops the owning goroutine. Calls after Close fail with ErrClosed.
func (s *State) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

// do runs fn on the owning goroutine. Once submitted, fn runs to
// completion even if ctx is cancelled while waiting for the result.
func (s *State) do(ctx context.Context, fn func(p *domain.Portfolio) error) error {
	o := op{fn: fn, done: make(chan error, 1)}
	select {
	case s.ops <- o:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyFill applies an executed trade and persists the trade, the touched
// position and the portfolio. The returned trade carries realized P&L for
// sells. A persistence failure is reported with ErrPersist after the
// in-memory state has been updated, since the fill already happened.
func (s *State) ApplyFill(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	var out domain.Trade
	err := s.do(ctx, func(p *domain.Portfolio) error {
		now := s.now()
		s.roll(p, now)

		applied, i, err := applyFill(p, t, now)
		if err != nil {
			return err
		}
		out = applied
		liftPeak(p)

		pos := p.Positions[i]
		s.log.WithFields(logrus.Fields{
			"symbol":   t.Symbol,
			"action":   t.Action,
			"qty":      t.Quantity,
			"price":    t.Price,
			"fees":     t.Fees,
			"realized": applied.RealizedPnL,
			"cash":     p.Cash,
		}).Info("fill applied")

		return s.persist(func() error {
			if err := s.repo.SaveTrade(ctx, applied); err != nil {
				return err
			}
			if err := s.repo.SavePosition(ctx, pos); err != nil {
				return err
			}
			return s.repo.UpdatePortfolio(ctx, *p)
		})
	})
	return out, err
}

// ReplaceCriteria swaps the exit criteria of the open position for
// symbol. The new set must contain an active stop-loss.
func (s *State) ReplaceCriteria(ctx context.Context, symbol string, criteria []domain.ExitCriterion) error {
	return s.do(ctx, func(p *domain.Portfolio) error {
		i, err := replaceCriteria(p, symbol, criteria, s.now())
		if err != nil {
			return err
		}
		pos := p.Positions[i]
		return s.persist(func() error { return s.repo.SavePosition(ctx, pos) })
	})
}

// MarkPrices revalues open positions at the given prices.
func (s *State) MarkPrices(ctx context.Context, prices map[string]float64) error {
	return s.do(ctx, func(p *domain.Portfolio) error {
		now := s.now()
		s.roll(p, now)
		touched := markPrices(p, prices, now)
		liftPeak(p)
		p.UpdatedAt = now

		return s.persist(func() error {
			for _, i := range touched {
				if err := s.repo.SavePosition(ctx, p.Positions[i]); err != nil {
					return err
				}
			}
			return s.repo.UpdatePortfolio(ctx, *p)
		})
	})
}

// Snapshot returns a deep copy of the portfolio with its metrics.
func (s *State) Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	var snap domain.PortfolioSnapshot
	err := s.do(ctx, func(p *domain.Portfolio) error {
		now := s.now()
		s.roll(p, now)
		snap = domain.PortfolioSnapshot{Portfolio: p.Clone(), Metrics: Project(*p), TakenAt: now}
		return nil
	})
	return snap, err
}

// RecordSnapshot persists a point-in-time performance record.
func (s *State) RecordSnapshot(ctx context.Context) (domain.PerformanceSnapshot, error) {
	var ps domain.PerformanceSnapshot
	err := s.do(ctx, func(p *domain.Portfolio) error {
		now := s.now()
		s.roll(p, now)
		m := Project(*p)
		ps = domain.PerformanceSnapshot{
			ID:             id.NewAt("snp", now),
			PortfolioID:    p.ID,
			TakenAt:        now,
			TotalValue:     m.TotalValue,
			Cash:           m.Cash,
			PositionsValue: m.PositionsValue,
			UnrealizedPnL:  m.UnrealizedPnL,
			RealizedPnL:    m.RealizedPnL,
			DailyPnL:       m.DailyPnL,
			TotalPnL:       m.TotalPnL,
			DrawdownPct:    m.DrawdownPct,
			OpenPositions:  m.OpenPositions,
		}
		return s.persist(func() error { return s.repo.SaveSnapshot(ctx, ps) })
	})
	return ps, err
}

// History lists persisted performance snapshots in [from, to).
func (s *State) History(ctx context.Context, from, to time.Time) ([]domain.PerformanceSnapshot, error) {
	var portfolioID string
	if err := s.do(ctx, func(p *domain.Portfolio) error {
		portfolioID = p.ID
		return nil
	}); err != nil {
		return nil, err
	}
	return s.repo.ListSnapshots(ctx, portfolioID, from, to)
}

func (s *State) roll(p *domain.Portfolio, now time.Time) {
	if rollAnchors(p, now) {
		s.log.WithFields(logrus.Fields{"day_open_value": p.DayOpenValue}).Debug("day anchor rolled")
	}
}

func (s *State) persist(fn func() error) error {
	if err := fn(); err != nil {
		s.log.WithError(err).Error("persist failed")
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func liftPeak(p *domain.Portfolio) {
	if total := Project(*p).TotalValue; total > p.PeakValue {
		p.PeakValue = total
	}
}
