package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustyeddy/swingtrader/internal/market/indicators"
)

// Static is an in-memory Provider fed by the caller. It backs the
// simulation broker and tests.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	techs  map[string]Technicals
	errs   map[string]error
}

func NewStatic() *Static {
	return &Static{
		quotes: make(map[string]Quote),
		techs:  make(map[string]Technicals),
		errs:   make(map[string]error),
	}
}

func (s *Static) SetQuote(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
}

func (s *Static) SetTechnicals(symbol string, t Technicals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.techs[symbol] = t
}

// SetBars computes and stores technicals from daily bars.
func (s *Static) SetBars(symbol string, bars []indicators.Bar) {
	s.SetTechnicals(symbol, indicators.Compute(bars))
}

// FailWith makes every call for symbol return err; nil clears it.
func (s *Static) FailWith(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, symbol)
		return
	}
	s.errs[symbol] = err
}

func (s *Static) Quote(ctx context.Context, symbol string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.errs[symbol]; err != nil {
		return Quote{}, err
	}
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	return q, nil
}

func (s *Static) Technicals(ctx context.Context, symbol string) (Technicals, error) {
	if err := ctx.Err(); err != nil {
		return Technicals{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.errs[symbol]; err != nil {
		return Technicals{}, err
	}
	t, ok := s.techs[symbol]
	if !ok {
		return Technicals{}, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	return t, nil
}
