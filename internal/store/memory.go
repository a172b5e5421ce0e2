package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/swingtrader/internal/domain"
)

// Memory is a Repository kept in process memory. Values are copied in
// and out so callers never share slices with the store.
type Memory struct {
	mu         sync.RWMutex
	portfolios map[string]domain.Portfolio
	positions  map[string]domain.Position
	trades     map[string]domain.Trade
	snapshots  []domain.PerformanceSnapshot
}

func NewMemory() *Memory {
	return &Memory{
		portfolios: make(map[string]domain.Portfolio),
		positions:  make(map[string]domain.Position),
		trades:     make(map[string]domain.Trade),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) CreatePortfolio(_ context.Context, p domain.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.portfolios[p.ID]; ok {
		return fmt.Errorf("create portfolio %q: already exists", p.ID)
	}
	for _, pos := range p.Positions {
		if pos.ID == "" {
			return errors.New("save position: id is required")
		}
		m.positions[pos.ID] = pos.Clone()
	}
	p.Positions = nil
	m.portfolios[p.ID] = p
	return nil
}

func (m *Memory) UpdatePortfolio(_ context.Context, p domain.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.portfolios[p.ID]
	if !ok {
		return fmt.Errorf("update portfolio %q: %w", p.ID, ErrNotFound)
	}
	p.InitialCash = old.InitialCash
	p.CreatedAt = old.CreatedAt
	p.Positions = nil
	m.portfolios[p.ID] = p
	return nil
}

func (m *Memory) GetPortfolio(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	m.mu.RLock()
	p, ok := m.portfolios[portfolioID]
	m.mu.RUnlock()
	if !ok {
		return domain.Portfolio{}, fmt.Errorf("portfolio %q: %w", portfolioID, ErrNotFound)
	}
	positions, err := m.ListPositions(ctx, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	p.Positions = positions
	return p, nil
}

func (m *Memory) SavePosition(_ context.Context, p domain.Position) error {
	if p.ID == "" {
		return errors.New("save position: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p.Clone()
	return nil
}

func (m *Memory) ListPositions(_ context.Context, portfolioID string) ([]domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Position{}
	for _, p := range m.positions {
		if p.PortfolioID == portfolioID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

func (m *Memory) SaveTrade(_ context.Context, t domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[t.ID]; ok {
		return fmt.Errorf("save trade %q: duplicate id", t.ID)
	}
	m.trades[t.ID] = t
	return nil
}

func (m *Memory) GetTrade(_ context.Context, tradeID string) (domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[tradeID]
	if !ok {
		return domain.Trade{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
	}
	return t, nil
}

func (m *Memory) ListTrades(_ context.Context, portfolioID string, from, to time.Time) ([]domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Trade{}
	for _, t := range m.trades {
		if t.PortfolioID == portfolioID && inRange(t.ExecutedAt, from, to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExecutedAt.Before(out[j].ExecutedAt)
	})
	return out, nil
}

func (m *Memory) SaveSnapshot(_ context.Context, s domain.PerformanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *Memory) ListSnapshots(_ context.Context, portfolioID string, from, to time.Time) ([]domain.PerformanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.PerformanceSnapshot{}
	for _, s := range m.snapshots {
		if s.PortfolioID == portfolioID && inRange(s.TakenAt, from, to) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out, nil
}
