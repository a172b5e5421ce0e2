// Package store persists portfolios, positions, trades and performance
// snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/swingtrader/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Repository is the persistence collaborator. Time ranges are half-open,
// [from, to).
type Repository interface {
	CreatePortfolio(ctx context.Context, p domain.Portfolio) error
	UpdatePortfolio(ctx context.Context, p domain.Portfolio) error
	GetPortfolio(ctx context.Context, id string) (domain.Portfolio, error)

	SavePosition(ctx context.Context, p domain.Position) error
	ListPositions(ctx context.Context, portfolioID string) ([]domain.Position, error)

	SaveTrade(ctx context.Context, t domain.Trade) error
	GetTrade(ctx context.Context, id string) (domain.Trade, error)
	ListTrades(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.Trade, error)

	SaveSnapshot(ctx context.Context, s domain.PerformanceSnapshot) error
	ListSnapshots(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.PerformanceSnapshot, error)

	Ping(ctx context.Context) error
	Close() error
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
