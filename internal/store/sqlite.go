package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/id"
)

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies
// the schema.
func NewSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the portfolio actor serializes mutations anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) CreatePortfolio(ctx context.Context, p domain.Portfolio) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolios
		(id, name, initial_cash, cash, day_open_value, day_anchor, week_open_value, week_anchor, peak_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.InitialCash, p.Cash,
		p.DayOpenValue, p.DayAnchor.UTC(), p.WeekOpenValue, p.WeekAnchor.UTC(), p.PeakValue,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create portfolio %q: %w", p.ID, err)
	}
	for _, pos := range p.Positions {
		if err := s.SavePosition(ctx, pos); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) UpdatePortfolio(ctx context.Context, p domain.Portfolio) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE portfolios SET
			name = ?, cash = ?, day_open_value = ?, day_anchor = ?,
			week_open_value = ?, week_anchor = ?, peak_value = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Cash, p.DayOpenValue, p.DayAnchor.UTC(),
		p.WeekOpenValue, p.WeekAnchor.UTC(), p.PeakValue, p.UpdatedAt.UTC(),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update portfolio %q: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update portfolio %q: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) GetPortfolio(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, initial_cash, cash, day_open_value, day_anchor, week_open_value, week_anchor, peak_value, created_at, updated_at
		FROM portfolios WHERE id = ?`, portfolioID).Scan(
		&p.ID, &p.Name, &p.InitialCash, &p.Cash,
		&p.DayOpenValue, &p.DayAnchor, &p.WeekOpenValue, &p.WeekAnchor, &p.PeakValue,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Portfolio{}, fmt.Errorf("portfolio %q: %w", portfolioID, ErrNotFound)
	}
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("get portfolio %q: %w", portfolioID, err)
	}

	p.Positions, err = s.ListPositions(ctx, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return p, nil
}

// SavePosition upserts the position and replaces its criteria.
func (s *SQLite) SavePosition(ctx context.Context, p domain.Position) error {
	if p.ID == "" {
		return errors.New("save position: id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}
	defer func() { _ = tx.Rollback() }()

	var closed sql.NullTime
	if p.ClosedAt != nil {
		closed = sql.NullTime{Time: p.ClosedAt.UTC(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions
		(id, portfolio_id, symbol, sector, quantity, avg_entry_price, current_price, realized_pl, opened_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sector = excluded.sector,
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			current_price = excluded.current_price,
			realized_pl = excluded.realized_pl,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at`,
		p.ID, p.PortfolioID, p.Symbol, p.Sector, p.Quantity, p.AvgEntryPrice, p.CurrentPrice,
		p.RealizedPnL, p.OpenedAt.UTC(), p.UpdatedAt.UTC(), closed,
	); err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM exit_criteria WHERE position_id = ?`, p.ID); err != nil {
		return fmt.Errorf("save position %s criteria: %w", p.Symbol, err)
	}
	for i, c := range p.Criteria {
		row := encodeCriterion(c)
		if row.ID == "" {
			row.ID = id.New("exc")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exit_criteria
			(id, position_id, seq, kind, method, value, level, deadline, indicator, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, p.ID, i, row.Kind, row.Method, row.Value, row.Level,
			row.Deadline, row.Indicator, row.Active, row.CreatedAt,
		); err != nil {
			return fmt.Errorf("save position %s criteria: %w", p.Symbol, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ListPositions(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, portfolio_id, symbol, sector, quantity, avg_entry_price, current_price, realized_pl, opened_at, updated_at, closed_at
		FROM positions
		WHERE portfolio_id = ?
		ORDER BY opened_at ASC, id ASC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	out := []domain.Position{}
	for rows.Next() {
		var p domain.Position
		var closed sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.PortfolioID, &p.Symbol, &p.Sector, &p.Quantity, &p.AvgEntryPrice,
			&p.CurrentPrice, &p.RealizedPnL, &p.OpenedAt, &p.UpdatedAt, &closed,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if closed.Valid {
			t := closed.Time
			p.ClosedAt = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Criteria, err = s.listCriteria(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLite) listCriteria(ctx context.Context, positionID string) ([]domain.ExitCriterion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, method, value, level, deadline, indicator, active, created_at
		FROM exit_criteria
		WHERE position_id = ?
		ORDER BY seq ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}
	defer rows.Close()

	var out []domain.ExitCriterion
	for rows.Next() {
		var row criterionRow
		if err := rows.Scan(
			&row.ID, &row.Kind, &row.Method, &row.Value, &row.Level,
			&row.Deadline, &row.Indicator, &row.Active, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan criterion: %w", err)
		}
		c, err := decodeCriterion(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
		(id, order_id, portfolio_id, symbol, sector, action, quantity, price, fees, stop_loss, realized_pl, status, reason, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrderID, t.PortfolioID, t.Symbol, t.Sector, string(t.Action),
		t.Quantity, t.Price, t.Fees, t.StopLoss, t.RealizedPnL, string(t.Status), t.Reason,
		t.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save trade %q: %w", t.ID, err)
	}
	return nil
}

const tradeColumns = `id, order_id, portfolio_id, symbol, sector, action, quantity, price, fees, stop_loss, realized_pl, status, reason, executed_at`

func scanTrade(sc interface{ Scan(...any) error }) (domain.Trade, error) {
	var t domain.Trade
	var action, status string
	err := sc.Scan(
		&t.ID, &t.OrderID, &t.PortfolioID, &t.Symbol, &t.Sector, &action,
		&t.Quantity, &t.Price, &t.Fees, &t.StopLoss, &t.RealizedPnL, &status, &t.Reason,
		&t.ExecutedAt,
	)
	t.Action = domain.Action(action)
	t.Status = domain.TradeStatus(status)
	return t, err
}

func (s *SQLite) GetTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	t, err := scanTrade(s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, tradeID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("get trade %q: %w", tradeID, err)
	}
	return t, nil
}

func (s *SQLite) ListTrades(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE portfolio_id = ? AND executed_at >= ? AND executed_at < ?
		ORDER BY executed_at ASC, id ASC`, portfolioID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	out := []domain.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveSnapshot(ctx context.Context, ps domain.PerformanceSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots
		(id, portfolio_id, taken_at, total_value, cash, positions_value, unrealized_pl, realized_pl, daily_pl, total_pl, drawdown_pct, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ps.ID, ps.PortfolioID, ps.TakenAt.UTC(), ps.TotalValue, ps.Cash, ps.PositionsValue,
		ps.UnrealizedPnL, ps.RealizedPnL, ps.DailyPnL, ps.TotalPnL, ps.DrawdownPct, ps.OpenPositions,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) ListSnapshots(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.PerformanceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, portfolio_id, taken_at, total_value, cash, positions_value, unrealized_pl, realized_pl, daily_pl, total_pl, drawdown_pct, open_positions
		FROM snapshots
		WHERE portfolio_id = ? AND taken_at >= ? AND taken_at < ?
		ORDER BY taken_at ASC`, portfolioID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := []domain.PerformanceSnapshot{}
	for rows.Next() {
		var ps domain.PerformanceSnapshot
		if err := rows.Scan(
			&ps.ID, &ps.PortfolioID, &ps.TakenAt, &ps.TotalValue, &ps.Cash, &ps.PositionsValue,
			&ps.UnrealizedPnL, &ps.RealizedPnL, &ps.DailyPnL, &ps.TotalPnL, &ps.DrawdownPct, &ps.OpenPositions,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}
